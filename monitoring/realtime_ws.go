package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"florapredict/ml"
	"florapredict/pipeline"
)

// MessageType 消息类型
type MessageType string

const (
	PredictRequest   MessageType = "predict"
	PredictionResult MessageType = "prediction"
	PredictionError  MessageType = "error"
	PredictionLogged MessageType = "prediction_logged"
	Subscribed       MessageType = "subscribed"
	Unsubscribed     MessageType = "unsubscribed"
)

// FeedTopic 预测流订阅主题
const FeedTopic = "predictions"

// Message 服务端消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	ID        string          `json:"id,omitempty"`
}

// ClientMessage 客户端消息
type ClientMessage struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// PredictionPayload 推理结果
type PredictionPayload struct {
	Species    string  `json:"species"`
	Confidence float64 `json:"confidence"`
	Warning    string  `json:"warning,omitempty"`
}

// ErrorPayload 错误信息
type ErrorPayload struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// LoggedPayload 预测流条目
type LoggedPayload struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	Input      map[string]interface{} `json:"input"`
	Species    string                 `json:"species"`
	Confidence float64                `json:"confidence"`
}

// Predictor 推理服务
type Predictor interface {
	Predict(raw ml.RawInput) (pipeline.Outcome, error)
}

// Client WebSocket客户端
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	clientID string

	subMu         sync.RWMutex
	subscriptions map[string]bool
}

func (c *Client) subscribed(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subscriptions[topic]
}

// WebSocketHub serves interactive predictions over WebSocket and fans every
// logged prediction out to clients subscribed to FeedTopic. It doubles as a
// pipeline.Sink.
type WebSocketHub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	predictor  Predictor
	logger     *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewWebSocketHub 创建WebSocket中心
func NewWebSocketHub(logger *zap.Logger, allowedOrigins []string) *WebSocketHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketHub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func originChecker(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, allowed := range origins {
			if allowed == "*" || allowed == origin {
				return true
			}
		}
		return false
	}
}

// SetPredictor 设置推理服务
func (h *WebSocketHub) SetPredictor(p Predictor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.predictor = p
}

// Start 启动WebSocket中心
func (h *WebSocketHub) Start() {
	defer h.logger.Info("websocket hub stopped")
	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", zap.String("client", client.clientID))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", zap.String("client", client.clientID))
		}
	}
}

// Stop 停止WebSocket中心
func (h *WebSocketHub) Stop() {
	h.cancel()
}

// ClientCount 当前连接数
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket 处理WebSocket连接
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:          conn,
		send:          make(chan []byte, 256),
		clientID:      uuid.NewString(),
		subscriptions: make(map[string]bool),
	}

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

// Append 广播已记录的预测
func (h *WebSocketHub) Append(entry pipeline.LogEntry) error {
	payload, err := json.Marshal(LoggedPayload{
		ID:         entry.ID,
		Timestamp:  entry.Timestamp,
		Input:      entry.Input.Raw(),
		Species:    entry.Species,
		Confidence: entry.Confidence,
	})
	if err != nil {
		return err
	}
	message, err := encode(Message{Type: PredictionLogged, Timestamp: time.Now(), Data: payload, ID: entry.ID})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.subscribed(FeedTopic) {
			continue
		}
		select {
		case client.send <- message:
		default:
			h.logger.Warn("websocket client queue is full, dropping feed message", zap.String("client", client.clientID))
		}
	}
	return nil
}

// writePump WebSocket写入泵
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump WebSocket读取泵
func (c *Client) readPump(h *WebSocketHub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.ctx.Done():
		}
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", zap.String("client", c.clientID), zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(h, Message{Type: PredictionError}, ErrorPayload{Error: "invalid message: " + err.Error()})
			continue
		}
		c.handleClientMessage(h, msg)
	}
}

// handleClientMessage 处理客户端消息
func (c *Client) handleClientMessage(h *WebSocketHub, msg ClientMessage) {
	switch msg.Type {
	case "subscribe", "unsubscribe":
		c.subMu.Lock()
		if msg.Type == "subscribe" {
			c.subscriptions[msg.Topic] = true
		} else {
			delete(c.subscriptions, msg.Topic)
		}
		c.subMu.Unlock()
		reply := Subscribed
		if msg.Type == "unsubscribe" {
			reply = Unsubscribed
		}
		c.reply(h, Message{Type: reply, ID: msg.ID}, map[string]string{"topic": msg.Topic})
	case string(PredictRequest):
		c.handlePredict(h, msg)
	default:
		c.reply(h, Message{Type: PredictionError, ID: msg.ID}, ErrorPayload{Error: "unknown message type " + msg.Type})
	}
}

func (c *Client) handlePredict(h *WebSocketHub, msg ClientMessage) {
	h.mu.RLock()
	predictor := h.predictor
	h.mu.RUnlock()
	if predictor == nil {
		c.reply(h, Message{Type: PredictionError, ID: msg.ID}, ErrorPayload{Error: pipeline.ErrNotReady.Error()})
		return
	}

	var raw ml.RawInput
	decoder := json.NewDecoder(bytes.NewReader(msg.Data))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		c.reply(h, Message{Type: PredictionError, ID: msg.ID}, ErrorPayload{Error: "invalid input: " + err.Error()})
		return
	}

	outcome, err := predictor.Predict(raw)
	if err != nil {
		payload := ErrorPayload{Error: err.Error()}
		var sv *ml.SchemaViolation
		if errors.As(err, &sv) {
			payload.Field = sv.Field
		}
		c.reply(h, Message{Type: PredictionError, ID: msg.ID}, payload)
		return
	}

	payload := PredictionPayload{Species: outcome.Result.Species, Confidence: outcome.Result.Confidence}
	if outcome.Warning != nil {
		payload.Warning = outcome.Warning.Error()
	}
	c.reply(h, Message{Type: PredictionResult, ID: msg.ID}, payload)
}

func (c *Client) reply(h *WebSocketHub, msg Message, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("encode websocket payload", zap.Error(err))
		return
	}
	msg.Data = data
	msg.Timestamp = time.Now()
	message, err := encode(msg)
	if err != nil {
		h.logger.Error("encode websocket message", zap.Error(err))
		return
	}
	// Start closes send under h.mu once the client leaves the hub
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- message:
	default:
		h.logger.Warn("websocket client queue is full, dropping reply", zap.String("client", c.clientID))
	}
}

func encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
