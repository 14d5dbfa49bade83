package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"florapredict/ml"
	"florapredict/pipeline"
)

type stubPredictor struct {
	species string
}

func (p stubPredictor) Predict(raw ml.RawInput) (pipeline.Outcome, error) {
	if raw["soil_type"] == "Lava" {
		return pipeline.Outcome{}, &ml.SchemaViolation{Field: "soil_type", Value: "Lava", Reason: "value is not one of the legal values"}
	}
	return pipeline.Outcome{Result: pipeline.Result{Species: p.species, Confidence: 87.5}}, nil
}

func startHub(t *testing.T) (*WebSocketHub, string) {
	t.Helper()
	hub := NewWebSocketHub(zaptest.NewLogger(t), nil)
	hub.SetPredictor(stubPredictor{species: "Quercus robur"})
	go hub.Start()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestHubPredict(t *testing.T) {
	_, url := startHub(t)
	conn := dial(t, url)

	req := ClientMessage{Type: "predict", ID: "req-1", Data: json.RawMessage(`{"soil_type":"Loamy","temperature":22}`)}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != PredictionResult || msg.ID != "req-1" {
		t.Fatalf("got %s/%s, want prediction/req-1", msg.Type, msg.ID)
	}
	var payload PredictionPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Species != "Quercus robur" || payload.Confidence != 87.5 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestHubPredictError(t *testing.T) {
	_, url := startHub(t)
	conn := dial(t, url)

	req := ClientMessage{Type: "predict", ID: "req-2", Data: json.RawMessage(`{"soil_type":"Lava"}`)}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != PredictionError {
		t.Fatalf("got %s, want error", msg.Type)
	}
	var payload ErrorPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Field != "soil_type" {
		t.Errorf("field = %q, want soil_type", payload.Field)
	}
}

func TestHubUnknownMessage(t *testing.T) {
	_, url := startHub(t)
	conn := dial(t, url)

	if err := conn.WriteJSON(ClientMessage{Type: "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != PredictionError {
		t.Errorf("got %s, want error", msg.Type)
	}
}

func TestHubFeedOnlyReachesSubscribers(t *testing.T) {
	hub, url := startHub(t)
	subscriber := dial(t, url)
	other := dial(t, url)

	if err := subscriber.WriteJSON(ClientMessage{Type: "subscribe", Topic: FeedTopic}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if msg := readMessage(t, subscriber); msg.Type != Subscribed {
		t.Fatalf("got %s, want subscribed", msg.Type)
	}

	deadline := time.Now().Add(5 * time.Second)
	for hub.ClientCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	schema := ml.PlantSchema()
	in, err := schema.Validate(ml.RawInput{
		"soil_type":          "Loamy",
		"light":              "High",
		"moisture":           "Medium",
		"temperature":        22.0,
		"disturbance":        "Low",
		"human_interference": "Low",
		"ph":                 6.5,
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	entry := pipeline.LogEntry{ID: "entry-1", Timestamp: time.Now(), Input: in, Species: "Quercus robur", Confidence: 87.5}
	if err := hub.Append(entry); err != nil {
		t.Fatalf("append: %v", err)
	}

	msg := readMessage(t, subscriber)
	if msg.Type != PredictionLogged || msg.ID != "entry-1" {
		t.Fatalf("got %s/%s, want prediction_logged/entry-1", msg.Type, msg.ID)
	}
	var payload LoggedPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Input["soil_type"] != "Loamy" {
		t.Errorf("input = %v", payload.Input)
	}

	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var unexpected Message
	if err := other.ReadJSON(&unexpected); err == nil {
		t.Errorf("unsubscribed client received %s", unexpected.Type)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:3000"})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://evil.example", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/ws/predict", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := check(r); got != tt.want {
			t.Errorf("origin %q: got %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestReplyAfterStopIsDropped(t *testing.T) {
	hub := NewWebSocketHub(zaptest.NewLogger(t), nil)
	client := &Client{send: make(chan []byte, 1), clientID: "late", subscriptions: make(map[string]bool)}
	hub.clients[client] = true

	done := make(chan struct{})
	go func() {
		hub.Start()
		close(done)
	}()
	hub.Stop()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not stop")
	}

	// send is closed now; a reply must not panic
	client.reply(hub, Message{Type: PredictionResult, ID: "req-late"}, PredictionPayload{Species: "Quercus robur"})
	if _, ok := <-client.send; ok {
		t.Fatal("expected no message after stop")
	}
}
