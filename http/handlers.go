package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"florapredict/db"
	"florapredict/ml"
	"florapredict/monitoring"
	"florapredict/pipeline"
	"florapredict/report"
)

// Handler 路由依赖
type Handler struct {
	service  *pipeline.Service
	store    *db.Store
	metrics  *monitoring.MetricsCollector
	hub      *monitoring.WebSocketHub
	renderer report.Renderer
	logger   *zap.Logger
}

// Options 处理器依赖, Store/Metrics/Hub 可为空
type Options struct {
	Service  *pipeline.Service
	Store    *db.Store
	Metrics  *monitoring.MetricsCollector
	Hub      *monitoring.WebSocketHub
	Renderer report.Renderer
	Logger   *zap.Logger
}

// NewHandler 创建处理器
func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Renderer == nil {
		opts.Renderer = report.PDFRenderer{}
	}
	return &Handler{
		service:  opts.Service,
		store:    opts.Store,
		metrics:  opts.Metrics,
		hub:      opts.Hub,
		renderer: opts.Renderer,
		logger:   opts.Logger,
	}
}

// Register 注册所有路由
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("GET /api/schema", h.handleSchema)
	mux.HandleFunc("POST /api/predict", h.handlePredict)
	mux.HandleFunc("POST /api/report", h.handleReport)
	h.registerRecordHandlers(mux)
	if h.hub != nil {
		mux.HandleFunc("GET /api/ws/predict", h.hub.HandleWebSocket)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	if p := h.service.Pipeline(); p != nil {
		status["fingerprint"] = p.Fingerprint()
	} else {
		status["status"] = "loading"
	}
	respondJSON(w, status)
}

type fieldView struct {
	Name   string       `json:"name"`
	Kind   ml.FieldKind `json:"kind"`
	Values []string     `json:"values,omitempty"`
	Min    *float64     `json:"min,omitempty"`
	Max    *float64     `json:"max,omitempty"`
	Unit   string       `json:"unit,omitempty"`
	Label  string       `json:"label"`
}

func (h *Handler) handleSchema(w http.ResponseWriter, r *http.Request) {
	p := h.service.Pipeline()
	if p == nil {
		writeError(w, r, h.logger, pipeline.ErrNotReady)
		return
	}

	fields := make([]fieldView, 0, p.Schema().Len())
	for _, f := range p.Schema().Fields() {
		view := fieldView{Name: f.Name, Kind: f.Kind, Values: f.Values, Unit: f.Unit, Label: report.Label(f.Name)}
		if f.Kind == ml.Numeric {
			lo, hi := f.Min, f.Max
			view.Min, view.Max = &lo, &hi
		}
		fields = append(fields, view)
	}
	respondJSON(w, map[string]interface{}{
		"fields":      fields,
		"species":     p.Species(),
		"fingerprint": p.Fingerprint(),
	})
}

type predictResponse struct {
	ID          string  `json:"id"`
	Species     string  `json:"species"`
	Confidence  float64 `json:"confidence"`
	Timestamp   string  `json:"timestamp"`
	Fingerprint string  `json:"fingerprint"`
	Warning     string  `json:"warning,omitempty"`
}

func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	outcome, ok := h.predict(w, r)
	if !ok {
		return
	}
	respondJSON(w, newPredictResponse(outcome))
}

func newPredictResponse(outcome pipeline.Outcome) predictResponse {
	resp := predictResponse{
		ID:          outcome.Entry.ID,
		Species:     outcome.Result.Species,
		Confidence:  outcome.Result.Confidence,
		Timestamp:   outcome.Entry.Timestamp.Format(pipeline.TimestampLayout),
		Fingerprint: outcome.Entry.Fingerprint,
	}
	if outcome.Warning != nil {
		resp.Warning = outcome.Warning.Error()
	}
	return resp
}

// handleReport predicts like /api/predict and returns the rendered report
// as a download. The prediction is already logged when rendering runs, so a
// rendering failure answers with the prediction JSON and a warning.
func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	outcome, ok := h.predict(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := h.renderer.Render(&buf, report.FromEntry(outcome.Entry)); err != nil {
		h.logger.Warn("report rendering failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("id", outcome.Entry.ID),
			zap.Error(err),
		)
		resp := newPredictResponse(outcome)
		warning := "report rendering failed: " + err.Error()
		if resp.Warning != "" {
			warning = resp.Warning + "; " + warning
		}
		resp.Warning = warning
		respondJSON(w, resp)
		return
	}

	name := report.FileName(outcome.Entry, h.renderer.Extension())
	w.Header().Set("Content-Type", h.renderer.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("X-Species", outcome.Result.Species)
	w.Header().Set("X-Confidence", pipeline.FormatFloat(outcome.Result.Confidence))
	w.Write(buf.Bytes())
}

func (h *Handler) predict(w http.ResponseWriter, r *http.Request) (pipeline.Outcome, bool) {
	raw, err := decodeRawInput(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large", "")
		} else {
			writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "")
		}
		return pipeline.Outcome{}, false
	}

	if p := h.service.Pipeline(); p != nil {
		raw = pipeline.Normalize(p.Schema(), raw)
	}
	outcome, err := h.service.Predict(raw)
	if err != nil {
		writeError(w, r, h.logger, err)
		return pipeline.Outcome{}, false
	}
	return outcome, true
}

// decodeRawInput keeps numbers as json.Number so the schema sees exactly
// what the client sent.
func decodeRawInput(body io.Reader) (ml.RawInput, error) {
	decoder := json.NewDecoder(body)
	decoder.UseNumber()
	var raw ml.RawInput
	if err := decoder.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("expected a JSON object")
	}
	return raw, nil
}

// writeError 按错误类型映射状态码
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var sv *ml.SchemaViolation
	switch {
	case errors.As(err, &sv):
		writeJSONError(w, http.StatusBadRequest, err.Error(), sv.Field)
	case errors.Is(err, pipeline.ErrNotReady):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error(), "")
	default:
		// UnknownToken/UnknownCode/invalid distribution: artifacts and schema disagree
		logger.Error("prediction failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeJSONError(w, http.StatusInternalServerError, err.Error(), "")
	}
}

func writeJSONError(w http.ResponseWriter, status int, message, field string) {
	body := map[string]string{"error": message}
	if field != "" {
		body["field"] = field
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
