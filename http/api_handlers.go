// Package http 提供API处理器
package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

const (
	defaultPredictionLimit = 50
	maxPredictionLimit     = 500
)

// registerRecordHandlers 注册日志与指标API
func (h *Handler) registerRecordHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/predictions", h.handlePredictions)
	mux.HandleFunc("GET /api/training", h.handleTraining)
	mux.HandleFunc("GET /api/metrics", h.handleMetrics)
}

// ============ 预测日志 ============

func (h *Handler) handlePredictions(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSONError(w, http.StatusNotFound, "prediction database is not configured", "")
		return
	}

	limit := defaultPredictionLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer", "limit")
			return
		}
		limit = l
	}
	if limit > maxPredictionLimit {
		limit = maxPredictionLimit
	}

	records, err := h.store.RecentPredictions(limit)
	if err != nil {
		h.internalError(w, r, "query predictions", err)
		return
	}
	total, err := h.store.CountPredictions()
	if err != nil {
		h.internalError(w, r, "count predictions", err)
		return
	}

	respondJSON(w, map[string]interface{}{
		"total": total,
		"data":  records,
	})
}

// ============ 训练日志 ============

func (h *Handler) handleTraining(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSONError(w, http.StatusNotFound, "prediction database is not configured", "")
		return
	}
	logs, err := h.store.LoadTrainingLog()
	if err != nil {
		h.internalError(w, r, "query training log", err)
		return
	}
	respondJSON(w, map[string]interface{}{"data": logs})
}

// ============ 指标 ============

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeJSONError(w, http.StatusNotFound, "metrics are not enabled", "")
		return
	}
	snapshot := h.metrics.Snapshot()
	body := map[string]interface{}{"predictions": snapshot}
	if h.hub != nil {
		body["websocket_clients"] = h.hub.ClientCount()
	}
	respondJSON(w, body)
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error(op+" failed",
		zap.String("request_id", GetRequestID(r.Context())),
		zap.Error(err),
	)
	writeJSONError(w, http.StatusInternalServerError, op+" failed", "")
}

// respondJSON 统一JSON响应
func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode JSON", zap.Error(err))
	}
}
