package monitoring

import (
	"errors"
	"sync"
	"time"

	"florapredict/ml"
	"florapredict/pipeline"
)

// MetricsCollector 预测指标收集器
type MetricsCollector struct {
	mu sync.RWMutex

	total          int64
	failures       map[string]int64
	species        map[string]int64
	warnings       map[string]int64
	latencyTotal   time.Duration
	latencyMax     time.Duration
	lastPrediction time.Time

	startTime time.Time
	now       func() time.Time
}

// Snapshot 指标快照
type Snapshot struct {
	Total          int64            `json:"total"`
	Succeeded      int64            `json:"succeeded"`
	Failures       map[string]int64 `json:"failures"`
	Species        map[string]int64 `json:"species"`
	Warnings       map[string]int64 `json:"warnings"`
	MeanLatencyMs  float64          `json:"mean_latency_ms"`
	MaxLatencyMs   float64          `json:"max_latency_ms"`
	LastPrediction *time.Time       `json:"last_prediction,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	UptimeSeconds  float64          `json:"uptime_seconds"`
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		failures:  make(map[string]int64),
		species:   make(map[string]int64),
		warnings:  make(map[string]int64),
		startTime: time.Now(),
		now:       time.Now,
	}
}

// ObserveInference 记录一次推理
func (mc *MetricsCollector) ObserveInference(species string, elapsed time.Duration, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.total++
	mc.latencyTotal += elapsed
	if elapsed > mc.latencyMax {
		mc.latencyMax = elapsed
	}
	if err != nil {
		mc.failures[FailureKind(err)]++
		return
	}
	mc.species[species]++
	mc.lastPrediction = mc.now()
}

// ObserveWarning 记录日志/报告的次要失败
func (mc *MetricsCollector) ObserveWarning(stage string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.warnings[stage]++
}

// Snapshot 获取指标快照（返回副本）
func (mc *MetricsCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snap := Snapshot{
		Total:         mc.total,
		Failures:      copyCounts(mc.failures),
		Species:       copyCounts(mc.species),
		Warnings:      copyCounts(mc.warnings),
		MaxLatencyMs:  float64(mc.latencyMax) / float64(time.Millisecond),
		StartedAt:     mc.startTime,
		UptimeSeconds: mc.now().Sub(mc.startTime).Seconds(),
	}
	var failed int64
	for _, n := range mc.failures {
		failed += n
	}
	snap.Succeeded = mc.total - failed
	if mc.total > 0 {
		snap.MeanLatencyMs = float64(mc.latencyTotal) / float64(mc.total) / float64(time.Millisecond)
	}
	if !mc.lastPrediction.IsZero() {
		last := mc.lastPrediction
		snap.LastPrediction = &last
	}
	return snap
}

// FailureKind 错误分类
func FailureKind(err error) string {
	switch {
	case errors.Is(err, ml.ErrSchemaViolation):
		return "schema_violation"
	case errors.Is(err, ml.ErrUnknownToken):
		return "unknown_token"
	case errors.Is(err, ml.ErrUnknownCode):
		return "unknown_code"
	case errors.Is(err, pipeline.ErrInvalidDistribution):
		return "invalid_distribution"
	case errors.Is(err, pipeline.ErrNotReady):
		return "not_ready"
	default:
		return "other"
	}
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
