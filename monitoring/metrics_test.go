package monitoring

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"florapredict/ml"
	"florapredict/pipeline"
)

func TestMetricsCollector(t *testing.T) {
	mc := NewMetricsCollector()
	mc.ObserveInference("Oak", 2*time.Millisecond, nil)
	mc.ObserveInference("Oak", 4*time.Millisecond, nil)
	mc.ObserveInference("", time.Millisecond, &ml.SchemaViolation{Field: "soil_type"})
	mc.ObserveWarning("sink")

	snap := mc.Snapshot()
	if snap.Total != 3 || snap.Succeeded != 2 {
		t.Fatalf("unexpected totals: %+v", snap)
	}
	if snap.Species["Oak"] != 2 {
		t.Fatalf("expected 2 Oak predictions, got %d", snap.Species["Oak"])
	}
	if snap.Failures["schema_violation"] != 1 {
		t.Fatalf("expected 1 schema violation, got %v", snap.Failures)
	}
	if snap.Warnings["sink"] != 1 {
		t.Fatalf("expected 1 sink warning, got %v", snap.Warnings)
	}
	if snap.MaxLatencyMs != 4 || snap.MeanLatencyMs <= 2 || snap.MeanLatencyMs >= 3 {
		t.Fatalf("unexpected latency: mean=%f max=%f", snap.MeanLatencyMs, snap.MaxLatencyMs)
	}
	if snap.LastPrediction == nil {
		t.Fatal("expected last prediction time")
	}

	snap.Species["Oak"] = 100
	if mc.Snapshot().Species["Oak"] != 2 {
		t.Fatal("snapshot must be a copy")
	}
}

func TestFailureKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&ml.SchemaViolation{Field: "ph"}, "schema_violation"},
		{&ml.UnknownTokenError{Field: "light", Token: "Dim"}, "unknown_token"},
		{fmt.Errorf("wrapped: %w", &ml.UnknownCodeError{Field: "species", Code: 9}), "unknown_code"},
		{pipeline.ErrNotReady, "not_ready"},
		{fmt.Errorf("x: %w", pipeline.ErrInvalidDistribution), "invalid_distribution"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		if got := FailureKind(tt.err); got != tt.want {
			t.Errorf("FailureKind(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
