package db

import (
	"path/filepath"
	"testing"
	"time"

	"florapredict/ml"
	"florapredict/pipeline"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:", ml.PlantSchema())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func entry(t *testing.T, id, soil, species string) pipeline.LogEntry {
	t.Helper()
	in, err := ml.PlantSchema().Validate(ml.RawInput{
		"soil_type":          soil,
		"light":              "High",
		"moisture":           "Medium",
		"temperature":        22.0,
		"disturbance":        "Low",
		"human_interference": "Low",
		"ph":                 6.5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return pipeline.LogEntry{
		ID:          id,
		Timestamp:   time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC),
		Input:       in,
		Species:     species,
		Confidence:  91.3,
		Fingerprint: "fp",
	}
}

func TestStoreAppendAndRecent(t *testing.T) {
	store := newTestStore(t)
	for i, soil := range []string{"Sandy", "Clay", "Loamy"} {
		if err := store.Append(entry(t, soil, soil, "Oak")); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	n, err := store.CountPredictions()
	if err != nil || n != 3 {
		t.Fatalf("expected 3 predictions, got %d (%v)", n, err)
	}

	recent, err := store.RecentPredictions(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recent))
	}
	if recent[0].Input["soil_type"] != "Loamy" || recent[1].Input["soil_type"] != "Clay" {
		t.Fatalf("expected newest first, got %v, %v", recent[0].Input, recent[1].Input)
	}
	if recent[0].Input["ph"] != 6.5 || recent[0].Confidence != 91.3 || recent[0].Fingerprint != "fp" {
		t.Fatalf("unexpected record %+v", recent[0])
	}
	if !recent[0].Timestamp.Equal(time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %v", recent[0].Timestamp)
	}
}

func TestStoreRejectsDuplicateID(t *testing.T) {
	store := newTestStore(t)
	if err := store.Append(entry(t, "same", "Sandy", "Oak")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Append(entry(t, "same", "Clay", "Fern")); err == nil {
		t.Fatal("expected duplicate id error")
	}
	n, _ := store.CountPredictions()
	if n != 1 {
		t.Fatalf("failed append must leave no record, got %d", n)
	}
}

func TestTrainingLog(t *testing.T) {
	store := newTestStore(t)
	older := TrainingLog{ModelName: "decision_tree", Fingerprint: "a", Accuracy: 0.8, TrainedAt: time.Now().Add(-time.Hour), DataPoints: 100, ClassCount: 5}
	newer := TrainingLog{ModelName: "decision_tree", Fingerprint: "b", Accuracy: 0.9, TrainedAt: time.Now(), DataPoints: 120, ClassCount: 6}
	for _, l := range []TrainingLog{older, newer} {
		if err := store.SaveTrainingLog(l); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	logs, err := store.LoadTrainingLog()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logs) != 2 || logs[0].Fingerprint != "b" {
		t.Fatalf("expected newest first, got %+v", logs)
	}
}

func TestNewStoreOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flora.db")
	store, err := NewStore(path, ml.PlantSchema())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Append(entry(t, "x", "Silty", "Fern")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.Close()

	reopened, err := NewStore(path, ml.PlantSchema())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer reopened.Close()
	n, _ := reopened.CountPredictions()
	if n != 1 {
		t.Fatalf("expected 1 persisted prediction, got %d", n)
	}
}
