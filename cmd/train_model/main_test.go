package main

import (
	"errors"
	"path/filepath"
	"testing"

	"florapredict/db"
	"florapredict/ml"
	"florapredict/pipeline"
)

func TestTrainWritesLoadablePair(t *testing.T) {
	dir := t.TempDir()
	schema := ml.PlantSchema()
	cfg := trainConfig{
		DatasetPath:  "../../ml/testdata/dataset.csv",
		ModelPath:    filepath.Join(dir, "models", "model.json"),
		EncodersPath: filepath.Join(dir, "models", "encoders.json"),
		TestRatio:    0.25,
		Seed:         7,
	}

	result, err := train(schema, cfg)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if result.Fingerprint == "" || result.ClassCount != 6 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.TrainRows+result.TestRows != 48 || result.TestRows != 12 {
		t.Fatalf("unexpected split %d/%d", result.TrainRows, result.TestRows)
	}
	if result.Accuracy < 0 || result.Accuracy > 1 {
		t.Fatalf("accuracy out of range: %v", result.Accuracy)
	}

	p, err := pipeline.Load(schema, ml.DecisionTreeType, cfg.ModelPath, cfg.EncodersPath)
	if err != nil {
		t.Fatalf("load trained pair: %v", err)
	}
	if p.Fingerprint() != result.Fingerprint {
		t.Fatalf("fingerprint %q, want %q", p.Fingerprint(), result.Fingerprint)
	}

	res, err := p.Infer(ml.RawInput{
		"soil_type":          "Loamy",
		"light":              "High",
		"moisture":           "Medium",
		"temperature":        -1.7,
		"disturbance":        "Low",
		"human_interference": "High",
		"ph":                 6.6,
	})
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if res.Confidence <= 0 || res.Confidence > 100 {
		t.Fatalf("confidence out of range: %v", res.Confidence)
	}
}

func TestRetrainingProducesDifferentFingerprint(t *testing.T) {
	dir := t.TempDir()
	schema := ml.PlantSchema()
	cfg := trainConfig{
		DatasetPath:  "../../ml/testdata/dataset.csv",
		ModelPath:    filepath.Join(dir, "model.json"),
		EncodersPath: filepath.Join(dir, "encoders.json"),
		Seed:         1,
	}
	first, err := train(schema, cfg)
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	// keep the old encoders next to a freshly trained model
	stale := cfg
	stale.ModelPath = filepath.Join(dir, "model2.json")
	stale.EncodersPath = filepath.Join(dir, "encoders2.json")
	second, err := train(schema, stale)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if first.Fingerprint == second.Fingerprint {
		t.Fatal("fingerprints must differ between runs")
	}

	_, err = pipeline.Load(schema, ml.DecisionTreeType, stale.ModelPath, cfg.EncodersPath)
	if !errors.Is(err, ml.ErrArtifactLoad) {
		t.Fatalf("expected artifact load error for mixed pair, got %v", err)
	}
}

func TestTrainMissingDataset(t *testing.T) {
	_, err := train(ml.PlantSchema(), trainConfig{DatasetPath: filepath.Join(t.TempDir(), "none.csv")})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRecordRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "florapredict.db")
	schema := ml.PlantSchema()
	if err := recordRun(path, schema, trainResult{Fingerprint: "fp", Accuracy: 0.5, TrainRows: 8, TestRows: 2, ClassCount: 3}); err != nil {
		t.Fatalf("recordRun: %v", err)
	}
	store, err := db.NewStore(path, schema)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	logs, err := store.LoadTrainingLog()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(logs) != 1 || logs[0].DataPoints != 10 || logs[0].Fingerprint != "fp" {
		t.Fatalf("unexpected log %+v", logs)
	}
}
