package ml

import (
	"errors"
	"path/filepath"
	"testing"
)

func writeArtifacts(t *testing.T, modelFP, codecFP string) (string, string) {
	t.Helper()
	schema := PlantSchema()
	ds := loadTestDataset(t, schema)
	codecs, err := FitCodecs(schema, ds, codecFP, testTime)
	if err != nil {
		t.Fatalf("fit codecs: %v", err)
	}
	features, labels, err := EncodeDataset(codecs, ds)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	species, _ := codecs.Codec(LabelField)
	model := NewDecisionTree(0)
	model.SetFeatureNames(schema.Names())
	model.SetFingerprint(modelFP)
	if err := model.Train(features, labels, species.Len()); err != nil {
		t.Fatalf("train: %v", err)
	}
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "model.json")
	encodersPath := filepath.Join(dir, "encoders.json")
	if err := model.Save(modelPath); err != nil {
		t.Fatalf("save model: %v", err)
	}
	if err := codecs.Save(encodersPath); err != nil {
		t.Fatalf("save encoders: %v", err)
	}
	return modelPath, encodersPath
}

func TestLoadArtifacts(t *testing.T) {
	modelPath, encodersPath := writeArtifacts(t, "run-1", "run-1")
	artifacts, err := LoadArtifacts(PlantSchema(), DecisionTreeType, modelPath, encodersPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifacts.Fingerprint() != "run-1" {
		t.Fatalf("unexpected fingerprint %s", artifacts.Fingerprint())
	}
}

func TestLoadArtifactsFingerprintMismatch(t *testing.T) {
	modelPath, encodersPath := writeArtifacts(t, "run-1", "run-2")
	_, err := LoadArtifacts(PlantSchema(), DecisionTreeType, modelPath, encodersPath)
	if !errors.Is(err, ErrArtifactLoad) {
		t.Fatalf("expected artifact load failure, got %v", err)
	}
}

func TestLoadArtifactsMissingFiles(t *testing.T) {
	modelPath, encodersPath := writeArtifacts(t, "run-1", "run-1")
	dir := t.TempDir()
	if _, err := LoadArtifacts(PlantSchema(), DecisionTreeType, filepath.Join(dir, "nope.json"), encodersPath); !errors.Is(err, ErrArtifactLoad) {
		t.Fatalf("expected artifact load failure, got %v", err)
	}
	if _, err := LoadArtifacts(PlantSchema(), DecisionTreeType, modelPath, filepath.Join(dir, "nope.json")); !errors.Is(err, ErrArtifactLoad) {
		t.Fatalf("expected artifact load failure, got %v", err)
	}
	if _, err := LoadArtifacts(PlantSchema(), "random_forest", modelPath, encodersPath); !errors.Is(err, ErrArtifactLoad) {
		t.Fatalf("expected artifact load failure, got %v", err)
	}
}

func TestCheckCompatibilityFeatureOrder(t *testing.T) {
	schema := PlantSchema()
	ds := loadTestDataset(t, schema)
	codecs, _ := FitCodecs(schema, ds, "fp", testTime)
	species, _ := codecs.Codec(LabelField)

	names := schema.Names()
	names[0], names[1] = names[1], names[0]
	model := NewDecisionTree(1)
	model.SetFeatureNames(names)
	model.SetFingerprint("fp")
	features, labels, _ := EncodeDataset(codecs, ds)
	if err := model.Train(features, labels, species.Len()); err != nil {
		t.Fatalf("train: %v", err)
	}
	if err := CheckCompatibility(schema, model, codecs); !errors.Is(err, ErrArtifactLoad) {
		t.Fatalf("expected artifact load failure for reordered features, got %v", err)
	}
}
