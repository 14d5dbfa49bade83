package ml

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestDecisionTreeTrainPredict(t *testing.T) {
	features := [][]float64{
		{0.1, 0.2},
		{0.2, 0.1},
		{0.9, 0.8},
		{0.8, 0.9},
	}
	labels := []int{0, 0, 2, 2}

	model := NewDecisionTree(2)
	if err := model.Train(features, labels, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	label, err := model.Predict([]float64{0.15, 0.15})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != 0 {
		t.Fatalf("expected label 0, got %d", label)
	}
	dist, err := model.PredictDistribution([]float64{0.85, 0.85})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dist) != 3 {
		t.Fatalf("expected 3 classes, got %d", len(dist))
	}
	if dist[2] != 1 {
		t.Fatalf("expected pure leaf for class 2, got %v", dist)
	}
}

func TestDecisionTreeDepthLimitedLeafDistribution(t *testing.T) {
	features := [][]float64{{0}, {1}, {2}, {3}}
	labels := []int{0, 0, 1, 0}

	model := NewDecisionTree(1)
	if err := model.Train(features, labels, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dist, err := model.PredictDistribution([]float64{3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dist[0] != 0.5 || dist[1] != 0.5 {
		t.Fatalf("expected [0.5 0.5], got %v", dist)
	}
	label, _ := model.Predict([]float64{3})
	if label != 0 {
		t.Fatalf("expected tie resolved to lowest index, got %d", label)
	}
}

func TestDecisionTreeDistributionSumsToOne(t *testing.T) {
	schema := PlantSchema()
	ds := loadTestDataset(t, schema)
	codecs, err := FitCodecs(schema, ds, "fp", testTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	features, labels, err := EncodeDataset(codecs, ds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	species, _ := codecs.Codec(LabelField)

	model := NewDecisionTree(3)
	if err := model.Train(features, labels, species.Len()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, f := range features {
		dist, err := model.PredictDistribution(f)
		if err != nil {
			t.Fatalf("row %d: unexpected error: %v", i, err)
		}
		sum := 0.0
		for _, p := range dist {
			sum += p
		}
		if math.Abs(sum-1) > 1e-6 {
			t.Fatalf("row %d: distribution sums to %f", i, sum)
		}
	}
}

func TestDecisionTreeUnlimitedDepthFitsTrainingSet(t *testing.T) {
	schema := PlantSchema()
	ds := loadTestDataset(t, schema)
	codecs, _ := FitCodecs(schema, ds, "fp", testTime)
	features, labels, err := EncodeDataset(codecs, ds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	species, _ := codecs.Codec(LabelField)
	model := NewDecisionTree(0)
	if err := model.Train(features, labels, species.Len()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acc := Accuracy(model, features, labels); acc != 1 {
		t.Fatalf("expected training accuracy 1, got %f", acc)
	}
}

func TestDecisionTreeSaveLoad(t *testing.T) {
	model := NewDecisionTree(0)
	model.SetFeatureNames([]string{"a", "b"})
	model.SetFingerprint("run-1")
	if err := model.Train([][]float64{{0, 1}, {1, 0}}, []int{0, 1}, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	path := filepath.Join(t.TempDir(), "model.json")
	if err := model.Save(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded := &DecisionTree{}
	if err := loaded.Load(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Fingerprint() != "run-1" || loaded.ClassCount() != 2 || len(loaded.FeatureNames()) != 2 {
		t.Fatalf("metadata not preserved: %q %d %v", loaded.Fingerprint(), loaded.ClassCount(), loaded.FeatureNames())
	}
	for _, f := range [][]float64{{0, 1}, {1, 0}} {
		want, _ := model.Predict(f)
		got, err := loaded.Predict(f)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d after reload, got %d", want, got)
		}
	}
	if _, err := loaded.Predict([]float64{1}); err == nil {
		t.Fatal("expected error for short feature vector")
	}
}

func TestDecisionTreeLoadRejectsCorruptTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	payload := `{"model_type":"decision_tree","class_count":2,"nodes":[{"feature_idx":0,"left_child":0,"right_child":0,"is_leaf":false}]}`
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := (&DecisionTree{}).Load(path); err == nil {
		t.Fatal("expected error for self-referencing node")
	}
}

func TestDecisionTreeUntrained(t *testing.T) {
	if _, err := NewDecisionTree(0).Predict([]float64{1}); err == nil {
		t.Fatal("expected error for untrained model")
	}
	if err := NewDecisionTree(0).Save(filepath.Join(t.TempDir(), "m.json")); err == nil {
		t.Fatal("expected error saving untrained model")
	}
}

func TestDecisionTreeAdjacentFloats(t *testing.T) {
	lo := math.Nextafter(1, 2)
	hi := math.Nextafter(lo, 2)
	features := [][]float64{{lo}, {hi}}
	labels := []int{0, 1}

	model := NewDecisionTree(0)
	if err := model.Train(features, labels, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model.NodeCount() != 3 {
		t.Fatalf("expected one split and two leaves, got %d nodes", model.NodeCount())
	}
	for i, x := range features {
		label, err := model.Predict(x)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if label != labels[i] {
			t.Errorf("sample %d: expected label %d, got %d", i, labels[i], label)
		}
	}
}

func TestMidpoint(t *testing.T) {
	lo := math.Nextafter(1, 2)
	hi := math.Nextafter(lo, 2)
	tests := []struct {
		name    string
		v, next float64
		want    float64
	}{
		{"regular", 1, 2, 1.5},
		{"adjacent floats", lo, hi, lo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := midpoint(tt.v, tt.next); got != tt.want {
				t.Errorf("midpoint(%v, %v) = %v, want %v", tt.v, tt.next, got, tt.want)
			}
		})
	}
}
