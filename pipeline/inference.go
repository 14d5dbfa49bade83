// Package pipeline turns raw site conditions into a species recommendation
// and hosts the callers that log and report each prediction.
package pipeline

import (
	"errors"
	"fmt"
	"math"

	"florapredict/ml"
)

// ErrInvalidDistribution is returned when the classifier reports a
// probability vector that is empty, negative, NaN or does not sum to 1.
var ErrInvalidDistribution = errors.New("invalid class distribution")

const distributionTolerance = 1e-6

// Result is one recommendation. Confidence is 100 times the largest class
// probability the classifier reported, rounded to two decimals. It is the
// model's own maximum probability, not a calibrated chance of being right.
type Result struct {
	Species    string  `json:"species"`
	Confidence float64 `json:"confidence"`
}

// Pipeline is immutable once built and safe for concurrent Infer calls.
type Pipeline struct {
	schema *ml.Schema
	codecs *ml.CodecRegistry
	model  ml.Classifier
}

func New(schema *ml.Schema, artifacts *ml.Artifacts) (*Pipeline, error) {
	if artifacts == nil {
		return nil, &ml.ArtifactLoadError{Artifact: "artifact pair", Err: errors.New("no artifacts")}
	}
	if err := ml.CheckCompatibility(schema, artifacts.Model, artifacts.Codecs); err != nil {
		return nil, err
	}
	return &Pipeline{schema: schema, codecs: artifacts.Codecs, model: artifacts.Model}, nil
}

// Load reads the artifact pair from disk and builds a pipeline over it.
func Load(schema *ml.Schema, modelType, modelPath, encodersPath string) (*Pipeline, error) {
	artifacts, err := ml.LoadArtifacts(schema, modelType, modelPath, encodersPath)
	if err != nil {
		return nil, err
	}
	return New(schema, artifacts)
}

func (p *Pipeline) Schema() *ml.Schema { return p.schema }

func (p *Pipeline) Fingerprint() string { return p.codecs.Fingerprint() }

// Species lists the classes the loaded model can recommend, in code order.
func (p *Pipeline) Species() []string {
	c, ok := p.codecs.Codec(ml.LabelField)
	if !ok {
		return nil
	}
	return c.Tokens()
}

// Infer validates raw, encodes it in schema order, and decodes the most
// probable class. Schema violations are returned unchanged.
func (p *Pipeline) Infer(raw ml.RawInput) (Result, error) {
	in, err := p.schema.Validate(raw)
	if err != nil {
		return Result{}, err
	}
	return p.InferValidated(in)
}

func (p *Pipeline) InferValidated(in ml.ValidatedInput) (Result, error) {
	vector, err := ml.EncodeVector(p.codecs, in)
	if err != nil {
		return Result{}, err
	}
	dist, err := p.model.PredictDistribution(vector)
	if err != nil {
		return Result{}, fmt.Errorf("classifier: %w", err)
	}
	if err := checkDistribution(dist); err != nil {
		return Result{}, err
	}

	idx := argmax(dist)
	species, err := p.codecs.Decode(ml.LabelField, idx)
	if err != nil {
		return Result{}, err
	}
	return Result{Species: species, Confidence: confidence(dist[idx])}, nil
}

func checkDistribution(dist []float64) error {
	if len(dist) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidDistribution)
	}
	sum := 0.0
	for i, p := range dist {
		if math.IsNaN(p) || p < 0 {
			return fmt.Errorf("%w: probability %v at class %d", ErrInvalidDistribution, p, i)
		}
		sum += p
	}
	if math.Abs(sum-1) > distributionTolerance {
		return fmt.Errorf("%w: sums to %v", ErrInvalidDistribution, sum)
	}
	return nil
}

// argmax returns the first index holding the maximum.
func argmax(dist []float64) int {
	best := 0
	for i, p := range dist {
		if p > dist[best] {
			best = i
		}
	}
	return best
}

func confidence(p float64) float64 {
	c := math.Round(p*100*100) / 100
	if c > 100 {
		return 100
	}
	return c
}
