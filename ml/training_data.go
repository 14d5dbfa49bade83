package ml

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strings"
	"time"
)

// Dataset is a labelled training table validated against a schema.
type Dataset struct {
	Rows   []ValidatedInput
	Labels []string
}

// LoadDataset reads a CSV whose header names every schema field plus the
// species column, in any order.
func LoadDataset(schema *Schema, r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	for _, name := range append(schema.Names(), LabelField) {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("dataset has no %s column", name)
		}
	}

	ds := &Dataset{}
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		raw := make(RawInput, schema.Len())
		for _, name := range schema.Names() {
			raw[name] = strings.TrimSpace(record[columns[name]])
		}
		in, err := schema.Validate(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		label := strings.TrimSpace(record[columns[LabelField]])
		if label == "" {
			return nil, fmt.Errorf("line %d: %w", line, &SchemaViolation{Field: LabelField, Reason: "required field is missing"})
		}
		ds.Rows = append(ds.Rows, in)
		ds.Labels = append(ds.Labels, label)
	}
	if len(ds.Rows) == 0 {
		return nil, errors.New("dataset has no rows")
	}
	return ds, nil
}

// FitCodecs builds the encoder set for one training run. Input fields are
// fitted on their legal values so every token the schema accepts encodes;
// the species codec is fitted on the observed labels.
func FitCodecs(schema *Schema, ds *Dataset, fingerprint string, createdAt time.Time) (*CodecRegistry, error) {
	codecs := make([]*Codec, 0, schema.Len()+1)
	for _, f := range schema.Fields() {
		if f.Kind != Categorical {
			continue
		}
		c, err := FitCodec(f.Name, f.Values)
		if err != nil {
			return nil, err
		}
		codecs = append(codecs, c)
	}
	species, err := FitCodec(LabelField, ds.Labels)
	if err != nil {
		return nil, err
	}
	codecs = append(codecs, species)
	return NewCodecRegistry(fingerprint, createdAt, codecs...)
}

// EncodeVector turns a validated record into the classifier's feature
// vector. Training and inference both go through here.
func EncodeVector(codecs *CodecRegistry, in ValidatedInput) ([]float64, error) {
	vector := make([]float64, 0, len(in.values))
	for _, v := range in.values {
		if v.Kind == Numeric {
			vector = append(vector, v.Number)
			continue
		}
		code, err := codecs.Encode(v.Name, v.Token)
		if err != nil {
			return nil, err
		}
		vector = append(vector, float64(code))
	}
	return vector, nil
}

func EncodeDataset(codecs *CodecRegistry, ds *Dataset) ([][]float64, []int, error) {
	features := make([][]float64, len(ds.Rows))
	labels := make([]int, len(ds.Rows))
	for i, row := range ds.Rows {
		vector, err := EncodeVector(codecs, row)
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: %w", i, err)
		}
		label, err := codecs.Encode(LabelField, ds.Labels[i])
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: %w", i, err)
		}
		features[i] = vector
		labels[i] = label
	}
	return features, labels, nil
}

func SplitDataset(features [][]float64, labels []int, testRatio float64, seed int64) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	rnd := rand.New(rand.NewSource(seed))
	indices := rnd.Perm(len(features))

	split := int(math.Round(float64(len(features)) * (1 - testRatio)))
	if split == 0 && len(features) > 0 {
		split = 1
	}
	for i, idx := range indices {
		if i < split {
			trainX = append(trainX, features[idx])
			trainY = append(trainY, labels[idx])
		} else {
			testX = append(testX, features[idx])
			testY = append(testY, labels[idx])
		}
	}
	return trainX, trainY, testX, testY
}

// Accuracy is the share of test vectors the model labels correctly.
func Accuracy(model Classifier, testX [][]float64, testY []int) float64 {
	if len(testX) == 0 {
		return 0
	}
	correct := 0
	for i, feature := range testX {
		label, err := model.Predict(feature)
		if err != nil {
			continue
		}
		if label == testY[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(testX))
}
