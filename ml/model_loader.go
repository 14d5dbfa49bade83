package ml

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactInfo is implemented by classifiers that persist the metadata
// needed to pair them with their encoder set.
type ArtifactInfo interface {
	Fingerprint() string
	FeatureNames() []string
	ClassCount() int
}

// Artifacts is the classifier and encoder set from one training run.
type Artifacts struct {
	Model  Classifier
	Codecs *CodecRegistry
}

func (a *Artifacts) Fingerprint() string {
	if a == nil || a.Codecs == nil {
		return ""
	}
	return a.Codecs.Fingerprint()
}

func LoadModel(modelType, path string) (TrainableClassifier, error) {
	switch modelType {
	case DecisionTreeType, "":
		model := &DecisionTree{}
		if err := model.Load(path); err != nil {
			return nil, err
		}
		return model, nil
	default:
		return nil, fmt.Errorf("unsupported model type %q", modelType)
	}
}

// LoadArtifacts loads the classifier and encoder set and refuses to pair
// them unless they come from the same training run and match schema.
func LoadArtifacts(schema *Schema, modelType, modelPath, encodersPath string) (*Artifacts, error) {
	model, err := LoadModel(modelType, modelPath)
	if err != nil {
		return nil, &ArtifactLoadError{Artifact: "classifier", Path: modelPath, Err: err}
	}
	codecs, err := LoadCodecRegistry(encodersPath)
	if err != nil {
		return nil, &ArtifactLoadError{Artifact: "encoder set", Path: encodersPath, Err: err}
	}
	if err := CheckCompatibility(schema, model, codecs); err != nil {
		return nil, err
	}
	return &Artifacts{Model: model, Codecs: codecs}, nil
}

func CheckCompatibility(schema *Schema, model Classifier, codecs *CodecRegistry) error {
	fail := func(format string, args ...interface{}) error {
		return &ArtifactLoadError{Artifact: "artifact pair", Err: fmt.Errorf(format, args...)}
	}
	if schema == nil || model == nil || codecs == nil {
		return fail("schema, classifier and encoder set are all required")
	}

	for _, f := range schema.Fields() {
		if f.Kind != Categorical {
			continue
		}
		c, ok := codecs.Codec(f.Name)
		if !ok {
			return fail("encoder set has no codec for %s", f.Name)
		}
		for _, token := range f.Values {
			if _, err := c.Encode(token); err != nil {
				return fail("codec %s cannot encode legal value %q", f.Name, token)
			}
		}
	}
	species, ok := codecs.Codec(LabelField)
	if !ok {
		return fail("encoder set has no %s codec", LabelField)
	}

	info, ok := model.(ArtifactInfo)
	if !ok {
		return nil
	}
	if info.Fingerprint() != codecs.Fingerprint() {
		return fail("classifier fingerprint %q does not match encoder set fingerprint %q",
			info.Fingerprint(), codecs.Fingerprint())
	}
	if names := info.FeatureNames(); len(names) > 0 && strings.Join(names, ",") != strings.Join(schema.Names(), ",") {
		return fail("classifier feature order [%s] differs from schema [%s]",
			strings.Join(names, ","), strings.Join(schema.Names(), ","))
	}
	if info.ClassCount() != species.Len() {
		return fail("classifier has %d classes but %s codec has %d", info.ClassCount(), LabelField, species.Len())
	}
	return nil
}

// writeFileAtomic replaces path in one rename so readers watching the file
// never observe a half-written artifact.
func writeFileAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("replace artifact: %w", err)
	}
	return nil
}
