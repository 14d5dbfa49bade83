package ml

import (
	"errors"
	"fmt"
)

var (
	ErrSchemaViolation = errors.New("schema violation")
	ErrUnknownToken    = errors.New("unknown token")
	ErrUnknownCode     = errors.New("unknown code")
	ErrArtifactLoad    = errors.New("artifact load failure")
)

// SchemaViolation reports a raw input field that is missing, outside its legal
// token set, non-numeric or outside its plausible range.
type SchemaViolation struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *SchemaViolation) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("field %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("field %s: %s (got %v)", e.Field, e.Reason, e.Value)
}

func (e *SchemaViolation) Is(target error) bool { return target == ErrSchemaViolation }

type UnknownTokenError struct {
	Field string
	Token string
}

func (e *UnknownTokenError) Error() string {
	return fmt.Sprintf("codec %s: token %q was not seen at training time", e.Field, e.Token)
}

func (e *UnknownTokenError) Is(target error) bool { return target == ErrUnknownToken }

type UnknownCodeError struct {
	Field string
	Code  int
	Size  int
}

func (e *UnknownCodeError) Error() string {
	return fmt.Sprintf("codec %s: code %d outside [0,%d)", e.Field, e.Code, e.Size)
}

func (e *UnknownCodeError) Is(target error) bool { return target == ErrUnknownCode }

// ArtifactLoadError means the classifier/encoder pair cannot be served.
type ArtifactLoadError struct {
	Artifact string
	Path     string
	Err      error
}

func (e *ArtifactLoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("load %s: %v", e.Artifact, e.Err)
	}
	return fmt.Sprintf("load %s from %s: %v", e.Artifact, e.Path, e.Err)
}

func (e *ArtifactLoadError) Unwrap() error { return e.Err }

func (e *ArtifactLoadError) Is(target error) bool { return target == ErrArtifactLoad }
