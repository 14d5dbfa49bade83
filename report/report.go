// Package report renders a single prediction into a human-readable document.
package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"florapredict/ml"
	"florapredict/pipeline"
)

const Title = "FloraPredictAI — Prediction Report"

const confidenceNote = "Confidence is the model's highest class probability, not a calibrated likelihood."

var fieldLabels = map[string]string{
	"soil_type":          "Soil Type",
	"light":              "Light Availability",
	"moisture":           "Moisture Level",
	"temperature":        "Temperature (°C)",
	"disturbance":        "Disturbance Level",
	"human_interference": "Human Interference",
	"ph":                 "pH Level",
}

type Line struct {
	Label string
	Value string
}

// Document is the renderer-neutral content of one report.
type Document struct {
	Title     string
	Timestamp time.Time
	Lines     []Line
	Note      string
}

// FromEntry lists every input field in schema order, then the species and
// confidence.
func FromEntry(entry pipeline.LogEntry) Document {
	doc := Document{Title: Title, Timestamp: entry.Timestamp, Note: confidenceNote}
	for _, v := range entry.Input.Values() {
		value := v.Token
		if v.Kind == ml.Numeric {
			value = pipeline.FormatFloat(v.Number)
		}
		doc.Lines = append(doc.Lines, Line{Label: Label(v.Name), Value: value})
	}
	doc.Lines = append(doc.Lines,
		Line{Label: "Predicted Species", Value: entry.Species},
		Line{Label: "Confidence (%)", Value: pipeline.FormatFloat(entry.Confidence) + "%"},
	)
	return doc
}

// Label returns the display name of a schema field.
func Label(field string) string {
	if l, ok := fieldLabels[field]; ok {
		return l
	}
	return cases.Title(language.English).String(strings.ReplaceAll(field, "_", " "))
}

type Renderer interface {
	Render(w io.Writer, doc Document) error
	ContentType() string
	Extension() string
}

// FileReporter writes one report file per prediction into a directory.
type FileReporter struct {
	dir      string
	renderer Renderer
}

func NewFileReporter(dir string, renderer Renderer) *FileReporter {
	return &FileReporter{dir: dir, renderer: renderer}
}

func (r *FileReporter) Report(entry pipeline.LogEntry) (string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := r.renderer.Render(&buf, FromEntry(entry)); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	path := filepath.Join(r.dir, FileName(entry, r.renderer.Extension()))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// FileName is FloraReport_<YYYYMMDD_HHMMSS>[_<id prefix>]<ext>.
func FileName(entry pipeline.LogEntry, ext string) string {
	name := "FloraReport_" + entry.Timestamp.Format("20060102_150405")
	if len(entry.ID) >= 8 {
		name += "_" + entry.ID[:8]
	}
	return name + ext
}
