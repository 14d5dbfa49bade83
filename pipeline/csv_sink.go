package pipeline

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"florapredict/ml"
)

// TimestampLayout is the timestamp format of the CSV log and reports.
const TimestampLayout = "2006-01-02 15:04:05"

// CSVSink appends entries to a CSV file, writing the header when the file is
// empty. Appends from one process are serialized; each record (with the
// header, when due) goes out in a single write on an O_APPEND descriptor.
type CSVSink struct {
	mu     sync.Mutex
	path   string
	header []string
}

func NewCSVSink(path string, schema *ml.Schema) *CSVSink {
	header := make([]string, 0, schema.Len()+3)
	header = append(header, "timestamp")
	header = append(header, schema.Names()...)
	header = append(header, "species", "confidence")
	return &CSVSink{path: path, header: header}
}

func (s *CSVSink) Path() string { return s.path }

func (s *CSVSink) Header() []string { return append([]string(nil), s.header...) }

func (s *CSVSink) Append(entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open prediction log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat prediction log: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if info.Size() == 0 {
		w.Write(s.header)
	}
	w.Write(s.record(entry))
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append prediction log: %w", err)
	}
	return nil
}

func (s *CSVSink) record(entry LogEntry) []string {
	values := entry.Input.Values()
	row := make([]string, 0, len(s.header))
	row = append(row, entry.Timestamp.Format(TimestampLayout))
	for _, v := range values {
		if v.Kind == ml.Numeric {
			row = append(row, FormatFloat(v.Number))
		} else {
			row = append(row, v.Token)
		}
	}
	row = append(row, entry.Species, FormatFloat(entry.Confidence))
	return row
}

// FormatFloat prints v with the fewest digits, keeping one decimal for whole
// numbers (22 -> "22.0").
func FormatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
