package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// TextRenderer writes the report as aligned plain text.
type TextRenderer struct{}

func (TextRenderer) ContentType() string { return "text/plain; charset=utf-8" }

func (TextRenderer) Extension() string { return ".txt" }

func (TextRenderer) Render(w io.Writer, doc Document) error {
	if _, err := fmt.Fprintf(w, "%s\n%s\n", doc.Title, strings.Repeat("=", len([]rune(doc.Title)))); err != nil {
		return err
	}
	if !doc.Timestamp.IsZero() {
		fmt.Fprintf(w, "Generated: %s\n", doc.Timestamp.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, line := range doc.Lines {
		fmt.Fprintf(tw, "%s:\t%s\n", line.Label, line.Value)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if doc.Note != "" {
		_, err := fmt.Fprintf(w, "\n%s\n", doc.Note)
		return err
	}
	return nil
}
