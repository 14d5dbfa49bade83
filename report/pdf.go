package report

import (
	"io"

	"github.com/go-pdf/fpdf"
)

// PDFRenderer lays the report out on one A4 page using the core Helvetica
// font. Text is translated to cp1252 so "°" and "—" survive.
type PDFRenderer struct{}

func (PDFRenderer) ContentType() string { return "application/pdf" }

func (PDFRenderer) Extension() string { return ".pdf" }

func (PDFRenderer) Render(w io.Writer, doc Document) error {
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetCreator("FloraPredictAI", false)
	pdf.SetTitle(doc.Title, true)
	if !doc.Timestamp.IsZero() {
		pdf.SetCreationDate(doc.Timestamp)
		pdf.SetModificationDate(doc.Timestamp)
	}
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.Text(50, 42, tr(doc.Title))

	pdf.SetFont("Helvetica", "", 12)
	y := 82.0
	if !doc.Timestamp.IsZero() {
		pdf.Text(50, y, tr("Generated: "+doc.Timestamp.Format("2006-01-02 15:04:05")))
		y += 28
	}
	for _, line := range doc.Lines {
		pdf.Text(50, y, tr(line.Label+": "+line.Value))
		y += 20
	}
	if doc.Note != "" {
		pdf.SetFont("Helvetica", "I", 9)
		pdf.Text(50, y+12, tr(doc.Note))
	}

	return pdf.Output(w)
}
