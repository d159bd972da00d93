// Package report renders received sessions as printable PDF summaries.
package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/arloliu/go-astm/logger"
	"github.com/arloliu/go-astm/session"
)

// FilePattern is the file name of a session report. The verb is the session ID.
const FilePattern = "astm_report_%d.pdf"

const qrImageName = "session-qr"

// WritePDF renders the summary of s as a one-page A4 document with a QR code
// of the session UUID.
func WritePDF(w io.Writer, s *session.Session) error {
	sum := session.Summarize(s)

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Session %d", sum.ID), false)
	pdf.SetAuthor("astmd", false)
	pdf.SetCreator("astmd", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	if err := addQRCode(pdf, sum); err != nil {
		return err
	}

	addTitle(pdf, fmt.Sprintf("Session %d", sum.ID))
	addSummarySection(pdf, sum)
	addResultsSection(pdf, sum.Results)

	if pdf.Err() {
		return pdf.Error()
	}

	return pdf.Output(w)
}

func addQRCode(pdf *gofpdf.Fpdf, sum session.Summary) error {
	png, err := SessionQR(sum.UUID.String(), 256)
	if err != nil {
		return err
	}

	opts := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	pdf.RegisterImageOptionsReader(qrImageName, opts, bytes.NewReader(png))

	pageW, _ := pdf.GetPageSize()
	_, _, right, _ := pdf.GetMargins()
	pdf.ImageOptions(qrImageName, pageW-right-30, 15, 30, 30, false, opts, 0, "")

	return nil
}

func addTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

func addSummarySection(pdf *gofpdf.Fpdf, sum session.Summary) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Summary")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	items := []struct {
		label string
		value string
	}{
		{label: "Link", value: emptyFallback(sum.Link, "-")},
		{label: "Instrument", value: emptyFallback(sum.Instrument, "-")},
		{label: "Software", value: emptyFallback(sum.SoftwareVersion, "-")},
		{label: "Started", value: formatTime(sum.StartedAt)},
		{label: "Ended", value: formatTime(sum.EndedAt)},
		{label: "Status", value: statusLabel(sum)},
		{label: "Patients", value: strconv.Itoa(sum.Patients)},
		{label: "Orders", value: strconv.Itoa(sum.Orders)},
		{label: "Results", value: strconv.Itoa(sum.TotalResults)},
		{label: "Skipped records", value: strconv.Itoa(sum.Skipped)},
		{label: "Session UUID", value: sum.UUID.String()},
	}
	for _, item := range items {
		pdf.CellFormat(40, 6, item.label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, item.value, "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func addResultsSection(pdf *gofpdf.Fpdf, results []session.ResultSummary) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Results")
	pdf.Ln(9)

	if len(results) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, "No results received.", "", "L", false)
		return
	}

	headers := []string{"Sample", "Pos", "Test", "Value", "Units", "Interpretation", "Completed"}
	widths := []float64{28, 12, 18, 18, 18, 56, 30}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, r := range results {
		values := []string{
			r.SampleID,
			r.Position,
			r.TestCode,
			r.Value,
			r.Units,
			r.Interpretation.Text,
			formatTime(r.CompletedAt),
		}
		renderTableRow(pdf, widths, values, 5)
	}
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	cols := make([][]string, len(values))
	for i, val := range values {
		lines := pdf.SplitText(emptyFallback(val, "-"), widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		cols[i] = lines
		maxLines = max(maxLines, len(lines))
	}

	x := xStart
	for i, lines := range cols {
		pdf.SetXY(x, yStart)
		pdf.MultiCell(widths[i], lineHeight, strings.Join(lines, "\n"), "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+float64(maxLines)*lineHeight)
}

func statusLabel(sum session.Summary) string {
	switch {
	case sum.Complete:
		return "complete"
	case sum.AbortReason != "":
		return "aborted: " + sum.AbortReason
	default:
		return "incomplete"
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	return t.Format("2006-01-02 15:04:05")
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}

	return val
}

// PDFSink writes a PDF report for every session into a directory.
type PDFSink struct {
	dir    string
	logger logger.Logger
}

// NewPDFSink creates a sink writing into dir, creating it if needed.
func NewPDFSink(dir string, l logger.Logger) (*PDFSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create %s: %w", dir, err)
	}

	if l == nil {
		l = logger.GetLogger()
	}

	return &PDFSink{dir: dir, logger: l}, nil
}

// Path returns the report path of s.
func (p *PDFSink) Path(s *session.Session) string {
	dir := p.dir
	if s.Link != "" {
		dir = filepath.Join(dir, filepath.Base(s.Link))
	}

	return filepath.Join(dir, fmt.Sprintf(FilePattern, s.ID))
}

// Save renders s into its report file.
func (p *PDFSink) Save(ctx context.Context, s *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := p.Path(s)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	if err := WritePDF(f, s); err != nil {
		_ = f.Close()
		_ = os.Remove(path)

		return fmt.Errorf("report: render session %d: %w", s.ID, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	p.logger.Info("report: session report written", "session", s.ID, "path", path)

	return nil
}
