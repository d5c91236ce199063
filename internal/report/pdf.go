// Package report renders analysis records as PDF reports.
package report

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/go-pdf/fpdf"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/logger"
	"github.com/ecoscout/ecoscout-go/internal/model"
)

// Page layout in points on a US letter page, measured from the top left.
const (
	marginLeft      = 50.0
	imageLeft       = 100.0
	imageWidth      = 400.0
	imageMinBottom  = 100.0
	tableMinBottom  = 50.0
	rowHeight       = 20.0
	headerRowHeight = 24.0
	sectionGap      = 30.0
	dateLayout      = "2006-01-02 15:04:05"
	imageMissing    = "[Image not available for this report]"
	imageUnreadable = "[Error loading image]"
)

var (
	columnWidths = []float64{100, 80, 150, 80}
	columnTitles = []string{"Type", "Confidence", "License Plate", "OCR Conf"}
)

// Renderer writes the report for rec. imagePath is the local annotated image,
// empty when there is none.
type Renderer interface {
	Render(w io.Writer, rec *model.AnalysisRecord, imagePath string) error
}

// PDFRenderer renders letter-size PDF reports.
type PDFRenderer struct {
	Violations model.ViolationSet
	// Uncompressed disables stream compression, leaving page text readable.
	Uncompressed bool
}

// GetLogger returns the report module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("report")
}

// NewPDFRenderer creates a renderer that counts labels in violations.
func NewPDFRenderer(violations model.ViolationSet) *PDFRenderer {
	if len(violations) == 0 {
		violations = model.NewViolationSet(model.DefaultViolations...)
	}
	return &PDFRenderer{Violations: violations}
}

// Render implements Renderer.
func (r *PDFRenderer) Render(w io.Writer, rec *model.AnalysisRecord, imagePath string) error {
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetCompression(!r.Uncompressed)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle("EcoScout Detection Report", true)
	pdf.AddPage()
	_, pageHeight := pdf.GetPageSize()

	pdf.SetFont("Helvetica", "B", 24)
	pdf.Text(marginLeft, 50, "EcoScout Detection Report")

	pdf.SetFont("Helvetica", "", 12)
	pdf.Text(marginLeft, 80, "Date: "+formatDate(rec.CreatedAt))
	pdf.Text(marginLeft, 100, "File ID: "+orNA(rec.ID))
	pdf.Text(marginLeft, 120, "Original File: "+orNA(rec.OriginalFile))

	violations := rec.ViolationCount(r.Violations)
	pdf.Text(marginLeft, 150, fmt.Sprintf("Total Detections: %d", len(rec.Detections)))
	if violations > 0 {
		pdf.SetTextColor(255, 0, 0)
	} else {
		pdf.SetTextColor(0, 128, 0)
	}
	pdf.Text(200, 150, fmt.Sprintf("Violations Found: %d", violations))
	pdf.SetTextColor(0, 0, 0)

	y := 180.0
	drawn := false
	if imagePath != "" {
		var err error
		y, drawn, err = drawImage(pdf, imagePath, y, pageHeight)
		if err != nil {
			GetLogger().Warn("failed to embed annotated image",
				logger.String("id", rec.ID),
				logger.String("path", imagePath),
				logger.Error(err))
			pdf.Text(marginLeft, y, imageUnreadable)
			y += sectionGap
		}
	}
	if !drawn {
		pdf.Text(marginLeft, y, imageMissing)
		y += sectionGap
	}

	if len(rec.Detections) > 0 {
		drawTable(pdf, rec.Detections, y, pageHeight)
	}

	if err := pdf.Output(w); err != nil {
		return errors.New(fmt.Errorf("failed to render report: %w", err)).
			Component("report").
			Category(errors.CategoryFileIO).
			Context("id", rec.ID).
			Build()
	}
	return nil
}

// drawImage embeds the image 400 pt wide keeping its aspect ratio, starting a
// new page when it would end within 100 pt of the bottom edge.
func drawImage(pdf *fpdf.Fpdf, path string, y, pageHeight float64) (float64, bool, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return y, false, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return y, false, err
	}

	name := "annotated"
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	info := pdf.RegisterImageOptionsReader(name, opts, &buf)
	if err := pdf.Error(); err != nil {
		return y, false, err
	}

	height := imageWidth * info.Height() / info.Width()
	if y+height > pageHeight-imageMinBottom {
		pdf.AddPage()
		y = 50
	}
	pdf.ImageOptions(name, imageLeft, y, imageWidth, height, false, opts, 0, "")
	return y + height + sectionGap, true, nil
}

func drawTable(pdf *fpdf.Fpdf, detections []model.DetectionRecord, y, pageHeight float64) {
	rows := len(detections) + 1
	if y+float64(rows)*rowHeight > pageHeight-tableMinBottom {
		pdf.AddPage()
		y = 50
	}
	pdf.SetXY(marginLeft, y)
	pdf.SetDrawColor(0, 0, 0)
	pdf.SetLineWidth(1)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.SetFillColor(128, 128, 128)
	pdf.SetTextColor(245, 245, 245)
	for i, title := range columnTitles {
		pdf.CellFormat(columnWidths[i], headerRowHeight, title, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	caser := cases.Title(language.English)
	pdf.SetFont("Helvetica", "", 11)
	pdf.SetFillColor(245, 245, 220)
	pdf.SetTextColor(0, 0, 0)
	for i := range detections {
		d := &detections[i]
		if pdf.GetY()+rowHeight > pageHeight-tableMinBottom {
			pdf.AddPage()
			pdf.SetY(50)
		}
		pdf.SetX(marginLeft)
		cells := []string{
			caser.String(orNA(d.ViolationType)),
			formatPercent(d.Confidence),
			orNA(d.LicensePlate),
			formatPercent(d.OCRConfidence),
		}
		for j, text := range cells {
			pdf.CellFormat(columnWidths[j], rowHeight, text, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
	}
}

func formatDate(ts model.Timestamp) string {
	if ts.IsZero() {
		return "N/A"
	}
	return ts.Format(dateLayout)
}

// formatPercent prints whole numbers with one decimal ("91.0%") and others
// with the decimals they carry ("87.65%").
func formatPercent(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 1, 64) + "%"
	}
	return strconv.FormatFloat(v, 'f', -1, 64) + "%"
}

func orNA(s string) string {
	if s == "" {
		return model.PlateUnknown
	}
	return s
}
