package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"

	"github.com/xelth-com/invtrack/internal/models"
)

// LabelLayout places area labels on an A4 page
type LabelLayout struct {
	Cols       int     `json:"cols"`
	Rows       int     `json:"rows"`
	MarginTop  float64 `json:"marginTop"`
	MarginLeft float64 `json:"marginLeft"`
	GapX       float64 `json:"gapX"`
	GapY       float64 `json:"gapY"`
}

// DefaultLabelLayout fits 3x7 labels on a sheet
var DefaultLabelLayout = LabelLayout{Cols: 3, Rows: 7, MarginTop: 10, MarginLeft: 8, GapX: 4, GapY: 2}

func (l LabelLayout) withDefaults() LabelLayout {
	if l.Cols <= 0 {
		l.Cols = DefaultLabelLayout.Cols
	}
	if l.Rows <= 0 {
		l.Rows = DefaultLabelLayout.Rows
	}
	return l
}

// CountURL is what an area label encodes: the count page of the area
func CountURL(baseURL string, areaID uint) string {
	return fmt.Sprintf("%s/count/%d", strings.TrimRight(baseURL, "/"), areaID)
}

// AreaLabelsPDF creates a PDF with one QR label per area. Scanning a label
// opens the count sheet of its area.
func AreaLabelsPDF(areas []models.Area, baseURL string, layout LabelLayout) ([]byte, error) {
	cfg := layout.withDefaults()

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetFont("Arial", "B", 10)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	// A4 dimensions
	pageWidth, pageHeight := 210.0, 297.0

	totalGapX := float64(cfg.Cols-1) * cfg.GapX
	totalGapY := float64(cfg.Rows-1) * cfg.GapY
	availW := pageWidth - (cfg.MarginLeft * 2)
	availH := pageHeight - (cfg.MarginTop * 2)
	labelW := (availW - totalGapX) / float64(cfg.Cols)
	labelH := (availH - totalGapY) / float64(cfg.Rows)

	labelsPerPage := cfg.Cols * cfg.Rows
	if len(areas) == 0 {
		pdf.AddPage()
	}

	for i, a := range areas {
		if i%labelsPerPage == 0 {
			pdf.AddPage()
		}

		indexOnPage := i % labelsPerPage
		col := indexOnPage % cfg.Cols
		row := indexOnPage / cfg.Cols
		x := cfg.MarginLeft + float64(col)*(labelW+cfg.GapX)
		y := cfg.MarginTop + float64(row)*(labelH+cfg.GapY)

		qrPng, err := qrcode.Encode(CountURL(baseURL, a.ID), qrcode.Medium, 256)
		if err != nil {
			return nil, fmt.Errorf("encode label of area %d: %w", a.ID, err)
		}
		imgName := fmt.Sprintf("area_%d", a.ID)
		imgOptions := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: true}
		pdf.RegisterImageOptionsReader(imgName, imgOptions, bytes.NewReader(qrPng))

		// QR takes 70% of the label height, leaving room for the name
		qrSize := labelH * 0.7
		if qrSize > labelW {
			qrSize = labelW * 0.9
		}
		qrX := x + (labelW-qrSize)/2
		qrY := y + (labelH-qrSize)/2 - 2
		pdf.ImageOptions(imgName, qrX, qrY, qrSize, qrSize, false, imgOptions, 0, "")

		pdf.SetXY(x, y+labelH-6)
		pdf.SetFontSize(9)
		pdf.CellFormat(labelW, 5, tr(a.Name), "", 0, "C", false, 0, "")

		pdf.SetXY(x, y+1)
		pdf.SetFontSize(6)
		pdf.CellFormat(labelW, 3, fmt.Sprintf("#%d", a.ID), "", 0, "R", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render labels: %w", err)
	}
	return buf.Bytes(), nil
}
