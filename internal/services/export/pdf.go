package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"

	"github.com/xelth-com/invtrack/internal/services/inventory"
)

var monthlyColumns = []struct {
	title string
	width float64
	align string
}{
	{"Category", 32, "L"},
	{"Item", 58, "L"},
	{"Current", 22, "R"},
	{"Previous", 22, "R"},
	{"Delta", 20, "R"},
	{"Note", 123, "L"},
}

// MonthlyPDF renders the reconciliation sheet as a landscape A4 report
func MonthlyPDF(sheet *inventory.MonthlySheet, department string, generated time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 12)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-10)
		pdf.SetFont("Arial", "", 7)
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "R", false, 0, "")
	})

	tableHeader := func() {
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(31, 41, 55)
		pdf.SetTextColor(255, 255, 255)
		for _, c := range monthlyColumns {
			pdf.CellFormat(c.width, 7, c.title, "1", 0, c.align, true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetTextColor(0, 0, 0)
	}
	pdf.SetHeaderFunc(func() {
		if pdf.PageNo() > 1 {
			tableHeader()
		}
	})

	pdf.AddPage()
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 8, tr(fmt.Sprintf("Monthly inventory %s - %s", sheet.Period, department)), "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	pdf.CellFormat(0, 6, fmt.Sprintf("Compared with %s. Generated %s UTC.", sheet.Previous, generated.UTC().Format("2006-01-02 15:04")), "", 1, "L", false, 0, "")
	pdf.Ln(2)
	tableHeader()

	qty := func(d decimal.Decimal) string { return d.String() }
	for _, g := range sheet.Groups {
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(229, 231, 235)
		pdf.CellFormat(monthlyColumns[0].width+monthlyColumns[1].width+monthlyColumns[2].width+monthlyColumns[3].width,
			6, tr(g.CategoryName), "1", 0, "L", true, 0, "")
		pdf.CellFormat(monthlyColumns[4].width, 6, qty(g.Delta), "1", 0, "R", true, 0, "")
		pdf.CellFormat(monthlyColumns[5].width, 6, "", "1", 1, "L", true, 0, "")

		pdf.SetFont("Arial", "", 8)
		for _, r := range g.Rows {
			vals := []string{
				tr(g.CategoryName),
				tr(r.ItemName),
				qty(r.Current),
				qty(r.Previous),
				qty(r.Diff),
				tr(truncate(r.Note, 90)),
			}
			for i, c := range monthlyColumns {
				pdf.CellFormat(c.width, 6, vals[i], "1", 0, c.align, false, 0, "")
			}
			pdf.Ln(-1)
		}
	}
	if len(sheet.Groups) == 0 {
		pdf.SetFont("Arial", "I", 9)
		pdf.CellFormat(0, 8, "No items counted.", "", 1, "L", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render monthly report: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
