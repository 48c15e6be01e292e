// Package export renders stock views as spreadsheets and PDF documents for
// download. Exports are display copies; nothing is read back from them.
package export

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/xelth-com/invtrack/internal/reconcile"
	"github.com/xelth-com/invtrack/internal/services/catalog"
	"github.com/xelth-com/invtrack/internal/services/inventory"
)

type sheetWriter struct {
	f     *excelize.File
	sheet string
	row   int
	width int
	bold  int
	group int
}

func newSheet(name string) (*sheetWriter, error) {
	f := excelize.NewFile()
	index, err := f.NewSheet(name)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	bold, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#1F2937"}, Pattern: 1},
	})
	if err != nil {
		return nil, err
	}
	group, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E5E7EB"}, Pattern: 1},
	})
	if err != nil {
		return nil, err
	}
	return &sheetWriter{f: f, sheet: name, bold: bold, group: group}, nil
}

func (w *sheetWriter) append(vals ...any) {
	w.row++
	for c, v := range vals {
		if d, ok := v.(decimal.Decimal); ok {
			v = d.InexactFloat64()
		}
		cell, _ := excelize.CoordinatesToCellName(c+1, w.row)
		_ = w.f.SetCellValue(w.sheet, cell, v)
	}
	if len(vals) > w.width {
		w.width = len(vals)
	}
}

func (w *sheetWriter) styleRow(style int) {
	first, _ := excelize.CoordinatesToCellName(1, w.row)
	last, _ := excelize.CoordinatesToCellName(w.width, w.row)
	_ = w.f.SetCellStyle(w.sheet, first, last, style)
}

func (w *sheetWriter) header(cols ...string) {
	vals := make([]any, len(cols))
	for i, c := range cols {
		vals[i] = c
	}
	w.append(vals...)
	w.styleRow(w.bold)
	_ = w.f.SetPanes(w.sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

// separator starts a category block
func (w *sheetWriter) separator(vals ...any) {
	w.append(vals...)
	w.styleRow(w.group)
}

func (w *sheetWriter) widths(widths ...float64) {
	for i, wd := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = w.f.SetColWidth(w.sheet, col, col, wd)
	}
}

func (w *sheetWriter) bytes() ([]byte, error) {
	defer w.f.Close()
	buf, err := w.f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// MatrixXLSX writes the stock matrix with one column per area
func MatrixXLSX(m *inventory.Matrix) ([]byte, error) {
	w, err := newSheet("Matrix")
	if err != nil {
		return nil, err
	}
	cols := []string{"Category", "Vendor", "Item", "Article"}
	cols = append(cols, m.Areas...)
	cols = append(cols, "Total")
	w.header(cols...)

	current := ""
	for i, r := range m.Rows {
		if i == 0 || r.Category != current {
			current = r.Category
			w.separator(current)
		}
		vals := []any{r.Category, r.Vendor, r.Item, r.ArticleNumber}
		for _, a := range m.Areas {
			if q, ok := r.Areas[a]; ok {
				vals = append(vals, q)
			} else {
				vals = append(vals, "")
			}
		}
		vals = append(vals, r.Total)
		w.append(vals...)
	}
	w.widths(18, 18, 32, 14)
	return w.bytes()
}

// MonthlyXLSX writes the reconciliation sheet grouped by category
func MonthlyXLSX(sheet *inventory.MonthlySheet) ([]byte, error) {
	w, err := newSheet(sheet.Period.String())
	if err != nil {
		return nil, err
	}
	w.header("Category", "Item", "Unit", "Article",
		"Current "+sheet.Period.String(), "Previous "+sheet.Previous.String(), "Delta", "Status", "Note")

	for _, g := range sheet.Groups {
		w.separator(g.CategoryName, "", "", "", "", "", g.Delta)
		for _, r := range g.Rows {
			article := ""
			if r.ArticleNumber != nil {
				article = *r.ArticleNumber
			}
			w.append(g.CategoryName, r.ItemName, r.Unit, article, r.Current, r.Previous, r.Diff, string(r.Status), r.Note)
		}
	}
	w.widths(18, 32, 8, 14, 14, 14, 10, 12, 40)
	return w.bytes()
}

// ArchivedXLSX writes the valuable items archived in p
func ArchivedXLSX(rows []catalog.ArchivedRow, p reconcile.Period) ([]byte, error) {
	w, err := newSheet("Archived " + p.String())
	if err != nil {
		return nil, err
	}
	w.header("Item", "Article", "Category", "Area", "Archived at")
	current := ""
	for i, r := range rows {
		if i == 0 || r.CategoryName != current {
			current = r.CategoryName
			w.separator(current)
		}
		area := r.AreaName
		if area == "" {
			area = "-"
		}
		w.append(r.Name, r.ArticleNumber, r.CategoryName, area, r.DeletedAt.UTC().Format(time.DateTime))
	}
	w.widths(32, 14, 18, 18, 20)
	return w.bytes()
}
