package handlers

import (
	"fmt"
	"net/http"

	"github.com/xelth-com/invtrack/internal/reconcile"
	"github.com/xelth-com/invtrack/internal/services/export"
	"github.com/xelth-com/invtrack/internal/services/inventory"
)

const defaultHistory = 3

// SaveMonthlyRequest confirms a period. Notes are keyed by item id; the
// totals are always recomputed server side.
type SaveMonthlyRequest struct {
	DepartmentID uint            `json:"departmentId"`
	Month        int             `json:"month" validate:"required"`
	Year         int             `json:"year" validate:"required"`
	Notes        map[uint]string `json:"notes"`
}

func (r *Router) loadMonthly(req *http.Request) (*inventory.MonthlySheet, error) {
	dept, err := queryUint(req, "department")
	if err != nil {
		return nil, err
	}
	p, err := r.queryPeriod(req)
	if err != nil {
		return nil, err
	}
	return r.svc.Inventory.LoadMonthly(req.Context(), caller(req), dept, p)
}

func (r *Router) getMonthly(w http.ResponseWriter, req *http.Request) {
	sheet, err := r.loadMonthly(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, sheet)
}

func (r *Router) saveMonthly(w http.ResponseWriter, req *http.Request) {
	var in SaveMonthlyRequest
	if err := decode(w, req, &in); err != nil {
		r.fail(w, req, err)
		return
	}
	p := reconcile.Period{Month: in.Month, Year: in.Year}
	sheet, err := r.svc.Inventory.SaveMonthly(req.Context(), caller(req), in.DepartmentID, p, in.Notes)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, sheet)
}

func (r *Router) monthlyXLSX(w http.ResponseWriter, req *http.Request) {
	sheet, err := r.loadMonthly(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	data, err := export.MonthlyXLSX(sheet)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondFile(w, xlsxContentType, fmt.Sprintf("monthly-%s.xlsx", sheet.Period), data)
}

func (r *Router) monthlyPDF(w http.ResponseWriter, req *http.Request) {
	sheet, err := r.loadMonthly(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	data, err := export.MonthlyPDF(sheet, sheet.DepartmentName, r.now())
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondFile(w, "application/pdf", fmt.Sprintf("monthly-%s.pdf", sheet.Period), data)
}

// monthlyHistory compares the period with up to 11 earlier snapshots
func (r *Router) monthlyHistory(w http.ResponseWriter, req *http.Request) {
	dept, err := queryUint(req, "department")
	if err != nil {
		r.fail(w, req, err)
		return
	}
	p, err := r.queryPeriod(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	n, err := queryInt(req, "n", defaultHistory)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	sheet, err := r.svc.Inventory.History(req.Context(), caller(req), dept, p, n)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, sheet)
}

func (r *Router) getDashboard(w http.ResponseWriter, req *http.Request) {
	dept, err := queryUint(req, "department")
	if err != nil {
		r.fail(w, req, err)
		return
	}
	p, err := r.queryPeriod(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	item, err := queryUint(req, "item")
	if err != nil {
		r.fail(w, req, err)
		return
	}
	d, err := r.svc.Inventory.Dashboard(req.Context(), caller(req), dept, p, item)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (r *Router) lowStock(w http.ResponseWriter, req *http.Request) {
	dept, err := queryUint(req, "department")
	if err != nil {
		r.fail(w, req, err)
		return
	}
	limit, err := queryInt(req, "limit", 0)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	rows, err := r.svc.Inventory.LowStock(req.Context(), caller(req), dept, limit)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(rows))
}
