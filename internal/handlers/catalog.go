package handlers

import (
	"fmt"
	"net/http"

	"github.com/xelth-com/invtrack/internal/authctx"
	"github.com/xelth-com/invtrack/internal/models"
	"github.com/xelth-com/invtrack/internal/reconcile"
	"github.com/xelth-com/invtrack/internal/services/catalog"
	"github.com/xelth-com/invtrack/internal/services/export"
)

type nameRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type itemAreasRequest struct {
	AreaIDs []uint `json:"areaIds"`
}

func caller(req *http.Request) authctx.User {
	u, _ := authctx.FromContext(req.Context())
	return u
}

func (r *Router) listDepartments(w http.ResponseWriter, req *http.Request) {
	depts, err := r.svc.Catalog.ListDepartments(req.Context(), caller(req))
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, depts)
}

func (r *Router) createDepartment(w http.ResponseWriter, req *http.Request) {
	var in nameRequest
	if err := decode(w, req, &in); err != nil {
		r.fail(w, req, err)
		return
	}
	dept, err := r.svc.Catalog.CreateDepartment(req.Context(), caller(req), in.Name)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusCreated, dept)
}

func (r *Router) renameDepartment(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	var in nameRequest
	if err := decode(w, req, &in); err != nil {
		r.fail(w, req, err)
		return
	}
	dept, err := r.svc.Catalog.RenameDepartment(req.Context(), caller(req), id, in.Name)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, dept)
}

// deleteDepartment removes the department and everything scoped to it.
// The response reports how many rows each table lost.
func (r *Router) deleteDepartment(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	res, err := r.svc.Catalog.DeleteDepartment(req.Context(), caller(req), id)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (r *Router) listAreas(w http.ResponseWriter, req *http.Request) {
	dept, err := queryUint(req, "department")
	if err != nil {
		r.fail(w, req, err)
		return
	}
	areas, err := r.svc.Catalog.Areas(req.Context(), caller(req), dept)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, areas)
}

func (r *Router) createArea(w http.ResponseWriter, req *http.Request) {
	var in catalog.AreaInput
	if err := decode(w, req, &in); err != nil {
		r.fail(w, req, err)
		return
	}
	area, err := r.svc.Catalog.CreateArea(req.Context(), caller(req), in)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusCreated, area)
}

func (r *Router) renameArea(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	var in nameRequest
	if err := decode(w, req, &in); err != nil {
		r.fail(w, req, err)
		return
	}
	area, err := r.svc.Catalog.RenameArea(req.Context(), caller(req), id, in.Name)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, area)
}

func (r *Router) deleteArea(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	if err := r.svc.Catalog.DeleteArea(req.Context(), caller(req), id); err != nil {
		r.fail(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// areaLabels prints QR labels for the department's areas, or for the
// subset named in ?ids=
func (r *Router) areaLabels(w http.ResponseWriter, req *http.Request) {
	dept, err := queryUint(req, "department")
	if err != nil {
		r.fail(w, req, err)
		return
	}
	ids, err := queryIDs(req, "ids")
	if err != nil {
		r.fail(w, req, err)
		return
	}
	areas, err := r.svc.Catalog.Areas(req.Context(), caller(req), dept)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	if len(ids) > 0 {
		want := make(map[uint]bool, len(ids))
		for _, id := range ids {
			want[id] = true
		}
		var picked []models.Area
		for _, a := range areas {
			if want[a.ID] {
				picked = append(picked, a)
			}
		}
		areas = picked
	}

	pdf, err := export.AreaLabelsPDF(areas, r.cfg.PublicURL, export.DefaultLabelLayout)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondFile(w, "application/pdf", "area-labels.pdf", pdf)
}

func (r *Router) listCategories(w http.ResponseWriter, req *http.Request) {
	dept, err := queryUint(req, "department")
	if err != nil {
		r.fail(w, req, err)
		return
	}
	cats, err := r.svc.Catalog.Categories(req.Context(), caller(req), dept)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, cats)
}

func (r *Router) createCategory(w http.ResponseWriter, req *http.Request) {
	var in catalog.CategoryInput
	if err := decode(w, req, &in); err != nil {
		r.fail(w, req, err)
		return
	}
	cat, err := r.svc.Catalog.CreateCategory(req.Context(), caller(req), in)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusCreated, cat)
}

func (r *Router) updateCategory(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	var in catalog.CategoryInput
	if err := decode(w, req, &in); err != nil {
		r.fail(w, req, err)
		return
	}
	cat, err := r.svc.Catalog.UpdateCategory(req.Context(), caller(req), id, in)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, cat)
}

func (r *Router) deleteCategory(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	if err := r.svc.Catalog.DeleteCategory(req.Context(), caller(req), id); err != nil {
		r.fail(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listItems returns the department's items; ?archived=true includes
// soft-deleted valuables
func (r *Router) listItems(w http.ResponseWriter, req *http.Request) {
	dept, err := queryUint(req, "department")
	if err != nil {
		r.fail(w, req, err)
		return
	}
	cat, err := queryUint(req, "category")
	if err != nil {
		r.fail(w, req, err)
		return
	}
	items, err := r.svc.Catalog.Items(req.Context(), caller(req), catalog.ItemFilter{
		DepartmentID:    dept,
		CategoryID:      cat,
		IncludeArchived: req.URL.Query().Get("archived") == "true",
	})
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (r *Router) createItem(w http.ResponseWriter, req *http.Request) {
	var in catalog.ItemInput
	if err := decode(w, req, &in); err != nil {
		r.fail(w, req, err)
		return
	}
	item, err := r.svc.Catalog.CreateItem(req.Context(), caller(req), in)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusCreated, item)
}

func (r *Router) updateItem(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	var in catalog.ItemInput
	if err := decode(w, req, &in); err != nil {
		r.fail(w, req, err)
		return
	}
	item, err := r.svc.Catalog.UpdateItem(req.Context(), caller(req), id, in)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (r *Router) deleteItem(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	if err := r.svc.Catalog.DeleteItem(req.Context(), caller(req), id); err != nil {
		r.fail(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) itemAreas(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	ids, err := r.svc.Catalog.ItemAreas(req.Context(), caller(req), id)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, itemAreasRequest{AreaIDs: nonNil(ids)})
}

func (r *Router) saveItemAreas(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	var in itemAreasRequest
	if err := decode(w, req, &in); err != nil {
		r.fail(w, req, err)
		return
	}
	ids, err := r.svc.Catalog.SaveItemAreas(req.Context(), caller(req), id, in.AreaIDs)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, itemAreasRequest{AreaIDs: nonNil(ids)})
}

func (r *Router) listArchived(w http.ResponseWriter, req *http.Request) {
	rows, _, err := r.archived(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(rows))
}

func (r *Router) archivedXLSX(w http.ResponseWriter, req *http.Request) {
	rows, p, err := r.archived(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	data, err := export.ArchivedXLSX(rows, p)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondFile(w, xlsxContentType, fmt.Sprintf("archived-%s.xlsx", p), data)
}

func (r *Router) archived(req *http.Request) ([]catalog.ArchivedRow, reconcile.Period, error) {
	dept, err := queryUint(req, "department")
	if err != nil {
		return nil, reconcile.Period{}, err
	}
	p, err := r.queryPeriod(req)
	if err != nil {
		return nil, reconcile.Period{}, err
	}
	rows, err := r.svc.Catalog.Archived(req.Context(), caller(req), dept, p)
	return rows, p, err
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
