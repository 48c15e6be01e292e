package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/xelth-com/invtrack/internal/services/export"
	"github.com/xelth-com/invtrack/internal/services/inventory"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type thresholdsRequest struct {
	Thresholds []inventory.ThresholdInput `json:"thresholds" validate:"dive"`
}

// idempotent runs submit unless the caller already sent the same
// Idempotency-Key recently. A failed submit forgets the key so the client
// may retry at once.
func (r *Router) idempotent(w http.ResponseWriter, req *http.Request, submit func() error) {
	key := strings.TrimSpace(req.Header.Get("Idempotency-Key"))
	if key != "" {
		key = caller(req).ID + ":" + key
	}
	if r.dedup.IsDuplicate(key) {
		r.log.Info("duplicate submission suppressed", zap.String("path", req.URL.Path))
		respondError(w, http.StatusConflict, "duplicate submission")
		return
	}
	if err := submit(); err != nil {
		r.dedup.Forget(key)
		r.fail(w, req, err)
	}
}

func (r *Router) countSheet(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	sheet, err := r.svc.Inventory.CountSheet(req.Context(), caller(req), id)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, sheet)
}

func (r *Router) submitRecord(w http.ResponseWriter, req *http.Request) {
	var in inventory.RecordInput
	if err := decode(w, req, &in); err != nil {
		r.fail(w, req, err)
		return
	}
	r.idempotent(w, req, func() error {
		rec, err := r.svc.Inventory.SubmitRecord(req.Context(), caller(req), in)
		if err != nil {
			return err
		}
		respondJSON(w, http.StatusCreated, rec)
		return nil
	})
}

func (r *Router) listRecords(w http.ResponseWriter, req *http.Request) {
	var f inventory.RecordFilter
	var err error
	if f.DepartmentID, err = queryUint(req, "department"); err != nil {
		r.fail(w, req, err)
		return
	}
	if f.AreaID, err = queryUint(req, "area"); err != nil {
		r.fail(w, req, err)
		return
	}
	if f.From, err = queryDate(req, "from"); err != nil {
		r.fail(w, req, err)
		return
	}
	if f.To, err = queryDate(req, "to"); err != nil {
		r.fail(w, req, err)
		return
	}
	if f.Limit, err = queryInt(req, "limit", 0); err != nil {
		r.fail(w, req, err)
		return
	}

	records, err := r.svc.Inventory.ListRecords(req.Context(), caller(req), f)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(records))
}

func (r *Router) getRecord(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	rec, err := r.svc.Inventory.RecordDetails(req.Context(), caller(req), id)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (r *Router) deleteRecord(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	if err := r.svc.Inventory.DeleteRecord(req.Context(), caller(req), id); err != nil {
		r.fail(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) spotSheet(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	sheet, err := r.svc.Inventory.SpotSheet(req.Context(), caller(req), id)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, sheet)
}

func (r *Router) submitSpot(w http.ResponseWriter, req *http.Request) {
	var in inventory.SpotInput
	if err := decode(w, req, &in); err != nil {
		r.fail(w, req, err)
		return
	}
	r.idempotent(w, req, func() error {
		spot, err := r.svc.Inventory.SubmitSpot(req.Context(), caller(req), in)
		if err != nil {
			return err
		}
		respondJSON(w, http.StatusCreated, spot)
		return nil
	})
}

func (r *Router) listSpots(w http.ResponseWriter, req *http.Request) {
	dept, err := queryUint(req, "department")
	if err != nil {
		r.fail(w, req, err)
		return
	}
	area, err := queryUint(req, "area")
	if err != nil {
		r.fail(w, req, err)
		return
	}
	limit, err := queryInt(req, "limit", 0)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	spots, err := r.svc.Inventory.ListSpots(req.Context(), caller(req), dept, area, limit)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(spots))
}

func (r *Router) areaThresholds(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	sheet, err := r.svc.Inventory.AreaThresholds(req.Context(), caller(req), id)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, sheet)
}

func (r *Router) saveThresholds(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	var in thresholdsRequest
	if err := decode(w, req, &in); err != nil {
		r.fail(w, req, err)
		return
	}
	n, err := r.svc.Inventory.SaveThresholds(req.Context(), caller(req), id, in.Thresholds)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"saved": n})
}

func (r *Router) areaSummary(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	rows, err := r.svc.Inventory.AreaSummary(req.Context(), caller(req), id)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(rows))
}

func (r *Router) matrix(req *http.Request) (*inventory.Matrix, error) {
	dept, err := queryUint(req, "department")
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	return r.svc.Inventory.Matrix(req.Context(), caller(req), dept, inventory.MatrixFilter{
		Category: q.Get("category"),
		Area:     q.Get("area"),
	})
}

func (r *Router) getMatrix(w http.ResponseWriter, req *http.Request) {
	m, err := r.matrix(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (r *Router) matrixXLSX(w http.ResponseWriter, req *http.Request) {
	m, err := r.matrix(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	data, err := export.MatrixXLSX(m)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondFile(w, xlsxContentType, fmt.Sprintf("matrix-%s.xlsx", r.now().UTC().Format("2006-01-02")), data)
}

// compareThresholds reports stock against expected levels, optionally
// limited to ?areas=1,2
func (r *Router) compareThresholds(w http.ResponseWriter, req *http.Request) {
	dept, err := queryUint(req, "department")
	if err != nil {
		r.fail(w, req, err)
		return
	}
	areas, err := queryIDs(req, "areas")
	if err != nil {
		r.fail(w, req, err)
		return
	}
	rows, err := r.svc.Inventory.ThresholdComparison(req.Context(), caller(req), dept, areas)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(rows))
}
