package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/xelth-com/invtrack/internal/apperr"
	"github.com/xelth-com/invtrack/internal/models"
	"github.com/xelth-com/invtrack/internal/reconcile"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and runs its validate tags
func decode(w http.ResponseWriter, req *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("invalid request payload")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return apperr.Validation("%s", strings.Join(msgs, "; "))
		}
		return apperr.Validation("%v", err)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

func pathID(req *http.Request) (uint, error) {
	id, err := strconv.ParseUint(mux.Vars(req)["id"], 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Validation("invalid id")
	}
	return uint(id), nil
}

// queryUint reads an optional unsigned parameter; absent means 0
func queryUint(req *http.Request, key string) (uint, error) {
	v := strings.TrimSpace(req.URL.Query().Get(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, apperr.Validation("%s must be a positive number", key)
	}
	return uint(n), nil
}

func queryInt(req *http.Request, key string, def int) (int, error) {
	v := strings.TrimSpace(req.URL.Query().Get(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Validation("%s must be a number", key)
	}
	return n, nil
}

// queryIDs parses a comma separated id list such as ?areas=1,4
func queryIDs(req *http.Request, key string) ([]uint, error) {
	v := strings.TrimSpace(req.URL.Query().Get(key))
	if v == "" {
		return nil, nil
	}
	var ids []uint
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil || n == 0 {
			return nil, apperr.Validation("%s must list positive ids", key)
		}
		ids = append(ids, uint(n))
	}
	return ids, nil
}

func queryDate(req *http.Request, key string) (models.DateOnly, error) {
	v := strings.TrimSpace(req.URL.Query().Get(key))
	if v == "" {
		return "", nil
	}
	d, err := models.ParseDateOnly(v)
	if err != nil {
		return "", apperr.Validation("%s: %v", key, err)
	}
	return d, nil
}

// queryPeriod reads ?month=&year=, defaulting to the current month
func (r *Router) queryPeriod(req *http.Request) (reconcile.Period, error) {
	p := reconcile.PeriodOf(r.now().UTC())
	month, err := queryInt(req, "month", p.Month)
	if err != nil {
		return p, err
	}
	year, err := queryInt(req, "year", p.Year)
	if err != nil {
		return p, err
	}
	p = reconcile.Period{Month: month, Year: year}
	return p, p.Validate()
}
