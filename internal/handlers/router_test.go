package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xelth-com/invtrack/internal/config"
	"github.com/xelth-com/invtrack/internal/database"
	"github.com/xelth-com/invtrack/internal/middleware"
	"github.com/xelth-com/invtrack/internal/models"
	"github.com/xelth-com/invtrack/internal/services/catalog"
	"github.com/xelth-com/invtrack/internal/services/inventory"
	"github.com/xelth-com/invtrack/internal/services/users"
	tu "github.com/xelth-com/invtrack/internal/testutil"
	"github.com/xelth-com/invtrack/internal/utils"
)

type testAPI struct {
	t      *testing.T
	db     *database.DB
	router *Router
	dept   models.Department
	bar    models.Area
	drinks models.Category
	admin  models.User
	staff  models.User
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	db := tu.NewDB(t)
	cfg := &config.Config{
		JWTSecret:   "test-secret",
		SessionIdle: 15 * time.Minute,
		PublicURL:   "http://localhost:3210",
		HTTP:        config.HTTPConfig{CORSOrigins: []string{"*"}, LoginRatePerMinute: 100},
	}
	svc := Services{
		Inventory: inventory.NewService(db, nil, time.Minute, nil, nil),
		Catalog:   catalog.NewService(db, nil, time.Minute, nil, nil),
		Users:     users.NewService(db, nil),
	}
	a := &testAPI{t: t, db: db, router: NewRouter(cfg, db, svc, nil)}
	a.router.now = func() time.Time { return time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC) }

	a.dept = tu.Department(t, db, "Restaurant")
	a.bar = tu.Area(t, db, a.dept.ID, "Bar")
	a.drinks = tu.Category(t, db, a.dept.ID, "Drinks", false)
	a.admin = tu.User(t, db, "boss", "secret1", models.RoleAdmin, &a.dept.ID)
	a.staff = tu.User(t, db, "anna", "secret2", models.RoleStandard, &a.dept.ID)
	return a
}

func (a *testAPI) token(u models.User) string {
	a.t.Helper()
	tok, _, err := utils.GenerateToken(tu.Scope(u), "test-secret", 15*time.Minute)
	if err != nil {
		a.t.Fatalf("GenerateToken failed: %v", err)
	}
	return tok
}

func (a *testAPI) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.router.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestLogin(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do("POST", "/auth/login", "", LoginRequest{Username: "ANNA", Password: "secret2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[LoginResponse](t, rec)
	if resp.Token == "" || resp.User.Username != "anna" || resp.User.Role != models.RoleStandard {
		t.Errorf("login response = %+v", resp)
	}
	if resp.User.DepartmentID == nil || *resp.User.DepartmentID != a.dept.ID {
		t.Errorf("department = %v", resp.User.DepartmentID)
	}

	bad := a.do("POST", "/auth/login", "", LoginRequest{Username: "anna", Password: "nope"})
	unknown := a.do("POST", "/auth/login", "", LoginRequest{Username: "ghost", Password: "secret2"})
	if bad.Code != http.StatusUnauthorized || unknown.Code != http.StatusUnauthorized {
		t.Fatalf("statuses = %d / %d", bad.Code, unknown.Code)
	}
	if bad.Body.String() != unknown.Body.String() {
		t.Errorf("responses differ: %q vs %q", bad.Body.String(), unknown.Body.String())
	}
	if !strings.Contains(bad.Body.String(), "Invalid credentials") {
		t.Errorf("body = %s", bad.Body.String())
	}

	if rec := a.do("POST", "/auth/login", "", "{not json"); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", rec.Code)
	}
}

func TestAuthenticatedRoutes(t *testing.T) {
	a := newTestAPI(t)

	if rec := a.do("GET", "/api/matrix", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous matrix status = %d", rec.Code)
	}
	if rec := a.do("GET", "/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
	if rec := a.do("GET", "/api/status", "", nil); rec.Code != http.StatusOK {
		t.Errorf("status status = %d", rec.Code)
	}

	rec := a.do("GET", "/api/matrix", a.token(a.staff), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("matrix status = %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(middleware.TokenHeader) == "" {
		t.Error("renewed token missing")
	}

	if rec := a.do("GET", fmt.Sprintf("/api/matrix?department=%d", a.dept.ID+1), a.token(a.staff), nil); rec.Code != http.StatusForbidden {
		t.Errorf("foreign department status = %d", rec.Code)
	}
	if rec := a.do("GET", "/api/users", a.token(a.staff), nil); rec.Code != http.StatusForbidden {
		t.Errorf("standard user listing users: status = %d", rec.Code)
	}
	if rec := a.do("GET", "/api/users", a.token(a.admin), nil); rec.Code != http.StatusOK {
		t.Errorf("admin listing users: status = %d", rec.Code)
	}
	for _, path := range []string{"/api/monthly?month=3&year=2025", "/api/archived", "/api/dashboard", "/api/dashboard/low-stock"} {
		if rec := a.do("GET", path, a.token(a.staff), nil); rec.Code != http.StatusForbidden {
			t.Errorf("standard user GET %s: status = %d, want 403", path, rec.Code)
		}
	}
	if rec := a.do("POST", "/api/monthly", a.token(a.staff), SaveMonthlyRequest{Month: 3, Year: 2025}); rec.Code != http.StatusForbidden {
		t.Errorf("standard user saving monthly: status = %d, want 403", rec.Code)
	}
}

func TestTokensFollowStoredAccount(t *testing.T) {
	a := newTestAPI(t)
	tok := a.token(a.admin)

	if err := a.db.Model(&models.User{}).Where("id = ?", a.admin.ID).Update("role", models.RoleStandard).Error; err != nil {
		t.Fatalf("demote: %v", err)
	}
	rec := a.do("GET", "/api/users", tok, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("demoted admin listing users: status = %d, want 403", rec.Code)
	}
	renewed := rec.Header().Get(middleware.TokenHeader)
	claims, err := utils.ValidateToken(renewed, "test-secret")
	if err != nil {
		t.Fatalf("renewed token invalid: %v", err)
	}
	if claims.Role != models.RoleStandard {
		t.Errorf("renewed role = %s", claims.Role)
	}

	if err := a.db.Delete(&models.User{}, "id = ?", a.admin.ID).Error; err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, tk := range []string{tok, renewed} {
		if rec := a.do("GET", "/api/matrix", tk, nil); rec.Code != http.StatusUnauthorized {
			t.Errorf("deleted account: status = %d, want 401", rec.Code)
		}
	}
}

func TestMonthlySaveFlow(t *testing.T) {
	a := newTestAPI(t)
	x := tu.Item(t, a.db, a.drinks, "X", a.bar)
	y := tu.Item(t, a.db, a.drinks, "Y", a.bar)
	tu.Snapshot(t, a.db, a.dept.ID, x.ID, 2, 2025, "3", "")
	tu.Snapshot(t, a.db, a.dept.ID, y.ID, 2, 2025, "3", "")
	tu.Record(t, a.db, a.bar, a.staff, "2025-03-15", time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC), map[uint]string{x.ID: "5"})
	admin := a.token(a.admin)

	rec := a.do("GET", "/api/monthly?month=3&year=2025", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("load status = %d: %s", rec.Code, rec.Body.String())
	}
	sheet := decodeBody[inventory.MonthlySheet](t, rec)
	if len(sheet.MissingNotes) != 2 || sheet.Saved {
		t.Errorf("loaded sheet: missing %v saved %v", sheet.MissingNotes, sheet.Saved)
	}

	rec = a.do("POST", "/api/monthly", admin, SaveMonthlyRequest{Month: 3, Year: 2025, Notes: map[uint]string{x.ID: "delivery"}})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("save without all notes: status = %d: %s", rec.Code, rec.Body.String())
	}
	missing := decodeBody[struct {
		MissingNotes []uint `json:"missingNotes"`
	}](t, rec)
	if len(missing.MissingNotes) != 1 || missing.MissingNotes[0] != y.ID {
		t.Errorf("missingNotes = %v", missing.MissingNotes)
	}

	rec = a.do("POST", "/api/monthly", admin, SaveMonthlyRequest{Month: 3, Year: 2025, Notes: map[uint]string{x.ID: "delivery", y.ID: "sold"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d: %s", rec.Code, rec.Body.String())
	}
	var n int64
	a.db.Model(&models.MonthlyInventory{}).Where("month = ? AND year = ?", 3, 2025).Count(&n)
	if n != 2 {
		t.Errorf("snapshot rows = %d, want 2", n)
	}

	if rec := a.do("GET", "/api/monthly.xlsx?month=3&year=2025", admin, nil); rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != xlsxContentType {
		t.Errorf("xlsx export: status %d type %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	rec = a.do("GET", "/api/monthly.pdf?month=3&year=2025", admin, nil)
	if rec.Code != http.StatusOK || !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")) {
		t.Errorf("pdf export: status %d", rec.Code)
	}
	if rec := a.do("GET", "/api/monthly/history?month=3&year=2025&n=12", admin, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("history n=12 status = %d", rec.Code)
	}
	if rec := a.do("GET", "/api/monthly?month=13&year=2025", admin, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("month 13 status = %d", rec.Code)
	}
}

func TestSubmitRecordIdempotency(t *testing.T) {
	a := newTestAPI(t)
	beer := tu.Item(t, a.db, a.drinks, "Beer", a.bar)
	staff := a.token(a.staff)

	bad := map[string]any{"areaId": a.bar.ID, "inventoryDate": "15.03.2025", "lines": []map[string]any{{"itemId": beer.ID, "qty": 4}}}
	if rec := a.do("POST", "/api/records", staff, bad, "Idempotency-Key", "k1"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date status = %d: %s", rec.Code, rec.Body.String())
	}

	good := map[string]any{"areaId": a.bar.ID, "inventoryDate": "2025-03-15", "lines": []map[string]any{{"itemId": beer.ID, "qty": 4}}}
	if rec := a.do("POST", "/api/records", staff, good, "Idempotency-Key", "k1"); rec.Code != http.StatusCreated {
		t.Fatalf("retry after failure status = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := a.do("POST", "/api/records", staff, good, "Idempotency-Key", "k1"); rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d", rec.Code)
	}
	if rec := a.do("POST", "/api/records", staff, good); rec.Code != http.StatusCreated {
		t.Errorf("submission without key status = %d", rec.Code)
	}

	var n int64
	a.db.Model(&models.Record{}).Count(&n)
	if n != 2 {
		t.Errorf("records = %d, want 2", n)
	}

	empty := map[string]any{"areaId": a.bar.ID, "inventoryDate": "2025-03-15", "lines": []any{}}
	if rec := a.do("POST", "/api/records", staff, empty); rec.Code != http.StatusBadRequest {
		t.Errorf("empty lines status = %d", rec.Code)
	}
}

func TestCatalogRoutes(t *testing.T) {
	a := newTestAPI(t)
	admin := a.token(a.admin)

	rec := a.do("POST", "/api/areas", admin, catalog.AreaInput{Name: "Terrace"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create area status = %d: %s", rec.Code, rec.Body.String())
	}
	area := decodeBody[models.Area](t, rec)
	if area.DepartmentID != a.dept.ID {
		t.Errorf("area department = %d", area.DepartmentID)
	}
	if rec := a.do("POST", "/api/areas", admin, map[string]string{"name": ""}); rec.Code != http.StatusBadRequest {
		t.Errorf("blank area status = %d", rec.Code)
	}
	if rec := a.do("POST", "/api/areas", a.token(a.staff), catalog.AreaInput{Name: "Garden"}); rec.Code != http.StatusForbidden {
		t.Errorf("standard user creating area status = %d", rec.Code)
	}

	rec = a.do("GET", "/api/areas/labels.pdf", admin, nil)
	if rec.Code != http.StatusOK || !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")) {
		t.Errorf("labels status = %d", rec.Code)
	}

	if rec := a.do("DELETE", fmt.Sprintf("/api/areas/%d", area.ID), admin, nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete area status = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := a.do("DELETE", "/api/areas/9999", admin, nil); rec.Code != http.StatusNotFound {
		t.Errorf("delete missing area status = %d", rec.Code)
	}
}
