package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/xelth-com/invtrack/internal/apperr"
	"github.com/xelth-com/invtrack/internal/authctx"
	"github.com/xelth-com/invtrack/internal/models"
	"github.com/xelth-com/invtrack/internal/utils"
)

const secret = "test-secret"

func token(t *testing.T, u authctx.User, idle time.Duration) string {
	t.Helper()
	tok, _, err := utils.GenerateToken(u, secret, idle)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	return tok
}

func echoUser(w http.ResponseWriter, r *http.Request) {
	u, ok := authctx.FromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	_, _ = w.Write([]byte(u.Username))
}

// accounts is an in-memory account store keyed by user id
type accounts map[string]authctx.User

func (a accounts) Scope(_ context.Context, id string) (authctx.User, error) {
	u, ok := a[id]
	if !ok {
		return authctx.User{}, apperr.NotFound("user", id)
	}
	return u, nil
}

type brokenAccounts struct{}

func (brokenAccounts) Scope(context.Context, string) (authctx.User, error) {
	return authctx.User{}, errors.New("connection refused")
}

func TestAuthMiddleware(t *testing.T) {
	dept := uint(3)
	anna := authctx.User{ID: "u1", Username: "anna", Role: models.RoleStandard, DepartmentID: &dept}
	h := AuthMiddleware(secret, 15*time.Minute, accounts{anna.ID: anna})(http.HandlerFunc(echoUser))

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{"missing", func(r *http.Request) {}, http.StatusUnauthorized},
		{"malformed", func(r *http.Request) { r.Header.Set("Authorization", "Token abc") }, http.StatusUnauthorized},
		{"bad signature", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token(t, anna, time.Minute)+"x") }, http.StatusUnauthorized},
		{"expired", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token(t, anna, -time.Minute)) }, http.StatusUnauthorized},
		{"header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token(t, anna, time.Minute)) }, http.StatusOK},
		{"query", func(r *http.Request) {
			q := r.URL.Query()
			q.Set("token", token(t, anna, time.Minute))
			r.URL.RawQuery = q.Encode()
		}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/matrix", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status != http.StatusOK {
				return
			}
			if rec.Body.String() != "anna" {
				t.Errorf("body = %q", rec.Body.String())
			}
			renewed := rec.Header().Get(TokenHeader)
			claims, err := utils.ValidateToken(renewed, secret)
			if err != nil {
				t.Fatalf("renewed token invalid: %v", err)
			}
			if time.Until(claims.ExpiresAt.Time) < 14*time.Minute {
				t.Errorf("renewed token expires at %v, want the full idle window", claims.ExpiresAt.Time)
			}
			if claims.DepartmentID == nil || *claims.DepartmentID != dept {
				t.Errorf("department lost on renewal")
			}
		})
	}
}

func TestAuthMiddlewareReadsStoredAccount(t *testing.T) {
	dept := uint(3)
	boss := authctx.User{ID: "u2", Username: "boss", Role: models.RoleAdmin, DepartmentID: &dept}
	store := accounts{boss.ID: boss}
	h := AuthMiddleware(secret, 15*time.Minute, store)(RequireRole(models.RoleAdmin)(http.HandlerFunc(echoUser)))
	old := token(t, boss, time.Minute)

	serve := func(tok string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := serve(old); rec.Code != http.StatusOK {
		t.Fatalf("admin status = %d", rec.Code)
	}

	demoted := boss
	demoted.Role = models.RoleStandard
	store[boss.ID] = demoted
	rec := serve(old)
	if rec.Code != http.StatusForbidden {
		t.Errorf("demoted admin status = %d, want 403", rec.Code)
	}
	claims, err := utils.ValidateToken(rec.Header().Get(TokenHeader), secret)
	if err != nil {
		t.Fatalf("renewed token invalid: %v", err)
	}
	if claims.Role != models.RoleStandard {
		t.Errorf("renewed token role = %s, want the stored role", claims.Role)
	}

	delete(store, boss.ID)
	rec = serve(old)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("deleted account status = %d, want 401", rec.Code)
	}
	if rec.Header().Get(TokenHeader) != "" {
		t.Error("deleted account got a renewed token")
	}

	broken := AuthMiddleware(secret, 15*time.Minute, brokenAccounts{})(http.HandlerFunc(echoUser))
	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("Authorization", "Bearer "+old)
	rec = httptest.NewRecorder()
	broken.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("lookup failure status = %d, want 500", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(models.RoleAdmin, models.RoleSuperAdmin)(http.HandlerFunc(echoUser))

	for _, tc := range []struct {
		role   models.Role
		status int
	}{
		{models.RoleStandard, http.StatusForbidden},
		{models.RoleAdmin, http.StatusOK},
		{models.RoleSuperAdmin, http.StatusOK},
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(authctx.WithUser(req.Context(), authctx.User{Username: "x", Role: tc.role}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Errorf("%s: status = %d, want %d", tc.role, rec.Code, tc.status)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous: status = %d", rec.Code)
	}
}

func TestRequestLogger(t *testing.T) {
	r := mux.NewRouter()
	r.Use(RequestLogger(zap.NewNop()))
	var seen string
	r.HandleFunc("/api/records/{id}", func(w http.ResponseWriter, req *http.Request) {
		seen = RequestID(req.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/records/7", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if id := rec.Header().Get(RequestIDHeader); id == "" || id != seen {
		t.Errorf("request id header %q, context %q", id, seen)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/records/8", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Header().Get(RequestIDHeader) != "abc" {
		t.Errorf("incoming request id not kept")
	}
}
