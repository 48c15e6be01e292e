package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xelth-com/invtrack/internal/apperr"
	"github.com/xelth-com/invtrack/internal/buildinfo"
	"github.com/xelth-com/invtrack/internal/config"
	"github.com/xelth-com/invtrack/internal/database"
	"github.com/xelth-com/invtrack/internal/middleware"
	"github.com/xelth-com/invtrack/internal/models"
	"github.com/xelth-com/invtrack/internal/reconcile"
	"github.com/xelth-com/invtrack/internal/services/catalog"
	"github.com/xelth-com/invtrack/internal/services/inventory"
	"github.com/xelth-com/invtrack/internal/services/users"
	"github.com/xelth-com/invtrack/internal/utils"
	"github.com/xelth-com/invtrack/internal/websocket"
)

// Services are the domain services the API exposes
type Services struct {
	Inventory *inventory.Service
	Catalog   *catalog.Service
	Users     *users.Service
	Hub       *websocket.Hub
}

// Router wraps the mux router and the services behind it
type Router struct {
	*mux.Router
	cfg   *config.Config
	db    *database.DB
	log   *zap.Logger
	svc   Services
	dedup *utils.Deduplicator
	now   func() time.Time
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(cfg *config.Config, db *database.DB, svc Services, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Router{
		Router: mux.NewRouter(),
		cfg:    cfg,
		db:     db,
		log:    log,
		svc:    svc,
		dedup:  utils.NewDeduplicator(5 * time.Minute),
		now:    time.Now,
	}
	r.Use(middleware.RequestLogger(log))

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Auth routes
	auth := r.PathPrefix("/auth").Subrouter()
	loginLimit := httprate.LimitByIP(cfg.HTTP.LoginRatePerMinute, time.Minute)
	auth.Handle("/login", loginLimit(http.HandlerFunc(r.login))).Methods("POST")
	auth.HandleFunc("/logout", r.logout).Methods("POST")

	authed := middleware.AuthMiddleware(cfg.JWTSecret, cfg.SessionIdle, svc.Users)
	auth.Handle("/password", authed(http.HandlerFunc(r.changePassword))).Methods("POST")
	r.Handle("/ws", authed(http.HandlerFunc(r.serveWs))).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", r.getStatus).Methods("GET")

	// Everything below requires a valid token
	p := api.NewRoute().Subrouter()
	p.Use(authed)

	p.HandleFunc("/departments", r.listDepartments).Methods("GET")
	p.HandleFunc("/departments", r.createDepartment).Methods("POST")
	p.HandleFunc("/departments/{id:[0-9]+}", r.renameDepartment).Methods("PUT")
	p.HandleFunc("/departments/{id:[0-9]+}", r.deleteDepartment).Methods("DELETE")

	p.HandleFunc("/areas", r.listAreas).Methods("GET")
	p.HandleFunc("/areas", r.createArea).Methods("POST")
	p.HandleFunc("/areas/labels.pdf", r.areaLabels).Methods("GET")
	p.HandleFunc("/areas/{id:[0-9]+}", r.renameArea).Methods("PUT")
	p.HandleFunc("/areas/{id:[0-9]+}", r.deleteArea).Methods("DELETE")
	p.HandleFunc("/areas/{id:[0-9]+}/sheet", r.countSheet).Methods("GET")
	p.HandleFunc("/areas/{id:[0-9]+}/spot", r.spotSheet).Methods("GET")
	p.HandleFunc("/areas/{id:[0-9]+}/thresholds", r.areaThresholds).Methods("GET")
	p.HandleFunc("/areas/{id:[0-9]+}/thresholds", r.saveThresholds).Methods("PUT")
	p.HandleFunc("/areas/{id:[0-9]+}/summary", r.areaSummary).Methods("GET")

	p.HandleFunc("/categories", r.listCategories).Methods("GET")
	p.HandleFunc("/categories", r.createCategory).Methods("POST")
	p.HandleFunc("/categories/{id:[0-9]+}", r.updateCategory).Methods("PUT")
	p.HandleFunc("/categories/{id:[0-9]+}", r.deleteCategory).Methods("DELETE")

	p.HandleFunc("/items", r.listItems).Methods("GET")
	p.HandleFunc("/items", r.createItem).Methods("POST")
	p.HandleFunc("/items/{id:[0-9]+}", r.updateItem).Methods("PUT")
	p.HandleFunc("/items/{id:[0-9]+}", r.deleteItem).Methods("DELETE")
	p.HandleFunc("/items/{id:[0-9]+}/areas", r.itemAreas).Methods("GET")
	p.HandleFunc("/items/{id:[0-9]+}/areas", r.saveItemAreas).Methods("PUT")

	p.HandleFunc("/records", r.listRecords).Methods("GET")
	p.HandleFunc("/records", r.submitRecord).Methods("POST")
	p.HandleFunc("/records/{id:[0-9]+}", r.getRecord).Methods("GET")
	p.HandleFunc("/records/{id:[0-9]+}", r.deleteRecord).Methods("DELETE")

	p.HandleFunc("/spot", r.listSpots).Methods("GET")
	p.HandleFunc("/spot", r.submitSpot).Methods("POST")

	p.HandleFunc("/matrix", r.getMatrix).Methods("GET")
	p.HandleFunc("/matrix.xlsx", r.matrixXLSX).Methods("GET")
	p.HandleFunc("/thresholds/compare", r.compareThresholds).Methods("GET")

	admins := p.NewRoute().Subrouter()
	admins.Use(middleware.RequireRole(models.RoleSuperAdmin, models.RoleAdmin))
	admins.HandleFunc("/archived", r.listArchived).Methods("GET")
	admins.HandleFunc("/archived.xlsx", r.archivedXLSX).Methods("GET")

	admins.HandleFunc("/monthly", r.getMonthly).Methods("GET")
	admins.HandleFunc("/monthly", r.saveMonthly).Methods("POST")
	admins.HandleFunc("/monthly.xlsx", r.monthlyXLSX).Methods("GET")
	admins.HandleFunc("/monthly.pdf", r.monthlyPDF).Methods("GET")
	admins.HandleFunc("/monthly/history", r.monthlyHistory).Methods("GET")

	admins.HandleFunc("/dashboard", r.getDashboard).Methods("GET")
	admins.HandleFunc("/dashboard/low-stock", r.lowStock).Methods("GET")

	admins.HandleFunc("/users", r.listUsers).Methods("GET")
	admins.HandleFunc("/users", r.createUser).Methods("POST")
	admins.HandleFunc("/users/{id}", r.updateUser).Methods("PUT")
	admins.HandleFunc("/users/{id}", r.deleteUser).Methods("DELETE")

	// Static files
	if cfg.FrontendDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(cfg.FrontendDir)))
	}

	return r
}

// Handler wraps the router with CORS. Preflight requests never reach mux,
// so this has to sit outside it.
func (r *Router) Handler() http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   r.cfg.HTTP.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.TokenHeader, middleware.RequestIDHeader, "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	})(r)
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	sqlDB, err := r.db.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(req.Context())
	}
	if err != nil {
		r.log.Warn("health check: database unreachable", zap.Error(err))
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "down"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "up"})
}

// getStatus returns the build and runtime status
func (r *Router) getStatus(w http.ResponseWriter, req *http.Request) {
	clients := 0
	if r.svc.Hub != nil {
		clients = r.svc.Hub.ClientCount()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "running",
		"build":     buildinfo.Current(),
		"wsClients": clients,
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondFile sends a generated download
func respondFile(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// fail maps a service error onto its HTTP status. Anything unexpected is
// logged and hidden behind a generic 500.
func (r *Router) fail(w http.ResponseWriter, req *http.Request, err error) {
	var missing *reconcile.MissingNotesError
	switch {
	case errors.As(err, &missing):
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":        err.Error(),
			"missingNotes": missing.ItemIDs,
		})
	case errors.Is(err, users.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, apperr.ErrValuableQty):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, apperr.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, apperr.ErrConflict):
		respondError(w, http.StatusConflict, err.Error())
	case database.IsUniqueViolation(err):
		respondError(w, http.StatusConflict, "already exists")
	default:
		r.log.Error("request failed",
			zap.String("request_id", middleware.RequestID(req.Context())),
			zap.String("path", req.URL.Path),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
