package handlers

import (
	"net/http"
	"time"

	"github.com/xelth-com/invtrack/internal/authctx"
	"github.com/xelth-com/invtrack/internal/services/users"
	"github.com/xelth-com/invtrack/internal/utils"
)

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the access token and the caller's scope
type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      authctx.User `json:"user"`
}

// login handles user login
func (r *Router) login(w http.ResponseWriter, req *http.Request) {
	var loginReq LoginRequest
	if err := decode(w, req, &loginReq); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	user, err := r.svc.Users.Authenticate(req.Context(), loginReq.Username, loginReq.Password)
	if err != nil {
		r.fail(w, req, err)
		return
	}

	scope := authctx.FromModel(user)
	token, exp, err := utils.GenerateToken(scope, r.cfg.JWTSecret, r.cfg.SessionIdle)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	respondJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: exp, User: scope})
}

// logout is a no-op: tokens are stateless and the client drops its copy
func (r *Router) logout(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (r *Router) changePassword(w http.ResponseWriter, req *http.Request) {
	user, _ := authctx.FromContext(req.Context())
	var in users.PasswordInput
	if err := decode(w, req, &in); err != nil {
		r.fail(w, req, err)
		return
	}
	if err := r.svc.Users.ChangePassword(req.Context(), user, in); err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Password changed"})
}
