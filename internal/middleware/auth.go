package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/xelth-com/invtrack/internal/apperr"
	"github.com/xelth-com/invtrack/internal/authctx"
	"github.com/xelth-com/invtrack/internal/models"
	"github.com/xelth-com/invtrack/internal/utils"
)

// TokenHeader carries the renewed access token on every authenticated response
const TokenHeader = "X-Access-Token"

// Accounts resolves the stored account a token was issued to
type Accounts interface {
	Scope(ctx context.Context, id string) (authctx.User, error)
}

// AuthMiddleware verifies JWT tokens and stores the caller in the request
// context. Role and department come from the stored account, so a deleted
// or demoted user loses access on the next request. Browsers cannot set
// headers on a websocket handshake, so the token may also arrive as ?token=.
func AuthMiddleware(secret string, idle time.Duration, accounts Accounts) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearer(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			claims, err := utils.ValidateToken(tokenString, secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			user, err := accounts.Scope(r.Context(), claims.UserID)
			if errors.Is(err, apperr.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "Account no longer exists")
				return
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			// Sliding session: every accepted request pushes the expiry forward
			if renewed, _, err := utils.GenerateToken(user, secret, idle); err == nil {
				w.Header().Set(TokenHeader, renewed)
			}

			next.ServeHTTP(w, r.WithContext(authctx.WithUser(r.Context(), user)))
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t, true
	}
	return "", false
}

// RequireRole lets the request through only for the listed roles
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := authctx.FromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}
			if _, ok := allowed[u.Role]; !ok {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
