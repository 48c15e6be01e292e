// Package authctx carries the authenticated caller through a request and
// answers department scoping questions for the services.
package authctx

import (
	"context"

	"github.com/xelth-com/invtrack/internal/apperr"
	"github.com/xelth-com/invtrack/internal/models"
)

type contextKey string

const userKey contextKey = "user"

// User is the caller as seen by services
type User struct {
	ID           string      `json:"id"`
	Username     string      `json:"username"`
	Role         models.Role `json:"role"`
	DepartmentID *uint       `json:"departmentId"`
}

// FromModel builds the scope of a stored user
func FromModel(u *models.User) User {
	return User{
		ID:           u.ID,
		Username:     u.Username,
		Role:         u.Role,
		DepartmentID: u.DepartmentID,
	}
}

// WithUser stores u in ctx
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// FromContext returns the user stored by WithUser
func FromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey).(User)
	return u, ok
}

func (u User) IsSuperAdmin() bool { return u.Role == models.RoleSuperAdmin }

// CanManage reports whether the user may change catalog and thresholds
func (u User) CanManage() bool {
	return u.Role == models.RoleSuperAdmin || u.Role == models.RoleAdmin
}

// ResolveDepartment returns the department a request operates on.
// Super admins must name one; everyone else is pinned to their own and a
// different non-zero request is refused.
func (u User) ResolveDepartment(requested uint) (uint, error) {
	if u.IsSuperAdmin() {
		if requested == 0 {
			return 0, apperr.Validation("department is required")
		}
		return requested, nil
	}
	if u.DepartmentID == nil {
		return 0, apperr.Forbidden("user has no department")
	}
	if requested != 0 && requested != *u.DepartmentID {
		return 0, apperr.Forbidden("department %d is outside your scope", requested)
	}
	return *u.DepartmentID, nil
}

// CanAccess reports whether the user may touch data of deptID
func (u User) CanAccess(deptID uint) bool {
	if u.IsSuperAdmin() {
		return true
	}
	return u.DepartmentID != nil && *u.DepartmentID == deptID
}

// RequireManager fails with ErrForbidden unless the user is an admin
func (u User) RequireManager() error {
	if !u.CanManage() {
		return apperr.Forbidden("admin role required")
	}
	return nil
}
