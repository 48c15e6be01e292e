// Package users handles login, password changes and account administration.
package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/xelth-com/invtrack/internal/apperr"
	"github.com/xelth-com/invtrack/internal/authctx"
	"github.com/xelth-com/invtrack/internal/database"
	"github.com/xelth-com/invtrack/internal/models"
	"github.com/xelth-com/invtrack/internal/utils"
)

// ErrInvalidCredentials is returned for an unknown user and a wrong
// password alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Service manages user accounts
type Service struct {
	db  *database.DB
	log *zap.Logger
	now func() time.Time
}

func NewService(db *database.DB, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, log: log, now: time.Now}
}

// Authenticate checks a username and password and stamps the login time
func (s *Service) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	key := utils.UsernameKey(username)
	if key == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var user models.User
	if err := s.db.WithContext(ctx).Where("username_key = ?", key).First(&user).Error; err != nil {
		if database.IsNotFound(err) {
			s.log.Info("login failed", zap.String("username", username), zap.String("reason", "unknown user"))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !utils.CheckPasswordHash(password, user.Password) {
		s.log.Info("login failed", zap.String("username", username), zap.String("reason", "bad password"))
		return nil, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.db.WithContext(ctx).Model(&user).UpdateColumn("last_login", now).Error; err != nil {
		s.log.Warn("failed to record login time", zap.String("user", user.ID), zap.Error(err))
	}
	user.LastLogin = &now
	return &user, nil
}

// PasswordInput is a self-service password change
type PasswordInput struct {
	Current string `json:"current" validate:"required"`
	New     string `json:"new" validate:"required"`
	Confirm string `json:"confirm" validate:"required"`
}

func (s *Service) ChangePassword(ctx context.Context, caller authctx.User, in PasswordInput) error {
	if in.Current == "" || in.New == "" || in.Confirm == "" {
		return apperr.Validation("all fields are required")
	}
	if in.New != in.Confirm {
		return apperr.Validation("new password and confirmation do not match")
	}
	if len(in.New) < utils.MinPasswordLength {
		return apperr.Validation("password must be at least %d characters", utils.MinPasswordLength)
	}

	user, err := s.load(ctx, caller.ID)
	if err != nil {
		return err
	}
	if !utils.CheckPasswordHash(in.Current, user.Password) {
		return apperr.Validation("current password is incorrect")
	}
	hash, err := utils.HashPassword(in.New)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(user).Update("password", hash).Error; err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	s.log.Info("password changed", zap.String("user", user.Username))
	return nil
}

func (s *Service) load(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, apperr.NotFound("user", id)
		}
		return nil, fmt.Errorf("load user %s: %w", id, err)
	}
	return &user, nil
}

// Scope returns the current role and department of an account. Tokens
// only name the account; what it may do is always read from the store.
func (s *Service) Scope(ctx context.Context, id string) (authctx.User, error) {
	user, err := s.load(ctx, id)
	if err != nil {
		return authctx.User{}, err
	}
	return authctx.FromModel(user), nil
}

// List returns the accounts the caller administers
func (s *Service) List(ctx context.Context, caller authctx.User) ([]models.User, error) {
	if err := caller.RequireManager(); err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Order("username_key")
	if !caller.IsSuperAdmin() {
		if caller.DepartmentID == nil {
			return []models.User{}, nil
		}
		q = q.Where("department_id = ?", *caller.DepartmentID)
	}
	var out []models.User
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}

// UserInput creates or updates an account. An empty password on update
// keeps the current one.
type UserInput struct {
	Username     string      `json:"username" validate:"required,max=100"`
	Password     string      `json:"password"`
	Role         models.Role `json:"role" validate:"required"`
	DepartmentID *uint       `json:"departmentId"`
}

// scope applies the role rules to in: admins cannot hand out super_admin
// and always place users in their own department; super admins carry no
// department.
func (s *Service) scope(ctx context.Context, caller authctx.User, in UserInput) (models.Role, *uint, error) {
	role := in.Role
	if !role.Valid() {
		return "", nil, apperr.Validation("unknown role %q", role)
	}
	if !caller.IsSuperAdmin() {
		if role == models.RoleSuperAdmin {
			role = models.RoleStandard
		}
		dept := *caller.DepartmentID
		return role, &dept, nil
	}

	if role == models.RoleSuperAdmin {
		return role, nil, nil
	}
	if in.DepartmentID == nil || *in.DepartmentID == 0 {
		return "", nil, apperr.Validation("department is required for role %s", role)
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Department{}).Where("id = ?", *in.DepartmentID).Count(&n).Error; err != nil {
		return "", nil, fmt.Errorf("check department: %w", err)
	}
	if n == 0 {
		return "", nil, apperr.NotFound("department", *in.DepartmentID)
	}
	dept := *in.DepartmentID
	return role, &dept, nil
}

// guard loads a target account and checks the caller may administer it
func (s *Service) guard(ctx context.Context, caller authctx.User, id string) (*models.User, error) {
	if err := caller.RequireManager(); err != nil {
		return nil, err
	}
	target, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller.IsSuperAdmin() {
		return target, nil
	}
	if target.Role == models.RoleSuperAdmin {
		return nil, apperr.Forbidden("admins cannot manage a super admin")
	}
	if caller.DepartmentID == nil || target.DepartmentID == nil || *target.DepartmentID != *caller.DepartmentID {
		return nil, apperr.Forbidden("user %s belongs to another department", target.Username)
	}
	return target, nil
}

func (s *Service) checkUsername(ctx context.Context, key, self string) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("username_key = ? AND id <> ?", key, self).
		Count(&n).Error; err != nil {
		return fmt.Errorf("check username: %w", err)
	}
	if n > 0 {
		return apperr.Conflict("username is already taken")
	}
	return nil
}

func (s *Service) Create(ctx context.Context, caller authctx.User, in UserInput) (*models.User, error) {
	if err := caller.RequireManager(); err != nil {
		return nil, err
	}
	if !caller.IsSuperAdmin() && caller.DepartmentID == nil {
		return nil, apperr.Forbidden("admin has no department")
	}
	name := utils.CleanName(in.Username)
	key := utils.UsernameKey(name)
	if key == "" {
		return nil, apperr.Validation("username is required")
	}
	if len(in.Password) < utils.MinPasswordLength {
		return nil, apperr.Validation("password must be at least %d characters", utils.MinPasswordLength)
	}
	role, dept, err := s.scope(ctx, caller, in)
	if err != nil {
		return nil, err
	}
	if err := s.checkUsername(ctx, key, ""); err != nil {
		return nil, err
	}
	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		Username:     name,
		UsernameKey:  key,
		Password:     hash,
		Role:         role,
		DepartmentID: dept,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperr.Conflict("username is already taken")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.log.Info("user created", zap.String("user", user.Username), zap.String("role", string(role)), zap.String("by", caller.Username))
	return &user, nil
}

func (s *Service) Update(ctx context.Context, caller authctx.User, id string, in UserInput) (*models.User, error) {
	target, err := s.guard(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	name := utils.CleanName(in.Username)
	key := utils.UsernameKey(name)
	if key == "" {
		return nil, apperr.Validation("username is required")
	}
	role, dept, err := s.scope(ctx, caller, in)
	if err != nil {
		return nil, err
	}
	if err := s.checkUsername(ctx, key, target.ID); err != nil {
		return nil, err
	}

	updates := map[string]any{
		"username":      name,
		"username_key":  key,
		"role":          role,
		"department_id": dept,
	}
	if in.Password != "" {
		if len(in.Password) < utils.MinPasswordLength {
			return nil, apperr.Validation("password must be at least %d characters", utils.MinPasswordLength)
		}
		hash, err := utils.HashPassword(in.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		updates["password"] = hash
	}
	if err := s.db.WithContext(ctx).Model(target).Updates(updates).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperr.Conflict("username is already taken")
		}
		return nil, fmt.Errorf("update user %s: %w", id, err)
	}
	s.log.Info("user updated", zap.String("user", name), zap.String("by", caller.Username))
	return s.load(ctx, id)
}

// Delete removes an account and records who did it. Nobody deletes their
// own account.
func (s *Service) Delete(ctx context.Context, caller authctx.User, id string) error {
	target, err := s.guard(ctx, caller, id)
	if err != nil {
		return err
	}
	if target.ID == caller.ID {
		return apperr.Validation("you cannot delete your own account")
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.User{}, "id = ?", target.ID).Error; err != nil {
			return err
		}
		return tx.Create(&models.AuditLog{
			UserID:   caller.ID,
			Action:   "delete",
			Entity:   "user",
			EntityID: target.ID,
			Details:  datatypes.JSONMap{"username": target.Username, "role": string(target.Role)},
		}).Error
	}); err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	s.log.Info("user deleted", zap.String("user", target.Username), zap.String("by", caller.Username))
	return nil
}
