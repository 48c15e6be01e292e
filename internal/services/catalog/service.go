// Package catalog manages departments, areas, categories, items and the
// links between items and areas.
package catalog

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/xelth-com/invtrack/internal/apperr"
	"github.com/xelth-com/invtrack/internal/authctx"
	"github.com/xelth-com/invtrack/internal/cache"
	"github.com/xelth-com/invtrack/internal/database"
	"github.com/xelth-com/invtrack/internal/models"
	"github.com/xelth-com/invtrack/internal/utils"
	"github.com/xelth-com/invtrack/internal/websocket"
)

// Publisher notifies open views of a department about changes
type Publisher interface {
	Publish(deptID uint, eventType string, payload any)
}

// Service handles catalog administration
type Service struct {
	db       *database.DB
	cache    cache.Cache
	cacheTTL time.Duration
	events   Publisher
	log      *zap.Logger
}

// NewService creates a new catalog service. cache and events may be nil.
func NewService(db *database.DB, c cache.Cache, cacheTTL time.Duration, events Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		db:       db,
		cache:    c,
		cacheTTL: cacheTTL,
		events:   events,
		log:      log,
	}
}

// changed drops the department's cached views and tells its clients
func (s *Service) changed(ctx context.Context, deptID uint, entity string, id uint) {
	if s.cache != nil {
		if err := s.cache.DeletePrefix(ctx, cache.DepartmentPrefix(deptID)); err != nil {
			s.log.Warn("cache invalidation failed", zap.Uint("department", deptID), zap.Error(err))
		}
	}
	if s.events != nil {
		s.events.Publish(deptID, websocket.EventCatalogChanged, map[string]any{"entity": entity, "id": id})
	}
}

// audit writes one trail entry inside tx
func audit(tx *gorm.DB, user authctx.User, action, entity string, id uint, details map[string]any) error {
	entry := models.AuditLog{
		UserID:   user.ID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprint(id),
		Details:  datatypes.JSONMap(details),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

func cleanName(name string, max int) (string, error) {
	n := utils.CleanName(name)
	if n == "" {
		return "", apperr.Validation("name is required")
	}
	if len([]rune(n)) > max {
		return "", apperr.Validation("name is longer than %d characters", max)
	}
	return n, nil
}

func (s *Service) department(ctx context.Context, id uint) (*models.Department, error) {
	var d models.Department
	if err := s.db.WithContext(ctx).First(&d, id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, apperr.NotFound("department", id)
		}
		return nil, fmt.Errorf("load department %d: %w", id, err)
	}
	return &d, nil
}

func (s *Service) area(ctx context.Context, user authctx.User, id uint) (*models.Area, error) {
	var a models.Area
	if err := s.db.WithContext(ctx).First(&a, id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, apperr.NotFound("area", id)
		}
		return nil, fmt.Errorf("load area %d: %w", id, err)
	}
	if !user.CanAccess(a.DepartmentID) {
		return nil, apperr.Forbidden("area %d belongs to another department", id)
	}
	return &a, nil
}

// category loads a category the user may read. Shared categories without a
// department are readable by everyone.
func (s *Service) category(ctx context.Context, user authctx.User, id uint) (*models.Category, error) {
	var c models.Category
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, apperr.NotFound("category", id)
		}
		return nil, fmt.Errorf("load category %d: %w", id, err)
	}
	if c.DepartmentID != nil && !user.CanAccess(*c.DepartmentID) {
		return nil, apperr.Forbidden("category %d belongs to another department", id)
	}
	return &c, nil
}

// writableCategory also requires the user to own the category; shared
// categories belong to super admins.
func (s *Service) writableCategory(ctx context.Context, user authctx.User, id uint) (*models.Category, error) {
	c, err := s.category(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if c.DepartmentID == nil && !user.IsSuperAdmin() {
		return nil, apperr.Forbidden("shared category %d can only be changed by a super admin", id)
	}
	return c, nil
}

func categoryDept(c *models.Category) uint {
	if c == nil || c.DepartmentID == nil {
		return 0
	}
	return *c.DepartmentID
}
