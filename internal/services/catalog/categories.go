package catalog

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xelth-com/invtrack/internal/apperr"
	"github.com/xelth-com/invtrack/internal/authctx"
	"github.com/xelth-com/invtrack/internal/cache"
	"github.com/xelth-com/invtrack/internal/models"
)

// Categories lists the department's categories plus the shared ones
func (s *Service) Categories(ctx context.Context, user authctx.User, deptID uint) ([]models.Category, error) {
	dept, err := user.ResolveDepartment(deptID)
	if err != nil {
		return nil, err
	}
	return cache.ReadThrough(ctx, s.cache, cache.DepartmentKey(dept, "categories"), s.cacheTTL,
		func(ctx context.Context) ([]models.Category, error) {
			var out []models.Category
			if err := s.db.WithContext(ctx).
				Where("department_id = ? OR department_id IS NULL", dept).
				Order("name, id").
				Find(&out).Error; err != nil {
				return nil, fmt.Errorf("list categories of department %d: %w", dept, err)
			}
			return out, nil
		})
}

// CategoryInput creates or updates a category
type CategoryInput struct {
	DepartmentID uint   `json:"departmentId"`
	Name         string `json:"name" validate:"required,max=100"`
	Tagged       bool   `json:"tagged"`
}

func (s *Service) CreateCategory(ctx context.Context, user authctx.User, in CategoryInput) (*models.Category, error) {
	if err := user.RequireManager(); err != nil {
		return nil, err
	}
	dept, err := user.ResolveDepartment(in.DepartmentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.department(ctx, dept); err != nil {
		return nil, err
	}
	name, err := cleanName(in.Name, maxNameLength)
	if err != nil {
		return nil, err
	}

	c := models.Category{Name: name, DepartmentID: &dept, Tagged: in.Tagged}
	if err := s.db.WithContext(ctx).Create(&c).Error; err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}
	s.log.Info("category created", zap.Uint("category", c.ID), zap.Bool("tagged", c.Tagged), zap.String("user", user.Username))
	s.changed(ctx, dept, "category", c.ID)
	return &c, nil
}

// UpdateCategory renames a category and sets its tagged flag. A category
// becomes tagged only when each of its items has an article number and at
// most one area.
func (s *Service) UpdateCategory(ctx context.Context, user authctx.User, id uint, in CategoryInput) (*models.Category, error) {
	if err := user.RequireManager(); err != nil {
		return nil, err
	}
	c, err := s.writableCategory(ctx, user, id)
	if err != nil {
		return nil, err
	}
	name, err := cleanName(in.Name, maxNameLength)
	if err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	if in.Tagged && !c.Tagged {
		var missing int64
		if err := db.Model(&models.Item{}).
			Where("category_id = ? AND (article_number IS NULL OR article_number = '')", id).
			Count(&missing).Error; err != nil {
			return nil, fmt.Errorf("check article numbers: %w", err)
		}
		if missing > 0 {
			return nil, apperr.Validation("%d items of %s have no article number", missing, c.Name)
		}
		var spread []uint
		if err := db.Table("area_items").
			Joins("JOIN items ON items.id = area_items.item_id").
			Where("items.category_id = ? AND items.deleted_at IS NULL", id).
			Group("area_items.item_id").
			Having("COUNT(*) > 1").
			Pluck("area_items.item_id", &spread).Error; err != nil {
			return nil, fmt.Errorf("check item links: %w", err)
		}
		if len(spread) > 0 {
			return nil, apperr.Validation("%d items of %s are linked to several areas", len(spread), c.Name)
		}
	}

	if err := db.Model(c).Updates(map[string]any{"name": name, "tagged": in.Tagged}).Error; err != nil {
		return nil, fmt.Errorf("update category %d: %w", id, err)
	}
	c.Name, c.Tagged = name, in.Tagged
	s.changed(ctx, categoryDept(c), "category", c.ID)
	return c, nil
}

// DeleteCategory refuses while any item, archived ones included, still
// belongs to the category.
func (s *Service) DeleteCategory(ctx context.Context, user authctx.User, id uint) error {
	if err := user.RequireManager(); err != nil {
		return err
	}
	c, err := s.writableCategory(ctx, user, id)
	if err != nil {
		return err
	}
	db := s.db.WithContext(ctx)
	var n int64
	if err := db.Unscoped().Model(&models.Item{}).Where("category_id = ?", id).Count(&n).Error; err != nil {
		return fmt.Errorf("count items of category %d: %w", id, err)
	}
	if n > 0 {
		return apperr.Conflict("category %s still has %d items", c.Name, n)
	}
	if err := db.Delete(&models.Category{}, id).Error; err != nil {
		return fmt.Errorf("delete category %d: %w", id, err)
	}
	s.log.Info("category deleted", zap.Uint("category", id), zap.String("user", user.Username))
	s.changed(ctx, categoryDept(c), "category", id)
	return nil
}
