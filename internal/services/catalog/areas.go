package catalog

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/xelth-com/invtrack/internal/apperr"
	"github.com/xelth-com/invtrack/internal/authctx"
	"github.com/xelth-com/invtrack/internal/cache"
	"github.com/xelth-com/invtrack/internal/models"
)

// Areas lists a department's areas by name, served from cache when warm
func (s *Service) Areas(ctx context.Context, user authctx.User, deptID uint) ([]models.Area, error) {
	dept, err := user.ResolveDepartment(deptID)
	if err != nil {
		return nil, err
	}
	return cache.ReadThrough(ctx, s.cache, cache.DepartmentKey(dept, "areas"), s.cacheTTL,
		func(ctx context.Context) ([]models.Area, error) {
			var out []models.Area
			if err := s.db.WithContext(ctx).
				Where("department_id = ?", dept).
				Order("name, id").
				Find(&out).Error; err != nil {
				return nil, fmt.Errorf("list areas of department %d: %w", dept, err)
			}
			return out, nil
		})
}

// AreaInput creates an area; DepartmentID is only honoured for super admins
type AreaInput struct {
	DepartmentID uint   `json:"departmentId"`
	Name         string `json:"name" validate:"required,max=100"`
}

func (s *Service) CreateArea(ctx context.Context, user authctx.User, in AreaInput) (*models.Area, error) {
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

	a := models.Area{Name: name, DepartmentID: dept}
	if err := s.db.WithContext(ctx).Create(&a).Error; err != nil {
		return nil, fmt.Errorf("create area: %w", err)
	}
	s.log.Info("area created", zap.Uint("area", a.ID), zap.Uint("department", dept), zap.String("user", user.Username))
	s.changed(ctx, dept, "area", a.ID)
	return &a, nil
}

func (s *Service) RenameArea(ctx context.Context, user authctx.User, id uint, name string) (*models.Area, error) {
	if err := user.RequireManager(); err != nil {
		return nil, err
	}
	a, err := s.area(ctx, user, id)
	if err != nil {
		return nil, err
	}
	name, err = cleanName(name, maxNameLength)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(a).Update("name", name).Error; err != nil {
		return nil, fmt.Errorf("rename area %d: %w", id, err)
	}
	s.changed(ctx, a.DepartmentID, "area", a.ID)
	return a, nil
}

// DeleteArea removes an area with its links and thresholds. Areas that
// already hold counts are refused so history stays intact.
func (s *Service) DeleteArea(ctx context.Context, user authctx.User, id uint) error {
	if err := user.RequireManager(); err != nil {
		return err
	}
	a, err := s.area(ctx, user, id)
	if err != nil {
		return err
	}

	db := s.db.WithContext(ctx)
	var counts int64
	if err := db.Model(&models.Record{}).Where("area_id = ?", id).Count(&counts).Error; err != nil {
		return fmt.Errorf("count records of area %d: %w", id, err)
	}
	if counts == 0 {
		if err := db.Model(&models.SpotInventory{}).Where("area_id = ?", id).Count(&counts).Error; err != nil {
			return fmt.Errorf("count spot counts of area %d: %w", id, err)
		}
	}
	if counts > 0 {
		return apperr.Conflict("area %s has counts and cannot be deleted", a.Name)
	}

	if err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("area_id = ?", id).Delete(&models.Threshold{}).Error; err != nil {
			return err
		}
		if err := tx.Where("area_id = ?", id).Delete(&models.AreaItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Area{}, id).Error
	}); err != nil {
		return fmt.Errorf("delete area %d: %w", id, err)
	}

	s.log.Info("area deleted", zap.Uint("area", id), zap.String("user", user.Username))
	s.changed(ctx, a.DepartmentID, "area", id)
	return nil
}
