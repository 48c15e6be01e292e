package catalog

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/xelth-com/invtrack/internal/apperr"
	"github.com/xelth-com/invtrack/internal/authctx"
	"github.com/xelth-com/invtrack/internal/database"
	"github.com/xelth-com/invtrack/internal/models"
)

const maxNameLength = 100

// ListDepartments returns every department to super admins and the own
// department to everyone else.
func (s *Service) ListDepartments(ctx context.Context, user authctx.User) ([]models.Department, error) {
	q := s.db.WithContext(ctx).Order("name, id")
	if !user.IsSuperAdmin() {
		if user.DepartmentID == nil {
			return []models.Department{}, nil
		}
		q = q.Where("id = ?", *user.DepartmentID)
	}
	var out []models.Department
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	return out, nil
}

func (s *Service) checkDepartmentName(ctx context.Context, name string, self uint) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Department{}).
		Where("LOWER(name) = LOWER(?) AND id <> ?", name, self).
		Count(&n).Error; err != nil {
		return fmt.Errorf("check department name: %w", err)
	}
	if n > 0 {
		return apperr.Conflict("department %q already exists", name)
	}
	return nil
}

// CreateDepartment adds a department. Super admins only.
func (s *Service) CreateDepartment(ctx context.Context, user authctx.User, name string) (*models.Department, error) {
	if !user.IsSuperAdmin() {
		return nil, apperr.Forbidden("only super admins manage departments")
	}
	name, err := cleanName(name, maxNameLength)
	if err != nil {
		return nil, err
	}
	if err := s.checkDepartmentName(ctx, name, 0); err != nil {
		return nil, err
	}
	d := models.Department{Name: name}
	if err := s.db.WithContext(ctx).Create(&d).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperr.Conflict("department %q already exists", name)
		}
		return nil, fmt.Errorf("create department: %w", err)
	}
	s.log.Info("department created", zap.Uint("department", d.ID), zap.String("name", name), zap.String("user", user.Username))
	return &d, nil
}

// RenameDepartment changes a department's name. Super admins only.
func (s *Service) RenameDepartment(ctx context.Context, user authctx.User, id uint, name string) (*models.Department, error) {
	if !user.IsSuperAdmin() {
		return nil, apperr.Forbidden("only super admins manage departments")
	}
	d, err := s.department(ctx, id)
	if err != nil {
		return nil, err
	}
	name, err = cleanName(name, maxNameLength)
	if err != nil {
		return nil, err
	}
	if err := s.checkDepartmentName(ctx, name, id); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(d).Update("name", name).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperr.Conflict("department %q already exists", name)
		}
		return nil, fmt.Errorf("rename department %d: %w", id, err)
	}
	s.changed(ctx, id, "department", id)
	return d, nil
}

// CascadeResult counts what a department delete removed
type CascadeResult struct {
	Records    int64 `json:"records"`
	Spots      int64 `json:"spots"`
	Thresholds int64 `json:"thresholds"`
	Areas      int64 `json:"areas"`
	Items      int64 `json:"items"`
	Categories int64 `json:"categories"`
	Snapshots  int64 `json:"snapshots"`
	Users      int64 `json:"users"`
}

// DeleteDepartment removes a department with everything hanging off it in
// one transaction and leaves an audit entry. Items still linked to areas
// of other departments and shared categories survive. Super admins only.
func (s *Service) DeleteDepartment(ctx context.Context, user authctx.User, id uint) (*CascadeResult, error) {
	if !user.IsSuperAdmin() {
		return nil, apperr.Forbidden("only super admins manage departments")
	}
	d, err := s.department(ctx, id)
	if err != nil {
		return nil, err
	}

	var res CascadeResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var areaIDs []uint
		if err := tx.Model(&models.Area{}).Where("department_id = ?", id).Pluck("id", &areaIDs).Error; err != nil {
			return fmt.Errorf("load areas: %w", err)
		}

		var linkedItems []uint
		if len(areaIDs) > 0 {
			var recIDs []uint
			if err := tx.Model(&models.Record{}).Where("area_id IN ?", areaIDs).Pluck("id", &recIDs).Error; err != nil {
				return fmt.Errorf("load records: %w", err)
			}
			if len(recIDs) > 0 {
				if err := tx.Where("record_id IN ?", recIDs).Delete(&models.RecordItem{}).Error; err != nil {
					return fmt.Errorf("delete record lines: %w", err)
				}
				r := tx.Where("id IN ?", recIDs).Delete(&models.Record{})
				if r.Error != nil {
					return fmt.Errorf("delete records: %w", r.Error)
				}
				res.Records = r.RowsAffected
			}

			r := tx.Where("area_id IN ?", areaIDs).Delete(&models.Threshold{})
			if r.Error != nil {
				return fmt.Errorf("delete thresholds: %w", r.Error)
			}
			res.Thresholds = r.RowsAffected

			if err := tx.Model(&models.AreaItem{}).Where("area_id IN ?", areaIDs).Distinct().Pluck("item_id", &linkedItems).Error; err != nil {
				return fmt.Errorf("load links: %w", err)
			}
		}

		var spotIDs []uint
		spots := tx.Model(&models.SpotInventory{}).Where("department_id = ?", id)
		if len(areaIDs) > 0 {
			spots = spots.Or("area_id IN ?", areaIDs)
		}
		if err := spots.Pluck("id", &spotIDs).Error; err != nil {
			return fmt.Errorf("load spot counts: %w", err)
		}
		if len(spotIDs) > 0 {
			if err := tx.Where("spot_inventory_id IN ?", spotIDs).Delete(&models.SpotInventoryItem{}).Error; err != nil {
				return fmt.Errorf("delete spot lines: %w", err)
			}
			r := tx.Where("id IN ?", spotIDs).Delete(&models.SpotInventory{})
			if r.Error != nil {
				return fmt.Errorf("delete spot counts: %w", r.Error)
			}
			res.Spots = r.RowsAffected
		}

		if len(areaIDs) > 0 {
			if err := tx.Where("area_id IN ?", areaIDs).Delete(&models.AreaItem{}).Error; err != nil {
				return fmt.Errorf("delete links: %w", err)
			}
			r := tx.Where("id IN ?", areaIDs).Delete(&models.Area{})
			if r.Error != nil {
				return fmt.Errorf("delete areas: %w", r.Error)
			}
			res.Areas = r.RowsAffected
		}

		if len(linkedItems) > 0 {
			var stillLinked []uint
			if err := tx.Model(&models.AreaItem{}).Where("item_id IN ?", linkedItems).Distinct().Pluck("item_id", &stillLinked).Error; err != nil {
				return fmt.Errorf("load remaining links: %w", err)
			}
			keep := make(map[uint]bool, len(stillLinked))
			for _, itemID := range stillLinked {
				keep[itemID] = true
			}
			var orphans []uint
			for _, itemID := range linkedItems {
				if !keep[itemID] {
					orphans = append(orphans, itemID)
				}
			}
			if len(orphans) > 0 {
				if err := tx.Where("item_id IN ?", orphans).Delete(&models.Threshold{}).Error; err != nil {
					return fmt.Errorf("delete orphan thresholds: %w", err)
				}
				r := tx.Unscoped().Where("id IN ?", orphans).Delete(&models.Item{})
				if r.Error != nil {
					return fmt.Errorf("delete orphan items: %w", r.Error)
				}
				res.Items = r.RowsAffected
			}
		}

		var used []uint
		if err := tx.Unscoped().Model(&models.Item{}).Distinct().Pluck("category_id", &used).Error; err != nil {
			return fmt.Errorf("load used categories: %w", err)
		}
		cats := tx.Where("department_id = ?", id)
		if len(used) > 0 {
			cats = cats.Where("id NOT IN ?", used)
		}
		r := cats.Delete(&models.Category{})
		if r.Error != nil {
			return fmt.Errorf("delete categories: %w", r.Error)
		}
		res.Categories = r.RowsAffected

		r = tx.Where("department_id = ?", id).Delete(&models.MonthlyInventory{})
		if r.Error != nil {
			return fmt.Errorf("delete snapshots: %w", r.Error)
		}
		res.Snapshots = r.RowsAffected

		r = tx.Where("department_id = ?", id).Delete(&models.User{})
		if r.Error != nil {
			return fmt.Errorf("delete users: %w", r.Error)
		}
		res.Users = r.RowsAffected

		if err := tx.Delete(&models.Department{}, id).Error; err != nil {
			return fmt.Errorf("delete department: %w", err)
		}

		return audit(tx, user, "delete", "department", id, map[string]any{
			"name":       d.Name,
			"records":    res.Records,
			"spots":      res.Spots,
			"thresholds": res.Thresholds,
			"areas":      res.Areas,
			"items":      res.Items,
			"categories": res.Categories,
			"snapshots":  res.Snapshots,
			"users":      res.Users,
		})
	})
	if err != nil {
		s.log.Error("department delete failed", zap.Uint("department", id), zap.Error(err))
		return nil, fmt.Errorf("delete department %d: %w", id, err)
	}

	s.log.Info("department deleted",
		zap.Uint("department", id),
		zap.String("name", d.Name),
		zap.Int64("records", res.Records),
		zap.Int64("areas", res.Areas),
		zap.Int64("users", res.Users),
		zap.String("user", user.Username))
	s.changed(ctx, id, "department", id)
	return &res, nil
}
