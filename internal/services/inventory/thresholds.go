package inventory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xelth-com/invtrack/internal/apperr"
	"github.com/xelth-com/invtrack/internal/authctx"
	"github.com/xelth-com/invtrack/internal/models"
	"github.com/xelth-com/invtrack/internal/websocket"
)

func areaThresholds(ctx context.Context, db *gorm.DB, areaID uint) (map[uint]decimal.Decimal, error) {
	var ths []models.Threshold
	if err := db.WithContext(ctx).Where("area_id = ?", areaID).Find(&ths).Error; err != nil {
		return nil, fmt.Errorf("load thresholds of area %d: %w", areaID, err)
	}
	out := make(map[uint]decimal.Decimal, len(ths))
	for _, t := range ths {
		out[t.ItemID] = t.ExpectedQty
	}
	return out, nil
}

// AreaThresholds returns the linked items of an area with their expected
// quantity; items without a threshold carry none.
func (s *Service) AreaThresholds(ctx context.Context, user authctx.User, areaID uint) (*CountSheet, error) {
	return s.CountSheet(ctx, user, areaID)
}

// ThresholdInput sets one expected quantity; a nil value leaves the
// stored threshold unchanged.
type ThresholdInput struct {
	ItemID      uint             `json:"itemId" validate:"required"`
	ExpectedQty *decimal.Decimal `json:"expectedQty"`
}

// SaveThresholds upserts expected quantities of an area. Admins only.
// Negative values are rejected and valuable items accept only 0 or 1.
func (s *Service) SaveThresholds(ctx context.Context, user authctx.User, areaID uint, in []ThresholdInput) (int, error) {
	if err := user.RequireManager(); err != nil {
		return 0, err
	}
	area, err := s.areaOf(ctx, user, areaID)
	if err != nil {
		return 0, err
	}
	linked, err := linkedItems(ctx, s.db.DB, area.ID)
	if err != nil {
		return 0, err
	}
	byID := make(map[uint]models.Item, len(linked))
	for _, it := range linked {
		byID[it.ID] = it
	}

	var rows []models.Threshold
	for _, t := range in {
		if t.ExpectedQty == nil {
			continue
		}
		it, ok := byID[t.ItemID]
		if !ok {
			return 0, apperr.Validation("item %d is not counted in area %s", t.ItemID, area.Name)
		}
		if t.ExpectedQty.IsNegative() {
			return 0, apperr.Validation("expected quantity of %s must not be negative", it.Name)
		}
		if !it.AcceptsQty(*t.ExpectedQty) {
			return 0, fmt.Errorf("%w: %s has %s", apperr.ErrValuableQty, it.Name, t.ExpectedQty)
		}
		rows = append(rows, models.Threshold{AreaID: area.ID, ItemID: it.ID, ExpectedQty: *t.ExpectedQty})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "area_id"}, {Name: "item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"expected_qty", "updated_at"}),
		}).Create(&rows).Error
	}); err != nil {
		return 0, fmt.Errorf("save thresholds of area %d: %w", area.ID, err)
	}

	s.log.Info("thresholds saved", zap.Uint("area", area.ID), zap.Int("rows", len(rows)), zap.String("user", user.Username))
	s.publish(area.DepartmentID, websocket.EventThresholdsSaved, map[string]uint{"areaId": area.ID})
	return len(rows), nil
}
