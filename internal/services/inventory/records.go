package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/xelth-com/invtrack/internal/apperr"
	"github.com/xelth-com/invtrack/internal/authctx"
	"github.com/xelth-com/invtrack/internal/database"
	"github.com/xelth-com/invtrack/internal/metrics"
	"github.com/xelth-com/invtrack/internal/models"
	"github.com/xelth-com/invtrack/internal/websocket"
)

// SheetItem is an item offered for counting in an area
type SheetItem struct {
	ItemID        uint             `json:"itemId"`
	Name          string           `json:"name"`
	Unit          string           `json:"unit"`
	Vendor        string           `json:"vendor"`
	ArticleNumber *string          `json:"articleNumber,omitempty"`
	CategoryID    uint             `json:"categoryId"`
	CategoryName  string           `json:"categoryName"`
	Valuable      bool             `json:"valuable"`
	ExpectedQty   *decimal.Decimal `json:"expectedQty,omitempty"`
}

// CountSheet is the entry form of one area
type CountSheet struct {
	Area  models.Area `json:"area"`
	Items []SheetItem `json:"items"`
}

// CountSheet lists the items linked to an area with their thresholds
func (s *Service) CountSheet(ctx context.Context, user authctx.User, areaID uint) (*CountSheet, error) {
	area, err := s.areaOf(ctx, user, areaID)
	if err != nil {
		return nil, err
	}
	items, err := linkedItems(ctx, s.db.DB, area.ID)
	if err != nil {
		return nil, err
	}
	expected, err := areaThresholds(ctx, s.db.DB, area.ID)
	if err != nil {
		return nil, err
	}

	sheet := &CountSheet{Area: *area, Items: make([]SheetItem, 0, len(items))}
	for _, it := range items {
		si := sheetItem(it)
		if e, ok := expected[it.ID]; ok {
			e := e
			si.ExpectedQty = &e
		}
		sheet.Items = append(sheet.Items, si)
	}
	return sheet, nil
}

func sheetItem(it models.Item) SheetItem {
	return SheetItem{
		ItemID:        it.ID,
		Name:          it.Name,
		Unit:          it.Unit,
		Vendor:        it.Vendor,
		ArticleNumber: it.ArticleNumber,
		CategoryID:    it.CategoryID,
		CategoryName:  categoryName(it),
		Valuable:      it.IsValuable(),
	}
}

// LineInput is one entered quantity; a nil Qty means the field was left blank
type LineInput struct {
	ItemID uint             `json:"itemId" validate:"required"`
	Qty    *decimal.Decimal `json:"qty"`
}

// RecordInput is a full count of one area
type RecordInput struct {
	AreaID        uint        `json:"areaId" validate:"required"`
	InventoryDate string      `json:"inventoryDate" validate:"required"`
	Lines         []LineInput `json:"lines" validate:"required,min=1,dive"`
}

// SubmitRecord stores a count. Blank and negative quantities count as 0;
// valuable items accept only 0 or 1. The header and lines are written in
// one transaction.
func (s *Service) SubmitRecord(ctx context.Context, user authctx.User, in RecordInput) (*models.Record, error) {
	area, err := s.areaOf(ctx, user, in.AreaID)
	if err != nil {
		return nil, err
	}
	date, err := models.ParseDateOnly(in.InventoryDate)
	if err != nil {
		return nil, apperr.Validation("%v", err)
	}
	if len(in.Lines) == 0 {
		return nil, apperr.Validation("at least one line is required")
	}

	linked, err := linkedItems(ctx, s.db.DB, area.ID)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]models.Item, len(linked))
	for _, it := range linked {
		byID[it.ID] = it
	}

	rec := models.Record{
		AreaID:        area.ID,
		UserID:        user.ID,
		InventoryDate: date,
		Items:         make([]models.RecordItem, 0, len(in.Lines)),
	}
	seen := make(map[uint]bool, len(in.Lines))
	for _, l := range in.Lines {
		it, ok := byID[l.ItemID]
		if !ok {
			return nil, apperr.Validation("item %d is not counted in area %s", l.ItemID, area.Name)
		}
		if seen[l.ItemID] {
			return nil, apperr.Validation("item %d appears twice", l.ItemID)
		}
		seen[l.ItemID] = true

		qty := decimal.Zero
		if l.Qty != nil && !l.Qty.IsNegative() {
			qty = *l.Qty
		}
		if !it.AcceptsQty(qty) {
			return nil, fmt.Errorf("%w: %s has %s", apperr.ErrValuableQty, it.Name, qty)
		}
		rec.Items = append(rec.Items, models.RecordItem{ItemID: it.ID, Qty: qty})
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rec).Error
	}); err != nil {
		s.log.Error("record submission failed", zap.Uint("area", area.ID), zap.Error(err))
		return nil, fmt.Errorf("save record: %w", err)
	}

	metrics.Submissions.WithLabelValues("record").Inc()
	s.log.Info("record submitted",
		zap.Uint("record", rec.ID),
		zap.Uint("area", area.ID),
		zap.String("date", string(date)),
		zap.Int("lines", len(rec.Items)),
		zap.String("user", user.Username))
	s.invalidate(ctx, area.DepartmentID)
	s.publish(area.DepartmentID, websocket.EventRecordCreated, map[string]uint{"recordId": rec.ID, "areaId": area.ID})
	return &rec, nil
}

// RecordFilter narrows ListRecords. Zero values mean no restriction.
type RecordFilter struct {
	DepartmentID uint
	AreaID       uint
	From         models.DateOnly
	To           models.DateOnly
	Limit        int
}

// RecordSummary is a record header as listed
type RecordSummary struct {
	ID            uint            `json:"id"`
	AreaID        uint            `json:"areaId"`
	AreaName      string          `json:"areaName"`
	DepartmentID  uint            `json:"departmentId"`
	UserID        string          `json:"userId"`
	Username      string          `json:"username"`
	InventoryDate models.DateOnly `json:"inventoryDate"`
	CreatedAt     time.Time       `json:"createdAt"`
	LineCount     int             `json:"lineCount"`
}

const defaultListLimit = 200

// ListRecords lists headers newest first. Standard users see their own
// records, admins their department, super admins everything.
func (s *Service) ListRecords(ctx context.Context, user authctx.User, f RecordFilter) ([]RecordSummary, error) {
	q := s.db.WithContext(ctx).
		Table("records").
		Select(`records.id, records.area_id, areas.name AS area_name, areas.department_id,
			records.user_id, users.username, records.inventory_date, records.created_at,
			(SELECT COUNT(*) FROM record_items WHERE record_items.record_id = records.id) AS line_count`).
		Joins("JOIN areas ON areas.id = records.area_id").
		Joins("LEFT JOIN users ON users.id = records.user_id")

	switch {
	case user.IsSuperAdmin():
		if f.DepartmentID != 0 {
			q = q.Where("areas.department_id = ?", f.DepartmentID)
		}
	default:
		dept, err := user.ResolveDepartment(f.DepartmentID)
		if err != nil {
			return nil, err
		}
		q = q.Where("areas.department_id = ?", dept)
		if !user.CanManage() {
			q = q.Where("records.user_id = ?", user.ID)
		}
	}
	if f.AreaID != 0 {
		q = q.Where("records.area_id = ?", f.AreaID)
	}
	if f.From != "" {
		q = q.Where("records.inventory_date >= ?", f.From)
	}
	if f.To != "" {
		q = q.Where("records.inventory_date <= ?", f.To)
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultListLimit
	}

	var out []RecordSummary
	if err := q.Order("records.inventory_date DESC, records.created_at DESC, records.id DESC").
		Limit(limit).
		Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	if out == nil {
		out = []RecordSummary{}
	}
	return out, nil
}

// RecordLine is a record line with the item resolved
type RecordLine struct {
	ItemID       uint            `json:"itemId"`
	Item         string          `json:"item"`
	CategoryName string          `json:"categoryName"`
	Unit         string          `json:"unit"`
	Qty          decimal.Decimal `json:"qty"`
}

// RecordDetail is a record with its lines
type RecordDetail struct {
	RecordSummary
	Lines []RecordLine `json:"lines"`
}

// RecordDetails returns one record under the same visibility rules as
// ListRecords.
func (s *Service) RecordDetails(ctx context.Context, user authctx.User, id uint) (*RecordDetail, error) {
	rec, area, err := s.visibleRecord(ctx, user, id)
	if err != nil {
		return nil, err
	}

	ids := make([]uint, len(rec.Items))
	for i, l := range rec.Items {
		ids[i] = l.ItemID
	}
	items, err := itemsByID(ctx, s.db.DB, ids)
	if err != nil {
		return nil, err
	}

	detail := &RecordDetail{
		RecordSummary: RecordSummary{
			ID:            rec.ID,
			AreaID:        rec.AreaID,
			AreaName:      area.Name,
			DepartmentID:  area.DepartmentID,
			UserID:        rec.UserID,
			InventoryDate: rec.InventoryDate,
			CreatedAt:     rec.CreatedAt,
			LineCount:     len(rec.Items),
		},
		Lines: make([]RecordLine, 0, len(rec.Items)),
	}
	if rec.User != nil {
		detail.Username = rec.User.Username
	}
	for _, l := range rec.Items {
		it := items[l.ItemID]
		detail.Lines = append(detail.Lines, RecordLine{
			ItemID:       l.ItemID,
			Item:         it.Name,
			CategoryName: categoryName(it),
			Unit:         it.Unit,
			Qty:          l.Qty,
		})
	}
	return detail, nil
}

func (s *Service) visibleRecord(ctx context.Context, user authctx.User, id uint) (*models.Record, *models.Area, error) {
	var rec models.Record
	if err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("User").
		First(&rec, id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, nil, apperr.NotFound("record", id)
		}
		return nil, nil, fmt.Errorf("load record %d: %w", id, err)
	}
	area, err := s.areaOf(ctx, user, rec.AreaID)
	if err != nil {
		return nil, nil, err
	}
	if !user.CanManage() && rec.UserID != user.ID {
		return nil, nil, apperr.Forbidden("record %d belongs to another user", id)
	}
	return &rec, area, nil
}

// DeleteRecord removes a record and its lines. Admins only.
func (s *Service) DeleteRecord(ctx context.Context, user authctx.User, id uint) error {
	if err := user.RequireManager(); err != nil {
		return err
	}
	rec, area, err := s.visibleRecord(ctx, user, id)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("record_id = ?", rec.ID).Delete(&models.RecordItem{}).Error; err != nil {
			return fmt.Errorf("delete lines: %w", err)
		}
		if err := tx.Delete(&models.Record{}, rec.ID).Error; err != nil {
			return fmt.Errorf("delete header: %w", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("delete record %d: %w", id, err)
	}

	s.log.Info("record deleted", zap.Uint("record", rec.ID), zap.String("user", user.Username))
	s.invalidate(ctx, area.DepartmentID)
	s.publish(area.DepartmentID, websocket.EventRecordDeleted, map[string]uint{"recordId": rec.ID, "areaId": area.ID})
	return nil
}
