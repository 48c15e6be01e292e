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
	"github.com/xelth-com/invtrack/internal/metrics"
	"github.com/xelth-com/invtrack/internal/models"
	"github.com/xelth-com/invtrack/internal/reconcile"
	"github.com/xelth-com/invtrack/internal/websocket"
)

// SpotItem is a linked item with its current quantity
type SpotItem struct {
	SheetItem
	CurrentQty decimal.Decimal `json:"currentQty"`
	// Source is "record", "spot" or empty when never counted
	Source string `json:"source"`
}

// SpotSheet is the partial count form of one area
type SpotSheet struct {
	Area  models.Area `json:"area"`
	Items []SpotItem  `json:"items"`
}

type spotEvent struct {
	ref   reconcile.RecordRef
	lines map[uint]decimal.Decimal
}

// overlaySpots starts from the latest record's quantities and applies every
// spot count newer than that record, oldest first.
func overlaySpots(base map[uint]decimal.Decimal, baseRef *reconcile.RecordRef, spots []spotEvent) (map[uint]decimal.Decimal, map[uint]string) {
	qty := make(map[uint]decimal.Decimal, len(base))
	source := make(map[uint]string, len(base))
	for id, q := range base {
		qty[id] = q
		source[id] = "record"
	}
	for _, sp := range spots {
		if baseRef != nil && !reconcile.Newer(sp.ref, *baseRef) {
			continue
		}
		for id, q := range sp.lines {
			qty[id] = q
			source[id] = "spot"
		}
	}
	return qty, source
}

// SpotSheet lists an area's items with quantities from the latest record,
// corrected by newer spot counts.
func (s *Service) SpotSheet(ctx context.Context, user authctx.User, areaID uint) (*SpotSheet, error) {
	area, err := s.areaOf(ctx, user, areaID)
	if err != nil {
		return nil, err
	}
	db := s.db.DB
	items, err := linkedItems(ctx, db, area.ID)
	if err != nil {
		return nil, err
	}

	latest, err := latestRecords(ctx, db, []uint{area.ID})
	if err != nil {
		return nil, err
	}
	lines, err := recordLines(ctx, db, latest)
	if err != nil {
		return nil, err
	}
	base := reconcile.SumLines(lines, latest)
	var baseRef *reconcile.RecordRef
	if r, ok := latest[area.ID]; ok {
		baseRef = &r
	}

	var spots []models.SpotInventory
	if err := db.WithContext(ctx).
		Preload("Items").
		Where("area_id = ?", area.ID).
		Order("inventory_date, created_at, id").
		Find(&spots).Error; err != nil {
		return nil, fmt.Errorf("load spot counts: %w", err)
	}
	events := make([]spotEvent, len(spots))
	for i, sp := range spots {
		ev := spotEvent{
			ref: reconcile.RecordRef{
				ID:            sp.ID,
				AreaID:        sp.AreaID,
				InventoryDate: string(sp.InventoryDate),
				CreatedAt:     sp.CreatedAt,
			},
			lines: make(map[uint]decimal.Decimal, len(sp.Items)),
		}
		for _, l := range sp.Items {
			ev.lines[l.ItemID] = l.Qty
		}
		events[i] = ev
	}

	qty, source := overlaySpots(base, baseRef, events)
	sheet := &SpotSheet{Area: *area, Items: make([]SpotItem, 0, len(items))}
	for _, it := range items {
		sheet.Items = append(sheet.Items, SpotItem{
			SheetItem:  sheetItem(it),
			CurrentQty: qty[it.ID],
			Source:     source[it.ID],
		})
	}
	return sheet, nil
}

// SpotInput is a partial count; only lines with a quantity are stored
type SpotInput struct {
	AreaID        uint        `json:"areaId" validate:"required"`
	InventoryDate string      `json:"inventoryDate" validate:"required"`
	Note          string      `json:"note" validate:"max=1000"`
	Lines         []LineInput `json:"lines" validate:"dive"`
}

// SubmitSpot stores a spot count. At least one quantity is required,
// negatives are rejected and valuable items accept only 0 or 1.
func (s *Service) SubmitSpot(ctx context.Context, user authctx.User, in SpotInput) (*models.SpotInventory, error) {
	area, err := s.areaOf(ctx, user, in.AreaID)
	if err != nil {
		return nil, err
	}
	date, err := models.ParseDateOnly(in.InventoryDate)
	if err != nil {
		return nil, apperr.Validation("%v", err)
	}

	linked, err := linkedItems(ctx, s.db.DB, area.ID)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]models.Item, len(linked))
	for _, it := range linked {
		byID[it.ID] = it
	}

	spot := models.SpotInventory{
		DepartmentID:  area.DepartmentID,
		AreaID:        area.ID,
		UserID:        user.ID,
		InventoryDate: date,
		Note:          in.Note,
	}
	seen := make(map[uint]bool)
	for _, l := range in.Lines {
		if l.Qty == nil {
			continue
		}
		it, ok := byID[l.ItemID]
		if !ok {
			return nil, apperr.Validation("item %d is not counted in area %s", l.ItemID, area.Name)
		}
		if seen[l.ItemID] {
			return nil, apperr.Validation("item %d appears twice", l.ItemID)
		}
		seen[l.ItemID] = true
		if l.Qty.IsNegative() {
			return nil, apperr.Validation("quantity of %s must not be negative", it.Name)
		}
		if !it.AcceptsQty(*l.Qty) {
			return nil, fmt.Errorf("%w: %s has %s", apperr.ErrValuableQty, it.Name, l.Qty)
		}
		spot.Items = append(spot.Items, models.SpotInventoryItem{ItemID: it.ID, Qty: *l.Qty})
	}
	if len(spot.Items) == 0 {
		return nil, apperr.Validation("enter at least one quantity")
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&spot).Error
	}); err != nil {
		return nil, fmt.Errorf("save spot count: %w", err)
	}

	metrics.Submissions.WithLabelValues("spot").Inc()
	s.log.Info("spot count submitted",
		zap.Uint("spot", spot.ID),
		zap.Uint("area", area.ID),
		zap.Int("lines", len(spot.Items)),
		zap.String("user", user.Username))
	s.publish(area.DepartmentID, websocket.EventSpotCreated, map[string]uint{"spotId": spot.ID, "areaId": area.ID})
	return &spot, nil
}

// SpotSummary is a spot count as listed
type SpotSummary struct {
	ID            uint            `json:"id"`
	AreaID        uint            `json:"areaId"`
	AreaName      string          `json:"areaName"`
	Username      string          `json:"username"`
	InventoryDate models.DateOnly `json:"inventoryDate"`
	Note          string          `json:"note"`
	CreatedAt     time.Time       `json:"createdAt"`
	LineCount     int             `json:"lineCount"`
}

// ListSpots returns the spot history of a department, newest first.
// areaID 0 covers every area.
func (s *Service) ListSpots(ctx context.Context, user authctx.User, deptID, areaID uint, limit int) ([]SpotSummary, error) {
	dept, err := user.ResolveDepartment(deptID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = defaultListLimit
	}

	q := s.db.WithContext(ctx).
		Table("spot_inventories").
		Select(`spot_inventories.id, spot_inventories.area_id, areas.name AS area_name,
			users.username, spot_inventories.inventory_date, spot_inventories.note, spot_inventories.created_at,
			(SELECT COUNT(*) FROM spot_inventory_items WHERE spot_inventory_items.spot_inventory_id = spot_inventories.id) AS line_count`).
		Joins("JOIN areas ON areas.id = spot_inventories.area_id").
		Joins("LEFT JOIN users ON users.id = spot_inventories.user_id").
		Where("spot_inventories.department_id = ?", dept)
	if areaID != 0 {
		q = q.Where("spot_inventories.area_id = ?", areaID)
	}

	var out []SpotSummary
	if err := q.Order("spot_inventories.inventory_date DESC, spot_inventories.created_at DESC, spot_inventories.id DESC").
		Limit(limit).
		Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("list spot counts: %w", err)
	}
	if out == nil {
		out = []SpotSummary{}
	}
	return out, nil
}
