package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/xelth-com/invtrack/internal/apperr"
	"github.com/xelth-com/invtrack/internal/authctx"
	"github.com/xelth-com/invtrack/internal/cache"
	"github.com/xelth-com/invtrack/internal/database"
	"github.com/xelth-com/invtrack/internal/models"
	"github.com/xelth-com/invtrack/internal/reconcile"
)

// Publisher notifies open views of a department about changes
type Publisher interface {
	Publish(deptID uint, eventType string, payload any)
}

// Service computes stock views and accepts counts
type Service struct {
	db       *database.DB
	cache    cache.Cache
	cacheTTL time.Duration
	events   Publisher
	log      *zap.Logger
	now      func() time.Time
}

// NewService creates a new inventory service. cache and events may be nil.
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
		now:      time.Now,
	}
}

func (s *Service) publish(deptID uint, eventType string, payload any) {
	if s.events != nil {
		s.events.Publish(deptID, eventType, payload)
	}
}

func (s *Service) invalidate(ctx context.Context, deptID uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeletePrefix(ctx, cache.DepartmentPrefix(deptID)); err != nil {
		s.log.Warn("cache invalidation failed", zap.Uint("department", deptID), zap.Error(err))
	}
}

// areaOf loads an area the user is allowed to see
func (s *Service) areaOf(ctx context.Context, user authctx.User, areaID uint) (*models.Area, error) {
	var area models.Area
	if err := s.db.WithContext(ctx).First(&area, areaID).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, apperr.NotFound("area", areaID)
		}
		return nil, fmt.Errorf("load area %d: %w", areaID, err)
	}
	if !user.CanAccess(area.DepartmentID) {
		return nil, apperr.Forbidden("area %d belongs to another department", areaID)
	}
	return &area, nil
}

func departmentAreas(ctx context.Context, db *gorm.DB, deptID uint) ([]models.Area, error) {
	var areas []models.Area
	if err := db.WithContext(ctx).
		Where("department_id = ?", deptID).
		Order("name, id").
		Find(&areas).Error; err != nil {
		return nil, fmt.Errorf("load areas of department %d: %w", deptID, err)
	}
	return areas, nil
}

func areaIDs(areas []models.Area) []uint {
	ids := make([]uint, len(areas))
	for i, a := range areas {
		ids[i] = a.ID
	}
	return ids
}

// latestRecords selects the latest record of each of the given areas
func latestRecords(ctx context.Context, db *gorm.DB, areas []uint) (map[uint]reconcile.RecordRef, error) {
	if len(areas) == 0 {
		return map[uint]reconcile.RecordRef{}, nil
	}
	var recs []models.Record
	if err := db.WithContext(ctx).
		Select("id", "area_id", "inventory_date", "created_at").
		Where("area_id IN ?", areas).
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	refs := make([]reconcile.RecordRef, len(recs))
	for i, r := range recs {
		refs[i] = recordRef(r)
	}
	return reconcile.LatestPerArea(refs), nil
}

func recordRef(r models.Record) reconcile.RecordRef {
	return reconcile.RecordRef{
		ID:            r.ID,
		AreaID:        r.AreaID,
		InventoryDate: string(r.InventoryDate),
		CreatedAt:     r.CreatedAt,
	}
}

// recordLines loads the lines of the selected records
func recordLines(ctx context.Context, db *gorm.DB, latest map[uint]reconcile.RecordRef) ([]reconcile.Line, error) {
	if len(latest) == 0 {
		return nil, nil
	}
	ids := make([]uint, 0, len(latest))
	for _, r := range latest {
		ids = append(ids, r.ID)
	}
	var items []models.RecordItem
	if err := db.WithContext(ctx).Where("record_id IN ?", ids).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("load record lines: %w", err)
	}
	lines := make([]reconcile.Line, len(items))
	for i, it := range items {
		lines[i] = reconcile.Line{RecordID: it.RecordID, ItemID: it.ItemID, Qty: it.Qty}
	}
	return lines, nil
}

// currentStock returns the department's current totals per item along
// with the per-area selection they were computed from.
func currentStock(ctx context.Context, db *gorm.DB, deptID uint) (reconcile.Totals, map[uint]reconcile.RecordRef, []reconcile.Line, error) {
	areas, err := departmentAreas(ctx, db, deptID)
	if err != nil {
		return nil, nil, nil, err
	}
	latest, err := latestRecords(ctx, db, areaIDs(areas))
	if err != nil {
		return nil, nil, nil, err
	}
	lines, err := recordLines(ctx, db, latest)
	if err != nil {
		return nil, nil, nil, err
	}
	return reconcile.SumLines(lines, latest), latest, lines, nil
}

// itemsByID resolves names and categories, archived items included
func itemsByID(ctx context.Context, db *gorm.DB, ids []uint) (map[uint]models.Item, error) {
	out := make(map[uint]models.Item, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var items []models.Item
	if err := db.WithContext(ctx).Unscoped().
		Preload("Category").
		Where("id IN ?", ids).
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	for _, it := range items {
		out[it.ID] = it
	}
	return out, nil
}

// linkedItems returns the active items counted in an area, ordered for display
func linkedItems(ctx context.Context, db *gorm.DB, areaID uint) ([]models.Item, error) {
	var items []models.Item
	if err := db.WithContext(ctx).
		Preload("Category").
		Joins("JOIN area_items ON area_items.item_id = items.id").
		Where("area_items.area_id = ?", areaID).
		Order("items.name, items.id").
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("load items of area %d: %w", areaID, err)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return categoryName(items[i]) < categoryName(items[j])
	})
	return items, nil
}

func categoryName(it models.Item) string {
	if it.Category == nil {
		return ""
	}
	return it.Category.Name
}

func articleNumber(it models.Item) string {
	if it.ArticleNumber == nil {
		return ""
	}
	return *it.ArticleNumber
}

func keys[V any](m map[uint]V) []uint {
	ids := make([]uint, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
