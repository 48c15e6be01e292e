package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xelth-com/invtrack/internal/apperr"
	"github.com/xelth-com/invtrack/internal/authctx"
	"github.com/xelth-com/invtrack/internal/database"
	"github.com/xelth-com/invtrack/internal/models"
	"github.com/xelth-com/invtrack/internal/reconcile"
	"github.com/xelth-com/invtrack/internal/utils"
)

const maxItemNameLength = 200

// ItemFilter narrows Items. CategoryID 0 means every category.
type ItemFilter struct {
	DepartmentID    uint
	CategoryID      uint
	IncludeArchived bool
}

// Items lists the items of the department's categories and the shared
// ones, by name. Archived items are left out unless asked for.
func (s *Service) Items(ctx context.Context, user authctx.User, f ItemFilter) ([]models.Item, error) {
	dept, err := user.ResolveDepartment(f.DepartmentID)
	if err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).
		Preload("Category").
		Joins("JOIN categories ON categories.id = items.category_id").
		Where("(categories.department_id = ? OR categories.department_id IS NULL)", dept)
	if f.CategoryID != 0 {
		q = q.Where("items.category_id = ?", f.CategoryID)
	}
	if f.IncludeArchived {
		q = q.Unscoped()
	}
	var out []models.Item
	if err := q.Order("items.name, items.id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return out, nil
}

// ItemInput creates or updates an item
type ItemInput struct {
	CategoryID    uint   `json:"categoryId" validate:"required"`
	Name          string `json:"name" validate:"required,max=200"`
	Unit          string `json:"unit" validate:"max=30"`
	Vendor        string `json:"vendor" validate:"max=200"`
	ArticleNumber string `json:"articleNumber" validate:"max=100"`
}

// articleFor validates the article number against the category. Tagged
// items need one that no other active tagged item carries after
// normalisation; the normalised form is stored.
func (s *Service) articleFor(ctx context.Context, cat *models.Category, article string, self uint) (*string, error) {
	a := strings.TrimSpace(article)
	if !cat.Tagged {
		if a == "" {
			return nil, nil
		}
		return &a, nil
	}

	n := utils.NormalizeArticle(a)
	if n == "" {
		return nil, apperr.Validation("article number is required for items of %s", cat.Name)
	}
	var taken []models.Item
	if err := s.db.WithContext(ctx).
		Select("items.id", "items.article_number").
		Joins("JOIN categories ON categories.id = items.category_id").
		Where("categories.tagged = ? AND items.article_number IS NOT NULL AND items.id <> ?", true, self).
		Find(&taken).Error; err != nil {
		return nil, fmt.Errorf("check article number: %w", err)
	}
	for _, it := range taken {
		if utils.NormalizeArticle(*it.ArticleNumber) == n {
			return nil, apperr.Conflict("article number %s is already used by item %d", n, it.ID)
		}
	}
	return &n, nil
}

func (s *Service) CreateItem(ctx context.Context, user authctx.User, in ItemInput) (*models.Item, error) {
	if err := user.RequireManager(); err != nil {
		return nil, err
	}
	cat, err := s.writableCategory(ctx, user, in.CategoryID)
	if err != nil {
		return nil, err
	}
	name, err := cleanName(in.Name, maxItemNameLength)
	if err != nil {
		return nil, err
	}
	article, err := s.articleFor(ctx, cat, in.ArticleNumber, 0)
	if err != nil {
		return nil, err
	}

	it := models.Item{
		Name:          name,
		CategoryID:    cat.ID,
		Unit:          strings.TrimSpace(in.Unit),
		Vendor:        strings.TrimSpace(in.Vendor),
		ArticleNumber: article,
	}
	if err := s.db.WithContext(ctx).Create(&it).Error; err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}
	it.Category = cat
	s.log.Info("item created", zap.Uint("item", it.ID), zap.Uint("category", cat.ID), zap.String("user", user.Username))
	s.changed(ctx, categoryDept(cat), "item", it.ID)
	return &it, nil
}

// item loads an active item together with its category
func (s *Service) item(ctx context.Context, user authctx.User, id uint) (*models.Item, error) {
	var it models.Item
	if err := s.db.WithContext(ctx).Preload("Category").First(&it, id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, apperr.NotFound("item", id)
		}
		return nil, fmt.Errorf("load item %d: %w", id, err)
	}
	if it.Category != nil && it.Category.DepartmentID != nil && !user.CanAccess(*it.Category.DepartmentID) {
		return nil, apperr.Forbidden("item %d belongs to another department", id)
	}
	return &it, nil
}

// UpdateItem changes an item. Moving it into a tagged category requires an
// article number and at most one linked area.
func (s *Service) UpdateItem(ctx context.Context, user authctx.User, id uint, in ItemInput) (*models.Item, error) {
	if err := user.RequireManager(); err != nil {
		return nil, err
	}
	it, err := s.item(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.writableCategory(ctx, user, it.CategoryID); err != nil {
		return nil, err
	}
	cat, err := s.writableCategory(ctx, user, in.CategoryID)
	if err != nil {
		return nil, err
	}
	name, err := cleanName(in.Name, maxItemNameLength)
	if err != nil {
		return nil, err
	}
	article, err := s.articleFor(ctx, cat, in.ArticleNumber, it.ID)
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	if cat.Tagged {
		var links int64
		if err := db.Model(&models.AreaItem{}).Where("item_id = ?", id).Count(&links).Error; err != nil {
			return nil, fmt.Errorf("count links of item %d: %w", id, err)
		}
		if links > 1 {
			return nil, apperr.Validation("a valuable item can be linked to one area only, %s has %d", name, links)
		}
	}

	oldDept := categoryDept(it.Category)
	it.Name = name
	it.CategoryID = cat.ID
	it.Unit = strings.TrimSpace(in.Unit)
	it.Vendor = strings.TrimSpace(in.Vendor)
	it.ArticleNumber = article
	if err := db.Model(it).
		Select("name", "category_id", "unit", "vendor", "article_number").
		Updates(it).Error; err != nil {
		return nil, fmt.Errorf("update item %d: %w", id, err)
	}
	it.Category = cat

	s.changed(ctx, categoryDept(cat), "item", it.ID)
	if oldDept != categoryDept(cat) {
		s.changed(ctx, oldDept, "item", it.ID)
	}
	return it, nil
}

// DeleteItem archives a valuable item and removes any other one together
// with its links and thresholds. Items that appear in counts cannot be
// removed.
func (s *Service) DeleteItem(ctx context.Context, user authctx.User, id uint) error {
	if err := user.RequireManager(); err != nil {
		return err
	}
	it, err := s.item(ctx, user, id)
	if err != nil {
		return err
	}
	if _, err := s.writableCategory(ctx, user, it.CategoryID); err != nil {
		return err
	}
	db := s.db.WithContext(ctx)
	dept := categoryDept(it.Category)

	if it.IsValuable() {
		if err := db.Delete(it).Error; err != nil {
			return fmt.Errorf("archive item %d: %w", id, err)
		}
		s.log.Info("item archived", zap.Uint("item", id), zap.String("user", user.Username))
		s.changed(ctx, dept, "item", id)
		return nil
	}

	var used int64
	if err := db.Model(&models.RecordItem{}).Where("item_id = ?", id).Count(&used).Error; err != nil {
		return fmt.Errorf("count record lines of item %d: %w", id, err)
	}
	if used == 0 {
		if err := db.Model(&models.SpotInventoryItem{}).Where("item_id = ?", id).Count(&used).Error; err != nil {
			return fmt.Errorf("count spot lines of item %d: %w", id, err)
		}
	}
	if used > 0 {
		return apperr.Conflict("item %s appears in counts and cannot be deleted", it.Name)
	}

	if err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("item_id = ?", id).Delete(&models.AreaItem{}).Error; err != nil {
			return err
		}
		if err := tx.Where("item_id = ?", id).Delete(&models.Threshold{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&models.Item{}, id).Error
	}); err != nil {
		return fmt.Errorf("delete item %d: %w", id, err)
	}
	s.log.Info("item deleted", zap.Uint("item", id), zap.String("user", user.Username))
	s.changed(ctx, dept, "item", id)
	return nil
}

// ItemAreas returns the ids of the visible areas an item is linked to
func (s *Service) ItemAreas(ctx context.Context, user authctx.User, itemID uint) ([]uint, error) {
	if _, err := s.item(ctx, user, itemID); err != nil {
		return nil, err
	}
	links, err := s.itemLinks(ctx, itemID)
	if err != nil {
		return nil, err
	}
	out := []uint{}
	for areaID, dept := range links {
		if user.CanAccess(dept) {
			out = append(out, areaID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// itemLinks maps the linked area ids of an item to their departments
func (s *Service) itemLinks(ctx context.Context, itemID uint) (map[uint]uint, error) {
	var rows []struct {
		AreaID       uint
		DepartmentID uint
	}
	if err := s.db.WithContext(ctx).
		Table("area_items").
		Select("area_items.area_id, areas.department_id").
		Joins("JOIN areas ON areas.id = area_items.area_id").
		Where("area_items.item_id = ?", itemID).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("load links of item %d: %w", itemID, err)
	}
	out := make(map[uint]uint, len(rows))
	for _, r := range rows {
		out[r.AreaID] = r.DepartmentID
	}
	return out, nil
}

// SaveItemAreas makes the item's links within the user's reach equal to
// areaIDs. Links to areas of other departments are left alone. A valuable
// item may end up in one area at most.
func (s *Service) SaveItemAreas(ctx context.Context, user authctx.User, itemID uint, areaIDs []uint) ([]uint, error) {
	if err := user.RequireManager(); err != nil {
		return nil, err
	}
	it, err := s.item(ctx, user, itemID)
	if err != nil {
		return nil, err
	}
	catDept := categoryDept(it.Category)

	want := make(map[uint]bool, len(areaIDs))
	touched := make(map[uint]bool)
	for _, id := range areaIDs {
		if want[id] {
			continue
		}
		a, err := s.area(ctx, user, id)
		if err != nil {
			return nil, err
		}
		if catDept != 0 && a.DepartmentID != catDept {
			return nil, apperr.Validation("area %s is outside the item's department", a.Name)
		}
		want[id] = true
		touched[a.DepartmentID] = true
	}

	current, err := s.itemLinks(ctx, itemID)
	if err != nil {
		return nil, err
	}
	var remove []uint
	final := len(want)
	for areaID, dept := range current {
		switch {
		case want[areaID]:
		case user.CanAccess(dept):
			remove = append(remove, areaID)
			touched[dept] = true
		default:
			final++
		}
	}
	if it.IsValuable() && final > 1 {
		return nil, apperr.Validation("a valuable item can be linked to one area only")
	}
	var add []models.AreaItem
	for areaID := range want {
		if _, ok := current[areaID]; !ok {
			add = append(add, models.AreaItem{AreaID: areaID, ItemID: itemID})
		}
	}

	if len(add) > 0 || len(remove) > 0 {
		if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if len(remove) > 0 {
				if err := tx.Where("item_id = ? AND area_id IN ?", itemID, remove).Delete(&models.AreaItem{}).Error; err != nil {
					return fmt.Errorf("remove links: %w", err)
				}
				if err := tx.Where("item_id = ? AND area_id IN ?", itemID, remove).Delete(&models.Threshold{}).Error; err != nil {
					return fmt.Errorf("remove thresholds: %w", err)
				}
			}
			if len(add) > 0 {
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&add).Error; err != nil {
					return fmt.Errorf("add links: %w", err)
				}
			}
			return nil
		}); err != nil {
			return nil, fmt.Errorf("save links of item %d: %w", itemID, err)
		}
		s.log.Info("item links saved",
			zap.Uint("item", itemID),
			zap.Int("added", len(add)),
			zap.Int("removed", len(remove)),
			zap.String("user", user.Username))
		for dept := range touched {
			s.changed(ctx, dept, "item", itemID)
		}
	}
	return s.ItemAreas(ctx, user, itemID)
}

// ArchivedRow is a valuable item archived in the selected month
type ArchivedRow struct {
	ItemID        uint      `json:"itemId"`
	Name          string    `json:"name"`
	ArticleNumber string    `json:"articleNumber"`
	CategoryName  string    `json:"categoryName"`
	AreaName      string    `json:"areaName"`
	DeletedAt     time.Time `json:"deletedAt"`
}

// Archived lists valuable items of the department archived within p,
// oldest first.
func (s *Service) Archived(ctx context.Context, user authctx.User, deptID uint, p reconcile.Period) ([]ArchivedRow, error) {
	if err := user.RequireManager(); err != nil {
		return nil, err
	}
	dept, err := user.ResolveDepartment(deptID)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var raw []struct {
		ItemID        uint
		Name          string
		ArticleNumber *string
		CategoryName  string
		AreaName      *string
		DeletedAt     time.Time
	}
	if err := s.db.WithContext(ctx).
		Table("items").
		Select(`items.id AS item_id, items.name, items.article_number, categories.name AS category_name,
			areas.name AS area_name, items.deleted_at`).
		Joins("JOIN categories ON categories.id = items.category_id").
		Joins("LEFT JOIN area_items ON area_items.item_id = items.id").
		Joins("LEFT JOIN areas ON areas.id = area_items.area_id").
		Where("categories.tagged = ? AND categories.department_id = ?", true, dept).
		Where("items.deleted_at IS NOT NULL AND items.deleted_at >= ? AND items.deleted_at < ?", p.Start(), p.End()).
		Order("items.deleted_at, items.id").
		Scan(&raw).Error; err != nil {
		return nil, fmt.Errorf("list archived items: %w", err)
	}

	out := []ArchivedRow{}
	index := make(map[uint]int)
	for _, r := range raw {
		area := ""
		if r.AreaName != nil {
			area = *r.AreaName
		}
		if i, ok := index[r.ItemID]; ok {
			if area != "" {
				out[i].AreaName += ", " + area
			}
			continue
		}
		row := ArchivedRow{
			ItemID:       r.ItemID,
			Name:         r.Name,
			CategoryName: r.CategoryName,
			AreaName:     area,
			DeletedAt:    r.DeletedAt,
		}
		if r.ArticleNumber != nil {
			row.ArticleNumber = *r.ArticleNumber
		}
		index[r.ItemID] = len(out)
		out = append(out, row)
	}
	return out, nil
}
