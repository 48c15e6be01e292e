package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xelth-com/invtrack/internal/authctx"
	"github.com/xelth-com/invtrack/internal/cache"
	"github.com/xelth-com/invtrack/internal/models"
	"github.com/xelth-com/invtrack/internal/reconcile"
)

// MatrixRow is one item of the stock matrix with its quantity per area
type MatrixRow struct {
	ItemID        uint                       `json:"itemId"`
	Category      string                     `json:"category"`
	Vendor        string                     `json:"vendor"`
	Item          string                     `json:"item"`
	ArticleNumber string                     `json:"articleNumber"`
	Areas         map[string]decimal.Decimal `json:"areas"`
	Total         decimal.Decimal            `json:"total"`
}

// Matrix pivots the latest count of every area per item
type Matrix struct {
	DepartmentID uint        `json:"departmentId"`
	Areas        []string    `json:"areas"`
	Rows         []MatrixRow `json:"rows"`
}

// MatrixFilter narrows a matrix for display. Area is an area name,
// "none" to hide the per-area columns, or empty for all areas.
type MatrixFilter struct {
	Category string
	Area     string
}

const AreaFilterNone = "none"

// Matrix returns the department's stock matrix. The unfiltered pivot is
// cached per department until the next count or catalog change.
func (s *Service) Matrix(ctx context.Context, user authctx.User, deptID uint, f MatrixFilter) (*Matrix, error) {
	dept, err := user.ResolveDepartment(deptID)
	if err != nil {
		return nil, err
	}

	m, err := cache.ReadThrough(ctx, s.cache, cache.DepartmentKey(dept, "matrix"), s.cacheTTL,
		func(ctx context.Context) (*Matrix, error) { return s.buildMatrix(ctx, dept) })
	if err != nil {
		return nil, err
	}
	return m.filter(f), nil
}

func (s *Service) buildMatrix(ctx context.Context, dept uint) (*Matrix, error) {
	db := s.db.DB
	areas, err := departmentAreas(ctx, db, dept)
	if err != nil {
		return nil, err
	}
	latest, err := latestRecords(ctx, db, areaIDs(areas))
	if err != nil {
		return nil, err
	}
	lines, err := recordLines(ctx, db, latest)
	if err != nil {
		return nil, err
	}

	itemIDs := make(map[uint]struct{})
	for _, l := range lines {
		itemIDs[l.ItemID] = struct{}{}
	}
	items, err := itemsByID(ctx, db, keys(itemIDs))
	if err != nil {
		return nil, err
	}
	return pivotMatrix(dept, areas, latest, lines, items), nil
}

// pivotMatrix turns the latest lines into one row per item
func pivotMatrix(dept uint, areas []models.Area, latest map[uint]reconcile.RecordRef, lines []reconcile.Line, items map[uint]models.Item) *Matrix {
	areaName := make(map[uint]string, len(areas))
	names := make([]string, 0, len(areas))
	seen := make(map[string]bool)
	for _, a := range areas {
		areaName[a.ID] = a.Name
		if !seen[a.Name] {
			seen[a.Name] = true
			names = append(names, a.Name)
		}
	}
	recordArea := make(map[uint]uint, len(latest))
	for areaID, r := range latest {
		recordArea[r.ID] = areaID
	}

	rows := make(map[uint]*MatrixRow)
	for _, l := range lines {
		areaID, ok := recordArea[l.RecordID]
		if !ok {
			continue
		}
		row, ok := rows[l.ItemID]
		if !ok {
			it := items[l.ItemID]
			row = &MatrixRow{
				ItemID:        l.ItemID,
				Category:      categoryName(it),
				Vendor:        it.Vendor,
				Item:          it.Name,
				ArticleNumber: articleNumber(it),
				Areas:         make(map[string]decimal.Decimal),
			}
			if row.Item == "" {
				row.Item = fmt.Sprintf("#%d", l.ItemID)
			}
			rows[l.ItemID] = row
		}
		name := areaName[areaID]
		row.Areas[name] = row.Areas[name].Add(l.Qty)
		row.Total = row.Total.Add(l.Qty)
	}

	out := &Matrix{DepartmentID: dept, Areas: names, Rows: make([]MatrixRow, 0, len(rows))}
	for _, r := range rows {
		out.Rows = append(out.Rows, *r)
	}
	sortMatrixRows(out.Rows)
	return out
}

func sortMatrixRows(rows []MatrixRow) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Item != b.Item {
			return a.Item < b.Item
		}
		if a.Vendor != b.Vendor {
			return a.Vendor < b.Vendor
		}
		if a.ArticleNumber != b.ArticleNumber {
			return a.ArticleNumber < b.ArticleNumber
		}
		return a.ItemID < b.ItemID
	})
}

// filter returns a copy restricted by f. With an area filter the total
// covers only the displayed areas.
func (m *Matrix) filter(f MatrixFilter) *Matrix {
	out := &Matrix{DepartmentID: m.DepartmentID, Areas: m.Areas}
	switch {
	case f.Area == AreaFilterNone:
		out.Areas = []string{}
	case f.Area != "":
		out.Areas = []string{f.Area}
	}

	for _, r := range m.Rows {
		if f.Category != "" && !strings.EqualFold(r.Category, f.Category) {
			continue
		}
		row := r
		if f.Area != "" && f.Area != AreaFilterNone {
			qty, ok := r.Areas[f.Area]
			if !ok {
				continue
			}
			row.Areas = map[string]decimal.Decimal{f.Area: qty}
			row.Total = qty
		}
		if f.Area == AreaFilterNone {
			row.Areas = map[string]decimal.Decimal{}
		}
		out.Rows = append(out.Rows, row)
	}
	if out.Rows == nil {
		out.Rows = []MatrixRow{}
	}
	return out
}

// AreaSummaryRow is an item's current quantity in one area
type AreaSummaryRow struct {
	ItemID   uint            `json:"itemId"`
	Item     string          `json:"item"`
	Category string          `json:"category"`
	Unit     string          `json:"unit"`
	Qty      decimal.Decimal `json:"qty"`
	Note     string          `json:"note"`
}

// AreaSummary returns the quantities of an area's latest record with the
// note of each item's most recent snapshot row.
func (s *Service) AreaSummary(ctx context.Context, user authctx.User, areaID uint) ([]AreaSummaryRow, error) {
	area, err := s.areaOf(ctx, user, areaID)
	if err != nil {
		return nil, err
	}
	db := s.db.DB
	latest, err := latestRecords(ctx, db, []uint{area.ID})
	if err != nil {
		return nil, err
	}
	lines, err := recordLines(ctx, db, latest)
	if err != nil {
		return nil, err
	}
	totals := reconcile.SumLines(lines, latest)
	ids := keys(totals)

	items, err := itemsByID(ctx, db, ids)
	if err != nil {
		return nil, err
	}

	notes := make(map[uint]string)
	if len(ids) > 0 {
		var snaps []models.MonthlyInventory
		if err := db.WithContext(ctx).
			Where("department_id = ? AND item_id IN ?", area.DepartmentID, ids).
			Order("year, month").
			Find(&snaps).Error; err != nil {
			return nil, fmt.Errorf("load notes: %w", err)
		}
		// later periods overwrite earlier ones
		for _, sn := range snaps {
			if sn.ItemID != nil {
				notes[*sn.ItemID] = sn.Notes
			}
		}
	}

	out := make([]AreaSummaryRow, 0, len(ids))
	for _, id := range ids {
		it := items[id]
		out = append(out, AreaSummaryRow{
			ItemID:   id,
			Item:     it.Name,
			Category: categoryName(it),
			Unit:     it.Unit,
			Qty:      totals.Get(id),
			Note:     notes[id],
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Item < out[j].Item
	})
	return out, nil
}

// ThresholdStatus compares a counted quantity with its expectation
type ThresholdStatus string

const (
	ThresholdBelow ThresholdStatus = "below"
	ThresholdAt    ThresholdStatus = "at"
	ThresholdAbove ThresholdStatus = "above"
)

func compareThreshold(qty, expected decimal.Decimal) ThresholdStatus {
	switch qty.Cmp(expected) {
	case -1:
		return ThresholdBelow
	case 0:
		return ThresholdAt
	default:
		return ThresholdAbove
	}
}

// ThresholdCell is an item's position in one area
type ThresholdCell struct {
	Qty         decimal.Decimal `json:"qty"`
	ExpectedQty decimal.Decimal `json:"expectedQty"`
	Status      ThresholdStatus `json:"status"`
}

// ThresholdRow holds an item's cells keyed by area name
type ThresholdRow struct {
	ItemID        uint                     `json:"itemId"`
	Category      string                   `json:"category"`
	Item          string                   `json:"item"`
	Vendor        string                   `json:"vendor"`
	ArticleNumber string                   `json:"articleNumber"`
	Areas         map[string]ThresholdCell `json:"areas"`
}

type areaItemKey struct {
	areaID, itemID uint
}

// ThresholdComparison lays counted quantities next to expected ones for
// every (item, area) pair that has either. areaFilter limits the areas;
// empty means all areas of the department.
func (s *Service) ThresholdComparison(ctx context.Context, user authctx.User, deptID uint, areaFilter []uint) ([]ThresholdRow, error) {
	dept, err := user.ResolveDepartment(deptID)
	if err != nil {
		return nil, err
	}
	db := s.db.DB
	areas, err := departmentAreas(ctx, db, dept)
	if err != nil {
		return nil, err
	}
	if len(areaFilter) > 0 {
		want := make(map[uint]bool, len(areaFilter))
		for _, id := range areaFilter {
			want[id] = true
		}
		kept := areas[:0]
		for _, a := range areas {
			if want[a.ID] {
				kept = append(kept, a)
			}
		}
		areas = kept
	}
	if len(areas) == 0 {
		return []ThresholdRow{}, nil
	}

	latest, err := latestRecords(ctx, db, areaIDs(areas))
	if err != nil {
		return nil, err
	}
	lines, err := recordLines(ctx, db, latest)
	if err != nil {
		return nil, err
	}
	recordArea := make(map[uint]uint, len(latest))
	for areaID, r := range latest {
		recordArea[r.ID] = areaID
	}

	qty := make(map[areaItemKey]decimal.Decimal)
	for _, l := range lines {
		k := areaItemKey{recordArea[l.RecordID], l.ItemID}
		qty[k] = qty[k].Add(l.Qty)
	}

	var ths []models.Threshold
	if err := db.WithContext(ctx).Where("area_id IN ?", areaIDs(areas)).Find(&ths).Error; err != nil {
		return nil, fmt.Errorf("load thresholds: %w", err)
	}
	expected := make(map[areaItemKey]decimal.Decimal, len(ths))
	for _, t := range ths {
		expected[areaItemKey{t.AreaID, t.ItemID}] = t.ExpectedQty
	}

	keysUnion := make(map[areaItemKey]struct{})
	itemSet := make(map[uint]struct{})
	for k := range qty {
		keysUnion[k] = struct{}{}
		itemSet[k.itemID] = struct{}{}
	}
	for k := range expected {
		keysUnion[k] = struct{}{}
		itemSet[k.itemID] = struct{}{}
	}

	items, err := itemsByID(ctx, db, keys(itemSet))
	if err != nil {
		return nil, err
	}
	areaName := make(map[uint]string, len(areas))
	for _, a := range areas {
		areaName[a.ID] = a.Name
	}

	rows := make(map[uint]*ThresholdRow)
	for k := range keysUnion {
		row, ok := rows[k.itemID]
		if !ok {
			it := items[k.itemID]
			row = &ThresholdRow{
				ItemID:        k.itemID,
				Category:      categoryName(it),
				Item:          it.Name,
				Vendor:        it.Vendor,
				ArticleNumber: articleNumber(it),
				Areas:         make(map[string]ThresholdCell),
			}
			rows[k.itemID] = row
		}
		q, e := qty[k], expected[k]
		row.Areas[areaName[k.areaID]] = ThresholdCell{Qty: q, ExpectedQty: e, Status: compareThreshold(q, e)}
	}

	out := make([]ThresholdRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		if out[i].Item != out[j].Item {
			return out[i].Item < out[j].Item
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out, nil
}

// LowStockRow is an item whose saved total is under its summed thresholds
type LowStockRow struct {
	ItemID   uint            `json:"itemId"`
	Item     string          `json:"item"`
	Category string          `json:"category"`
	Current  decimal.Decimal `json:"current"`
	Expected decimal.Decimal `json:"expected"`
	Deficit  decimal.Decimal `json:"deficit"`
}

// DefaultLowStockLimit caps the low stock list when no limit is given
const DefaultLowStockLimit = 20

// LowStock compares the latest saved snapshot with the thresholds summed
// over the department's areas, worst deficit first.
func (s *Service) LowStock(ctx context.Context, user authctx.User, deptID uint, limit int) ([]LowStockRow, error) {
	if err := user.RequireManager(); err != nil {
		return nil, err
	}
	dept, err := user.ResolveDepartment(deptID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLowStockLimit
	}
	db := s.db.DB

	var last models.MonthlyInventory
	res := db.WithContext(ctx).
		Where("department_id = ? AND item_id IS NOT NULL", dept).
		Order("year DESC, month DESC").
		Limit(1).
		Find(&last)
	if res.Error != nil {
		return nil, fmt.Errorf("find latest snapshot: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return []LowStockRow{}, nil
	}
	p := reconcile.Period{Month: last.Month, Year: last.Year}
	snaps, err := snapshotLines(ctx, db, dept, p, p)
	if err != nil {
		return nil, err
	}
	current := reconcile.SumSnapshots(snaps, p)

	areas, err := departmentAreas(ctx, db, dept)
	if err != nil {
		return nil, err
	}
	expected := make(reconcile.Totals)
	if len(areas) > 0 {
		var ths []models.Threshold
		if err := db.WithContext(ctx).Where("area_id IN ?", areaIDs(areas)).Find(&ths).Error; err != nil {
			return nil, fmt.Errorf("load thresholds: %w", err)
		}
		for _, t := range ths {
			expected[t.ItemID] = expected.Get(t.ItemID).Add(t.ExpectedQty)
		}
	}

	var rows []LowStockRow
	for id, exp := range expected {
		cur := current.Get(id)
		if cur.GreaterThanOrEqual(exp) {
			continue
		}
		rows = append(rows, LowStockRow{ItemID: id, Current: cur, Expected: exp, Deficit: exp.Sub(cur)})
	}
	sort.Slice(rows, func(i, j int) bool {
		if c := rows[i].Deficit.Cmp(rows[j].Deficit); c != 0 {
			return c > 0
		}
		return rows[i].ItemID < rows[j].ItemID
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}

	ids := make([]uint, len(rows))
	for i, r := range rows {
		ids[i] = r.ItemID
	}
	items, err := itemsByID(ctx, db, ids)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		it := items[rows[i].ItemID]
		rows[i].Item = it.Name
		rows[i].Category = categoryName(it)
	}
	s.log.Debug("low stock computed", zap.Uint("department", dept), zap.Int("rows", len(rows)))
	if rows == nil {
		rows = []LowStockRow{}
	}
	return rows, nil
}
