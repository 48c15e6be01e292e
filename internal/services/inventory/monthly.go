package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xelth-com/invtrack/internal/apperr"
	"github.com/xelth-com/invtrack/internal/authctx"
	"github.com/xelth-com/invtrack/internal/database"
	"github.com/xelth-com/invtrack/internal/metrics"
	"github.com/xelth-com/invtrack/internal/models"
	"github.com/xelth-com/invtrack/internal/reconcile"
	"github.com/xelth-com/invtrack/internal/websocket"
)

// MonthlyRow is a reconciliation row with display names resolved
type MonthlyRow struct {
	reconcile.Row
	ItemName      string  `json:"itemName"`
	Unit          string  `json:"unit"`
	ArticleNumber *string `json:"articleNumber,omitempty"`
	CategoryID    uint    `json:"categoryId"`
	CategoryName  string  `json:"categoryName"`
	Archived      bool    `json:"archived"`
}

// CategoryGroup collects the rows of one category with their net change
type CategoryGroup struct {
	CategoryID   uint            `json:"categoryId"`
	CategoryName string          `json:"categoryName"`
	Delta        decimal.Decimal `json:"delta"`
	Rows         []MonthlyRow    `json:"rows"`
}

// MonthlySheet is the month-end reconciliation of one department
type MonthlySheet struct {
	DepartmentID   uint             `json:"departmentId"`
	DepartmentName string           `json:"departmentName"`
	Period         reconcile.Period `json:"period"`
	Previous       reconcile.Period `json:"previous"`
	Groups         []CategoryGroup  `json:"groups"`
	// MissingNotes lists items that still block a save
	MissingNotes []uint `json:"missingNotes"`
	// Saved is true once a snapshot exists for Period
	Saved bool `json:"saved"`
}

// Rows flattens the groups in display order
func (m *MonthlySheet) Rows() []MonthlyRow {
	var out []MonthlyRow
	for _, g := range m.Groups {
		out = append(out, g.Rows...)
	}
	return out
}

const uncategorized = "Uncategorized"

// LoadMonthly builds the reconciliation sheet for a period. Notes already
// saved for the period are shown again.
func (s *Service) LoadMonthly(ctx context.Context, user authctx.User, deptID uint, p reconcile.Period) (*MonthlySheet, error) {
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

	saved, err := snapshotLines(ctx, s.db.DB, dept, p, p)
	if err != nil {
		return nil, err
	}
	notes := make(map[uint]string)
	for _, l := range saved {
		if l.ItemID != nil && l.Notes != "" {
			notes[*l.ItemID] = l.Notes
		}
	}

	sheet, _, err := s.buildSheet(ctx, s.db.DB, dept, p, notes)
	if err != nil {
		return nil, err
	}
	sheet.Saved = len(saved) > 0
	return sheet, nil
}

// SaveMonthly recomputes the sheet, applies notes and persists it as the
// snapshot of p. Nothing is written when any variance lacks a note.
// Saving the same inputs again leaves the same rows.
func (s *Service) SaveMonthly(ctx context.Context, user authctx.User, deptID uint, p reconcile.Period, notes map[uint]string) (*MonthlySheet, error) {
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

	sheet, rows, err := s.buildSheet(ctx, s.db.DB, dept, p, notes)
	if err != nil {
		metrics.SnapshotSaves.WithLabelValues("error").Inc()
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.Validation("nothing to save for %s", p)
	}
	if err := reconcile.CheckNotes(rows); err != nil {
		metrics.SnapshotSaves.WithLabelValues("note_missing").Inc()
		return nil, err
	}

	snapshot := make([]models.MonthlyInventory, 0, len(rows))
	for _, r := range sheet.Rows() {
		itemID := r.ItemID
		var catID *uint
		if r.CategoryID != 0 {
			c := r.CategoryID
			catID = &c
		}
		snapshot = append(snapshot, models.MonthlyInventory{
			DepartmentID: dept,
			CategoryID:   catID,
			ItemID:       &itemID,
			Month:        p.Month,
			Year:         p.Year,
			QtyTotal:     r.Current,
			Notes:        r.Note,
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "department_id"},
				{Name: "item_id"},
				{Name: "month"},
				{Name: "year"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"category_id", "qty_total", "notes", "updated_at"}),
		}).CreateInBatches(&snapshot, 200).Error
	})
	if err != nil {
		metrics.SnapshotSaves.WithLabelValues("error").Inc()
		s.log.Error("monthly snapshot save failed",
			zap.Uint("department", dept), zap.Stringer("period", p), zap.Error(err))
		return nil, fmt.Errorf("save snapshot %s: %w", p, err)
	}

	metrics.SnapshotSaves.WithLabelValues("ok").Inc()
	s.log.Info("monthly snapshot saved",
		zap.Uint("department", dept),
		zap.Stringer("period", p),
		zap.Int("rows", len(snapshot)),
		zap.String("user", user.Username))
	s.publish(dept, websocket.EventMonthlySaved, p)

	sheet.Saved = true
	return sheet, nil
}

// buildSheet runs the reconciliation for dept and p on db
func (s *Service) buildSheet(ctx context.Context, db *gorm.DB, dept uint, p reconcile.Period, notes map[uint]string) (*MonthlySheet, []reconcile.Row, error) {
	var department models.Department
	if err := db.WithContext(ctx).First(&department, dept).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, nil, apperr.NotFound("department", dept)
		}
		return nil, nil, err
	}

	current, _, _, err := currentStock(ctx, db, dept)
	if err != nil {
		return nil, nil, err
	}

	prev := p.Previous()
	prevLines, err := snapshotLines(ctx, db, dept, prev, prev)
	if err != nil {
		return nil, nil, err
	}

	rows := reconcile.Build(current, reconcile.SumSnapshots(prevLines, prev))
	reconcile.ApplyNotes(rows, notes)

	ids := make([]uint, len(rows))
	for i, r := range rows {
		ids[i] = r.ItemID
	}
	items, err := itemsByID(ctx, db, ids)
	if err != nil {
		return nil, nil, err
	}

	sheet := &MonthlySheet{
		DepartmentID:   dept,
		DepartmentName: department.Name,
		Period:         p,
		Previous:       prev,
		Groups:         groupRows(rows, items),
		MissingNotes:   []uint{},
	}
	var missing *reconcile.MissingNotesError
	if err := reconcile.CheckNotes(rows); errors.As(err, &missing) {
		sheet.MissingNotes = missing.ItemIDs
	}
	return sheet, rows, nil
}

// groupRows resolves names and groups rows by category, both ordered by
// name then id.
func groupRows(rows []reconcile.Row, items map[uint]models.Item) []CategoryGroup {
	byCat := make(map[uint]*CategoryGroup)
	for _, r := range rows {
		mr := MonthlyRow{Row: r, ItemName: fmt.Sprintf("#%d", r.ItemID), CategoryName: uncategorized}
		if it, ok := items[r.ItemID]; ok {
			mr.ItemName = it.Name
			mr.Unit = it.Unit
			mr.ArticleNumber = it.ArticleNumber
			mr.CategoryID = it.CategoryID
			mr.Archived = it.DeletedAt.Valid
			if it.Category != nil {
				mr.CategoryName = it.Category.Name
			}
		}
		g, ok := byCat[mr.CategoryID]
		if !ok {
			g = &CategoryGroup{CategoryID: mr.CategoryID, CategoryName: mr.CategoryName}
			byCat[mr.CategoryID] = g
		}
		g.Delta = g.Delta.Add(r.Diff)
		g.Rows = append(g.Rows, mr)
	}

	groups := make([]CategoryGroup, 0, len(byCat))
	for _, g := range byCat {
		sort.Slice(g.Rows, func(i, j int) bool {
			if g.Rows[i].ItemName != g.Rows[j].ItemName {
				return g.Rows[i].ItemName < g.Rows[j].ItemName
			}
			return g.Rows[i].ItemID < g.Rows[j].ItemID
		})
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].CategoryName != groups[j].CategoryName {
			return groups[i].CategoryName < groups[j].CategoryName
		}
		return groups[i].CategoryID < groups[j].CategoryID
	})
	return groups
}

// snapshotLines loads the saved item rows of dept between from and to inclusive
func snapshotLines(ctx context.Context, db *gorm.DB, dept uint, from, to reconcile.Period) ([]reconcile.SnapshotLine, error) {
	var rows []models.MonthlyInventory
	if err := db.WithContext(ctx).
		Where("department_id = ? AND item_id IS NOT NULL", dept).
		Where("year * 12 + month BETWEEN ? AND ?", from.Ordinal(), to.Ordinal()).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load snapshots %s..%s: %w", from, to, err)
	}
	lines := make([]reconcile.SnapshotLine, len(rows))
	for i, r := range rows {
		lines[i] = reconcile.SnapshotLine{
			ItemID:   r.ItemID,
			Month:    r.Month,
			Year:     r.Year,
			QtyTotal: r.QtyTotal,
			Notes:    r.Notes,
		}
	}
	return lines, nil
}

// HistoryItem is a history row with names resolved
type HistoryItem struct {
	reconcile.HistoryRow
	ItemName     string `json:"itemName"`
	CategoryName string `json:"categoryName"`
}

// HistorySheet compares current stock with n saved periods
type HistorySheet struct {
	DepartmentID uint               `json:"departmentId"`
	Period       reconcile.Period   `json:"period"`
	Periods      []reconcile.Period `json:"periods"`
	Rows         []HistoryItem      `json:"rows"`
}

// History widens the monthly comparison to the n periods before p
func (s *Service) History(ctx context.Context, user authctx.User, deptID uint, p reconcile.Period, n int) (*HistorySheet, error) {
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
	if n < 1 || n > reconcile.MaxHistory {
		return nil, apperr.Validation("history window must be 1..%d, got %d", reconcile.MaxHistory, n)
	}

	current, _, _, err := currentStock(ctx, s.db.DB, dept)
	if err != nil {
		return nil, err
	}
	snaps, err := snapshotLines(ctx, s.db.DB, dept, p.Back(n), p.Previous())
	if err != nil {
		return nil, err
	}
	rows, err := reconcile.History(p, n, current, snaps)
	if err != nil {
		return nil, err
	}

	ids := make([]uint, len(rows))
	for i, r := range rows {
		ids[i] = r.ItemID
	}
	items, err := itemsByID(ctx, s.db.DB, ids)
	if err != nil {
		return nil, err
	}

	out := &HistorySheet{
		DepartmentID: dept,
		Period:       p,
		Periods:      reconcile.HistoryPeriods(p, n),
		Rows:         make([]HistoryItem, len(rows)),
	}
	for i, r := range rows {
		hi := HistoryItem{HistoryRow: r, ItemName: fmt.Sprintf("#%d", r.ItemID), CategoryName: uncategorized}
		if it, ok := items[r.ItemID]; ok {
			hi.ItemName = it.Name
			hi.CategoryName = categoryName(it)
		}
		out.Rows[i] = hi
	}
	sort.SliceStable(out.Rows, func(i, j int) bool {
		a, b := out.Rows[i], out.Rows[j]
		if a.CategoryName != b.CategoryName {
			return a.CategoryName < b.CategoryName
		}
		return a.ItemName < b.ItemName
	})
	return out, nil
}
