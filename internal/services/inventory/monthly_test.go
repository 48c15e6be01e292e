package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xelth-com/invtrack/internal/apperr"
	"github.com/xelth-com/invtrack/internal/authctx"
	"github.com/xelth-com/invtrack/internal/database"
	"github.com/xelth-com/invtrack/internal/models"
	"github.com/xelth-com/invtrack/internal/reconcile"
	tu "github.com/xelth-com/invtrack/internal/testutil"
)

type fixture struct {
	db     *database.DB
	svc    *Service
	events *recordingPublisher
	dept   models.Department
	bar    models.Area
	cellar models.Area
	drinks models.Category
	silver models.Category
	admin  models.User
	staff  models.User
}

type recordingPublisher struct {
	events []string
}

func (p *recordingPublisher) Publish(deptID uint, eventType string, payload any) {
	p.events = append(p.events, eventType)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := tu.NewDB(t)
	f := &fixture{db: db, events: &recordingPublisher{}}
	f.svc = NewService(db, nil, time.Minute, f.events, nil)
	f.dept = tu.Department(t, db, "Restaurant")
	f.bar = tu.Area(t, db, f.dept.ID, "Bar")
	f.cellar = tu.Area(t, db, f.dept.ID, "Cellar")
	f.drinks = tu.Category(t, db, f.dept.ID, "Drinks", false)
	f.silver = tu.Category(t, db, f.dept.ID, "Silverware", true)
	f.admin = tu.User(t, db, "boss", "secret1", models.RoleAdmin, &f.dept.ID)
	f.staff = tu.User(t, db, "anna", "secret2", models.RoleStandard, &f.dept.ID)
	return f
}

func (f *fixture) adminScope() authctx.User { return tu.Scope(f.admin) }

func countSnapshots(t *testing.T, db *database.DB, dept uint, p reconcile.Period) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.MonthlyInventory{}).
		Where("department_id = ? AND month = ? AND year = ?", dept, p.Month, p.Year).
		Count(&n).Error; err != nil {
		t.Fatalf("count snapshots: %v", err)
	}
	return n
}

func findRow(t *testing.T, sheet *MonthlySheet, itemID uint) MonthlyRow {
	t.Helper()
	for _, r := range sheet.Rows() {
		if r.ItemID == itemID {
			return r
		}
	}
	t.Fatalf("item %d not in sheet", itemID)
	return MonthlyRow{}
}

// X counted 5 now, Y not counted now; both were 3 last month.
func TestMonthlyExampleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := tu.Item(t, f.db, f.drinks, "X", f.bar)
	y := tu.Item(t, f.db, f.drinks, "Y", f.bar)

	march := reconcile.Period{Month: 3, Year: 2025}
	tu.Snapshot(t, f.db, f.dept.ID, x.ID, 2, 2025, "3", "")
	tu.Snapshot(t, f.db, f.dept.ID, y.ID, 2, 2025, "3", "")
	tu.Record(t, f.db, f.bar, f.staff, "2025-03-30", time.Now(), map[uint]string{x.ID: "5"})

	sheet, err := f.svc.LoadMonthly(ctx, f.adminScope(), 0, march)
	if err != nil {
		t.Fatalf("LoadMonthly failed: %v", err)
	}
	if len(sheet.Groups) != 1 || sheet.Groups[0].CategoryName != "Drinks" {
		t.Fatalf("groups = %+v", sheet.Groups)
	}
	if !sheet.Groups[0].Delta.Equal(tu.Qty("-1")) {
		t.Errorf("category delta = %s, want -1", sheet.Groups[0].Delta)
	}
	rx, ry := findRow(t, sheet, x.ID), findRow(t, sheet, y.ID)
	if !rx.Current.Equal(tu.Qty("5")) || !rx.Previous.Equal(tu.Qty("3")) || !rx.Diff.Equal(tu.Qty("2")) {
		t.Errorf("X = %+v", rx.Row)
	}
	if !ry.Current.IsZero() || !ry.Diff.Equal(tu.Qty("-3")) || ry.Status != reconcile.StatusShortage {
		t.Errorf("Y = %+v", ry.Row)
	}
	if len(sheet.MissingNotes) != 2 {
		t.Errorf("missing notes = %v, want both items", sheet.MissingNotes)
	}

	_, err = f.svc.SaveMonthly(ctx, f.adminScope(), 0, march, map[uint]string{x.ID: "delivery"})
	if !errors.Is(err, apperr.ErrNoteRequired) {
		t.Fatalf("save with one note: err = %v, want ErrNoteRequired", err)
	}
	if n := countSnapshots(t, f.db, f.dept.ID, march); n != 0 {
		t.Fatalf("rejected save wrote %d rows", n)
	}

	notes := map[uint]string{x.ID: "delivery", y.ID: "sold out"}
	for i := 0; i < 2; i++ {
		if _, err := f.svc.SaveMonthly(ctx, f.adminScope(), 0, march, notes); err != nil {
			t.Fatalf("save #%d failed: %v", i+1, err)
		}
	}
	if n := countSnapshots(t, f.db, f.dept.ID, march); n != 2 {
		t.Fatalf("after two saves got %d rows, want 2", n)
	}

	var saved []models.MonthlyInventory
	f.db.Where("month = 3 AND year = 2025").Order("item_id").Find(&saved)
	if !saved[0].QtyTotal.Equal(tu.Qty("5")) || saved[0].Notes != "delivery" {
		t.Errorf("X saved as %s %q", saved[0].QtyTotal, saved[0].Notes)
	}
	if !saved[1].QtyTotal.IsZero() || saved[1].Notes != "sold out" {
		t.Errorf("Y saved as %s %q", saved[1].QtyTotal, saved[1].Notes)
	}
	if saved[0].CategoryID == nil || *saved[0].CategoryID != f.drinks.ID {
		t.Errorf("category not stored: %v", saved[0].CategoryID)
	}
	if n := countSnapshots(t, f.db, f.dept.ID, march.Previous()); n != 2 {
		t.Errorf("previous period rows changed: %d", n)
	}

	reloaded, err := f.svc.LoadMonthly(ctx, f.adminScope(), 0, march)
	if err != nil {
		t.Fatal(err)
	}
	if !reloaded.Saved || findRow(t, reloaded, y.ID).Note != "sold out" {
		t.Errorf("saved notes not shown again: %+v", reloaded)
	}
	if len(f.events.events) != 2 || f.events.events[0] != "monthly.saved" {
		t.Errorf("events = %v", f.events.events)
	}
}

func TestMonthlyUsesOnlyLatestRecordPerArea(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := tu.Item(t, f.db, f.drinks, "X", f.bar, f.cellar)

	t0 := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	tu.Record(t, f.db, f.bar, f.staff, "2025-04-01", t0, map[uint]string{x.ID: "100"})
	tu.Record(t, f.db, f.bar, f.staff, "2025-04-10", t0, map[uint]string{x.ID: "4"})
	// same day, entered later: replaces the previous one
	tu.Record(t, f.db, f.cellar, f.staff, "2025-04-10", t0, map[uint]string{x.ID: "7"})
	tu.Record(t, f.db, f.cellar, f.staff, "2025-04-10", t0.Add(time.Hour), map[uint]string{x.ID: "2"})

	sheet, err := f.svc.LoadMonthly(ctx, f.adminScope(), f.dept.ID, reconcile.Period{Month: 4, Year: 2025})
	if err != nil {
		t.Fatal(err)
	}
	if got := findRow(t, sheet, x.ID).Current; !got.Equal(tu.Qty("6")) {
		t.Errorf("current = %s, want 4 (bar) + 2 (cellar)", got)
	}
}

func TestMonthlyZeroDiffNeedsNoNote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := tu.Item(t, f.db, f.drinks, "X", f.bar)
	tu.Snapshot(t, f.db, f.dept.ID, x.ID, 12, 2024, "3", "")
	// legacy header row without an item must be ignored
	f.db.Create(&models.MonthlyInventory{DepartmentID: f.dept.ID, Month: 12, Year: 2024, QtyTotal: tu.Qty("99")})
	tu.Record(t, f.db, f.bar, f.staff, "2025-01-05", time.Now(), map[uint]string{x.ID: "3"})

	sheet, err := f.svc.SaveMonthly(ctx, f.adminScope(), 0, reconcile.Period{Month: 1, Year: 2025}, nil)
	if err != nil {
		t.Fatalf("unchanged sheet rejected: %v", err)
	}
	rows := sheet.Rows()
	if len(rows) != 1 || rows[0].Status != reconcile.StatusUnchanged {
		t.Errorf("rows = %+v", rows)
	}
}

func TestMonthlyScoping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := tu.Department(t, f.db, "Spa")
	p := reconcile.Period{Month: 1, Year: 2025}

	if _, err := f.svc.LoadMonthly(ctx, f.adminScope(), other.ID, p); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("foreign department: err = %v, want ErrForbidden", err)
	}
	super := authctx.User{ID: "root", Role: models.RoleSuperAdmin}
	if _, err := f.svc.LoadMonthly(ctx, super, 0, p); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("super admin without department: err = %v", err)
	}
	if _, err := f.svc.LoadMonthly(ctx, super, other.ID, p); err != nil {
		t.Errorf("super admin any department: %v", err)
	}
	if _, err := f.svc.LoadMonthly(ctx, f.adminScope(), 0, reconcile.Period{Month: 13, Year: 2025}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("bad month: err = %v", err)
	}
	if _, err := f.svc.SaveMonthly(ctx, f.adminScope(), 0, p, nil); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("empty sheet save: err = %v, want ErrValidation", err)
	}
}

// Month-end screens belong to admins; counters only record stock.
func TestMonthlyRequiresManager(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := tu.Item(t, f.db, f.drinks, "X", f.bar)
	tu.Record(t, f.db, f.bar, f.staff, "2025-03-15", time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC), map[uint]string{x.ID: "5"})
	march := reconcile.Period{Month: 3, Year: 2025}
	staff := tu.Scope(f.staff)

	if _, err := f.svc.SaveMonthly(ctx, staff, 0, march, map[uint]string{x.ID: "delivery"}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("SaveMonthly: err = %v, want ErrForbidden", err)
	}
	if n := countSnapshots(t, f.db, f.dept.ID, march); n != 0 {
		t.Errorf("standard user wrote %d snapshot rows", n)
	}
	if _, err := f.svc.LoadMonthly(ctx, staff, 0, march); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("LoadMonthly: err = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.History(ctx, staff, 0, march, 2); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("History: err = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.Dashboard(ctx, staff, 0, march, 0); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("Dashboard: err = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.LowStock(ctx, staff, 0, 0); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("LowStock: err = %v, want ErrForbidden", err)
	}

	sheet, err := f.svc.SaveMonthly(ctx, f.adminScope(), 0, march, map[uint]string{x.ID: "delivery"})
	if err != nil {
		t.Fatalf("admin save failed: %v", err)
	}
	if sheet.DepartmentName != "Restaurant" {
		t.Errorf("department name = %q", sheet.DepartmentName)
	}

	super := authctx.User{ID: "root", Role: models.RoleSuperAdmin}
	if _, err := f.svc.LoadMonthly(ctx, super, 9999, march); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown department: err = %v, want ErrNotFound", err)
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := tu.Item(t, f.db, f.drinks, "X", f.bar)
	y := tu.Item(t, f.db, f.drinks, "Y", f.bar)
	tu.Snapshot(t, f.db, f.dept.ID, x.ID, 2, 2025, "3", "broken glass")
	tu.Snapshot(t, f.db, f.dept.ID, y.ID, 1, 2025, "8", "")
	tu.Record(t, f.db, f.bar, f.staff, "2025-03-02", time.Now(), map[uint]string{x.ID: "5"})

	h, err := f.svc.History(ctx, f.adminScope(), 0, reconcile.Period{Month: 3, Year: 2025}, 2)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(h.Periods) != 2 || h.Periods[0] != (reconcile.Period{Month: 2, Year: 2025}) {
		t.Errorf("periods = %v", h.Periods)
	}
	if len(h.Rows) != 2 {
		t.Fatalf("rows = %+v", h.Rows)
	}
	if h.Rows[0].ItemName != "X" || h.Rows[0].Periods[0].Notes != "broken glass" {
		t.Errorf("X row = %+v", h.Rows[0])
	}
	if !h.Rows[1].Periods[1].Qty.Equal(tu.Qty("8")) {
		t.Errorf("Y january = %s", h.Rows[1].Periods[1].Qty)
	}

	if _, err := f.svc.History(ctx, f.adminScope(), 0, reconcile.Period{Month: 3, Year: 2025}, 12); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("n=12: err = %v", err)
	}
}
