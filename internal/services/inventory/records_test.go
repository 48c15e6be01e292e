package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xelth-com/invtrack/internal/apperr"
	"github.com/xelth-com/invtrack/internal/models"
	tu "github.com/xelth-com/invtrack/internal/testutil"
)

func TestSubmitRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	beer := tu.Item(t, f.db, f.drinks, "Beer", f.bar)
	wine := tu.Item(t, f.db, f.drinks, "Wine", f.bar)

	rec, err := f.svc.SubmitRecord(ctx, tu.Scope(f.staff), RecordInput{
		AreaID:        f.bar.ID,
		InventoryDate: "2025-05-31",
		Lines: []LineInput{
			{ItemID: beer.ID, Qty: tu.QtyPtr("12.5")},
			{ItemID: wine.ID, Qty: tu.QtyPtr("-3")},
		},
	})
	if err != nil {
		t.Fatalf("SubmitRecord failed: %v", err)
	}
	if rec.UserID != f.staff.ID || rec.InventoryDate != "2025-05-31" {
		t.Errorf("record header = %+v", rec)
	}

	var lines []models.RecordItem
	f.db.Where("record_id = ?", rec.ID).Order("item_id").Find(&lines)
	if len(lines) != 2 {
		t.Fatalf("got %d lines", len(lines))
	}
	if !lines[0].Qty.Equal(tu.Qty("12.5")) {
		t.Errorf("beer = %s", lines[0].Qty)
	}
	if !lines[1].Qty.IsZero() {
		t.Errorf("negative quantity stored as %s, want 0", lines[1].Qty)
	}
	if len(f.events.events) != 1 || f.events.events[0] != "record.created" {
		t.Errorf("events = %v", f.events.events)
	}
}

func TestSubmitRecordRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	beer := tu.Item(t, f.db, f.drinks, "Beer", f.bar)
	fork := tu.Item(t, f.db, f.silver, "Fork", f.bar)
	wine := tu.Item(t, f.db, f.drinks, "Wine", f.cellar)
	other := tu.Department(t, f.db, "Spa")
	spaArea := tu.Area(t, f.db, other.ID, "Pool")

	tests := []struct {
		name string
		in   RecordInput
		want error
	}{
		{"valuable above one", RecordInput{AreaID: f.bar.ID, InventoryDate: "2025-05-01",
			Lines: []LineInput{{ItemID: fork.ID, Qty: tu.QtyPtr("2")}}}, apperr.ErrValuableQty},
		{"valuable fraction", RecordInput{AreaID: f.bar.ID, InventoryDate: "2025-05-01",
			Lines: []LineInput{{ItemID: fork.ID, Qty: tu.QtyPtr("0.5")}}}, apperr.ErrValuableQty},
		{"item of another area", RecordInput{AreaID: f.bar.ID, InventoryDate: "2025-05-01",
			Lines: []LineInput{{ItemID: wine.ID, Qty: tu.QtyPtr("1")}}}, apperr.ErrValidation},
		{"duplicate line", RecordInput{AreaID: f.bar.ID, InventoryDate: "2025-05-01",
			Lines: []LineInput{{ItemID: beer.ID, Qty: tu.QtyPtr("1")}, {ItemID: beer.ID, Qty: tu.QtyPtr("2")}}}, apperr.ErrValidation},
		{"bad date", RecordInput{AreaID: f.bar.ID, InventoryDate: "31.05.2025",
			Lines: []LineInput{{ItemID: beer.ID, Qty: tu.QtyPtr("1")}}}, apperr.ErrValidation},
		{"no lines", RecordInput{AreaID: f.bar.ID, InventoryDate: "2025-05-01"}, apperr.ErrValidation},
		{"unknown area", RecordInput{AreaID: 999, InventoryDate: "2025-05-01",
			Lines: []LineInput{{ItemID: beer.ID}}}, apperr.ErrNotFound},
		{"foreign area", RecordInput{AreaID: spaArea.ID, InventoryDate: "2025-05-01",
			Lines: []LineInput{{ItemID: beer.ID}}}, apperr.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SubmitRecord(ctx, tu.Scope(f.staff), tt.in)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	var n int64
	f.db.Model(&models.Record{}).Count(&n)
	if n != 0 {
		t.Errorf("rejected submissions left %d records", n)
	}

	if _, err := f.svc.SubmitRecord(ctx, tu.Scope(f.staff), RecordInput{
		AreaID: f.bar.ID, InventoryDate: "2025-05-01",
		Lines: []LineInput{{ItemID: fork.ID, Qty: tu.QtyPtr("1")}, {ItemID: beer.ID}},
	}); err != nil {
		t.Errorf("valuable count of 1 with a blank line rejected: %v", err)
	}
}

func TestListRecordsScoping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	beer := tu.Item(t, f.db, f.drinks, "Beer", f.bar)
	colleague := tu.User(t, f.db, "ben", "secret3", models.RoleStandard, &f.dept.ID)
	other := tu.Department(t, f.db, "Spa")
	pool := tu.Area(t, f.db, other.ID, "Pool")

	now := time.Now()
	tu.Record(t, f.db, f.bar, f.staff, "2025-05-01", now, map[uint]string{beer.ID: "1"})
	tu.Record(t, f.db, f.bar, colleague, "2025-05-02", now, map[uint]string{beer.ID: "2"})
	tu.Record(t, f.db, pool, colleague, "2025-05-03", now, map[uint]string{})

	own, err := f.svc.ListRecords(ctx, tu.Scope(f.staff), RecordFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(own) != 1 || own[0].Username != "anna" || own[0].LineCount != 1 {
		t.Errorf("standard user sees %+v", own)
	}

	dept, err := f.svc.ListRecords(ctx, f.adminScope(), RecordFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(dept) != 2 || dept[0].InventoryDate != "2025-05-02" {
		t.Errorf("admin sees %+v", dept)
	}

	super := tu.Scope(tu.User(t, f.db, "root", "secret4", models.RoleSuperAdmin, nil))
	all, err := f.svc.ListRecords(ctx, super, RecordFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("super admin sees %d records, want 3", len(all))
	}
	ranged, _ := f.svc.ListRecords(ctx, super, RecordFilter{From: "2025-05-02", To: "2025-05-02"})
	if len(ranged) != 1 {
		t.Errorf("date range returned %d records", len(ranged))
	}

	if _, err := f.svc.ListRecords(ctx, f.adminScope(), RecordFilter{DepartmentID: other.ID}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("admin listing foreign department: err = %v", err)
	}
}

func TestRecordDetailsAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	beer := tu.Item(t, f.db, f.drinks, "Beer", f.bar)
	colleague := tu.User(t, f.db, "ben", "secret3", models.RoleStandard, &f.dept.ID)
	rec := tu.Record(t, f.db, f.bar, colleague, "2025-05-01", time.Now(), map[uint]string{beer.ID: "4"})

	if _, err := f.svc.RecordDetails(ctx, tu.Scope(f.staff), rec.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("other user's record: err = %v", err)
	}
	d, err := f.svc.RecordDetails(ctx, f.adminScope(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Username != "ben" || len(d.Lines) != 1 || d.Lines[0].Item != "Beer" || !d.Lines[0].Qty.Equal(tu.Qty("4")) {
		t.Errorf("detail = %+v", d)
	}

	if err := f.svc.DeleteRecord(ctx, tu.Scope(colleague), rec.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("standard user delete: err = %v", err)
	}
	if err := f.svc.DeleteRecord(ctx, f.adminScope(), rec.ID); err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}
	var n int64
	f.db.Model(&models.RecordItem{}).Count(&n)
	if n != 0 {
		t.Errorf("%d lines left after delete", n)
	}
	if _, err := f.svc.RecordDetails(ctx, f.adminScope(), rec.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("deleted record: err = %v", err)
	}
}
