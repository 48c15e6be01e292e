package reconcile

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xelth-com/invtrack/internal/apperr"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func uptr(v uint) *uint { return &v }

func TestPeriodPrevious(t *testing.T) {
	tests := []struct {
		in, want Period
	}{
		{Period{Month: 3, Year: 2025}, Period{Month: 2, Year: 2025}},
		{Period{Month: 1, Year: 2025}, Period{Month: 12, Year: 2024}},
		{Period{Month: 12, Year: 2024}, Period{Month: 11, Year: 2024}},
	}
	for _, tt := range tests {
		if got := tt.in.Previous(); got != tt.want {
			t.Errorf("%v.Previous() = %v, want %v", tt.in, got, tt.want)
		}
	}
	if got := (Period{Month: 2, Year: 2025}).Back(14); got != (Period{Month: 12, Year: 2023}) {
		t.Errorf("Back(14) = %v", got)
	}
}

func TestPeriodValidate(t *testing.T) {
	for _, p := range []Period{{0, 2025}, {13, 2025}, {5, 0}} {
		if err := p.Validate(); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("%v.Validate() = %v, want ErrValidation", p, err)
		}
	}
	if err := (Period{Month: 12, Year: 2025}).Validate(); err != nil {
		t.Errorf("valid period rejected: %v", err)
	}
	p := Period{Month: 12, Year: 2025}
	if !p.End().Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("End() = %v", p.End())
	}
}

func TestLatestPerArea(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	records := []RecordRef{
		{ID: 1, AreaID: 10, InventoryDate: "2025-03-01", CreatedAt: t0},
		{ID: 2, AreaID: 10, InventoryDate: "2025-03-05", CreatedAt: t0},
		// same date, created later: wins over id 2
		{ID: 3, AreaID: 10, InventoryDate: "2025-03-05", CreatedAt: t0.Add(time.Hour)},
		// created later but for an older date: loses
		{ID: 4, AreaID: 10, InventoryDate: "2025-02-28", CreatedAt: t0.Add(48 * time.Hour)},
		{ID: 5, AreaID: 20, InventoryDate: "2025-03-02", CreatedAt: t0},
		// exact tie on date and created_at: higher id wins
		{ID: 6, AreaID: 20, InventoryDate: "2025-03-02", CreatedAt: t0},
	}

	latest := LatestPerArea(records)
	if len(latest) != 2 {
		t.Fatalf("got %d areas, want 2", len(latest))
	}
	if latest[10].ID != 3 {
		t.Errorf("area 10 latest = %d, want 3", latest[10].ID)
	}
	if latest[20].ID != 6 {
		t.Errorf("area 20 latest = %d, want 6", latest[20].ID)
	}

	// order of input must not matter
	shuffled := append([]RecordRef(nil), records...)
	rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	again := LatestPerArea(shuffled)
	if again[10].ID != 3 || again[20].ID != 6 {
		t.Errorf("selection depends on input order: %v", again)
	}
}

func TestSumLinesOnlyLatest(t *testing.T) {
	latest := map[uint]RecordRef{
		10: {ID: 3, AreaID: 10},
		20: {ID: 6, AreaID: 20},
	}
	lines := []Line{
		{RecordID: 1, ItemID: 100, Qty: d("50")}, // stale record, ignored
		{RecordID: 3, ItemID: 100, Qty: d("2")},
		{RecordID: 6, ItemID: 100, Qty: d("1.5")},
		{RecordID: 6, ItemID: 200, Qty: d("4")},
	}
	got := SumLines(lines, latest)
	if !got.Get(100).Equal(d("3.5")) {
		t.Errorf("item 100 = %s, want 3.5", got.Get(100))
	}
	if !got.Get(200).Equal(d("4")) {
		t.Errorf("item 200 = %s, want 4", got.Get(200))
	}
	if len(got) != 2 {
		t.Errorf("got %d items, want 2", len(got))
	}
}

func TestSumSnapshots(t *testing.T) {
	p := Period{Month: 2, Year: 2025}
	lines := []SnapshotLine{
		{ItemID: uptr(1), Month: 2, Year: 2025, QtyTotal: d("3")},
		{ItemID: uptr(1), Month: 2, Year: 2025, QtyTotal: d("2")}, // legacy duplicate, summed
		{ItemID: nil, Month: 2, Year: 2025, QtyTotal: d("99")},    // header row
		{ItemID: uptr(2), Month: 1, Year: 2025, QtyTotal: d("7")}, // other period
	}
	got := SumSnapshots(lines, p)
	if len(got) != 1 || !got.Get(1).Equal(d("5")) {
		t.Errorf("SumSnapshots = %v, want {1:5}", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		cur, diff string
		want      Status
	}{
		{"0", "-3", StatusShortage},
		{"0", "0", StatusUnchanged},
		{"5", "0", StatusUnchanged},
		{"4", "4", StatusNew},
		{"5", "2", StatusSurplus},
	}
	for _, tt := range tests {
		if got := Classify(d(tt.cur), d(tt.diff)); got != tt.want {
			t.Errorf("Classify(%s, %s) = %s, want %s", tt.cur, tt.diff, got, tt.want)
		}
	}
}

func TestBuildUnionAndDiff(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 200; iter++ {
		cur := make(Totals)
		prev := make(Totals)
		nc, np := rng.Intn(12), rng.Intn(12)
		for i := 0; i < nc; i++ {
			cur[uint(rng.Intn(20)+1)] = decimal.NewFromInt(int64(rng.Intn(10)))
		}
		for i := 0; i < np; i++ {
			prev[uint(rng.Intn(20)+1)] = decimal.NewFromInt(int64(rng.Intn(10)))
		}

		rows := Build(cur, prev)

		want := make(map[uint]bool)
		for id := range cur {
			want[id] = true
		}
		for id := range prev {
			want[id] = true
		}
		if len(rows) != len(want) {
			t.Fatalf("iter %d: %d rows, want %d", iter, len(rows), len(want))
		}
		for i, r := range rows {
			if !want[r.ItemID] {
				t.Fatalf("iter %d: unexpected item %d", iter, r.ItemID)
			}
			if i > 0 && rows[i-1].ItemID >= r.ItemID {
				t.Fatalf("iter %d: rows not sorted by item id", iter)
			}
			if !r.Diff.Equal(cur.Get(r.ItemID).Sub(prev.Get(r.ItemID))) {
				t.Fatalf("iter %d: item %d diff %s wrong", iter, r.ItemID, r.Diff)
			}
		}
	}
}

func TestCheckNotesGate(t *testing.T) {
	rows := Build(
		Totals{1: d("5"), 3: d("0")},
		Totals{1: d("3"), 2: d("3"), 3: d("0")},
	)

	// zero diff rows never need a note
	ApplyNotes(rows, map[uint]string{1: "delivery", 2: "broken"})
	if err := CheckNotes(rows); err != nil {
		t.Fatalf("all variances explained, got %v", err)
	}

	ApplyNotes(rows, map[uint]string{1: "delivery", 2: "   "})
	err := CheckNotes(rows)
	if !errors.Is(err, apperr.ErrNoteRequired) {
		t.Fatalf("whitespace note accepted: %v", err)
	}
	var missing *MissingNotesError
	if !errors.As(err, &missing) || len(missing.ItemIDs) != 1 || missing.ItemIDs[0] != 2 {
		t.Errorf("missing = %+v, want [2]", missing)
	}
}

// Department with one area: X counted 5 now, Y absent now; both were 3.
func TestExampleScenario(t *testing.T) {
	const x, y = uint(1), uint(2)
	current := SumLines(
		[]Line{{RecordID: 9, ItemID: x, Qty: d("5")}},
		map[uint]RecordRef{1: {ID: 9, AreaID: 1}},
	)
	prev := Period{Month: 3, Year: 2025}.Previous()
	previous := SumSnapshots([]SnapshotLine{
		{ItemID: uptr(x), Month: prev.Month, Year: prev.Year, QtyTotal: d("3")},
		{ItemID: uptr(y), Month: prev.Month, Year: prev.Year, QtyTotal: d("3")},
	}, prev)

	rows := Build(current, previous)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if !rows[0].Current.Equal(d("5")) || !rows[0].Diff.Equal(d("2")) || rows[0].Status != StatusSurplus {
		t.Errorf("X row = %+v", rows[0])
	}
	if !rows[1].Current.IsZero() || !rows[1].Diff.Equal(d("-3")) || rows[1].Status != StatusShortage {
		t.Errorf("Y row = %+v", rows[1])
	}

	ApplyNotes(rows, map[uint]string{x: "restocked"})
	if err := CheckNotes(rows); err == nil {
		t.Fatal("save with note only on X must be rejected")
	}
	ApplyNotes(rows, map[uint]string{x: "restocked", y: "used up"})
	if err := CheckNotes(rows); err != nil {
		t.Fatalf("save with both notes rejected: %v", err)
	}
}

func TestHistory(t *testing.T) {
	p := Period{Month: 2, Year: 2025}
	snaps := []SnapshotLine{
		{ItemID: uptr(1), Month: 1, Year: 2025, QtyTotal: d("4"), Notes: "a"},
		{ItemID: uptr(1), Month: 1, Year: 2025, QtyTotal: d("1"), Notes: "b"},
		{ItemID: uptr(2), Month: 12, Year: 2024, QtyTotal: d("2")},
		{ItemID: uptr(3), Month: 10, Year: 2024, QtyTotal: d("8")}, // outside a 2 month window
	}

	rows, err := History(p, 2, Totals{4: d("1")}, snaps)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want items 1,2,4", len(rows))
	}
	first := rows[0]
	if first.ItemID != 1 || len(first.Periods) != 2 {
		t.Fatalf("first row = %+v", first)
	}
	if first.Periods[0].Period != (Period{Month: 1, Year: 2025}) {
		t.Errorf("most recent period first, got %v", first.Periods[0].Period)
	}
	if !first.Periods[0].Qty.Equal(d("5")) || first.Periods[0].Notes != "a; b" {
		t.Errorf("jan cell = %+v", first.Periods[0])
	}
	if !rows[1].Periods[1].Qty.Equal(d("2")) {
		t.Errorf("item 2 dec cell = %+v", rows[1].Periods[1])
	}
	if !rows[2].Current.Equal(d("1")) {
		t.Errorf("current-only item lost: %+v", rows[2])
	}

	for _, n := range []int{0, 12} {
		if _, err := History(p, n, nil, nil); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("History n=%d: %v, want ErrValidation", n, err)
		}
	}
}
