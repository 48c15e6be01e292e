// Package reconcile computes month-end inventory variances: current stock
// from the latest count of every area against the previous period's saved
// snapshot. It performs no I/O; callers load the inputs.
package reconcile

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xelth-com/invtrack/internal/apperr"
)

// RecordRef identifies a count record for latest-record selection
type RecordRef struct {
	ID            uint      `json:"id"`
	AreaID        uint      `json:"areaId"`
	InventoryDate string    `json:"inventoryDate"` // YYYY-MM-DD
	CreatedAt     time.Time `json:"createdAt"`
}

// Line is one counted quantity of a record
type Line struct {
	RecordID uint
	ItemID   uint
	Qty      decimal.Decimal
}

// SnapshotLine is a stored month-end row. A nil ItemID is a legacy header.
type SnapshotLine struct {
	ItemID   *uint
	Month    int
	Year     int
	QtyTotal decimal.Decimal
	Notes    string
}

// Totals maps item id to quantity
type Totals map[uint]decimal.Decimal

// Get returns the total for id, zero when absent
func (t Totals) Get(id uint) decimal.Decimal {
	if v, ok := t[id]; ok {
		return v
	}
	return decimal.Zero
}

// Status is the display classification of a variance row
type Status string

const (
	StatusShortage  Status = "shortage"
	StatusUnchanged Status = "unchanged"
	StatusNew       Status = "new"
	StatusSurplus   Status = "surplus"
)

// Row is one item of a reconciliation sheet
type Row struct {
	ItemID   uint            `json:"itemId"`
	Current  decimal.Decimal `json:"current"`
	Previous decimal.Decimal `json:"previous"`
	Diff     decimal.Decimal `json:"diff"`
	Note     string          `json:"note"`
	Status   Status          `json:"status"`
}

// NeedsNote reports whether the row may only be saved with a note
func (r Row) NeedsNote() bool {
	return !r.Diff.IsZero() && strings.TrimSpace(r.Note) == ""
}

// Newer reports whether a ranks above b by (date, created_at, id)
func Newer(a, b RecordRef) bool {
	if a.InventoryDate != b.InventoryDate {
		return a.InventoryDate > b.InventoryDate
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// LatestPerArea keeps the single greatest record of each area.
// Areas without records are simply absent from the result.
func LatestPerArea(records []RecordRef) map[uint]RecordRef {
	latest := make(map[uint]RecordRef, len(records))
	for _, r := range records {
		cur, ok := latest[r.AreaID]
		if !ok || Newer(r, cur) {
			latest[r.AreaID] = r
		}
	}
	return latest
}

// SumLines totals the lines that belong to one of the latest records
func SumLines(lines []Line, latest map[uint]RecordRef) Totals {
	selected := make(map[uint]struct{}, len(latest))
	for _, r := range latest {
		selected[r.ID] = struct{}{}
	}
	totals := make(Totals)
	for _, l := range lines {
		if _, ok := selected[l.RecordID]; !ok {
			continue
		}
		totals[l.ItemID] = totals.Get(l.ItemID).Add(l.Qty)
	}
	return totals
}

// SumSnapshots totals the item rows saved for p. Duplicate rows of one
// item are summed; header rows are skipped.
func SumSnapshots(lines []SnapshotLine, p Period) Totals {
	totals := make(Totals)
	for _, l := range lines {
		if l.ItemID == nil || l.Month != p.Month || l.Year != p.Year {
			continue
		}
		totals[*l.ItemID] = totals.Get(*l.ItemID).Add(l.QtyTotal)
	}
	return totals
}

// Classify labels a row. The checks run in order, so an unchanged zero
// row is never reported as new.
func Classify(current, diff decimal.Decimal) Status {
	switch {
	case diff.IsNegative():
		return StatusShortage
	case diff.IsZero():
		return StatusUnchanged
	case diff.Equal(current):
		return StatusNew
	default:
		return StatusSurplus
	}
}

// Build produces one row per item in the union of current and previous,
// ordered by item id.
func Build(current, previous Totals) []Row {
	ids := unionIDs(current, previous)
	rows := make([]Row, 0, len(ids))
	for _, id := range ids {
		cur := current.Get(id)
		prev := previous.Get(id)
		diff := cur.Sub(prev)
		rows = append(rows, Row{
			ItemID:   id,
			Current:  cur,
			Previous: prev,
			Diff:     diff,
			Status:   Classify(cur, diff),
		})
	}
	return rows
}

// ApplyNotes sets each row's note from notes, trimmed. Rows without an
// entry get an empty note.
func ApplyNotes(rows []Row, notes map[uint]string) {
	for i := range rows {
		rows[i].Note = strings.TrimSpace(notes[rows[i].ItemID])
	}
}

// MissingNotesError lists the items whose variance has no explanation
type MissingNotesError struct {
	ItemIDs []uint
}

func (e *MissingNotesError) Error() string {
	return fmt.Sprintf("%s for %d item(s): %v", apperr.ErrNoteRequired, len(e.ItemIDs), e.ItemIDs)
}

func (e *MissingNotesError) Unwrap() error { return apperr.ErrNoteRequired }

// CheckNotes is the save gate: it fails iff some row has a non-zero diff
// and a blank note.
func CheckNotes(rows []Row) error {
	var missing []uint
	for _, r := range rows {
		if r.NeedsNote() {
			missing = append(missing, r.ItemID)
		}
	}
	if len(missing) > 0 {
		return &MissingNotesError{ItemIDs: missing}
	}
	return nil
}

func unionIDs(sets ...Totals) []uint {
	seen := make(map[uint]struct{})
	for _, s := range sets {
		for id := range s {
			seen[id] = struct{}{}
		}
	}
	ids := make([]uint, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
