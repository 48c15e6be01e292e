package reconcile

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xelth-com/invtrack/internal/apperr"
)

// MaxHistory bounds the look-back window of History
const MaxHistory = 11

// HistoryCell is one item's saved state in one prior period
type HistoryCell struct {
	Period Period          `json:"period"`
	Qty    decimal.Decimal `json:"qty"`
	Notes  string          `json:"notes"`
}

// HistoryRow compares an item's current total with n prior periods
type HistoryRow struct {
	ItemID  uint            `json:"itemId"`
	Current decimal.Decimal `json:"current"`
	Periods []HistoryCell   `json:"periods"`
}

// HistoryPeriods lists the n periods before p, most recent first
func HistoryPeriods(p Period, n int) []Period {
	out := make([]Period, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, p.Back(i))
	}
	return out
}

// History widens the reconciliation union across the n periods preceding
// p. Notes of duplicate rows within a period are joined with "; ".
// It is display only and never gates a save.
func History(p Period, n int, current Totals, snapshots []SnapshotLine) ([]HistoryRow, error) {
	if n < 1 || n > MaxHistory {
		return nil, apperr.Validation("history window must be 1..%d, got %d", MaxHistory, n)
	}

	periods := HistoryPeriods(p, n)
	totals := make([]Totals, n)
	notes := make([]map[uint][]string, n)
	for i, per := range periods {
		totals[i] = SumSnapshots(snapshots, per)
		notes[i] = make(map[uint][]string)
		for _, s := range snapshots {
			if s.ItemID == nil || s.Month != per.Month || s.Year != per.Year {
				continue
			}
			if note := strings.TrimSpace(s.Notes); note != "" {
				notes[i][*s.ItemID] = append(notes[i][*s.ItemID], note)
			}
		}
	}

	ids := unionIDs(append([]Totals{current}, totals...)...)
	rows := make([]HistoryRow, 0, len(ids))
	for _, id := range ids {
		row := HistoryRow{
			ItemID:  id,
			Current: current.Get(id),
			Periods: make([]HistoryCell, n),
		}
		for i, per := range periods {
			row.Periods[i] = HistoryCell{
				Period: per,
				Qty:    totals[i].Get(id),
				Notes:  strings.Join(notes[i][id], "; "),
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
