package reconcile

import (
	"fmt"
	"time"

	"github.com/xelth-com/invtrack/internal/apperr"
)

// Period is a calendar month
type Period struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

// PeriodOf returns the month containing t
func PeriodOf(t time.Time) Period {
	return Period{Month: int(t.Month()), Year: t.Year()}
}

// Validate requires month 1..12 and a positive year
func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 {
		return apperr.Validation("month must be 1..12, got %d", p.Month)
	}
	if p.Year <= 0 {
		return apperr.Validation("year must be positive, got %d", p.Year)
	}
	return nil
}

// Previous is the month before p; January wraps to December of the prior year.
func (p Period) Previous() Period {
	return p.Back(1)
}

// Back steps n months into the past
func (p Period) Back(n int) Period {
	idx := p.index() - n
	return Period{Month: idx%12 + 1, Year: idx / 12}
}

// Start is the first instant of the month in UTC
func (p Period) Start() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// End is the first instant of the following month
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

// index puts periods on one axis: year*12 + month-1
func (p Period) index() int {
	return p.Year*12 + p.Month - 1
}

// Ordinal is year*12+month, the form used in store range queries
func (p Period) Ordinal() int {
	return p.Year*12 + p.Month
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}
