package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire and storage format of calendar dates
const DateLayout = "2006-01-02"

// DateOnly is a calendar date kept as YYYY-MM-DD. It never passes through
// time.Time on the way to the store, so no timezone can shift the day.
type DateOnly string

// ParseDateOnly validates s and returns it in canonical form
func ParseDateOnly(s string) (DateOnly, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return DateOnly(t.Format(DateLayout)), nil
}

// NewDateOnly takes the calendar date of t in its own location
func NewDateOnly(t time.Time) DateOnly {
	return DateOnly(t.Format(DateLayout))
}

// Time returns midnight UTC of the date, or the zero time if unset
func (d DateOnly) Time() time.Time {
	t, err := time.Parse(DateLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

// Month and Year of the date; zero when unset.
func (d DateOnly) Month() int { return int(d.Time().Month()) }
func (d DateOnly) Year() int  { return d.Time().Year() }

func (d DateOnly) String() string { return string(d) }

// GormDataType keeps the column a DATE
func (DateOnly) GormDataType() string { return "date" }

// Value implements driver.Valuer
func (d DateOnly) Value() (driver.Value, error) {
	if d == "" {
		return nil, nil
	}
	return string(d), nil
}

// Scan implements sql.Scanner. Drivers hand DATE columns back as time.Time,
// string or []byte depending on the backend.
func (d *DateOnly) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		*d = ""
	case time.Time:
		*d = DateOnly(x.Format(DateLayout))
	case string:
		*d = DateOnly(trimDate(x))
	case []byte:
		*d = DateOnly(trimDate(string(x)))
	default:
		return fmt.Errorf("cannot scan %T into DateOnly", v)
	}
	return nil
}

func trimDate(s string) string {
	if len(s) > len(DateLayout) {
		return s[:len(DateLayout)]
	}
	return s
}
