package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xelth-com/invtrack/internal/authctx"
	"github.com/xelth-com/invtrack/internal/models"
	"github.com/xelth-com/invtrack/internal/reconcile"
)

// KPIs are the headline numbers of a department
type KPIs struct {
	Areas        int64      `json:"areas"`
	Categories   int64      `json:"categories"`
	Items        int64      `json:"items"`
	Records30d   int64      `json:"records30d"`
	LastRecordAt *time.Time `json:"lastRecordAt"`
}

// PeriodCount is a count attached to a month
type PeriodCount struct {
	Period reconcile.Period `json:"period"`
	Count  int              `json:"count"`
}

// NamedCount is a count attached to a user or an area
type NamedCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// SeriesPoint is an item's saved total in one month
type SeriesPoint struct {
	Period reconcile.Period `json:"period"`
	Qty    decimal.Decimal  `json:"qty"`
}

// Dashboard summarises a department for the selected month
type Dashboard struct {
	DepartmentID    uint             `json:"departmentId"`
	Period          reconcile.Period `json:"period"`
	KPIs            KPIs             `json:"kpis"`
	RecordsPerMonth []PeriodCount    `json:"recordsPerMonth"`
	RecordsByUser   []NamedCount     `json:"recordsByUser"`
	RecordsByArea   []NamedCount     `json:"recordsByArea"`
	ItemSeries      []SeriesPoint    `json:"itemSeries,omitempty"`
}

const (
	activityMonths = 6
	seriesMonths   = 12
)

type recordActivity struct {
	InventoryDate models.DateOnly
	CreatedAt     time.Time
	Username      string
	AreaName      string
}

// Dashboard computes KPIs, six months of activity, the selected month's
// records per user and per area, and for a given item its twelve month
// snapshot series.
func (s *Service) Dashboard(ctx context.Context, user authctx.User, deptID uint, p reconcile.Period, itemID uint) (*Dashboard, error) {
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
	db := s.db.WithContext(ctx)
	now := s.now().UTC()

	out := &Dashboard{DepartmentID: dept, Period: p}

	if err := db.Model(&models.Area{}).Where("department_id = ?", dept).Count(&out.KPIs.Areas).Error; err != nil {
		return nil, fmt.Errorf("count areas: %w", err)
	}
	if err := db.Model(&models.Category{}).Where("department_id = ?", dept).Count(&out.KPIs.Categories).Error; err != nil {
		return nil, fmt.Errorf("count categories: %w", err)
	}
	if err := db.Model(&models.Item{}).
		Joins("JOIN categories ON categories.id = items.category_id").
		Where("categories.department_id = ?", dept).
		Count(&out.KPIs.Items).Error; err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}

	// one pass over recent records feeds every activity figure
	since := reconcile.PeriodOf(now).Back(activityMonths - 1).Start()
	if ps := p.Start(); ps.Before(since) {
		since = ps
	}
	var acts []recordActivity
	if err := db.Table("records").
		Select("records.inventory_date, records.created_at, users.username, areas.name AS area_name").
		Joins("JOIN areas ON areas.id = records.area_id").
		Joins("LEFT JOIN users ON users.id = records.user_id").
		Where("areas.department_id = ? AND records.created_at >= ?", dept, since).
		Scan(&acts).Error; err != nil {
		return nil, fmt.Errorf("load activity: %w", err)
	}

	var lastRec models.Record
	res := db.Model(&models.Record{}).
		Joins("JOIN areas ON areas.id = records.area_id").
		Where("areas.department_id = ?", dept).
		Order("records.created_at DESC").
		Limit(1).
		Find(&lastRec)
	if res.Error != nil {
		return nil, fmt.Errorf("last record: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		last := lastRec.CreatedAt
		out.KPIs.LastRecordAt = &last
	}

	out.KPIs.Records30d, out.RecordsPerMonth, out.RecordsByUser, out.RecordsByArea = summariseActivity(acts, now, p)

	if itemID != 0 {
		from := p.Back(seriesMonths - 1)
		snaps, err := snapshotLines(ctx, s.db.DB, dept, from, p)
		if err != nil {
			return nil, err
		}
		for i := seriesMonths - 1; i >= 0; i-- {
			per := p.Back(i)
			out.ItemSeries = append(out.ItemSeries, SeriesPoint{
				Period: per,
				Qty:    reconcile.SumSnapshots(snaps, per).Get(itemID),
			})
		}
	}
	return out, nil
}

func summariseActivity(acts []recordActivity, now time.Time, p reconcile.Period) (int64, []PeriodCount, []NamedCount, []NamedCount) {
	var last30 int64
	cutoff := now.Add(-30 * 24 * time.Hour)

	months := make([]PeriodCount, activityMonths)
	index := make(map[reconcile.Period]int, activityMonths)
	for i := 0; i < activityMonths; i++ {
		per := reconcile.PeriodOf(now).Back(activityMonths - 1 - i)
		months[i] = PeriodCount{Period: per}
		index[per] = i
	}

	byUser := make(map[string]int)
	byArea := make(map[string]int)
	for _, a := range acts {
		if !a.CreatedAt.Before(cutoff) {
			last30++
		}
		if i, ok := index[reconcile.PeriodOf(a.CreatedAt.UTC())]; ok {
			months[i].Count++
		}
		if a.InventoryDate.Month() == p.Month && a.InventoryDate.Year() == p.Year {
			name := a.Username
			if name == "" {
				name = "unknown"
			}
			byUser[name]++
			byArea[a.AreaName]++
		}
	}
	return last30, months, namedCounts(byUser), namedCounts(byArea)
}

func namedCounts(m map[string]int) []NamedCount {
	out := make([]NamedCount, 0, len(m))
	for name, c := range m {
		out = append(out, NamedCount{Name: name, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}
