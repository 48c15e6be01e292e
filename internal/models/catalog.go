package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Department is the tenant boundary: areas, categories and snapshots
// all hang off one.
type Department struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Department) TableName() string {
	return "departments"
}

// Area is a physical storage location
type Area struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"not null" json:"name"`
	DepartmentID uint      `gorm:"index;not null" json:"departmentId"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`

	Department *Department `gorm:"foreignKey:DepartmentID" json:"department,omitempty"`
}

func (Area) TableName() string {
	return "areas"
}

// Category groups items. A tagged category makes all of its items
// valuable. A nil DepartmentID marks a legacy shared category.
type Category struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"not null" json:"name"`
	DepartmentID *uint     `gorm:"index" json:"departmentId"`
	Tagged       bool      `gorm:"not null;default:false" json:"tagged"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (Category) TableName() string {
	return "categories"
}

// Item is a catalog entry. Tagged items are archived through DeletedAt
// instead of being removed.
type Item struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	Name          string         `gorm:"not null" json:"name"`
	CategoryID    uint           `gorm:"index;not null" json:"categoryId"`
	Unit          string         `json:"unit"`
	Vendor        string         `json:"vendor"`
	ArticleNumber *string        `gorm:"index" json:"articleNumber"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"deletedAt,omitempty"`

	Category *Category `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
}

func (Item) TableName() string {
	return "items"
}

// IsValuable reports whether the item's category is tagged. The flag is
// never stored on the item; Category must be loaded.
func (i Item) IsValuable() bool {
	return i.Category != nil && i.Category.Tagged
}

var one = decimal.NewFromInt(1)

// AcceptsQty enforces the valuable bound: a valuable item counts as 0 or 1.
func (i Item) AcceptsQty(q decimal.Decimal) bool {
	if q.IsNegative() {
		return false
	}
	if i.IsValuable() {
		return q.IsZero() || q.Equal(one)
	}
	return true
}

// AreaItem links an item to an area where it is counted
type AreaItem struct {
	AreaID uint `gorm:"primaryKey;autoIncrement:false" json:"areaId"`
	ItemID uint `gorm:"primaryKey;autoIncrement:false;index" json:"itemId"`
}

func (AreaItem) TableName() string {
	return "area_items"
}

// Threshold is the expected quantity of an item in an area
type Threshold struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	AreaID      uint            `gorm:"not null;uniqueIndex:idx_threshold_area_item" json:"areaId"`
	ItemID      uint            `gorm:"not null;uniqueIndex:idx_threshold_area_item" json:"itemId"`
	ExpectedQty decimal.Decimal `gorm:"type:numeric(14,3);not null" json:"expectedQty"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func (Threshold) TableName() string {
	return "thresholds"
}
