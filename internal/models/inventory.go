package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Record is one count of one area. The latest record per area, ordered by
// (InventoryDate, CreatedAt, ID), defines the area's current stock.
type Record struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	AreaID        uint      `gorm:"index;not null" json:"areaId"`
	UserID        string    `gorm:"type:uuid;index;not null" json:"userId"`
	InventoryDate DateOnly  `gorm:"type:date;index;not null" json:"inventoryDate"`
	CreatedAt     time.Time `gorm:"index" json:"createdAt"`

	Items []RecordItem `gorm:"foreignKey:RecordID" json:"items,omitempty"`
	Area  *Area        `gorm:"foreignKey:AreaID" json:"area,omitempty"`
	User  *User        `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (Record) TableName() string {
	return "records"
}

// RecordItem is one counted line of a record
type RecordItem struct {
	ID       uint            `gorm:"primaryKey" json:"id"`
	RecordID uint            `gorm:"index;not null" json:"recordId"`
	ItemID   uint            `gorm:"index;not null" json:"itemId"`
	Qty      decimal.Decimal `gorm:"type:numeric(14,3);not null" json:"qty"`
}

func (RecordItem) TableName() string {
	return "record_items"
}

// MonthlyInventory is a saved month-end snapshot row. Rows with a nil
// ItemID are legacy headers and take no part in reconciliation.
type MonthlyInventory struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	DepartmentID uint            `gorm:"not null;uniqueIndex:idx_monthly_key" json:"departmentId"`
	CategoryID   *uint           `gorm:"index" json:"categoryId"`
	ItemID       *uint           `gorm:"uniqueIndex:idx_monthly_key" json:"itemId"`
	Month        int             `gorm:"not null;uniqueIndex:idx_monthly_key" json:"month"`
	Year         int             `gorm:"not null;uniqueIndex:idx_monthly_key" json:"year"`
	QtyTotal     decimal.Decimal `gorm:"type:numeric(14,3);not null" json:"qtyTotal"`
	Notes        string          `json:"notes"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func (MonthlyInventory) TableName() string {
	return "monthly_inventories"
}

// SpotInventory is an ad-hoc partial count that corrects the current
// stock of an area without replacing its record.
type SpotInventory struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	DepartmentID  uint      `gorm:"index;not null" json:"departmentId"`
	AreaID        uint      `gorm:"index;not null" json:"areaId"`
	UserID        string    `gorm:"type:uuid;index;not null" json:"userId"`
	InventoryDate DateOnly  `gorm:"type:date;not null" json:"inventoryDate"`
	Note          string    `json:"note"`
	CreatedAt     time.Time `json:"createdAt"`

	Items []SpotInventoryItem `gorm:"foreignKey:SpotInventoryID" json:"items,omitempty"`
}

func (SpotInventory) TableName() string {
	return "spot_inventories"
}

type SpotInventoryItem struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	SpotInventoryID uint            `gorm:"index;not null" json:"spotInventoryId"`
	ItemID          uint            `gorm:"index;not null" json:"itemId"`
	Qty             decimal.Decimal `gorm:"type:numeric(14,3);not null" json:"qty"`
}

func (SpotInventoryItem) TableName() string {
	return "spot_inventory_items"
}

// AuditLog records administrative mutations
type AuditLog struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	UserID    string            `gorm:"index" json:"userId"`
	Action    string            `gorm:"type:varchar(50);not null" json:"action"`
	Entity    string            `gorm:"type:varchar(50);not null" json:"entity"`
	EntityID  string            `json:"entityId"`
	Details   datatypes.JSONMap `json:"details"`
	CreatedAt time.Time         `gorm:"index" json:"createdAt"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

// All returns every persisted model in dependency order for AutoMigrate
func All() []interface{} {
	return []interface{}{
		&Department{},
		&User{},
		&Area{},
		&Category{},
		&Item{},
		&AreaItem{},
		&Threshold{},
		&Record{},
		&RecordItem{},
		&MonthlyInventory{},
		&SpotInventory{},
		&SpotInventoryItem{},
		&AuditLog{},
	}
}
