// Package testutil opens throwaway stores and builds fixtures for service
// and handler tests.
package testutil

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xelth-com/invtrack/internal/authctx"
	"github.com/xelth-com/invtrack/internal/database"
	"github.com/xelth-com/invtrack/internal/models"
	"github.com/xelth-com/invtrack/internal/utils"
)

// NewDB opens a private in-memory SQLite database with the full schema.
// A single connection keeps every statement on the same memory database.
func NewDB(t *testing.T) *database.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	db := database.Wrap(gdb)
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Qty parses a decimal literal
func Qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// QtyPtr parses a decimal literal into a pointer
func QtyPtr(s string) *decimal.Decimal {
	d := Qty(s)
	return &d
}

func create(t *testing.T, db *database.DB, v any) {
	t.Helper()
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("create %T: %v", v, err)
	}
}

func Department(t *testing.T, db *database.DB, name string) models.Department {
	t.Helper()
	d := models.Department{Name: name}
	create(t, db, &d)
	return d
}

func Area(t *testing.T, db *database.DB, deptID uint, name string) models.Area {
	t.Helper()
	a := models.Area{Name: name, DepartmentID: deptID}
	create(t, db, &a)
	return a
}

func Category(t *testing.T, db *database.DB, deptID uint, name string, tagged bool) models.Category {
	t.Helper()
	c := models.Category{Name: name, DepartmentID: &deptID, Tagged: tagged}
	create(t, db, &c)
	return c
}

// Item creates an item and links it to the given areas
func Item(t *testing.T, db *database.DB, cat models.Category, name string, areas ...models.Area) models.Item {
	t.Helper()
	it := models.Item{Name: name, CategoryID: cat.ID, Unit: "pcs"}
	if cat.Tagged {
		art := "ART-" + name
		it.ArticleNumber = &art
	}
	create(t, db, &it)
	for _, a := range areas {
		create(t, db, &models.AreaItem{AreaID: a.ID, ItemID: it.ID})
	}
	return it
}

// User creates an account with the given password
func User(t *testing.T, db *database.DB, username, password string, role models.Role, deptID *uint) models.User {
	t.Helper()
	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := models.User{
		Username:     username,
		UsernameKey:  utils.UsernameKey(username),
		Password:     hash,
		Role:         role,
		DepartmentID: deptID,
	}
	create(t, db, &u)
	return u
}

// Scope returns the request scope of u
func Scope(u models.User) authctx.User {
	return authctx.FromModel(&u)
}

// Record writes a count with an explicit creation time
func Record(t *testing.T, db *database.DB, area models.Area, user models.User, date string, createdAt time.Time, lines map[uint]string) models.Record {
	t.Helper()
	rec := models.Record{
		AreaID:        area.ID,
		UserID:        user.ID,
		InventoryDate: models.DateOnly(date),
		CreatedAt:     createdAt.UTC(),
	}
	for id, q := range lines {
		rec.Items = append(rec.Items, models.RecordItem{ItemID: id, Qty: Qty(q)})
	}
	create(t, db, &rec)
	return rec
}

// Snapshot writes a saved monthly row
func Snapshot(t *testing.T, db *database.DB, deptID, itemID uint, month, year int, qty, notes string) models.MonthlyInventory {
	t.Helper()
	id := itemID
	row := models.MonthlyInventory{
		DepartmentID: deptID,
		ItemID:       &id,
		Month:        month,
		Year:         year,
		QtyTotal:     Qty(qty),
		Notes:        notes,
	}
	create(t, db, &row)
	return row
}

// Ptr returns a pointer to v
func Ptr[T any](v T) *T { return &v }
