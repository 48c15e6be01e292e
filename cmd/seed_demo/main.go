package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xelth-com/invtrack/internal/apperr"
	"github.com/xelth-com/invtrack/internal/authctx"
	"github.com/xelth-com/invtrack/internal/config"
	"github.com/xelth-com/invtrack/internal/database"
	"github.com/xelth-com/invtrack/internal/logger"
	"github.com/xelth-com/invtrack/internal/models"
	"github.com/xelth-com/invtrack/internal/reconcile"
	"github.com/xelth-com/invtrack/internal/services/catalog"
	"github.com/xelth-com/invtrack/internal/services/inventory"
	"github.com/xelth-com/invtrack/internal/services/users"
	"github.com/xelth-com/invtrack/internal/utils"
)

const demoDepartment = "Demo Restaurant"

type demoItem struct {
	category string
	name     string
	unit     string
	vendor   string
	article  string
	areas    []string
	// quantities for last month and this month, per area
	last, now []string
}

var demoItems = []demoItem{
	{"Drinks", "Pils 0.5l", "bottle", "Brauhaus", "", []string{"Bar", "Cellar"}, []string{"24", "120"}, []string{"18", "96"}},
	{"Drinks", "House red 0.75l", "bottle", "Weingut Berg", "", []string{"Bar", "Cellar"}, []string{"6", "30"}, []string{"4", "30"}},
	{"Drinks", "Sparkling water 1l", "bottle", "Quelle", "", []string{"Bar"}, []string{"40"}, []string{"40"}},
	{"Kitchen", "Olive oil 5l", "can", "Oliva", "", []string{"Kitchen"}, []string{"3.5"}, []string{"2"}},
	{"Kitchen", "Flour 25kg", "sack", "Mühle Nord", "", []string{"Kitchen", "Cellar"}, []string{"1", "4"}, []string{"1.5", "3"}},
	{"Silverware", "Champagne cooler", "pcs", "", "SC-001", []string{"Bar"}, []string{"1"}, []string{"1"}},
	{"Silverware", "Serving tray", "pcs", "", "ST-014", []string{"Kitchen"}, []string{"1"}, []string{"0"}},
}

func main() {
	force := flag.Bool("force", false, "delete an existing demo department first")
	flag.Parse()

	fmt.Println("🌱 Inventory Demo Data Seeder")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	zlog := logger.NewZapLogger(logger.FromConfig(cfg.NodeEnv, "warn", cfg.Log.Encoding))

	db, err := database.Connect(cfg.Database, zlog)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	fmt.Println("✅ Connected and migrated")

	if err := seed(context.Background(), db, zlog, *force); err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	fmt.Println()
	fmt.Println("✅ Demo data ready. Accounts (password = username + 123):")
	fmt.Println("   root (super_admin), manager (admin), counter (standard)")
}

func seed(ctx context.Context, db *database.DB, zlog *zap.Logger, force bool) error {
	root, err := ensureRoot(ctx, db)
	if err != nil {
		return err
	}
	su := authctx.FromModel(root)

	cat := catalog.NewService(db, nil, 0, nil, zlog)
	inv := inventory.NewService(db, nil, 0, nil, zlog)
	usr := users.NewService(db, zlog)

	depts, err := cat.ListDepartments(ctx, su)
	if err != nil {
		return err
	}
	for _, d := range depts {
		if !strings.EqualFold(d.Name, demoDepartment) {
			continue
		}
		if !force {
			return fmt.Errorf("%q already exists; rerun with -force to replace it", demoDepartment)
		}
		res, err := cat.DeleteDepartment(ctx, su, d.ID)
		if err != nil {
			return err
		}
		fmt.Printf("🗑️  Removed previous demo data (%d records, %d items)\n", res.Records, res.Items)
	}

	dept, err := cat.CreateDepartment(ctx, su, demoDepartment)
	if err != nil {
		return err
	}

	// 1. Areas
	areas := make(map[string]uint)
	for _, name := range []string{"Bar", "Cellar", "Kitchen"} {
		a, err := cat.CreateArea(ctx, su, catalog.AreaInput{DepartmentID: dept.ID, Name: name})
		if err != nil {
			return err
		}
		areas[name] = a.ID
	}
	fmt.Printf("📍 %d areas\n", len(areas))

	// 2. Categories, one of them tagged
	cats := make(map[string]uint)
	for _, c := range []struct {
		name   string
		tagged bool
	}{{"Drinks", false}, {"Kitchen", false}, {"Silverware", true}} {
		created, err := cat.CreateCategory(ctx, su, catalog.CategoryInput{DepartmentID: dept.ID, Name: c.name, Tagged: c.tagged})
		if err != nil {
			return err
		}
		cats[c.name] = created.ID
	}

	// 3. Items and their area links
	items := make([]uint, len(demoItems))
	for i, d := range demoItems {
		it, err := cat.CreateItem(ctx, su, catalog.ItemInput{
			CategoryID:    cats[d.category],
			Name:          d.name,
			Unit:          d.unit,
			Vendor:        d.vendor,
			ArticleNumber: d.article,
		})
		if err != nil {
			return err
		}
		var linked []uint
		for _, a := range d.areas {
			linked = append(linked, areas[a])
		}
		if _, err := cat.SaveItemAreas(ctx, su, it.ID, linked); err != nil {
			return err
		}
		items[i] = it.ID
	}
	fmt.Printf("📦 %d items\n", len(items))

	// 4. Users of every role
	deptID := dept.ID
	for _, u := range []users.UserInput{
		{Username: "manager", Password: "manager123", Role: models.RoleAdmin, DepartmentID: &deptID},
		{Username: "counter", Password: "counter123", Role: models.RoleStandard, DepartmentID: &deptID},
	} {
		if _, err := usr.Create(ctx, su, u); err != nil && !errors.Is(err, apperr.ErrConflict) {
			return err
		}
	}

	// 5. Two months of counts
	now := time.Now().UTC()
	this := reconcile.PeriodOf(now)
	last := this.Previous()
	if err := countMonth(ctx, inv, su, areas, items, last.Start().AddDate(0, 0, 27), func(d demoItem) []string { return d.last }); err != nil {
		return err
	}
	if err := countMonth(ctx, inv, su, areas, items, now, func(d demoItem) []string { return d.now }); err != nil {
		return err
	}

	// 6. Confirm last month so this month has something to compare with
	sheet, err := inv.LoadMonthly(ctx, su, dept.ID, last)
	if err != nil {
		return err
	}
	notes := make(map[uint]string)
	for _, r := range sheet.Rows() {
		if r.NeedsNote() {
			notes[r.ItemID] = "opening balance"
		}
	}
	if _, err := inv.SaveMonthly(ctx, su, dept.ID, last, notes); err != nil {
		return err
	}
	fmt.Printf("🗓️  Counts for %s and %s, %s confirmed\n", last, this, last)

	// 7. Expected levels at the bar
	ten := decimal.NewFromInt(10)
	if _, err := inv.SaveThresholds(ctx, su, areas["Bar"], []inventory.ThresholdInput{
		{ItemID: items[0], ExpectedQty: &ten},
		{ItemID: items[2], ExpectedQty: &ten},
	}); err != nil {
		return err
	}
	return nil
}

func ensureRoot(ctx context.Context, db *database.DB) (*models.User, error) {
	var root models.User
	err := db.WithContext(ctx).Where("username_key = ?", utils.UsernameKey("root")).First(&root).Error
	if err == nil {
		return &root, nil
	}
	if !database.IsNotFound(err) {
		return nil, err
	}
	hash, err := utils.HashPassword("root123")
	if err != nil {
		return nil, err
	}
	root = models.User{
		Username:    "root",
		UsernameKey: utils.UsernameKey("root"),
		Password:    hash,
		Role:        models.RoleSuperAdmin,
	}
	if err := db.WithContext(ctx).Create(&root).Error; err != nil {
		return nil, fmt.Errorf("create root user: %w", err)
	}
	return &root, nil
}

// countMonth submits one count per area on day
func countMonth(ctx context.Context, inv *inventory.Service, su authctx.User, areas map[string]uint, items []uint, day time.Time, qty func(demoItem) []string) error {
	lines := make(map[string][]inventory.LineInput)
	for i, d := range demoItems {
		for j, a := range d.areas {
			q := decimal.RequireFromString(qty(d)[j])
			lines[a] = append(lines[a], inventory.LineInput{ItemID: items[i], Qty: &q})
		}
	}
	for name, ls := range lines {
		if _, err := inv.SubmitRecord(ctx, su, inventory.RecordInput{
			AreaID:        areas[name],
			InventoryDate: day.Format(models.DateLayout),
			Lines:         ls,
		}); err != nil {
			return fmt.Errorf("count %s: %w", name, err)
		}
	}
	return nil
}
