// seed loads the reference data a fresh ledger needs: units of measure, the
// cost-posting chart of accounts and its rules, a main warehouse with its
// standard bins, and the default incoming QC tests. It is safe to re-run.
//
// Usage: go run ./cmd/seed
package main

import (
	"context"
	"errors"
	"log"

	"inventory-ledger/internal/app"
	"inventory-ledger/internal/config"
	"inventory-ledger/internal/core"
	"inventory-ledger/internal/db"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadEnv()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	log.Println("Restoring chart of accounts...")
	_, err = tx.Exec(ctx, `
		INSERT INTO accounts (code, name, type) VALUES
		    ('1400', 'Inventory - Finished Goods', 'asset'),
		    ('1410', 'Inventory - Raw Materials',  'asset'),
		    ('5000', 'Cost of Goods Sold',         'expense'),
		    ('5100', 'Production Consumption',     'expense')
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, type = EXCLUDED.type;
	`)
	if err != nil {
		log.Fatalf("Failed to restore accounts: %v", err)
	}

	log.Println("Restoring account rules...")
	_, err = tx.Exec(ctx, `
		DELETE FROM account_rules WHERE rule_type IN ('INVENTORY', 'COGS');
		INSERT INTO account_rules (rule_type, item_class, account_code, priority) VALUES
		    ('INVENTORY', NULL,  '1400', 0),
		    ('INVENTORY', 'raw', '1410', 10),
		    ('COGS',      NULL,  '5000', 0),
		    ('COGS',      'raw', '5100', 10);
	`)
	if err != nil {
		log.Fatalf("Failed to restore account rules: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}

	svc := app.NewAppService(pool, app.NewServices(pool, cfg.Ledger.MaxConsumeRetries, nil), nil, nil)

	log.Println("Restoring units of measure...")
	for _, u := range [][2]string{{"EA", "Each"}, {"KG", "Kilogram"}, {"L", "Litre"}} {
		_, err := svc.CreateUnit(ctx, u[0], u[1])
		skipDuplicate(err, "unit "+u[0])
	}

	log.Println("Restoring main warehouse...")
	wh, err := findOrCreateWarehouse(ctx, svc, "MAIN", "Main Warehouse")
	if err != nil {
		log.Fatalf("Failed to restore warehouse: %v", err)
	}
	bins := []struct {
		code string
		typ  core.LocationType
	}{
		{"RCV-01", core.LocationReceiving},
		{"A-01-01", core.LocationStorage},
		{"A-01-02", core.LocationStorage},
		{"PICK-01", core.LocationPicking},
		{"PROD-01", core.LocationProduction},
	}
	for _, b := range bins {
		_, err := svc.CreateLocation(ctx, core.CreateLocationRequest{
			WarehouseID:  wh.ID,
			LocationCode: b.code,
			LocationType: b.typ,
		})
		skipDuplicate(err, "location "+b.code)
	}
	if _, err := svc.EnsureQuarantineLocation(ctx); err != nil {
		log.Fatalf("Failed to ensure quarantine location: %v", err)
	}

	log.Println("Restoring QC tests...")
	raw := "raw"
	receipt := core.SourceReceipt
	lo, hi := decimal.Zero, decimal.RequireFromString("12.5")
	tests := []core.TestDefinition{
		{Name: "Visual inspection", TestType: core.TestPassFail, SourceType: &receipt},
		{Name: "Moisture %", TestType: core.TestNumeric, ItemClass: &raw, MinValue: &lo, MaxValue: &hi},
	}
	for _, def := range tests {
		_, err := svc.CreateTestDefinition(ctx, def)
		skipDuplicate(err, "qc test "+def.Name)
	}

	log.Println("Seed data restored.")
}

func findOrCreateWarehouse(ctx context.Context, svc app.ApplicationService, code, name string) (*core.Warehouse, error) {
	whs, err := svc.ListWarehouses(ctx)
	if err != nil {
		return nil, err
	}
	for i := range whs {
		if whs[i].Code == code {
			return &whs[i], nil
		}
	}
	return svc.CreateWarehouse(ctx, code, name)
}

func skipDuplicate(err error, what string) {
	var dup *core.DuplicateError
	switch {
	case err == nil:
	case errors.As(err, &dup):
		log.Printf("  %s already present", what)
	default:
		log.Fatalf("Failed to restore %s: %v", what, err)
	}
}
