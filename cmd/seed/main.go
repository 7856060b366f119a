// Package main provides a CLI tool for seeding the ledger with a demo catalog.
// Products are created through the catalog service; with SEED_DEMO_DATA=true
// raw-material receptions and a production output are booked as well.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"stockledger/internal/app"
	"stockledger/internal/config"
	"stockledger/internal/core/apperror"
	appctx "stockledger/internal/core/context"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/stock"
	"stockledger/internal/infrastructure/storage/postgres"
	"stockledger/pkg/logger"
)

var seedActor = appctx.Actor{ID: "seed", Role: appctx.RoleAdmin}

type seedProduct struct {
	class      catalog.Class
	code       string
	name       string
	unit       string
	minStock   types.Quantity
	price      string
	perishable bool
}

var demoProducts = []seedProduct{
	{class: catalog.ClassRawMaterial, code: "MP-FLOUR", name: "Wheat flour T55", unit: "kg", minStock: 200, perishable: true},
	{class: catalog.ClassRawMaterial, code: "MP-SUGAR", name: "Caster sugar", unit: "kg", minStock: 100},
	{class: catalog.ClassRawMaterial, code: "MP-BUTTER", name: "Butter 82%", unit: "kg", minStock: 50, perishable: true},
	{class: catalog.ClassFinishedGood, code: "PF-SHORTBREAD", name: "Shortbread 200g", unit: "box", minStock: 30, price: "4.20"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx := logger.WithLogger(context.Background(), log)

	pool, err := postgres.NewPool(ctx, postgres.PoolConfigFrom(cfg))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	log.Info("connected to database")

	services, err := app.NewServices(cfg, pool, nil)
	if err != nil {
		log.Fatalw("failed to build services", "error", err)
	}

	products, err := seedCatalog(ctx, services.Catalog, log)
	if err != nil {
		log.Fatalw("failed to seed catalog", "error", err)
	}

	if os.Getenv("SEED_DEMO_DATA") == "true" {
		if err := seedStock(ctx, services.Ledger, products, log); err != nil {
			log.Fatalw("failed to seed demo stock", "error", err)
		}
	}

	log.Info("seeding completed successfully")
}

// seedCatalog creates the demo products, reusing any that already exist.
func seedCatalog(ctx context.Context, svc *catalog.Service, log *logger.Logger) (map[string]*catalog.Product, error) {
	existing, err := svc.List(ctx, catalog.ListFilter{})
	if err != nil {
		return nil, err
	}
	byCode := make(map[string]*catalog.Product, len(existing))
	for i := range existing {
		byCode[existing[i].Code] = &existing[i]
	}

	for _, sp := range demoProducts {
		if _, ok := byCode[sp.code]; ok {
			log.Infow("product already exists, skipping", "code", sp.code)
			continue
		}

		in := catalog.CreateInput{
			Class:    sp.class,
			Code:     sp.code,
			Name:     sp.name,
			Unit:     sp.unit,
			MinStock: sp.minStock,
		}
		if sp.price != "" {
			price := decimal.RequireFromString(sp.price)
			in.PriceHT = &price
		}
		if sp.class == catalog.ClassRawMaterial {
			perishable := sp.perishable
			in.IsPerishable = &perishable
		}

		p, err := svc.Create(ctx, in, seedActor)
		if apperror.HasCode(err, apperror.CodeDuplicate) {
			log.Infow("product created concurrently, skipping", "code", sp.code)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", sp.code, err)
		}
		byCode[sp.code] = p
		log.Infow("created product", "code", p.Code, "id", p.ID)
	}
	return byCode, nil
}

func seedStock(ctx context.Context, ledger *stock.Service, products map[string]*catalog.Product, log *logger.Logger) error {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	expiry := func(days int) *time.Time {
		t := today.AddDate(0, 0, days)
		return &t
	}
	cost := func(s string) *decimal.Decimal {
		d := decimal.RequireFromString(s)
		return &d
	}

	flour, sugar, butter := products["MP-FLOUR"], products["MP-SUGAR"], products["MP-BUTTER"]
	if flour == nil || sugar == nil || butter == nil {
		return fmt.Errorf("raw materials missing from catalog")
	}

	rec, err := ledger.Receive(ctx, stock.ReceptionInput{
		SupplierRef: "DEMO-SUPPLIER",
		Lines: []stock.ReceptionLine{
			{ProductID: flour.ID, Quantity: 500, Expiry: expiry(90), UnitCost: cost("0.85")},
			{ProductID: flour.ID, Quantity: 250, Expiry: expiry(6), UnitCost: cost("0.80")},
			{ProductID: sugar.ID, Quantity: 300, UnitCost: cost("1.10")},
			{ProductID: butter.ID, Quantity: 80, Expiry: expiry(2), UnitCost: cost("7.40")},
		},
	}, seedActor)
	if err != nil {
		return fmt.Errorf("receive raw materials: %w", err)
	}
	log.Infow("booked reception", "reference", rec.Reference, "lots", len(rec.Lots))

	if shortbread := products["PF-SHORTBREAD"]; shortbread != nil {
		lot, _, err := ledger.RecordProductionOutput(ctx, stock.ProductionOutputInput{
			ProductID:         shortbread.ID,
			Quantity:          120,
			ProductionOrderID: "OF-DEMO-0001",
			Expiry:            expiry(60),
			UnitCost:          cost("1.35"),
		}, seedActor)
		if err != nil {
			return fmt.Errorf("record production output: %w", err)
		}
		log.Infow("booked production output", "lot", lot.LotNumber)
	}
	return nil
}
