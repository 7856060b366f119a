// Package testutil wires the domain services on the in-memory store for tests.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	appctx "stockledger/internal/core/context"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/fifo"
	"stockledger/internal/domain/reconciliation"
	"stockledger/internal/domain/stock"
	"stockledger/internal/infrastructure/storage/memory"
)

// Common actors.
var (
	Admin      = appctx.Actor{ID: "admin-1", Role: appctx.RoleAdmin}
	Admin2     = appctx.Actor{ID: "admin-2", Role: appctx.RoleAdmin}
	Admin3     = appctx.Actor{ID: "admin-3", Role: appctx.RoleAdmin}
	Appro      = appctx.Actor{ID: "appro-1", Role: appctx.RoleAppro}
	Production = appctx.Actor{ID: "prod-1", Role: appctx.RoleProduction}
	Commercial = appctx.Actor{ID: "sales-1", Role: appctx.RoleCommercial}
)

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// TestEnv holds a fully wired ledger on one memory store.
type TestEnv struct {
	T              *testing.T
	Ctx            context.Context
	Store          *memory.Store
	Clock          *Clock
	Catalog        *catalog.Service
	Ledger         *stock.Service
	FIFO           *fifo.Engine
	Reconciliation *reconciliation.Service
	Audit          *memory.AuditSink
	Alerts         *memory.AlertSink
}

// Start is the fake clock origin.
var Start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// New wires every service. The clock starts at Start.
func New(t *testing.T) *TestEnv {
	t.Helper()

	store := memory.New()
	clock := &Clock{now: Start}
	recorder := audit.NewRecorder(store.AuditSink())
	lots := store.Lots()

	cat := catalog.NewService(store.Products(), store, lots, lots, recorder)
	ledger := stock.NewService(
		store.Movements(),
		lots,
		cat,
		store,
		store.Numerator(),
		store.AlertSink(),
		recorder,
		stock.DefaultServiceConfig(),
	).WithClock(clock.Now)

	engine := fifo.NewEngine(ledger, store.Consumptions(), store.Idempotency(), store, recorder, fifo.DefaultConfig())
	recon := reconciliation.NewService(store.Declarations(), ledger, cat, store, store.AlertSink(), recorder, reconciliation.DefaultOptions())

	return &TestEnv{
		T:              t,
		Ctx:            context.Background(),
		Store:          store,
		Clock:          clock,
		Catalog:        cat,
		Ledger:         ledger,
		FIFO:           engine,
		Reconciliation: recon,
		Audit:          store.AuditSink(),
		Alerts:         store.AlertSink(),
	}
}

// RawMaterial creates an active MP product.
func (e *TestEnv) RawMaterial(code string, perishable bool) *catalog.Product {
	e.T.Helper()
	p, err := e.Catalog.Create(e.Ctx, catalog.CreateInput{
		Class:        catalog.ClassRawMaterial,
		Code:         code,
		Name:         "Raw " + code,
		Unit:         "KG",
		MinStock:     10,
		IsPerishable: &perishable,
	}, Admin)
	require.NoError(e.T, err)
	return p
}

// FinishedGood creates an active PF product with price.
func (e *TestEnv) FinishedGood(code string, price string) *catalog.Product {
	e.T.Helper()
	d := decimal.RequireFromString(price)
	p, err := e.Catalog.Create(e.Ctx, catalog.CreateInput{
		Class:    catalog.ClassFinishedGood,
		Code:     code,
		Name:     "Finished " + code,
		Unit:     "UNIT",
		MinStock: 5,
		PriceHT:  &d,
	}, Admin)
	require.NoError(e.T, err)
	return p
}

// LotSpec describes a lot to receive.
type LotSpec struct {
	Quantity types.Quantity
	Expiry   *time.Time
	UnitCost string
}

// Receive books one reception line and returns its lot.
func (e *TestEnv) Receive(productID id.ID, spec LotSpec) stock.Lot {
	e.T.Helper()
	line := stock.ReceptionLine{ProductID: productID, Quantity: spec.Quantity, Expiry: spec.Expiry}
	if spec.UnitCost != "" {
		c := decimal.RequireFromString(spec.UnitCost)
		line.UnitCost = &c
	}
	rec, err := e.Ledger.Receive(e.Ctx, stock.ReceptionInput{Lines: []stock.ReceptionLine{line}}, Appro)
	require.NoError(e.T, err)
	require.Len(e.T, rec.Lots, 1)
	return rec.Lots[0]
}

// Stock folds the ledger for a product.
func (e *TestEnv) Stock(class catalog.Class, productID id.ID) types.Quantity {
	e.T.Helper()
	s, err := e.Ledger.CalculateStock(e.Ctx, class, productID)
	require.NoError(e.T, err)
	return s
}

// Lot reloads a lot.
func (e *TestEnv) Lot(lotID id.ID) *stock.Lot {
	e.T.Helper()
	l, err := e.Ledger.Lot(e.Ctx, lotID)
	require.NoError(e.T, err)
	return l
}

// Day returns a date n days after Start, at midnight UTC.
func Day(n int) *time.Time {
	d := time.Date(Start.Year(), Start.Month(), Start.Day()+n, 0, 0, 0, 0, time.UTC)
	return &d
}
