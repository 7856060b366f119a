// Package app wires the Postgres-backed ledger services shared by the binaries.
package app

import (
	"fmt"

	"stockledger/internal/config"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/fifo"
	"stockledger/internal/domain/reconciliation"
	"stockledger/internal/domain/stock"
	"stockledger/internal/infrastructure/storage/postgres"
	"stockledger/internal/infrastructure/storage/postgres/ledger_repo"
	"stockledger/pkg/numerator"
)

// Services is the assembled domain.
type Services struct {
	TxManager      *postgres.TxManager
	Catalog        *catalog.Service
	Ledger         *stock.Service
	FIFO           *fifo.Engine
	Reconciliation *reconciliation.Service
	Idempotency    *postgres.IdempotencyStore
	Audit          *postgres.AuditStore
}

// NewServices builds every service on the pool. cache may be nil.
func NewServices(cfg *config.Config, pool *postgres.Pool, cache stock.Cache) (*Services, error) {
	txm := postgres.NewTxManager(pool, cfg.DBStmtTimeout)

	auditStore, err := postgres.NewAuditStore(txm)
	if err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}
	recorder := audit.NewRecorder(auditStore)
	outbox := postgres.NewOutboxPublisher(txm)
	idem := postgres.NewIdempotencyStore(txm, cfg.IdempotencyTTL)

	products := ledger_repo.NewProductRepo(txm)
	lots := ledger_repo.NewLotRepo(txm)

	cat := catalog.NewService(products, txm, lots, lots, recorder)

	ledger := stock.NewService(
		ledger_repo.NewMovementRepo(txm),
		lots,
		cat,
		txm,
		numerator.New(pool),
		outbox,
		recorder,
		stock.DefaultServiceConfig(),
	)
	if cache != nil {
		ledger = ledger.WithCache(cache)
	}

	fifoCfg := fifo.DefaultConfig()
	fifoCfg.TxTimeout = cfg.FIFOTxTimeout
	fifoCfg.IdempotencyTTL = cfg.IdempotencyTTL
	engine := fifo.NewEngine(ledger, ledger_repo.NewConsumptionRepo(txm), idem, txm, recorder, fifoCfg)

	opts := reconciliation.DefaultOptions()
	opts.Cooldown = cfg.InventoryCooldown
	opts.SuspiciousLookback = cfg.SuspiciousLookback
	opts.DeclarationExpiry = cfg.DeclarationExpiry
	recon := reconciliation.NewService(ledger_repo.NewDeclarationRepo(txm), ledger, cat, txm, outbox, recorder, opts)

	return &Services{
		TxManager:      txm,
		Catalog:        cat,
		Ledger:         ledger,
		FIFO:           engine,
		Reconciliation: recon,
		Idempotency:    idem,
		Audit:          auditStore,
	}, nil
}
