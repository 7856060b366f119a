//go:build integration

package ledger_repo_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/core/idempotency"
	"stockledger/internal/core/tx"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/alert"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/fifo"
	"stockledger/internal/domain/reconciliation"
	"stockledger/internal/domain/stock"
	"stockledger/internal/infrastructure/storage/postgres"
	"stockledger/internal/infrastructure/storage/postgres/ledger_repo"
	"stockledger/internal/testutil"
	"stockledger/pkg/numerator"
)

var (
	sharedDSN  string
	sharedOnce sync.Once
	sharedErr  error
)

// startDatabase starts one migrated PostgreSQL container for the package.
func startDatabase(t *testing.T) string {
	t.Helper()
	sharedOnce.Do(func() {
		ctx := context.Background()
		container, err := tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("stockledger_test"),
			tcpostgres.WithUsername("postgres"),
			tcpostgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if err != nil {
			sharedErr = err
			return
		}
		dsn, err := container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			sharedErr = err
			return
		}

		m, err := postgres.NewMigrator(dsn, zap.NewNop())
		if err != nil {
			sharedErr = err
			return
		}
		defer m.Close()
		if sharedErr = m.Up(); sharedErr != nil {
			return
		}
		sharedDSN = dsn
	})
	require.NoError(t, sharedErr)
	return sharedDSN
}

type pgEnv struct {
	ctx      context.Context
	pool     *postgres.Pool
	txm      *postgres.TxManager
	catalog  *catalog.Service
	ledger   *stock.Service
	fifo     *fifo.Engine
	recon    *reconciliation.Service
	audit    *postgres.AuditStore
	idem     *postgres.IdempotencyStore
	lots     *ledger_repo.LotRepo
	products *ledger_repo.ProductRepo
}

func newPgEnv(t *testing.T) *pgEnv {
	t.Helper()
	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(startDatabase(t)))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	txm := postgres.NewTxManager(pool, 30*time.Second)
	auditStore, err := postgres.NewAuditStore(txm)
	require.NoError(t, err)
	idem := postgres.NewIdempotencyStore(txm, time.Hour)
	recorder := audit.NewRecorder(auditStore)
	outbox := postgres.NewOutboxPublisher(txm)

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
	engine := fifo.NewEngine(ledger, ledger_repo.NewConsumptionRepo(txm), idem, txm, recorder, fifo.DefaultConfig())
	recon := reconciliation.NewService(ledger_repo.NewDeclarationRepo(txm), ledger, cat, txm, outbox, recorder, reconciliation.DefaultOptions())

	return &pgEnv{
		ctx:      ctx,
		pool:     pool,
		txm:      txm,
		catalog:  cat,
		ledger:   ledger,
		fifo:     engine,
		recon:    recon,
		audit:    auditStore,
		idem:     idem,
		lots:     lots,
		products: products,
	}
}

// rawMaterial creates a uniquely coded MP product so tests can share the database.
func (e *pgEnv) rawMaterial(t *testing.T, perishable bool) *catalog.Product {
	t.Helper()
	p, err := e.catalog.Create(e.ctx, catalog.CreateInput{
		Class:        catalog.ClassRawMaterial,
		Code:         "MP-" + id.New().String()[:13],
		Name:         "Raw material",
		Unit:         "KG",
		MinStock:     10,
		IsPerishable: &perishable,
	}, testutil.Admin)
	require.NoError(t, err)
	return p
}

func (e *pgEnv) receive(t *testing.T, productID id.ID, qty types.Quantity, cost string, expiry *time.Time) stock.Lot {
	t.Helper()
	c := decimal.RequireFromString(cost)
	rec, err := e.ledger.Receive(e.ctx, stock.ReceptionInput{Lines: []stock.ReceptionLine{{
		ProductID: productID, Quantity: qty, UnitCost: &c, Expiry: expiry,
	}}}, testutil.Appro)
	require.NoError(t, err)
	require.Len(t, rec.Lots, 1)
	return rec.Lots[0]
}

func (e *pgEnv) stock(t *testing.T, productID id.ID) types.Quantity {
	t.Helper()
	s, err := e.ledger.CalculateStock(e.ctx, catalog.ClassRawMaterial, productID)
	require.NoError(t, err)
	return s
}

func TestProductRepo_RoundTrip(t *testing.T) {
	env := newPgEnv(t)
	mp := env.rawMaterial(t, true)

	got, err := env.products.Get(env.ctx, mp.ID)
	require.NoError(t, err)
	assert.Equal(t, mp.Code, got.Code)
	assert.True(t, got.IsPerishable)
	assert.False(t, got.PriceHT.Valid)

	_, err = env.catalog.Create(env.ctx, catalog.CreateInput{
		Class: catalog.ClassRawMaterial, Code: mp.Code, Name: "dup", Unit: "KG",
	}, testutil.Admin)
	assert.True(t, apperror.HasCode(err, apperror.CodeDuplicate), "got %v", err)

	_, err = env.products.Get(env.ctx, id.New())
	assert.True(t, apperror.IsNotFound(err))
}

func TestReceiveAndValuation(t *testing.T) {
	env := newPgEnv(t)
	mp := env.rawMaterial(t, false)

	expiry := time.Now().UTC().AddDate(0, 1, 0).Truncate(24 * time.Hour)
	lot := env.receive(t, mp.ID, 40, "4", &expiry)
	env.receive(t, mp.ID, 60, "6", nil)

	assert.Equal(t, types.Quantity(100), env.stock(t, mp.ID))
	assert.Regexp(t, `^LMP-\d{4}-\d{5}$`, lot.LotNumber)

	stored, err := env.lots.Get(env.ctx, lot.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ExpiryDate)
	assert.True(t, expiry.Equal(*stored.ExpiryDate))
	assert.True(t, stored.UnitCost.Decimal.Equal(decimal.NewFromInt(4)))

	info, err := env.catalog.Lookup(env.ctx, catalog.ClassRawMaterial, mp.ID)
	require.NoError(t, err)
	assert.True(t, info.UnitCost.Equal(decimal.NewFromInt(5)), "got %s", info.UnitCost)

	history, err := env.audit.EntityHistory(env.ctx, "lot", lot.ID.String(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, audit.ActionLotReceived, history[0].Action)
}

func TestVoidMovement_LeavesFold(t *testing.T) {
	env := newPgEnv(t)
	mp := env.rawMaterial(t, false)
	env.receive(t, mp.ID, 20, "2", nil)

	m, err := env.ledger.CreateMovement(env.ctx, stock.MovementInput{
		ProductClass: catalog.ClassRawMaterial,
		ProductID:    mp.ID,
		Origin:       stock.OriginInventory,
		Direction:    stock.DirectionOut,
		Quantity:     4,
	}, testutil.Admin)
	require.NoError(t, err)
	assert.Equal(t, types.Quantity(16), env.stock(t, mp.ID))

	_, err = env.ledger.VoidMovement(env.ctx, m.ID, "duplicate entry", testutil.Admin)
	require.NoError(t, err)
	assert.Equal(t, types.Quantity(20), env.stock(t, mp.ID))

	_, err = env.ledger.VoidMovement(env.ctx, m.ID, "duplicate entry", testutil.Admin)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidStatus))

	all, err := env.ledger.Movements(env.ctx, stock.MovementFilter{ProductID: &mp.ID, IncludeVoided: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	history, err := env.audit.EntityHistory(env.ctx, "stock_movement", m.ID.String(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, audit.ActionMovementVoided, history[0].Action)
}

func TestFIFO_ConsumeAndReverse(t *testing.T) {
	env := newPgEnv(t)
	mp := env.rawMaterial(t, true)
	first := env.receive(t, mp.ID, 30, "1", nil)
	second := env.receive(t, mp.ID, 50, "1", nil)

	key := "consume-" + id.New().String()
	in := fifo.ConsumeInput{
		ProductClass:   catalog.ClassRawMaterial,
		ProductID:      mp.ID,
		Quantity:       45,
		Origin:         stock.OriginProductionOut,
		IdempotencyKey: &key,
	}
	res, err := env.fifo.Consume(env.ctx, in, testutil.Production)
	require.NoError(t, err)
	require.Len(t, res.Consumptions, 2)
	assert.Equal(t, first.ID, res.Consumptions[0].LotID)
	assert.Equal(t, types.Quantity(30), res.Consumptions[0].Quantity)
	assert.Equal(t, second.ID, res.Consumptions[1].LotID)
	assert.Equal(t, types.Quantity(35), env.stock(t, mp.ID))

	replay, err := env.fifo.Consume(env.ctx, in, testutil.Production)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, res.OperationID, replay.OperationID)
	assert.Equal(t, types.Quantity(35), env.stock(t, mp.ID))

	consumed, err := env.lots.Get(env.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, stock.LotConsumed, consumed.Status)

	rev, err := env.fifo.Reverse(env.ctx, res.OperationID, "wrong order", testutil.Production)
	require.NoError(t, err)
	assert.Equal(t, types.Quantity(45), rev.TotalRestored)
	assert.Equal(t, types.Quantity(80), env.stock(t, mp.ID))

	restored, err := env.lots.Get(env.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, stock.LotAvailable, restored.Status)
	assert.Nil(t, restored.ConsumedAt)

	_, err = env.fifo.Reverse(env.ctx, res.OperationID, "again", testutil.Production)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidStatus), "got %v", err)
}

// Concurrent consumers never drive stock negative: each either commits a full
// plan or fails without side effects.
func TestFIFO_ConcurrentConsumers(t *testing.T) {
	env := newPgEnv(t)
	mp := env.rawMaterial(t, false)
	for range 4 {
		env.receive(t, mp.ID, 25, "1", nil)
	}

	const workers = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		failures  []error
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.fifo.Consume(env.ctx, fifo.ConsumeInput{
				ProductClass: catalog.ClassRawMaterial,
				ProductID:    mp.ID,
				Quantity:     30,
				Origin:       stock.OriginProductionOut,
			}, testutil.Production)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			succeeded++
		}()
	}
	wg.Wait()

	for _, err := range failures {
		assert.True(t,
			apperror.IsRetryable(err) ||
				apperror.HasCode(err, apperror.CodeInsufficientStockFIFO) ||
				apperror.HasCode(err, apperror.CodeInsufficientStock),
			"unexpected failure: %v", err)
	}
	assert.LessOrEqual(t, succeeded, 3)
	assert.Equal(t, types.Quantity(100-30*succeeded), env.stock(t, mp.ID))

	lots, err := env.lots.ListByProduct(env.ctx, mp.ID, stock.LotFilter{})
	require.NoError(t, err)
	var remaining types.Quantity
	for _, l := range lots {
		assert.GreaterOrEqual(t, l.QuantityRemaining, types.Quantity(0))
		remaining += l.QuantityRemaining
	}
	assert.Equal(t, env.stock(t, mp.ID), remaining)
}

func TestReconciliation_DoubleValidationAndOutbox(t *testing.T) {
	env := newPgEnv(t)
	mp := env.rawMaterial(t, true)
	env.receive(t, mp.ID, 1000, "1", nil)

	res, err := env.recon.Declare(env.ctx, reconciliation.DeclareInput{
		ProductClass:     catalog.ClassRawMaterial,
		ProductID:        mp.ID,
		DeclaredQuantity: 600,
	}, testutil.Appro)
	require.NoError(t, err)
	assert.Equal(t, reconciliation.StatusPendingDoubleValidation, res.Status)

	var pending int
	require.NoError(t, env.pool.QueryRow(env.ctx,
		`SELECT count(*) FROM sys_outbox WHERE aggregate_id = $1 AND event_type = $2`,
		res.DeclarationID.String(), string(alert.TypeHighInventoryDiscrepancy)).Scan(&pending))
	assert.Equal(t, 1, pending)

	_, err = env.recon.AttachEvidence(env.ctx, res.DeclarationID, []string{"photo-1"}, testutil.Appro)
	require.NoError(t, err)

	_, err = env.recon.Validate(env.ctx, res.DeclarationID, "counted twice", testutil.Appro)
	assert.True(t, apperror.HasCode(err, apperror.CodeSelfValidationForbidden), "got %v", err)

	_, err = env.recon.Validate(env.ctx, res.DeclarationID, "first", testutil.Admin)
	require.NoError(t, err)
	_, err = env.recon.Validate(env.ctx, res.DeclarationID, "second", testutil.Admin2)
	require.NoError(t, err)

	assert.Equal(t, types.Quantity(600), env.stock(t, mp.ID))
	d, err := env.recon.Get(env.ctx, res.DeclarationID)
	require.NoError(t, err)
	assert.Equal(t, reconciliation.StatusApproved, d.Status)
	assert.Equal(t, []string{"photo-1"}, d.Evidence)

	var published []string
	relay := postgres.NewOutboxRelay(env.txm, 100, postgres.OutboxHandlerFunc(func(_ context.Context, msg *postgres.OutboxMessage) error {
		a, err := msg.Alert()
		if err != nil {
			return err
		}
		published = append(published, a.EntityID)
		return nil
	}))
	_, err = relay.ProcessBatch(env.ctx)
	require.NoError(t, err)
	assert.Contains(t, published, res.DeclarationID.String())
}

func TestNotifyListener_WakesOnOutboxInsert(t *testing.T) {
	env := newPgEnv(t)
	outbox := postgres.NewOutboxPublisher(env.txm)

	wake := make(chan struct{}, 1)
	listener := postgres.NewNotifyListener(env.pool, postgres.OutboxChannel)
	listener.OnNotify(postgres.WakeChannel(wake))
	require.NoError(t, listener.Start(env.ctx))
	t.Cleanup(listener.Stop)

	// LISTEN is issued asynchronously; keep inserting until one wake-up lands.
	require.Eventually(t, func() bool {
		err := env.txm.RunInTransaction(env.ctx, func(ctx context.Context) error {
			return outbox.Raise(ctx, alert.New(alert.TypeLotExpiringSoon, alert.SeverityInfo, "t", "m").For("lot", id.New()))
		})
		require.NoError(t, err)
		select {
		case <-wake:
			return true
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 10*time.Second, 50*time.Millisecond)
}

func TestIdempotencyStore(t *testing.T) {
	env := newPgEnv(t)
	key := "k-" + id.New().String()

	rec, err := env.idem.Lookup(env.ctx, key, "op")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, env.idem.Save(env.ctx, idempotencyRecord(key)))
	err = env.idem.Save(env.ctx, idempotencyRecord(key))
	assert.True(t, apperror.HasCode(err, apperror.CodeDuplicate), "got %v", err)

	rec, err = env.idem.Lookup(env.ctx, key, "op")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.JSONEq(t, `{"ok":true}`, string(rec.Response))
}

func TestTxManager_ReadOnlyRejectsWrites(t *testing.T) {
	env := newPgEnv(t)
	err := env.txm.ReadOnly(env.ctx, func(ctx context.Context) error {
		_, err := env.txm.GetQuerier(ctx).Exec(ctx, `INSERT INTO sys_sequences (key, current_val) VALUES ('ro', 1)`)
		return err
	})
	require.Error(t, err)
}

func TestTxManager_TimeoutIsRetryable(t *testing.T) {
	env := newPgEnv(t)
	err := env.txm.RunInTransactionWithOptions(env.ctx, txTimeout(50*time.Millisecond), func(ctx context.Context) error {
		_, err := env.txm.GetQuerier(ctx).Exec(ctx, `SELECT pg_sleep(1)`)
		return err
	})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeTimeout), "got %v", err)
}

func idempotencyRecord(key string) idempotency.Record {
	return idempotency.Record{
		Key:         key,
		Operation:   "op",
		ActorID:     testutil.Admin.ID,
		RequestHash: "hash",
		Response:    []byte(`{"ok":true}`),
	}
}

func txTimeout(d time.Duration) tx.Options {
	return tx.Options{Timeout: d}
}
