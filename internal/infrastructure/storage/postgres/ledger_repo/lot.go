package ledger_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/shopspring/decimal"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/stock"
	"stockledger/internal/infrastructure/storage/postgres"
)

var lotColumns = postgres.ExtractDBColumns[stock.Lot]()

// fifoOrder matches stock.CompareFIFO.
var fifoOrder = []string{"created_at", "expiry_date ASC NULLS LAST", "id"}

var _ stock.LotRepository = (*LotRepo)(nil)

// LotRepo implements stock.LotRepository on the lots table.
type LotRepo struct {
	baseRepo
}

// NewLotRepo creates a new lot repository.
func NewLotRepo(txm *postgres.TxManager) *LotRepo {
	return &LotRepo{baseRepo: newBaseRepo(txm)}
}

func (r *LotRepo) Create(ctx context.Context, lot *stock.Lot) error {
	q := r.builder.Insert(lotsTable).SetMap(postgres.StructToMap(lot))
	if _, err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("insert lot: %w", err)
	}
	return nil
}

func (r *LotRepo) Get(ctx context.Context, lotID id.ID) (*stock.Lot, error) {
	return r.get(ctx, lotID, "")
}

// GetForUpdate waits for the row lock; the lot may be held by a FIFO operation.
func (r *LotRepo) GetForUpdate(ctx context.Context, lotID id.ID) (*stock.Lot, error) {
	if _, err := r.txm.RequireTx(ctx, "lot GetForUpdate"); err != nil {
		return nil, err
	}
	return r.get(ctx, lotID, "FOR UPDATE")
}

func (r *LotRepo) get(ctx context.Context, lotID id.ID, suffix string) (*stock.Lot, error) {
	q := r.builder.Select(lotColumns...).
		From(lotsTable).
		Where(squirrel.Eq{"id": lotID})
	if suffix != "" {
		q = q.Suffix(suffix)
	}

	var lot stock.Lot
	if err := r.getOne(ctx, &lot, q); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("lot", lotID)
		}
		return nil, fmt.Errorf("get lot: %w", err)
	}
	return &lot, nil
}

// Update writes the mutable lot fields. Identity and origin columns never change.
func (r *LotRepo) Update(ctx context.Context, lot *stock.Lot) error {
	fields := postgres.Without(postgres.StructToMap(lot),
		"id", "product_class", "product_id", "lot_number", "quantity_initial",
		"source_type", "source_ref", "created_at")

	n, err := r.exec(ctx, r.builder.Update(lotsTable).
		SetMap(fields).
		Where(squirrel.Eq{"id": lot.ID}))
	if err != nil {
		return fmt.Errorf("update lot: %w", err)
	}
	if n == 0 {
		return apperror.NewNotFound("lot", lot.ID)
	}
	return nil
}

func (r *LotRepo) consumable(productID id.ID) squirrel.SelectBuilder {
	return r.builder.Select(lotColumns...).
		From(lotsTable).
		Where(squirrel.Eq{"product_id": productID, "status": stock.LotAvailable}).
		Where(squirrel.Gt{"quantity_remaining": 0}).
		OrderBy(fifoOrder...)
}

// LockConsumable locks the product's consumable lots in FIFO order. Rows held by
// another transaction are skipped, so two FIFO operations on one product never
// wait on each other; the second sees less stock instead.
func (r *LotRepo) LockConsumable(ctx context.Context, productID id.ID) ([]stock.Lot, error) {
	if _, err := r.txm.RequireTx(ctx, "LockConsumable"); err != nil {
		return nil, err
	}
	var lots []stock.Lot
	if err := r.selectAll(ctx, &lots, r.consumable(productID).Suffix("FOR UPDATE SKIP LOCKED")); err != nil {
		return nil, fmt.Errorf("lock consumable lots: %w", err)
	}
	return lots, nil
}

func (r *LotRepo) ListConsumable(ctx context.Context, productID id.ID) ([]stock.Lot, error) {
	var lots []stock.Lot
	if err := r.selectAll(ctx, &lots, r.consumable(productID)); err != nil {
		return nil, fmt.Errorf("list consumable lots: %w", err)
	}
	return lots, nil
}

// LockExpired locks consumable lots whose expiry date is before the given day.
func (r *LotRepo) LockExpired(ctx context.Context, before time.Time) ([]stock.Lot, error) {
	if _, err := r.txm.RequireTx(ctx, "LockExpired"); err != nil {
		return nil, err
	}
	q := r.builder.Select(lotColumns...).
		From(lotsTable).
		Where(squirrel.Eq{"status": stock.LotAvailable}).
		Where(squirrel.Gt{"quantity_remaining": 0}).
		Where(squirrel.Lt{"expiry_date": before}).
		OrderBy("expiry_date", "id").
		Suffix("FOR UPDATE SKIP LOCKED")

	var lots []stock.Lot
	if err := r.selectAll(ctx, &lots, q); err != nil {
		return nil, fmt.Errorf("lock expired lots: %w", err)
	}
	return lots, nil
}

func (r *LotRepo) ListExpiringOn(ctx context.Context, day time.Time) ([]stock.Lot, error) {
	y, m, d := day.UTC().Date()
	q := r.builder.Select(lotColumns...).
		From(lotsTable).
		Where(squirrel.Eq{"status": stock.LotAvailable, "expiry_date": time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}).
		Where(squirrel.Gt{"quantity_remaining": 0}).
		OrderBy(fifoOrder...)

	var lots []stock.Lot
	if err := r.selectAll(ctx, &lots, q); err != nil {
		return nil, fmt.Errorf("list expiring lots: %w", err)
	}
	return lots, nil
}

func (r *LotRepo) ListByProduct(ctx context.Context, productID id.ID, f stock.LotFilter) ([]stock.Lot, error) {
	q := r.builder.Select(lotColumns...).
		From(lotsTable).
		Where(squirrel.Eq{"product_id": productID}).
		OrderBy(fifoOrder...)
	if f.Status != "" {
		q = q.Where(squirrel.Eq{"status": f.Status})
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var lots []stock.Lot
	if err := r.selectAll(ctx, &lots, q); err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}
	return lots, nil
}

func (r *LotRepo) HasPositiveRemaining(ctx context.Context, productID id.ID) (bool, error) {
	var exists bool
	err := r.txm.GetQuerier(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM lots WHERE product_id = $1 AND quantity_remaining > 0)`,
		productID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check lot stock: %w", postgres.TranslateError(ctx, err))
	}
	return exists, nil
}

// AverageUnitCost is the plain mean over lots that carry a unit cost.
func (r *LotRepo) AverageUnitCost(ctx context.Context, productID id.ID) (decimal.NullDecimal, error) {
	var avg decimal.NullDecimal
	err := r.txm.GetQuerier(ctx).QueryRow(ctx,
		`SELECT AVG(unit_cost) FROM lots WHERE product_id = $1 AND unit_cost IS NOT NULL`,
		productID).Scan(&avg)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("average unit cost: %w", postgres.TranslateError(ctx, err))
	}
	return avg, nil
}
