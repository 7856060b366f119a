package ledger_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/stock"
	"stockledger/internal/infrastructure/storage/postgres"
)

var movementColumns = postgres.ExtractDBColumns[stock.Movement]()

var _ stock.MovementRepository = (*MovementRepo)(nil)

// MovementRepo implements stock.MovementRepository on stock_movements.
// Rows are never updated except for the voided flag.
type MovementRepo struct {
	baseRepo
}

// NewMovementRepo creates a new movement repository.
func NewMovementRepo(txm *postgres.TxManager) *MovementRepo {
	return &MovementRepo{baseRepo: newBaseRepo(txm)}
}

func (r *MovementRepo) Insert(ctx context.Context, m *stock.Movement) error {
	q := r.builder.Insert(movementsTable).SetMap(postgres.StructToMap(m))
	if _, err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

// SumByDirection folds the non-voided movements of a product. Under
// SERIALIZABLE isolation the scan conflicts with any concurrent insert for the
// same product, which then fails with CONCURRENT_MODIFICATION.
func (r *MovementRepo) SumByDirection(ctx context.Context, class catalog.Class, productID id.ID) (in, out types.Quantity, err error) {
	err = r.txm.GetQuerier(ctx).QueryRow(ctx, `
		SELECT
			COALESCE(SUM(quantity) FILTER (WHERE movement_type = 'IN'), 0),
			COALESCE(SUM(quantity) FILTER (WHERE movement_type = 'OUT'), 0)
		FROM stock_movements
		WHERE product_class = $1 AND product_id = $2 AND NOT is_voided
	`, class, productID).Scan(&in, &out)
	if err != nil {
		return 0, 0, fmt.Errorf("sum movements: %w", postgres.TranslateError(ctx, err))
	}
	return in, out, nil
}

func (r *MovementRepo) GetByIdempotencyKey(ctx context.Context, key string) (*stock.Movement, error) {
	q := r.builder.Select(movementColumns...).
		From(movementsTable).
		Where(squirrel.Eq{"idempotency_key": key})

	var m stock.Movement
	if err := r.getOne(ctx, &m, q); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get movement by idempotency key: %w", err)
	}
	return &m, nil
}

// List returns matching movements, newest first.
func (r *MovementRepo) List(ctx context.Context, f stock.MovementFilter) ([]stock.Movement, error) {
	q := r.builder.Select(movementColumns...).From(movementsTable)

	if !f.IncludeVoided {
		q = q.Where(squirrel.Eq{"is_voided": false})
	}
	if f.ProductClass != "" {
		q = q.Where(squirrel.Eq{"product_class": f.ProductClass})
	}
	if f.ProductID != nil {
		q = q.Where(squirrel.Eq{"product_id": *f.ProductID})
	}
	if f.LotID != nil {
		q = q.Where(squirrel.Eq{"lot_id": *f.LotID})
	}
	if f.Origin != "" {
		q = q.Where(squirrel.Eq{"origin": f.Origin})
	}
	if f.Reference != "" {
		q = q.Where(squirrel.Eq{"reference": f.Reference})
	}
	if f.From != nil {
		q = q.Where(squirrel.GtOrEq{"created_at": *f.From})
	}
	if f.To != nil {
		q = q.Where(squirrel.Lt{"created_at": *f.To})
	}

	q = q.OrderBy("created_at DESC", "id DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var movements []stock.Movement
	if err := r.selectAll(ctx, &movements, q); err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	return movements, nil
}

// GetForUpdate reads a movement with a row lock.
func (r *MovementRepo) GetForUpdate(ctx context.Context, movementID id.ID) (*stock.Movement, error) {
	q := r.builder.Select(movementColumns...).
		From(movementsTable).
		Where(squirrel.Eq{"id": movementID}).
		Suffix("FOR UPDATE")

	var m stock.Movement
	if err := r.getOne(ctx, &m, q); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("stock_movement", movementID)
		}
		return nil, fmt.Errorf("get movement: %w", err)
	}
	return &m, nil
}

// Void flags a movement as voided; it stays in history but leaves the stock fold.
func (r *MovementRepo) Void(ctx context.Context, movementID id.ID) error {
	n, err := r.exec(ctx, r.builder.Update(movementsTable).
		Set("is_voided", true).
		Where(squirrel.Eq{"id": movementID}))
	if err != nil {
		return fmt.Errorf("void movement: %w", err)
	}
	if n == 0 {
		return apperror.NewNotFound("stock_movement", movementID)
	}
	return nil
}
