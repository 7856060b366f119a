// Package ledger_repo provides PostgreSQL implementations of the ledger,
// lot, catalog, FIFO and reconciliation repositories.
// Every repository runs on the transaction carried by ctx when there is one.
package ledger_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/infrastructure/storage/postgres"
)

const (
	productsTable     = "products"
	lotsTable         = "lots"
	movementsTable    = "stock_movements"
	consumptionsTable = "lot_consumptions"
	declarationsTable = "inventory_declarations"
)

// baseRepo carries the transaction manager and the statement builder.
type baseRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

func newBaseRepo(txm *postgres.TxManager) baseRepo {
	return baseRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// selectAll runs q and scans every row into dst (a pointer to a slice).
func (r baseRepo) selectAll(ctx context.Context, dst any, q squirrel.Sqlizer) error {
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build select: %w", err)
	}
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), dst, sql, args...); err != nil {
		return postgres.TranslateError(ctx, err)
	}
	return nil
}

// getOne runs q and scans one row into dst. A missing row returns the
// pgxscan not-found error untranslated; callers map it to their entity.
func (r baseRepo) getOne(ctx context.Context, dst any, q squirrel.Sqlizer) error {
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build select: %w", err)
	}
	err = pgxscan.Get(ctx, r.txm.GetQuerier(ctx), dst, sql, args...)
	if err != nil && !pgxscan.NotFound(err) {
		return postgres.TranslateError(ctx, err)
	}
	return err
}

// exec runs q and returns the affected row count.
func (r baseRepo) exec(ctx context.Context, q squirrel.Sqlizer) (int64, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build statement: %w", err)
	}
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, postgres.TranslateError(ctx, err)
	}
	return tag.RowsAffected(), nil
}
