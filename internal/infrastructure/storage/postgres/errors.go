package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"stockledger/internal/core/apperror"
)

// SQLSTATE codes the ledger reacts to.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgUniqueViolation      = "23505"
	pgQueryCanceled        = "57014"
)

// TranslateError maps driver failures onto application errors. AppErrors pass
// through unchanged; unknown failures are returned as-is.
func TranslateError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperror.AsAppError(err); ok {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return apperror.NewConcurrentModification(pgErr.TableName, nil).
				WithDetail("sqlstate", pgErr.Code).
				WithCause(err)
		case pgUniqueViolation:
			return apperror.NewDuplicate(entityFor(pgErr.TableName), pgErr.ConstraintName).WithCause(err)
		case pgQueryCanceled:
			return apperror.NewTimeout(err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperror.NewTimeout(err)
	}
	return err
}

func entityFor(table string) string {
	switch table {
	case "products":
		return "product"
	case "lots":
		return "lot"
	case "stock_movements":
		return "movement"
	case "inventory_declarations":
		return "declaration"
	case "sys_idempotency":
		return "idempotency key"
	case "":
		return "record"
	}
	return table
}
