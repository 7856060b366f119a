package ledger_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/reconciliation"
	"stockledger/internal/infrastructure/storage/postgres"
)

var declarationColumns = postgres.ExtractDBColumns[reconciliation.Declaration]()

// riskRank sorts CRITICAL first.
const riskRank = `CASE risk_level WHEN 'CRITICAL' THEN 3 WHEN 'HIGH' THEN 2 WHEN 'MEDIUM' THEN 1 ELSE 0 END DESC`

var (
	pendingStatuses  = []reconciliation.Status{reconciliation.StatusPendingValidation, reconciliation.StatusPendingDoubleValidation}
	noCooldownStatus = []reconciliation.Status{reconciliation.StatusRejected, reconciliation.StatusExpired}
)

var _ reconciliation.Repository = (*DeclarationRepo)(nil)

// DeclarationRepo implements reconciliation.Repository on inventory_declarations.
type DeclarationRepo struct {
	baseRepo
}

// NewDeclarationRepo creates a new declaration repository.
func NewDeclarationRepo(txm *postgres.TxManager) *DeclarationRepo {
	return &DeclarationRepo{baseRepo: newBaseRepo(txm)}
}

func declarationFields(d *reconciliation.Declaration) map[string]any {
	fields := postgres.StructToMap(d)
	if d.Evidence == nil {
		fields["evidence"] = []string{}
	}
	return fields
}

func (r *DeclarationRepo) Create(ctx context.Context, d *reconciliation.Declaration) error {
	q := r.builder.Insert(declarationsTable).SetMap(declarationFields(d))
	if _, err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("insert declaration: %w", err)
	}
	return nil
}

func (r *DeclarationRepo) Get(ctx context.Context, declarationID id.ID) (*reconciliation.Declaration, error) {
	return r.get(ctx, declarationID, "")
}

func (r *DeclarationRepo) GetForUpdate(ctx context.Context, declarationID id.ID) (*reconciliation.Declaration, error) {
	if _, err := r.txm.RequireTx(ctx, "declaration GetForUpdate"); err != nil {
		return nil, err
	}
	return r.get(ctx, declarationID, "FOR UPDATE")
}

func (r *DeclarationRepo) get(ctx context.Context, declarationID id.ID, suffix string) (*reconciliation.Declaration, error) {
	q := r.builder.Select(declarationColumns...).
		From(declarationsTable).
		Where(squirrel.Eq{"id": declarationID})
	if suffix != "" {
		q = q.Suffix(suffix)
	}

	var d reconciliation.Declaration
	if err := r.getOne(ctx, &d, q); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewDeclarationNotFound(declarationID)
		}
		return nil, fmt.Errorf("get declaration: %w", err)
	}
	return &d, nil
}

func (r *DeclarationRepo) Update(ctx context.Context, d *reconciliation.Declaration) error {
	fields := postgres.Without(declarationFields(d),
		"id", "product_class", "product_id", "counted_by", "counted_by_role", "counted_at")

	n, err := r.exec(ctx, r.builder.Update(declarationsTable).
		SetMap(fields).
		Where(squirrel.Eq{"id": d.ID}))
	if err != nil {
		return fmt.Errorf("update declaration: %w", err)
	}
	if n == 0 {
		return apperror.NewDeclarationNotFound(d.ID)
	}
	return nil
}

func (r *DeclarationRepo) ofProduct(class catalog.Class, productID id.ID) squirrel.SelectBuilder {
	return r.builder.Select(declarationColumns...).
		From(declarationsTable).
		Where(squirrel.Eq{"product_class": class, "product_id": productID})
}

func (r *DeclarationRepo) LatestCounted(ctx context.Context, class catalog.Class, productID id.ID, since time.Time) (*reconciliation.Declaration, error) {
	q := r.ofProduct(class, productID).
		Where(squirrel.GtOrEq{"counted_at": since}).
		Where(squirrel.NotEq{"status": noCooldownStatus}).
		OrderBy("counted_at DESC", "id DESC").
		Limit(1)

	var d reconciliation.Declaration
	if err := r.getOne(ctx, &d, q); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest counted declaration: %w", err)
	}
	return &d, nil
}

func (r *DeclarationRepo) RecentByCounter(ctx context.Context, class catalog.Class, productID id.ID, counterID string, since time.Time, statuses []reconciliation.Status, limit int) ([]reconciliation.Declaration, error) {
	q := r.ofProduct(class, productID).
		Where(squirrel.Eq{"counted_by": counterID, "status": statuses}).
		Where(squirrel.GtOrEq{"counted_at": since}).
		OrderBy("counted_at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	var list []reconciliation.Declaration
	if err := r.selectAll(ctx, &list, q); err != nil {
		return nil, fmt.Errorf("recent declarations by counter: %w", err)
	}
	return list, nil
}

// ListPending returns the validation queue, riskiest first, oldest first within a level.
func (r *DeclarationRepo) ListPending(ctx context.Context) ([]reconciliation.Declaration, error) {
	q := r.builder.Select(declarationColumns...).
		From(declarationsTable).
		Where(squirrel.Eq{"status": pendingStatuses}).
		OrderBy(riskRank, "counted_at")

	var list []reconciliation.Declaration
	if err := r.selectAll(ctx, &list, q); err != nil {
		return nil, fmt.Errorf("list pending declarations: %w", err)
	}
	return list, nil
}

func (r *DeclarationRepo) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]reconciliation.Declaration, error) {
	q := r.builder.Select(declarationColumns...).
		From(declarationsTable).
		Where(squirrel.Eq{"status": pendingStatuses}).
		Where(squirrel.Lt{"counted_at": cutoff}).
		OrderBy("counted_at")

	var list []reconciliation.Declaration
	if err := r.selectAll(ctx, &list, q); err != nil {
		return nil, fmt.Errorf("list stale declarations: %w", err)
	}
	return list, nil
}

func (r *DeclarationRepo) ListByProduct(ctx context.Context, class catalog.Class, productID id.ID, limit int) ([]reconciliation.Declaration, error) {
	q := r.ofProduct(class, productID).OrderBy("counted_at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	var list []reconciliation.Declaration
	if err := r.selectAll(ctx, &list, q); err != nil {
		return nil, fmt.Errorf("list declarations: %w", err)
	}
	return list, nil
}
