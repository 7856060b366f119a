package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/fifo"
	"stockledger/internal/domain/reconciliation"
)

var (
	_ fifo.ConsumptionRepository = (*ConsumptionRepo)(nil)
	_ reconciliation.Repository  = (*DeclarationRepo)(nil)
)

// ConsumptionRepo implements fifo.ConsumptionRepository.
type ConsumptionRepo struct{ s *Store }

func (r *ConsumptionRepo) Insert(ctx context.Context, records []fifo.Record) error {
	return r.s.view(ctx, func(st *state) error {
		st.consumptions = append(st.consumptions, records...)
		return nil
	})
}

func (r *ConsumptionRepo) ListByOperation(ctx context.Context, operationID id.ID) ([]fifo.Record, error) {
	var out []fifo.Record
	err := r.s.view(ctx, func(st *state) error {
		for _, rec := range st.consumptions {
			if rec.OperationID == operationID {
				out = append(out, rec)
			}
		}
		return nil
	})
	return out, err
}

func (r *ConsumptionRepo) MarkReversed(ctx context.Context, recordID, reversalMovementID id.ID, at time.Time) (bool, error) {
	var marked bool
	err := r.s.view(ctx, func(st *state) error {
		for i := range st.consumptions {
			rec := &st.consumptions[i]
			if rec.ID != recordID || rec.ReversedAt != nil {
				continue
			}
			rec.ReversedAt = &at
			rec.ReversalMovementID = &reversalMovementID
			marked = true
		}
		return nil
	})
	return marked, err
}

// DeclarationRepo implements reconciliation.Repository.
type DeclarationRepo struct{ s *Store }

func (r *DeclarationRepo) Create(ctx context.Context, d *reconciliation.Declaration) error {
	return r.s.view(ctx, func(st *state) error {
		c := *d
		c.Evidence = slices.Clone(d.Evidence)
		st.declarations[d.ID] = c
		return nil
	})
}

func (r *DeclarationRepo) Get(ctx context.Context, declarationID id.ID) (*reconciliation.Declaration, error) {
	var out *reconciliation.Declaration
	err := r.s.view(ctx, func(st *state) error {
		d, ok := st.declarations[declarationID]
		if !ok {
			return apperror.NewDeclarationNotFound(declarationID)
		}
		d.Evidence = slices.Clone(d.Evidence)
		out = &d
		return nil
	})
	return out, err
}

func (r *DeclarationRepo) GetForUpdate(ctx context.Context, declarationID id.ID) (*reconciliation.Declaration, error) {
	return r.Get(ctx, declarationID)
}

func (r *DeclarationRepo) Update(ctx context.Context, d *reconciliation.Declaration) error {
	return r.s.view(ctx, func(st *state) error {
		if _, ok := st.declarations[d.ID]; !ok {
			return apperror.NewDeclarationNotFound(d.ID)
		}
		c := *d
		c.Evidence = slices.Clone(d.Evidence)
		st.declarations[d.ID] = c
		return nil
	})
}

func (r *DeclarationRepo) LatestCounted(ctx context.Context, class catalog.Class, productID id.ID, since time.Time) (*reconciliation.Declaration, error) {
	list, err := r.filter(ctx, func(d reconciliation.Declaration) bool {
		return d.ProductClass == class && d.ProductID == productID &&
			!d.CountedAt.Before(since) && d.Status.CountsForCooldown()
	}, newestFirst)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (r *DeclarationRepo) RecentByCounter(ctx context.Context, class catalog.Class, productID id.ID, counterID string, since time.Time, statuses []reconciliation.Status, limit int) ([]reconciliation.Declaration, error) {
	list, err := r.filter(ctx, func(d reconciliation.Declaration) bool {
		return d.ProductClass == class && d.ProductID == productID && d.CountedBy == counterID &&
			!d.CountedAt.Before(since) && slices.Contains(statuses, d.Status)
	}, newestFirst)
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, err
}

func (r *DeclarationRepo) ListPending(ctx context.Context) ([]reconciliation.Declaration, error) {
	return r.filter(ctx, func(d reconciliation.Declaration) bool {
		return d.Status.IsPending()
	}, func(a, b reconciliation.Declaration) int {
		if c := cmp.Compare(b.RiskLevel.Rank(), a.RiskLevel.Rank()); c != 0 {
			return c
		}
		return a.CountedAt.Compare(b.CountedAt)
	})
}

func (r *DeclarationRepo) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]reconciliation.Declaration, error) {
	return r.filter(ctx, func(d reconciliation.Declaration) bool {
		return d.Status.IsPending() && d.CountedAt.Before(cutoff)
	}, func(a, b reconciliation.Declaration) int { return a.CountedAt.Compare(b.CountedAt) })
}

func (r *DeclarationRepo) ListByProduct(ctx context.Context, class catalog.Class, productID id.ID, limit int) ([]reconciliation.Declaration, error) {
	list, err := r.filter(ctx, func(d reconciliation.Declaration) bool {
		return d.ProductClass == class && d.ProductID == productID
	}, newestFirst)
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, err
}

func newestFirst(a, b reconciliation.Declaration) int {
	if c := b.CountedAt.Compare(a.CountedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID.String(), a.ID.String())
}

func (r *DeclarationRepo) filter(ctx context.Context, keep func(reconciliation.Declaration) bool, order func(a, b reconciliation.Declaration) int) ([]reconciliation.Declaration, error) {
	var out []reconciliation.Declaration
	err := r.s.view(ctx, func(st *state) error {
		for _, d := range st.declarations {
			if keep(d) {
				d.Evidence = slices.Clone(d.Evidence)
				out = append(out, d)
			}
		}
		return nil
	})
	slices.SortFunc(out, order)
	return out, err
}
