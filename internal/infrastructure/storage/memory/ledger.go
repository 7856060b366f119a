package memory

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/stock"
)

var (
	_ stock.MovementRepository = (*MovementRepo)(nil)
	_ stock.LotRepository      = (*LotRepo)(nil)
)

// MovementRepo implements stock.MovementRepository.
type MovementRepo struct{ s *Store }

func (r *MovementRepo) Insert(ctx context.Context, m *stock.Movement) error {
	return r.s.view(ctx, func(st *state) error {
		if m.IdempotencyKey != nil {
			for _, existing := range st.movements {
				if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *m.IdempotencyKey {
					return apperror.NewDuplicate("stock_movement", "stock_movements_idempotency_key_key")
				}
			}
		}
		st.movements = append(st.movements, *m)
		return nil
	})
}

func (r *MovementRepo) SumByDirection(ctx context.Context, class catalog.Class, productID id.ID) (in, out types.Quantity, err error) {
	err = r.s.view(ctx, func(st *state) error {
		for _, m := range st.movements {
			if m.IsVoided || m.ProductClass != class || m.ProductID != productID {
				continue
			}
			if m.Direction == stock.DirectionIn {
				in += m.Quantity
			} else {
				out += m.Quantity
			}
		}
		return nil
	})
	return in, out, err
}

func (r *MovementRepo) GetByIdempotencyKey(ctx context.Context, key string) (*stock.Movement, error) {
	var out *stock.Movement
	err := r.s.view(ctx, func(st *state) error {
		for _, m := range st.movements {
			if m.IdempotencyKey != nil && *m.IdempotencyKey == key {
				out = &m
				return nil
			}
		}
		return nil
	})
	return out, err
}

// List returns matching movements, newest first.
func (r *MovementRepo) List(ctx context.Context, f stock.MovementFilter) ([]stock.Movement, error) {
	var out []stock.Movement
	err := r.s.view(ctx, func(st *state) error {
		for _, m := range st.movements {
			switch {
			case m.IsVoided && !f.IncludeVoided,
				f.ProductClass != "" && m.ProductClass != f.ProductClass,
				f.ProductID != nil && m.ProductID != *f.ProductID,
				f.LotID != nil && (m.LotID == nil || *m.LotID != *f.LotID),
				f.Origin != "" && m.Origin != f.Origin,
				f.Reference != "" && (m.Reference == nil || *m.Reference != f.Reference),
				f.From != nil && m.CreatedAt.Before(*f.From),
				f.To != nil && !m.CreatedAt.Before(*f.To):
				continue
			}
			out = append(out, m)
		}
		return nil
	})
	slices.Reverse(out)
	if f.Limit > 0 && uint64(len(out)) > f.Limit {
		out = out[:f.Limit]
	}
	return out, err
}

// GetForUpdate returns a copy of the movement.
func (r *MovementRepo) GetForUpdate(ctx context.Context, movementID id.ID) (*stock.Movement, error) {
	var out *stock.Movement
	err := r.s.view(ctx, func(st *state) error {
		for _, m := range st.movements {
			if m.ID == movementID {
				out = &m
				return nil
			}
		}
		return apperror.NewNotFound("stock_movement", movementID)
	})
	return out, err
}

// Void flags a movement as voided; it stays in history but leaves the stock fold.
func (r *MovementRepo) Void(ctx context.Context, movementID id.ID) error {
	return r.s.view(ctx, func(st *state) error {
		for i := range st.movements {
			if st.movements[i].ID == movementID {
				st.movements[i].IsVoided = true
				return nil
			}
		}
		return apperror.NewNotFound("stock_movement", movementID)
	})
}

// LotRepo implements stock.LotRepository. Every read inside a transaction is
// already exclusive, so the locking variants equal the plain ones.
type LotRepo struct{ s *Store }

func (r *LotRepo) Create(ctx context.Context, lot *stock.Lot) error {
	return r.s.view(ctx, func(st *state) error {
		for _, existing := range st.lots {
			if existing.ProductID == lot.ProductID && existing.LotNumber == lot.LotNumber {
				return apperror.NewDuplicate("lot", "lots_product_id_lot_number_key")
			}
		}
		st.lots[lot.ID] = *lot
		return nil
	})
}

func (r *LotRepo) Get(ctx context.Context, lotID id.ID) (*stock.Lot, error) {
	var out *stock.Lot
	err := r.s.view(ctx, func(st *state) error {
		lot, ok := st.lots[lotID]
		if !ok {
			return apperror.NewNotFound("lot", lotID)
		}
		out = &lot
		return nil
	})
	return out, err
}

func (r *LotRepo) GetForUpdate(ctx context.Context, lotID id.ID) (*stock.Lot, error) {
	return r.Get(ctx, lotID)
}

func (r *LotRepo) Update(ctx context.Context, lot *stock.Lot) error {
	return r.s.view(ctx, func(st *state) error {
		if _, ok := st.lots[lot.ID]; !ok {
			return apperror.NewNotFound("lot", lot.ID)
		}
		st.lots[lot.ID] = *lot
		return nil
	})
}

func (r *LotRepo) LockConsumable(ctx context.Context, productID id.ID) ([]stock.Lot, error) {
	return r.ListConsumable(ctx, productID)
}

func (r *LotRepo) ListConsumable(ctx context.Context, productID id.ID) ([]stock.Lot, error) {
	return r.filter(ctx, func(l stock.Lot) bool {
		return l.ProductID == productID && l.Consumable()
	})
}

func (r *LotRepo) LockExpired(ctx context.Context, before time.Time) ([]stock.Lot, error) {
	return r.filter(ctx, func(l stock.Lot) bool {
		return l.Consumable() && l.ExpiryDate != nil && l.ExpiryDate.Before(before)
	})
}

func (r *LotRepo) ListExpiringOn(ctx context.Context, day time.Time) ([]stock.Lot, error) {
	y, m, d := day.UTC().Date()
	return r.filter(ctx, func(l stock.Lot) bool {
		if !l.Consumable() || l.ExpiryDate == nil {
			return false
		}
		ly, lm, ld := l.ExpiryDate.UTC().Date()
		return ly == y && lm == m && ld == d
	})
}

func (r *LotRepo) ListByProduct(ctx context.Context, productID id.ID, f stock.LotFilter) ([]stock.Lot, error) {
	out, err := r.filter(ctx, func(l stock.Lot) bool {
		return l.ProductID == productID && (f.Status == "" || l.Status == f.Status)
	})
	if f.Limit > 0 && uint64(len(out)) > f.Limit {
		out = out[:f.Limit]
	}
	return out, err
}

func (r *LotRepo) HasPositiveRemaining(ctx context.Context, productID id.ID) (bool, error) {
	lots, err := r.filter(ctx, func(l stock.Lot) bool {
		return l.ProductID == productID && l.QuantityRemaining > 0
	})
	return len(lots) > 0, err
}

func (r *LotRepo) AverageUnitCost(ctx context.Context, productID id.ID) (decimal.NullDecimal, error) {
	lots, err := r.filter(ctx, func(l stock.Lot) bool {
		return l.ProductID == productID && l.UnitCost.Valid
	})
	if err != nil || len(lots) == 0 {
		return decimal.NullDecimal{}, err
	}
	sum := decimal.Zero
	for _, l := range lots {
		sum = sum.Add(l.UnitCost.Decimal)
	}
	return decimal.NewNullDecimal(sum.Div(decimal.NewFromInt(int64(len(lots))))), nil
}

// filter returns matching lots in FIFO order.
func (r *LotRepo) filter(ctx context.Context, keep func(stock.Lot) bool) ([]stock.Lot, error) {
	var out []stock.Lot
	err := r.s.view(ctx, func(st *state) error {
		for _, l := range st.lots {
			if keep(l) {
				out = append(out, l)
			}
		}
		return nil
	})
	stock.SortFIFO(out)
	return out, err
}
