package stock

import (
	"cmp"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/catalog"
)

// LotStatus is the lifecycle state of a lot.
type LotStatus string

const (
	LotAvailable LotStatus = "AVAILABLE"
	LotConsumed  LotStatus = "CONSUMED"
	// LotBlocked is terminal for consumption; only a loss declaration may still decrement it.
	LotBlocked LotStatus = "BLOCKED"
)

// Lot source types.
const (
	SourceReception  = "RECEPTION"
	SourceProduction = "PRODUCTION"
)

// BlockedReasonExpired is set by the expiry job.
const BlockedReasonExpired = "DLC_EXPIRED_AUTO"

// Lot is a traceable batch of one product with its own remaining quantity.
type Lot struct {
	ID                id.ID               `db:"id" json:"id"`
	ProductClass      catalog.Class       `db:"product_class" json:"productClass"`
	ProductID         id.ID               `db:"product_id" json:"productId"`
	LotNumber         string              `db:"lot_number" json:"lotNumber"`
	QuantityInitial   types.Quantity      `db:"quantity_initial" json:"quantityInitial"`
	QuantityRemaining types.Quantity      `db:"quantity_remaining" json:"quantityRemaining"`
	Status            LotStatus           `db:"status" json:"status"`
	ExpiryDate        *time.Time          `db:"expiry_date" json:"expiryDate,omitempty"`
	UnitCost          decimal.NullDecimal `db:"unit_cost" json:"unitCost"`
	SourceType        string              `db:"source_type" json:"sourceType"`
	SourceRef         *string             `db:"source_ref" json:"sourceRef,omitempty"`
	BlockedReason     *string             `db:"blocked_reason" json:"blockedReason,omitempty"`
	BlockedAt         *time.Time          `db:"blocked_at" json:"blockedAt,omitempty"`
	ConsumedAt        *time.Time          `db:"consumed_at" json:"consumedAt,omitempty"`
	CreatedAt         time.Time           `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time           `db:"updated_at" json:"updatedAt"`
}

// Snapshot captures the lot around a quantity change.
func (l *Lot) Snapshot(before types.Quantity) LotSnapshot {
	return LotSnapshot{
		LotNumber:      l.LotNumber,
		QuantityBefore: before,
		QuantityAfter:  l.QuantityRemaining,
		ExpiryDate:     l.ExpiryDate,
		ConsumedAt:     l.ConsumedAt,
	}
}

// Decrement removes qty from the lot. An AVAILABLE lot reaching zero becomes CONSUMED.
// A BLOCKED lot may be decremented only when allowBlocked is set (loss declarations),
// and never changes status.
func (l *Lot) Decrement(qty types.Quantity, allowBlocked bool, now time.Time) error {
	switch l.Status {
	case LotConsumed:
		return l.notAvailable()
	case LotBlocked:
		if !allowBlocked {
			return l.notAvailable()
		}
	}
	if qty > l.QuantityRemaining {
		return apperror.NewInsufficientStock(l.ProductID.String(), int64(qty), int64(l.QuantityRemaining)).
			WithDetail("lot_id", l.ID).
			WithDetail("lot_number", l.LotNumber)
	}

	l.QuantityRemaining -= qty
	l.UpdatedAt = now
	if l.QuantityRemaining == 0 && l.Status == LotAvailable {
		l.Status = LotConsumed
		l.ConsumedAt = &now
	}
	return nil
}

// Restore adds qty back to the lot. A CONSUMED lot becomes AVAILABLE again;
// a BLOCKED lot gets its quantity back but stays BLOCKED.
func (l *Lot) Restore(qty types.Quantity, now time.Time) error {
	if l.QuantityRemaining+qty > l.QuantityInitial {
		return apperror.NewValidation("Restored quantity exceeds the lot initial quantity").
			WithDetail("lot_id", l.ID).
			WithDetail("quantity_initial", int64(l.QuantityInitial)).
			WithDetail("quantity_remaining", int64(l.QuantityRemaining)).
			WithDetail("quantity", int64(qty))
	}

	l.QuantityRemaining += qty
	l.UpdatedAt = now
	if l.Status == LotConsumed && l.QuantityRemaining > 0 {
		l.Status = LotAvailable
		l.ConsumedAt = nil
	}
	return nil
}

// Block takes an AVAILABLE lot out of consumption.
func (l *Lot) Block(reason string, now time.Time) error {
	if l.Status != LotAvailable {
		return apperror.NewInvalidStatus("lot", string(l.Status))
	}
	l.Status = LotBlocked
	l.BlockedReason = &reason
	l.BlockedAt = &now
	l.UpdatedAt = now
	return nil
}

// Consumable reports whether FIFO may draw from the lot.
func (l *Lot) Consumable() bool {
	return l.Status == LotAvailable && l.QuantityRemaining > 0
}

// Value is remaining quantity times unit cost (zero without a cost).
func (l *Lot) Value() decimal.Decimal {
	if !l.UnitCost.Valid {
		return decimal.Zero
	}
	return l.QuantityRemaining.Decimal().Mul(l.UnitCost.Decimal)
}

func (l *Lot) notAvailable() error {
	return apperror.NewBusinessRule(apperror.CodeLotNotAvailable, "Lot is not available").
		WithDetail("lot_id", l.ID).
		WithDetail("status", string(l.Status))
}

// CompareFIFO orders lots for consumption: creation time ascending, then expiry
// ascending with undated lots last, then id ascending.
func CompareFIFO(a, b Lot) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ExpiryDate != nil && b.ExpiryDate == nil:
		return -1
	case a.ExpiryDate == nil && b.ExpiryDate != nil:
		return 1
	case a.ExpiryDate != nil && b.ExpiryDate != nil:
		if c := a.ExpiryDate.Compare(*b.ExpiryDate); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.ID.String(), b.ID.String())
}

// SortFIFO sorts lots in consumption order.
func SortFIFO(lots []Lot) {
	slices.SortStableFunc(lots, CompareFIFO)
}

// LotFilter narrows lot listings.
type LotFilter struct {
	Status LotStatus
	Limit  uint64
}
