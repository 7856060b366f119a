// Package stock is the movement ledger: the policy tables every write is checked
// against, the append-only movement log stock is folded from, and the lot store.
package stock

import (
	"encoding/json"
	"time"

	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/catalog"
)

// Direction of a movement.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// Origin is the business cause of a movement.
type Origin string

const (
	OriginReception        Origin = "RECEPTION"
	OriginProductionIn     Origin = "PRODUCTION_IN"
	OriginProductionOut    Origin = "PRODUCTION_OUT"
	OriginProductionCancel Origin = "PRODUCTION_CANCEL"
	OriginSale             Origin = "SALE"
	OriginInventory        Origin = "INVENTORY"
	OriginCustomerReturn   Origin = "CUSTOMER_RETURN"
	OriginLoss             Origin = "LOSS"
)

// Origins lists every cause, in declaration order.
var Origins = []Origin{
	OriginReception, OriginProductionIn, OriginProductionOut, OriginProductionCancel,
	OriginSale, OriginInventory, OriginCustomerReturn, OriginLoss,
}

// Movement is one immutable ledger entry.
type Movement struct {
	ID             id.ID           `db:"id" json:"id"`
	ProductClass   catalog.Class   `db:"product_class" json:"productClass"`
	ProductID      id.ID           `db:"product_id" json:"productId"`
	LotID          *id.ID          `db:"lot_id" json:"lotId,omitempty"`
	Direction      Direction       `db:"movement_type" json:"movementType"`
	Origin         Origin          `db:"origin" json:"origin"`
	Quantity       types.Quantity  `db:"quantity" json:"quantity"`
	Reference      *string         `db:"reference" json:"reference,omitempty"`
	IdempotencyKey *string         `db:"idempotency_key" json:"idempotencyKey,omitempty"`
	LotSnapshot    json.RawMessage `db:"lot_snapshot" json:"lotSnapshot,omitempty"`
	Metadata       json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	ActorID        string          `db:"actor_id" json:"actorId"`
	ActorRole      string          `db:"actor_role" json:"actorRole"`
	IsVoided       bool            `db:"is_voided" json:"isVoided"`
	CreatedAt      time.Time       `db:"created_at" json:"createdAt"`
}

// Signed returns the quantity with the sign of its direction.
func (m Movement) Signed() types.Quantity {
	if m.Direction == DirectionOut {
		return -m.Quantity
	}
	return m.Quantity
}

// LotSnapshot captures a lot's state around a movement, for reversal and forensic replay.
type LotSnapshot struct {
	LotNumber      string         `json:"lotNumber"`
	QuantityBefore types.Quantity `json:"quantityBefore"`
	QuantityAfter  types.Quantity `json:"quantityAfter"`
	ExpiryDate     *time.Time     `json:"expiryDate,omitempty"`
	ConsumedAt     *time.Time     `json:"consumedAt,omitempty"`
}

// MovementInput is the createMovement request.
type MovementInput struct {
	ProductClass   catalog.Class  `json:"productClass" validate:"required,oneof=MP PF"`
	ProductID      id.ID          `json:"productId" validate:"required"`
	Origin         Origin         `json:"origin" validate:"required,oneof=RECEPTION PRODUCTION_IN PRODUCTION_OUT PRODUCTION_CANCEL SALE INVENTORY CUSTOMER_RETURN LOSS"`
	Direction      Direction      `json:"movementType" validate:"required,oneof=IN OUT"`
	Quantity       types.Quantity `json:"quantity"`
	LotID          *id.ID         `json:"lotId"`
	Reference      *string        `json:"reference" validate:"omitempty,max=100"`
	IdempotencyKey *string        `json:"idempotencyKey" validate:"omitempty,max=255"`
	Metadata       map[string]any `json:"metadata"`
}

// AppendResult is returned by the in-transaction write path.
type AppendResult struct {
	Movement    *Movement
	StockBefore types.Quantity
	StockAfter  types.Quantity
	Lot         *Lot
	// Replayed is set when the idempotency key matched an existing movement.
	Replayed bool
}

// MovementFilter narrows movement history queries.
type MovementFilter struct {
	ProductClass catalog.Class
	ProductID    *id.ID
	LotID        *id.ID
	Origin       Origin
	Reference    string
	From         *time.Time
	To           *time.Time
	// IncludeVoided lists voided rows too; they never count towards stock.
	IncludeVoided bool
	Limit         uint64
}

// Level is the read model returned by StockLevel.
type Level struct {
	ProductClass catalog.Class  `json:"productClass"`
	ProductID    id.ID          `json:"productId"`
	Stock        types.Quantity `json:"stock"`
	MinStock     types.Quantity `json:"minStock"`
	Status       Status         `json:"status"`
}
