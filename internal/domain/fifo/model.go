// Package fifo consumes lot stock oldest-first: it plans which lots cover a
// requirement, applies the plan under row locks, and can reverse a consumption.
package fifo

import (
	"time"

	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/stock"
)

// OperationConsume is the idempotency operation name for Consume.
const OperationConsume = "fifo.consume"

// ConsumeInput is a FIFO outflow request.
type ConsumeInput struct {
	ProductClass catalog.Class  `json:"productClass" validate:"required,oneof=MP PF"`
	ProductID    id.ID          `json:"productId" validate:"required"`
	Quantity     types.Quantity `json:"quantity"`
	// Origin is the outflow cause, e.g. PRODUCTION_OUT for raw materials or SALE for finished goods.
	Origin         stock.Origin `json:"origin" validate:"required"`
	Reference      *string      `json:"reference,omitempty" validate:"omitempty,max=100"`
	IdempotencyKey *string      `json:"idempotencyKey,omitempty" validate:"omitempty,max=200"`
}

// Consumption is one planned or applied lot draw.
type Consumption struct {
	LotID      id.ID          `json:"lotId"`
	LotNumber  string         `json:"lotNumber"`
	Quantity   types.Quantity `json:"quantity"`
	Before     types.Quantity `json:"before"`
	After      types.Quantity `json:"after"`
	ExpiryDate *time.Time     `json:"expiryDate,omitempty"`
	// MovementID is set once the plan is applied.
	MovementID *id.ID `json:"movementId,omitempty"`
}

// Result is returned by Consume and stored for idempotent replay.
type Result struct {
	OperationID   id.ID          `json:"operationId"`
	ProductClass  catalog.Class  `json:"productClass"`
	ProductID     id.ID          `json:"productId"`
	Origin        stock.Origin   `json:"origin"`
	Consumptions  []Consumption  `json:"consumptions"`
	TotalConsumed types.Quantity `json:"totalConsumed"`
	LotsUsed      int            `json:"lotsUsed"`
	StockBefore   types.Quantity `json:"stockBefore"`
	StockAfter    types.Quantity `json:"stockAfter"`
	// Replayed is true when the result came from the idempotency store.
	Replayed bool `json:"replayed"`
}

// Preview is the read-only plan returned by Preview.
type Preview struct {
	ProductID      id.ID          `json:"productId"`
	Required       types.Quantity `json:"required"`
	Sufficient     bool           `json:"sufficient"`
	AvailableStock types.Quantity `json:"availableStock"`
	Consumptions   []Consumption  `json:"consumptions"`
}

// Record is a persisted consumption line, the unit of reversal.
type Record struct {
	ID                 id.ID          `db:"id" json:"id"`
	OperationID        id.ID          `db:"operation_id" json:"operationId"`
	ProductClass       catalog.Class  `db:"product_class" json:"productClass"`
	ProductID          id.ID          `db:"product_id" json:"productId"`
	LotID              id.ID          `db:"lot_id" json:"lotId"`
	MovementID         id.ID          `db:"movement_id" json:"movementId"`
	Origin             stock.Origin   `db:"origin" json:"origin"`
	Quantity           types.Quantity `db:"quantity" json:"quantity"`
	QuantityBefore     types.Quantity `db:"quantity_before" json:"quantityBefore"`
	QuantityAfter      types.Quantity `db:"quantity_after" json:"quantityAfter"`
	ActorID            string         `db:"actor_id" json:"actorId"`
	ReversedAt         *time.Time     `db:"reversed_at" json:"reversedAt,omitempty"`
	ReversalMovementID *id.ID         `db:"reversal_movement_id" json:"reversalMovementId,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"createdAt"`
}

// ReversedLot describes one lot restored by Reverse.
type ReversedLot struct {
	LotID      id.ID           `json:"lotId"`
	Quantity   types.Quantity  `json:"quantity"`
	Before     types.Quantity  `json:"before"`
	After      types.Quantity  `json:"after"`
	Status     stock.LotStatus `json:"status"`
	MovementID id.ID           `json:"movementId"`
}

// Reversal is returned by Reverse.
type Reversal struct {
	OperationID   id.ID          `json:"operationId"`
	Lots          []ReversedLot  `json:"lots"`
	TotalRestored types.Quantity `json:"totalRestored"`
}
