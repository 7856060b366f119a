package fifo

import (
	"context"
	"time"

	"stockledger/internal/core/id"
)

// ConsumptionRepository stores consumption lines.
type ConsumptionRepository interface {
	Insert(ctx context.Context, records []Record) error
	// ListByOperation returns the lines of one operation in insertion order.
	ListByOperation(ctx context.Context, operationID id.ID) ([]Record, error)
	// MarkReversed stamps a not yet reversed line; false means it was already reversed.
	MarkReversed(ctx context.Context, recordID, reversalMovementID id.ID, at time.Time) (bool, error)
}
