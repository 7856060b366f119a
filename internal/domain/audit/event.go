// Package audit defines the audit sink contract and the best-effort recorder
// every ledger-affecting service reports through after commit.
package audit

import (
	"context"
	"time"
)

// Severity grades an audit event.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
	// SeveritySecurity marks attempted policy violations (e.g. self-validation).
	SeveritySecurity Severity = "SECURITY"
)

// Actions recorded by the ledger.
const (
	ActionMovementCreated      = "STOCK_MOVEMENT_CREATED"
	ActionMovementVoided       = "STOCK_MOVEMENT_VOIDED"
	ActionLotReceived          = "LOT_RECEIVED"
	ActionLotProduced          = "LOT_PRODUCED"
	ActionLossDeclared         = "LOSS_DECLARED"
	ActionLotBlocked           = "LOT_BLOCKED_EXPIRED"
	ActionFIFOConsumed         = "FIFO_CONSUMPTION"
	ActionFIFOReversed         = "FIFO_REVERSAL"
	ActionInventoryDeclared    = "INVENTORY_DECLARED"
	ActionInventoryValidated   = "INVENTORY_VALIDATED"
	ActionInventoryFirstSigned = "INVENTORY_FIRST_VALIDATION"
	ActionInventoryRejected    = "INVENTORY_REJECTED"
	ActionInventoryExpired     = "INVENTORY_EXPIRED"
	ActionSelfValidation       = "INVENTORY_SELF_VALIDATION_ATTEMPT"
	ActionProductCreated       = "PRODUCT_CREATED"
	ActionProductUpdated       = "PRODUCT_UPDATED"
	ActionProductDeactivated   = "PRODUCT_DEACTIVATED"
)

// Event is one structured audit record.
type Event struct {
	Action        string         `json:"action"`
	EntityType    string         `json:"entity_type"`
	EntityID      string         `json:"entity_id"`
	Severity      Severity       `json:"severity"`
	ActorID       string         `json:"actor_id"`
	ActorRole     string         `json:"actor_role"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Before        map[string]any `json:"before,omitempty"`
	After         map[string]any `json:"after,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// Sink persists audit events. Implementations may fail; the Recorder absorbs it.
type Sink interface {
	Record(ctx context.Context, event Event) error
}
