// Package alert defines operational alerts raised by the ledger and the sink they go to.
package alert

import (
	"context"
	"time"

	"stockledger/internal/core/id"
)

// Type classifies an alert.
type Type string

const (
	TypeHighInventoryDiscrepancy   Type = "HIGH_INVENTORY_DISCREPANCY"
	TypeSuspiciousInventoryPattern Type = "SUSPICIOUS_INVENTORY_PATTERN"
	TypeLotsExpiredBlocked         Type = "LOTS_EXPIRED_BLOCKED"
	TypeLotExpiringSoon            Type = "LOT_EXPIRING_SOON"
)

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is delivered to operators.
type Alert struct {
	ID         id.ID          `json:"id"`
	Type       Type           `json:"type"`
	Severity   Severity       `json:"severity"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	RaisedAt   time.Time      `json:"raised_at"`
}

// Sink accepts alerts. The Postgres sink writes to the transactional outbox,
// so Raise must be called inside the business transaction that caused the alert.
type Sink interface {
	Raise(ctx context.Context, a Alert) error
}

// New builds an alert with id and timestamp set.
func New(t Type, severity Severity, title, message string) Alert {
	return Alert{
		ID:       id.New(),
		Type:     t,
		Severity: severity,
		Title:    title,
		Message:  message,
		RaisedAt: time.Now().UTC(),
	}
}

// For attaches the entity the alert is about.
func (a Alert) For(entityType string, entityID any) Alert {
	a.EntityType = entityType
	if s, ok := entityID.(interface{ String() string }); ok {
		a.EntityID = s.String()
	} else if s, ok := entityID.(string); ok {
		a.EntityID = s
	}
	return a
}

// With attaches structured data.
func (a Alert) With(data map[string]any) Alert {
	a.Data = data
	return a
}
