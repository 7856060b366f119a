package audit

import (
	"context"
	"time"

	appctx "stockledger/internal/core/context"
)

// Enrich fills actor, correlation id, severity and timestamp from ctx when the caller left them empty.
func Enrich(ctx context.Context, event *Event) {
	if actor, ok := appctx.GetActor(ctx); ok {
		if event.ActorID == "" {
			event.ActorID = actor.ID
		}
		if event.ActorRole == "" {
			event.ActorRole = string(actor.Role)
		}
	}
	if event.CorrelationID == "" {
		event.CorrelationID = appctx.GetCorrelationID(ctx)
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
}

// WithActor is a helper for services that receive the actor explicitly.
func WithActor(event Event, actor appctx.Actor) Event {
	event.ActorID = actor.ID
	event.ActorRole = string(actor.Role)
	return event
}
