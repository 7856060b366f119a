package audit

import (
	"context"

	"stockledger/pkg/logger"
)

// Recorder forwards events to a Sink after the business transaction committed.
// It never returns an error: a failing sink is logged and swallowed.
type Recorder struct {
	sink Sink
}

// NewRecorder creates a recorder. A nil sink turns recording into a no-op.
func NewRecorder(sink Sink) *Recorder {
	return &Recorder{sink: sink}
}

// Record enriches and forwards one event.
func (r *Recorder) Record(ctx context.Context, event Event) {
	if r == nil || r.sink == nil {
		return
	}
	Enrich(ctx, &event)

	defer func() {
		if p := recover(); p != nil {
			logger.Warn(ctx, "audit sink panicked", "action", event.Action, "entity_id", event.EntityID, "panic", p)
		}
	}()

	if err := r.sink.Record(ctx, event); err != nil {
		logger.Warn(ctx, "audit record failed",
			"action", event.Action,
			"entity_type", event.EntityType,
			"entity_id", event.EntityID,
			"error", err,
		)
	}
}

// RecordAll records events in order; each failure is handled independently.
func (r *Recorder) RecordAll(ctx context.Context, events []Event) {
	for _, ev := range events {
		r.Record(ctx, ev)
	}
}
