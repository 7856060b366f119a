package memory

import (
	"context"
	"slices"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/idempotency"
	corenumerator "stockledger/internal/core/numerator"
	"stockledger/internal/domain/alert"
	"stockledger/internal/domain/audit"
)

var (
	_ idempotency.Store       = (*IdempotencyStore)(nil)
	_ corenumerator.Generator = (*Numerator)(nil)
	_ audit.Sink              = (*AuditSink)(nil)
	_ alert.Sink              = (*AlertSink)(nil)
)

// IdempotencyStore implements idempotency.Store.
type IdempotencyStore struct{ s *Store }

func idemKey(key, operation string) string { return operation + "\x00" + key }

func (r *IdempotencyStore) Lookup(ctx context.Context, key, operation string) (*idempotency.Record, error) {
	var out *idempotency.Record
	err := r.s.view(ctx, func(st *state) error {
		if rec, ok := st.idempotency[idemKey(key, operation)]; ok {
			out = &rec
		}
		return nil
	})
	return out, err
}

func (r *IdempotencyStore) Save(ctx context.Context, rec idempotency.Record) error {
	return r.s.view(ctx, func(st *state) error {
		k := idemKey(rec.Key, rec.Operation)
		if _, ok := st.idempotency[k]; ok {
			return apperror.NewDuplicate("idempotency_key", "sys_idempotency_pkey")
		}
		st.idempotency[k] = rec
		return nil
	})
}

// CleanupExpired removes records that expired before now.
func (r *IdempotencyStore) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.s.view(ctx, func(st *state) error {
		for k, rec := range st.idempotency {
			if rec.ExpiresAt.Before(now) {
				delete(st.idempotency, k)
				n++
			}
		}
		return nil
	})
	return n, err
}

// Numerator implements numerator.Generator. Counters live outside the
// transactional state: a rolled-back transaction leaves a gap.
type Numerator struct{ s *Store }

func (n *Numerator) GetNextNumber(ctx context.Context, cfg corenumerator.Config, _ *corenumerator.Options, period time.Time) (string, error) {
	var next int64
	_ = n.s.view(ctx, func(*state) error {
		key := corenumerator.Key(cfg, period)
		n.s.seq[key]++
		next = n.s.seq[key]
		return nil
	})
	return corenumerator.Format(cfg, period, next), nil
}

func (n *Numerator) SetNextNumber(ctx context.Context, cfg corenumerator.Config, period time.Time, value int64) error {
	return n.s.view(ctx, func(*state) error {
		n.s.seq[corenumerator.Key(cfg, period)] = value
		return nil
	})
}

// AuditSink implements audit.Sink.
type AuditSink struct{ s *Store }

func (a *AuditSink) Record(ctx context.Context, event audit.Event) error {
	return a.s.view(ctx, func(*state) error {
		if a.s.auditErr != nil {
			return a.s.auditErr
		}
		a.s.events = append(a.s.events, event)
		return nil
	})
}

// FailWith makes every following Record call fail with err (nil restores).
func (a *AuditSink) FailWith(err error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.auditErr = err
}

// Events returns the recorded events in order.
func (a *AuditSink) Events() []audit.Event {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	return slices.Clone(a.s.events)
}

// Actions returns the recorded action names in order.
func (a *AuditSink) Actions() []string {
	events := a.Events()
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Action
	}
	return out
}

// AlertSink implements alert.Sink. Alerts are part of the transactional state,
// like rows in an outbox table.
type AlertSink struct{ s *Store }

func (a *AlertSink) Raise(ctx context.Context, al alert.Alert) error {
	return a.s.view(ctx, func(st *state) error {
		if a.s.alertErr != nil {
			return a.s.alertErr
		}
		st.alerts = append(st.alerts, al)
		return nil
	})
}

// FailWith makes every following Raise call fail with err (nil restores).
func (a *AlertSink) FailWith(err error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.alertErr = err
}

// Alerts returns committed alerts in order.
func (a *AlertSink) Alerts() []alert.Alert {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	return slices.Clone(a.s.st.alerts)
}
