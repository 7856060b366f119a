package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"stockledger/internal/domain/stock"
	"stockledger/pkg/logger"
)

// LotExpiry is the part of the stock service the lot tasks drive.
type LotExpiry interface {
	BlockExpiredLots(ctx context.Context, asOf time.Time) (*stock.BlockResult, error)
	AlertExpiringLots(ctx context.Context, asOf time.Time) (int, error)
}

// DeclarationExpiry is the part of the reconciliation service the expiry task drives.
type DeclarationExpiry interface {
	ExpireStale(ctx context.Context, asOf time.Time) (int, error)
}

// Handlers binds task types to the domain services.
type Handlers struct {
	lots         LotExpiry
	declarations DeclarationExpiry
	now          func() time.Time
}

// NewHandlers creates task handlers.
func NewHandlers(lots LotExpiry, declarations DeclarationExpiry) *Handlers {
	return &Handlers{
		lots:         lots,
		declarations: declarations,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source used when a payload has no date.
func (h *Handlers) WithClock(now func() time.Time) *Handlers {
	h.now = now
	return h
}

// Register attaches every handler to the mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskBlockExpiredLots, h.HandleBlockExpiredLots)
	mux.HandleFunc(TaskAlertExpiringLots, h.HandleAlertExpiringLots)
	mux.HandleFunc(TaskExpireDeclarations, h.HandleExpireDeclarations)
}

func (h *Handlers) asOf(t *asynq.Task) (time.Time, error) {
	var payload ScheduledPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return time.Time{}, fmt.Errorf("%s: bad payload: %v: %w", t.Type(), err, asynq.SkipRetry)
		}
	}
	if payload.AsOf.IsZero() {
		return h.now(), nil
	}
	return payload.AsOf, nil
}

// HandleBlockExpiredLots processes TaskBlockExpiredLots.
func (h *Handlers) HandleBlockExpiredLots(ctx context.Context, t *asynq.Task) error {
	asOf, err := h.asOf(t)
	if err != nil {
		return err
	}
	res, err := h.lots.BlockExpiredLots(ctx, asOf)
	if err != nil {
		return fmt.Errorf("block expired lots: %w", err)
	}
	logger.Info(ctx, "expired lots blocked",
		"as_of", asOf.Format(time.DateOnly),
		"count", len(res.Blocked),
		"estimated_value", res.EstimatedValue.StringFixed(2))
	return nil
}

// HandleAlertExpiringLots processes TaskAlertExpiringLots.
func (h *Handlers) HandleAlertExpiringLots(ctx context.Context, t *asynq.Task) error {
	asOf, err := h.asOf(t)
	if err != nil {
		return err
	}
	n, err := h.lots.AlertExpiringLots(ctx, asOf)
	if err != nil {
		return fmt.Errorf("alert expiring lots: %w", err)
	}
	logger.Info(ctx, "expiring lot alerts raised", "as_of", asOf.Format(time.DateOnly), "count", n)
	return nil
}

// HandleExpireDeclarations processes TaskExpireDeclarations.
func (h *Handlers) HandleExpireDeclarations(ctx context.Context, t *asynq.Task) error {
	asOf, err := h.asOf(t)
	if err != nil {
		return err
	}
	n, err := h.declarations.ExpireStale(ctx, asOf)
	if err != nil {
		return fmt.Errorf("expire declarations: %w", err)
	}
	logger.Info(ctx, "stale declarations expired", "as_of", asOf.Format(time.RFC3339), "count", n)
	return nil
}
