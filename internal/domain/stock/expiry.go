package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	appctx "stockledger/internal/core/context"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/alert"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/catalog"
	"stockledger/pkg/logger"
)

// BlockResult summarises one expiry run.
type BlockResult struct {
	Blocked        []Lot           `json:"blocked"`
	EstimatedValue decimal.Decimal `json:"estimatedValue"`
}

// ExpiringThreshold is one pre-expiry warning step.
type ExpiringThreshold struct {
	DaysBefore int
	Severity   alert.Severity
}

// ExpiringThresholds are the J-7, J-3 and J-1 warnings.
var ExpiringThresholds = []ExpiringThreshold{
	{DaysBefore: 7, Severity: alert.SeverityInfo},
	{DaysBefore: 3, Severity: alert.SeverityWarning},
	{DaysBefore: 1, Severity: alert.SeverityCritical},
}

// BlockExpiredLots blocks every AVAILABLE lot with stock whose expiry date is
// strictly before asOf's date. No movement is written: the quantity stays in
// the ledger but can no longer be consumed.
func (s *Service) BlockExpiredLots(ctx context.Context, asOf time.Time) (*BlockResult, error) {
	actor := appctx.SystemActor("lot-expiry")
	today := startOfDay(asOf)
	res := &BlockResult{EstimatedValue: decimal.Zero}

	err := s.txManager.RunInTransactionWithOptions(ctx, s.TxOptions(), func(ctx context.Context) error {
		res.Blocked = nil
		res.EstimatedValue = decimal.Zero

		lots, err := s.lots.LockExpired(ctx, today)
		if err != nil {
			return fmt.Errorf("lock expired lots: %w", err)
		}

		now := s.now()
		for i := range lots {
			lot := lots[i]
			if err := lot.Block(BlockedReasonExpired, now); err != nil {
				return err
			}
			if err := s.lots.Update(ctx, &lot); err != nil {
				return fmt.Errorf("block lot %s: %w", lot.ID, err)
			}
			res.Blocked = append(res.Blocked, lot)
			res.EstimatedValue = res.EstimatedValue.Add(lot.Value())
		}

		if len(res.Blocked) == 0 {
			return nil
		}

		lotNumbers := make([]string, len(res.Blocked))
		for i, l := range res.Blocked {
			lotNumbers[i] = l.LotNumber
		}
		a := alert.New(alert.TypeLotsExpiredBlocked, alert.SeverityWarning,
			"Expired lots blocked",
			fmt.Sprintf("%d lot(s) blocked after expiry, estimated value %s", len(res.Blocked), res.EstimatedValue.StringFixed(2)),
		).For("lot_batch", today.Format(time.DateOnly)).With(map[string]any{
			"lotNumbers":     lotNumbers,
			"estimatedValue": res.EstimatedValue.StringFixed(2),
		})
		return s.alerts.Raise(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	for _, lot := range res.Blocked {
		s.recorder.Record(ctx, audit.WithActor(audit.Event{
			Action:     audit.ActionLotBlocked,
			EntityType: "lot",
			EntityID:   lot.ID.String(),
			Severity:   audit.SeverityWarning,
			Before:     map[string]any{"status": LotAvailable},
			After:      map[string]any{"status": LotBlocked, "blockedReason": BlockedReasonExpired},
			Metadata: map[string]any{
				"lotNumber":         lot.LotNumber,
				"expiryDate":        lot.ExpiryDate,
				"quantityRemaining": lot.QuantityRemaining,
			},
		}, actor))
	}
	s.invalidateLots(ctx, res.Blocked)

	logger.Info(ctx, "expired lots blocked", "count", len(res.Blocked), "estimated_value", res.EstimatedValue.StringFixed(2))
	return res, nil
}

// AlertExpiringLots raises one alert per lot that expires exactly 7, 3 or 1 day(s) after asOf.
func (s *Service) AlertExpiringLots(ctx context.Context, asOf time.Time) (int, error) {
	today := startOfDay(asOf)
	raised := 0

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		raised = 0
		for _, th := range ExpiringThresholds {
			day := today.AddDate(0, 0, th.DaysBefore)
			lots, err := s.lots.ListExpiringOn(ctx, day)
			if err != nil {
				return fmt.Errorf("list lots expiring %s: %w", day.Format(time.DateOnly), err)
			}
			for _, lot := range lots {
				a := alert.New(alert.TypeLotExpiringSoon, th.Severity,
					fmt.Sprintf("Lot %s expires in %d day(s)", lot.LotNumber, th.DaysBefore),
					fmt.Sprintf("%d unit(s) remaining, expiry %s", lot.QuantityRemaining, day.Format(time.DateOnly)),
				).For("lot", lot.ID).With(map[string]any{
					"productId":         lot.ProductID,
					"daysBefore":        th.DaysBefore,
					"quantityRemaining": lot.QuantityRemaining,
				})
				if err := s.alerts.Raise(ctx, a); err != nil {
					return err
				}
				raised++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return raised, nil
}

func (s *Service) invalidateLots(ctx context.Context, lots []Lot) {
	byClass := make(map[catalog.Class][]id.ID)
	for _, l := range lots {
		byClass[l.ProductClass] = append(byClass[l.ProductClass], l.ProductID)
	}
	for class, ids := range byClass {
		s.Invalidate(ctx, class, ids...)
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
