package stock

import (
	"context"

	"stockledger/internal/core/apperror"
	appctx "stockledger/internal/core/context"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/audit"
	"stockledger/pkg/logger"
)

// VoidMovement flags a movement as voided for forensic correction. The row
// stays in history and drops out of the stock fold. Only movements without a
// lot can be voided, and voiding an IN may not leave stock negative.
func (s *Service) VoidMovement(ctx context.Context, movementID id.ID, reason string, actor appctx.Actor) (*AppendResult, error) {
	if !actor.Is(appctx.RoleAdmin) {
		return nil, apperror.NewAdminOnly("void stock movements")
	}
	if reason == "" {
		return nil, apperror.NewValidation("void reason is required").WithDetail("field", "reason")
	}

	var res *AppendResult
	err := s.txManager.RunInTransactionWithOptions(ctx, s.TxOptions(), func(ctx context.Context) error {
		m, err := s.movements.GetForUpdate(ctx, movementID)
		if err != nil {
			return err
		}
		if m.IsVoided {
			return apperror.NewInvalidStatus("stock_movement", "VOIDED").WithDetail("movement_id", movementID)
		}
		if m.LotID != nil {
			return apperror.NewValidation("Lot-linked movements cannot be voided").
				WithDetail("movement_id", movementID).
				WithDetail("lot_id", *m.LotID)
		}

		before, err := s.CalculateStock(ctx, m.ProductClass, m.ProductID)
		if err != nil {
			return err
		}
		after := before + m.Quantity
		if m.Direction == DirectionIn {
			after = before - m.Quantity
			if after < 0 {
				return apperror.NewInsufficientStock(m.ProductID.String(), int64(m.Quantity), int64(before))
			}
		}

		if err := s.movements.Void(ctx, movementID); err != nil {
			return err
		}
		m.IsVoided = true
		res = &AppendResult{Movement: m, StockBefore: before, StockAfter: after}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Invalidate(ctx, res.Movement.ProductClass, res.Movement.ProductID)
	ev := MovementAudit(res, audit.SeverityWarning)
	ev.Action = audit.ActionMovementVoided
	ev.Metadata["reason"] = reason
	s.recorder.Record(ctx, audit.WithActor(ev, actor))

	logger.Info(ctx, "stock movement voided",
		"movement_id", movementID,
		"product_id", res.Movement.ProductID,
		"stock_after", res.StockAfter,
	)
	return res, nil
}
