package reconciliation

import (
	"context"
	"time"

	appctx "stockledger/internal/core/context"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/stock"
)

// applyAdjustment is the one correction path for both auto-approval and final
// validation. It appends the INVENTORY movement for a non-zero difference and
// stamps the product's last physical count. Runs inside the caller's transaction.
func (s *Service) applyAdjustment(ctx context.Context, d *Declaration, actor appctx.Actor, now time.Time) (*stock.AppendResult, error) {
	var res *stock.AppendResult
	if d.Difference != 0 {
		direction := stock.DirectionIn
		if d.Difference < 0 {
			direction = stock.DirectionOut
		}
		ref := "INV-" + d.ID.String()
		key := "inventory-" + d.ID.String()

		var err error
		res, err = s.ledger.Append(ctx, stock.MovementInput{
			ProductClass:   d.ProductClass,
			ProductID:      d.ProductID,
			Origin:         stock.OriginInventory,
			Direction:      direction,
			Quantity:       d.Difference.Abs(),
			Reference:      &ref,
			IdempotencyKey: &key,
			Metadata: map[string]any{
				"declarationId":    d.ID,
				"theoreticalStock": d.TheoreticalStock,
				"declaredQuantity": d.DeclaredQuantity,
			},
		}, actor)
		if err != nil {
			return nil, err
		}
		d.MovementID = &res.Movement.ID
	}

	if err := s.products.MarkPhysicalCount(ctx, d.ProductID, d.DeclaredQuantity, now); err != nil {
		return nil, err
	}
	return res, nil
}

// afterAdjustment runs the post-commit side of a correction.
func (s *Service) afterAdjustment(ctx context.Context, d *Declaration, res *stock.AppendResult, actor appctx.Actor) {
	if res == nil || res.Replayed {
		return
	}
	s.ledger.Invalidate(ctx, d.ProductClass, d.ProductID)
	ev := stock.MovementAudit(res, audit.SeverityInfo)
	ev.Metadata["declarationId"] = d.ID
	s.recorder.Record(ctx, audit.WithActor(ev, actor))
}
