package fifo

import (
	"context"
	"encoding/json"
	"fmt"

	"stockledger/internal/core/apperror"
	appctx "stockledger/internal/core/context"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/stock"
	"stockledger/pkg/logger"
)

// ReversalOrigin is the compensating IN cause for a product class:
// production cancellation for raw materials, customer return for finished goods.
func ReversalOrigin(class catalog.Class) stock.Origin {
	if class == catalog.ClassFinishedGood {
		return stock.OriginCustomerReturn
	}
	return stock.OriginProductionCancel
}

// Reverse restores every lot drawn by a consumption operation and writes one
// compensating IN movement per lot. A lot that was CONSUMED becomes AVAILABLE
// again; a lot BLOCKED in the meantime gets its quantity back but stays BLOCKED.
func (e *Engine) Reverse(ctx context.Context, operationID id.ID, reason string, actor appctx.Actor) (*Reversal, error) {
	ctx, span := tracer.Start(ctx, "fifo.reverse")
	defer span.End()

	if id.IsNil(operationID) {
		return nil, apperror.NewValidation("operation id is required").WithDetail("field", "operationId")
	}
	if reason == "" {
		return nil, apperror.NewValidation("reversal reason is required").WithDetail("field", "reason")
	}

	var (
		rev   *Reversal
		class catalog.Class
		prod  id.ID
	)
	err := e.txManager.RunInTransactionWithOptions(ctx, e.ledger.TxOptions(), func(ctx context.Context) error {
		records, err := e.consumptions.ListByOperation(ctx, operationID)
		if err != nil {
			return fmt.Errorf("list consumption records: %w", err)
		}
		if len(records) == 0 {
			return apperror.NewNotFound("fifo_operation", operationID)
		}
		for _, r := range records {
			if r.ReversedAt != nil {
				return apperror.NewInvalidStatus("fifo_operation", "REVERSED").WithDetail("operation_id", operationID)
			}
		}

		class, prod = records[0].ProductClass, records[0].ProductID
		if _, err := e.ledger.ActiveProduct(ctx, class, prod); err != nil {
			return err
		}
		origin := ReversalOrigin(class)
		if err := stock.CheckPolicy(class, origin, stock.DirectionIn, actor); err != nil {
			return err
		}

		rev = &Reversal{OperationID: operationID}
		now := e.ledger.Now()
		ref := operationID.String()
		lots := e.ledger.Lots()

		for _, r := range records {
			lot, err := lots.GetForUpdate(ctx, r.LotID)
			if err != nil {
				return err
			}
			before := lot.QuantityRemaining
			if err := lot.Restore(r.Quantity, now); err != nil {
				return err
			}
			if err := lots.Update(ctx, lot); err != nil {
				return fmt.Errorf("update lot %s: %w", lot.ID, err)
			}

			snapshot, err := json.Marshal(lot.Snapshot(before))
			if err != nil {
				return fmt.Errorf("marshal lot snapshot: %w", err)
			}
			metadata, err := json.Marshal(map[string]any{
				"reversalOf":      r.MovementID,
				"fifoOperationId": operationID,
				"reason":          reason,
			})
			if err != nil {
				return fmt.Errorf("marshal metadata: %w", err)
			}
			key := "reversal-" + r.ID.String()

			m := &stock.Movement{
				ProductClass:   r.ProductClass,
				ProductID:      r.ProductID,
				LotID:          &lot.ID,
				Direction:      stock.DirectionIn,
				Origin:         origin,
				Quantity:       r.Quantity,
				Reference:      &ref,
				IdempotencyKey: &key,
				LotSnapshot:    snapshot,
				Metadata:       metadata,
				CreatedAt:      now,
			}
			if err := e.ledger.Record(ctx, m, actor); err != nil {
				return err
			}

			ok, err := e.consumptions.MarkReversed(ctx, r.ID, m.ID, now)
			if err != nil {
				return fmt.Errorf("mark consumption reversed: %w", err)
			}
			if !ok {
				return apperror.NewConcurrentModification("fifo_operation", operationID)
			}

			rev.Lots = append(rev.Lots, ReversedLot{
				LotID:      lot.ID,
				Quantity:   r.Quantity,
				Before:     before,
				After:      lot.QuantityRemaining,
				Status:     lot.Status,
				MovementID: m.ID,
			})
			rev.TotalRestored += r.Quantity
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	e.ledger.Invalidate(ctx, class, prod)
	e.recorder.Record(ctx, audit.WithActor(audit.Event{
		Action:     audit.ActionFIFOReversed,
		EntityType: "fifo_operation",
		EntityID:   operationID.String(),
		Severity:   audit.SeverityWarning,
		Metadata: map[string]any{
			"reason":        reason,
			"productId":     prod,
			"totalRestored": rev.TotalRestored,
			"lots":          rev.Lots,
		},
	}, actor))
	logger.Info(ctx, "fifo consumption reversed",
		"operation_id", operationID,
		"product_id", prod,
		"total_restored", rev.TotalRestored,
	)

	return rev, nil
}
