package fifo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stockledger/internal/core/apperror"
	appctx "stockledger/internal/core/context"
	"stockledger/internal/core/id"
	"stockledger/internal/core/idempotency"
	"stockledger/internal/core/tx"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/stock"
	"stockledger/pkg/logger"
)

var tracer = otel.Tracer("stockledger/fifo")

// Config tunes the engine.
type Config struct {
	// TxTimeout bounds a whole consumption or reversal.
	TxTimeout time.Duration
	// IdempotencyTTL is how long a stored result can be replayed.
	IdempotencyTTL time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		TxTimeout:      10 * time.Second,
		IdempotencyTTL: 24 * time.Hour,
	}
}

// Engine is the FIFO lot consumption engine.
type Engine struct {
	ledger       *stock.Service
	consumptions ConsumptionRepository
	idempotency  idempotency.Store
	txManager    tx.Manager
	recorder     *audit.Recorder
	config       Config
}

// NewEngine creates a FIFO engine on top of the ledger.
func NewEngine(
	ledger *stock.Service,
	consumptions ConsumptionRepository,
	idem idempotency.Store,
	txManager tx.Manager,
	recorder *audit.Recorder,
	config Config,
) *Engine {
	def := DefaultConfig()
	if config.TxTimeout <= 0 {
		config.TxTimeout = def.TxTimeout
	}
	if config.IdempotencyTTL <= 0 {
		config.IdempotencyTTL = def.IdempotencyTTL
	}
	return &Engine{
		ledger:       ledger,
		consumptions: consumptions,
		idempotency:  idem,
		txManager:    txManager,
		recorder:     recorder,
		config:       config,
	}
}

// Consume draws in.Quantity from the product's lots oldest-first in one
// serializable transaction. Candidate lots are locked with SKIP LOCKED so
// concurrent consumers of the same product work on disjoint lots.
func (e *Engine) Consume(ctx context.Context, in ConsumeInput, actor appctx.Actor) (*Result, error) {
	ctx, span := tracer.Start(ctx, "fifo.consume", trace.WithAttributes(
		attribute.String("product.id", in.ProductID.String()),
		attribute.Int64("quantity", in.Quantity.Int64()),
	))
	defer span.End()

	if err := apperror.ValidateStruct(in); err != nil {
		return nil, err
	}
	if !in.Quantity.IsPositive() {
		return nil, apperror.NewInvalidQuantity(in.Quantity.Int64())
	}
	if err := stock.CheckPolicy(in.ProductClass, in.Origin, stock.DirectionOut, actor); err != nil {
		return nil, err
	}

	var hash string
	if in.IdempotencyKey != nil {
		var err error
		if hash, err = idempotency.RequestHash(in); err != nil {
			return nil, err
		}
		if res, err := e.replay(ctx, *in.IdempotencyKey, hash); res != nil || err != nil {
			return res, err
		}
	}

	var res *Result
	err := e.txManager.RunInTransactionWithOptions(ctx, tx.Serializable(e.config.TxTimeout), func(ctx context.Context) error {
		res = nil
		if in.IdempotencyKey != nil {
			replayed, err := e.replay(ctx, *in.IdempotencyKey, hash)
			if err != nil {
				return err
			}
			if replayed != nil {
				res = replayed
				return nil
			}
		}

		var err error
		res, err = e.consume(ctx, in, actor)
		if err != nil {
			return err
		}

		if in.IdempotencyKey != nil {
			return e.saveResult(ctx, *in.IdempotencyKey, hash, actor, res)
		}
		return nil
	})
	if err != nil {
		// A concurrent request with the same key committed first.
		if in.IdempotencyKey != nil && apperror.HasCode(err, apperror.CodeDuplicate) {
			if replayed, rerr := e.replay(ctx, *in.IdempotencyKey, hash); replayed != nil || rerr != nil {
				return replayed, rerr
			}
		}
		span.RecordError(err)
		return nil, err
	}
	if res.Replayed {
		return res, nil
	}

	e.ledger.Invalidate(ctx, in.ProductClass, in.ProductID)
	e.recorder.Record(ctx, audit.WithActor(consumeAudit(res, in), actor))
	logger.Info(ctx, "fifo consumption applied",
		"operation_id", res.OperationID,
		"product_id", in.ProductID,
		"quantity", in.Quantity,
		"lots_used", res.LotsUsed,
		"stock_after", res.StockAfter,
	)

	return res, nil
}

// consume runs steps lock, plan, apply inside the caller's transaction.
func (e *Engine) consume(ctx context.Context, in ConsumeInput, actor appctx.Actor) (*Result, error) {
	if _, err := e.ledger.ActiveProduct(ctx, in.ProductClass, in.ProductID); err != nil {
		return nil, err
	}

	candidates, err := e.ledger.Lots().LockConsumable(ctx, in.ProductID)
	if err != nil {
		return nil, fmt.Errorf("lock candidate lots: %w", err)
	}
	plan, available := BuildPlan(candidates, in.Quantity)
	if available < in.Quantity {
		return nil, apperror.NewInsufficientStockFIFO(in.ProductID.String(), in.Quantity.Int64(), available.Int64())
	}

	stockBefore, err := e.ledger.CalculateStock(ctx, in.ProductClass, in.ProductID)
	if err != nil {
		return nil, err
	}
	if in.Quantity > stockBefore {
		return nil, apperror.NewInsufficientStock(in.ProductID.String(), in.Quantity.Int64(), stockBefore.Int64())
	}

	res := &Result{
		OperationID:  id.New(),
		ProductClass: in.ProductClass,
		ProductID:    in.ProductID,
		Origin:       in.Origin,
		StockBefore:  stockBefore,
	}
	now := e.ledger.Now()
	records := make([]Record, 0, len(plan))

	for _, line := range plan {
		applied, err := e.applyLine(ctx, in, line, res.OperationID, actor, now)
		if err != nil {
			return nil, err
		}
		res.Consumptions = append(res.Consumptions, applied)
		res.TotalConsumed += applied.Quantity
		records = append(records, Record{
			ID:             id.New(),
			OperationID:    res.OperationID,
			ProductClass:   in.ProductClass,
			ProductID:      in.ProductID,
			LotID:          applied.LotID,
			MovementID:     *applied.MovementID,
			Origin:         in.Origin,
			Quantity:       applied.Quantity,
			QuantityBefore: applied.Before,
			QuantityAfter:  applied.After,
			ActorID:        actor.ID,
			CreatedAt:      now,
		})
	}

	if err := e.consumptions.Insert(ctx, records); err != nil {
		return nil, fmt.Errorf("insert consumption records: %w", err)
	}

	res.LotsUsed = len(res.Consumptions)
	res.StockAfter = stockBefore - res.TotalConsumed
	return res, nil
}

// applyLine re-reads the locked lot, checks it still matches the plan,
// decrements it and writes the OUT movement with its snapshot.
func (e *Engine) applyLine(ctx context.Context, in ConsumeInput, line Consumption, operationID id.ID, actor appctx.Actor, now time.Time) (Consumption, error) {
	lots := e.ledger.Lots()
	lot, err := lots.GetForUpdate(ctx, line.LotID)
	if err != nil {
		return Consumption{}, err
	}
	if lot.Status != stock.LotAvailable {
		return Consumption{}, apperror.NewConcurrentLotMutation(lot.ID, apperror.ReasonLotNoLongerAvailable).
			WithDetail("status", string(lot.Status))
	}
	if lot.QuantityRemaining < line.Quantity {
		return Consumption{}, apperror.NewConcurrentLotMutation(lot.ID, apperror.ReasonLotQuantityChanged).
			WithDetail("planned", line.Quantity.Int64()).
			WithDetail("remaining", lot.QuantityRemaining.Int64())
	}

	before := lot.QuantityRemaining
	if err := lot.Decrement(line.Quantity, false, now); err != nil {
		return Consumption{}, err
	}
	if err := lots.Update(ctx, lot); err != nil {
		return Consumption{}, fmt.Errorf("update lot %s: %w", lot.ID, err)
	}

	snapshot, err := json.Marshal(lot.Snapshot(before))
	if err != nil {
		return Consumption{}, fmt.Errorf("marshal lot snapshot: %w", err)
	}
	metadata, err := json.Marshal(map[string]any{"fifoOperationId": operationID})
	if err != nil {
		return Consumption{}, fmt.Errorf("marshal metadata: %w", err)
	}

	m := &stock.Movement{
		ProductClass: in.ProductClass,
		ProductID:    in.ProductID,
		LotID:        &lot.ID,
		Direction:    stock.DirectionOut,
		Origin:       in.Origin,
		Quantity:     line.Quantity,
		Reference:    in.Reference,
		LotSnapshot:  snapshot,
		Metadata:     metadata,
		CreatedAt:    now,
	}
	if in.IdempotencyKey != nil {
		key := fmt.Sprintf("%s-%s", *in.IdempotencyKey, lot.ID)
		m.IdempotencyKey = &key
	}
	if err := e.ledger.Record(ctx, m, actor); err != nil {
		return Consumption{}, err
	}

	line.Before = before
	line.After = lot.QuantityRemaining
	line.MovementID = &m.ID
	return line, nil
}

// Preview plans without locking or writing.
func (e *Engine) Preview(ctx context.Context, class catalog.Class, productID id.ID, required types.Quantity) (*Preview, error) {
	if !required.IsPositive() {
		return nil, apperror.NewInvalidQuantity(required.Int64())
	}
	if _, err := e.ledger.ActiveProduct(ctx, class, productID); err != nil {
		return nil, err
	}

	lots, err := e.ledger.Lots().ListConsumable(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list consumable lots: %w", err)
	}
	plan, available := BuildPlan(lots, required)

	return &Preview{
		ProductID:      productID,
		Required:       required,
		Sufficient:     available >= required,
		AvailableStock: available,
		Consumptions:   plan,
	}, nil
}

func (e *Engine) replay(ctx context.Context, key, hash string) (*Result, error) {
	rec, err := e.idempotency.Lookup(ctx, key, OperationConsume)
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if rec == nil {
		return nil, nil
	}

	var res Result
	if err := idempotency.Replay(rec, hash, &res); err != nil {
		return nil, err
	}
	res.Replayed = true
	logger.Info(ctx, "fifo consumption replayed", "idempotency_key", key, "operation_id", res.OperationID)
	return &res, nil
}

func (e *Engine) saveResult(ctx context.Context, key, hash string, actor appctx.Actor, res *Result) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	now := e.ledger.Now()
	return e.idempotency.Save(ctx, idempotency.Record{
		Key:         key,
		Operation:   OperationConsume,
		ActorID:     actor.ID,
		RequestHash: hash,
		Response:    body,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.config.IdempotencyTTL),
	})
}

func consumeAudit(res *Result, in ConsumeInput) audit.Event {
	lots := make([]map[string]any, len(res.Consumptions))
	for i, c := range res.Consumptions {
		lots[i] = map[string]any{
			"lotId":      c.LotID,
			"lotNumber":  c.LotNumber,
			"quantity":   c.Quantity,
			"before":     c.Before,
			"after":      c.After,
			"movementId": c.MovementID,
		}
	}
	return audit.Event{
		Action:     audit.ActionFIFOConsumed,
		EntityType: "fifo_operation",
		EntityID:   res.OperationID.String(),
		Before:     map[string]any{"stock": res.StockBefore},
		After:      map[string]any{"stock": res.StockAfter},
		Metadata: map[string]any{
			"productClass":   in.ProductClass,
			"productId":      in.ProductID,
			"origin":         in.Origin,
			"reference":      in.Reference,
			"totalConsumed":  res.TotalConsumed,
			"lotsUsed":       res.LotsUsed,
			"lots":           lots,
			"idempotencyKey": in.IdempotencyKey,
		},
	}
}
