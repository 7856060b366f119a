package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stockledger/internal/core/apperror"
	appctx "stockledger/internal/core/context"
	"stockledger/internal/core/id"
	"stockledger/internal/core/numerator"
	"stockledger/internal/core/tx"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/alert"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/catalog"
	"stockledger/pkg/logger"
)

// ServiceConfig tunes the ledger.
type ServiceConfig struct {
	// TxTimeout bounds every ledger write transaction.
	TxTimeout time.Duration
}

// DefaultServiceConfig returns production defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{TxTimeout: 30 * time.Second}
}

// Service is the movement ledger. Current stock is always folded from
// movements inside the transaction that checks and writes.
type Service struct {
	movements MovementRepository
	lots      LotRepository
	products  ProductCatalog
	txManager tx.Manager
	numerator numerator.Generator
	alerts    alert.Sink
	recorder  *audit.Recorder
	cache     Cache
	config    ServiceConfig
	now       func() time.Time
}

// NewService creates a new ledger service.
func NewService(
	movements MovementRepository,
	lots LotRepository,
	products ProductCatalog,
	txManager tx.Manager,
	numerator numerator.Generator,
	alerts alert.Sink,
	recorder *audit.Recorder,
	config ServiceConfig,
) *Service {
	if config.TxTimeout <= 0 {
		config.TxTimeout = DefaultServiceConfig().TxTimeout
	}
	return &Service{
		movements: movements,
		lots:      lots,
		products:  products,
		txManager: txManager,
		numerator: numerator,
		alerts:    alerts,
		recorder:  recorder,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithCache enables the StockLevel read cache.
func (s *Service) WithCache(c Cache) *Service {
	s.cache = c
	return s
}

// WithClock replaces the service clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Lots exposes the lot store to the FIFO engine.
func (s *Service) Lots() LotRepository { return s.lots }

// TxOptions returns the options every stock-mutating transaction runs with.
func (s *Service) TxOptions() tx.Options {
	return tx.Serializable(s.config.TxTimeout)
}

// Now returns the service clock.
func (s *Service) Now() time.Time { return s.now() }

// CheckPolicy runs both policy lookups. Every write path calls it before writing.
func CheckPolicy(class catalog.Class, origin Origin, direction Direction, actor appctx.Actor) error {
	if err := ValidateCombination(class, origin, direction); err != nil {
		return err
	}
	return ValidateRole(origin, actor.Role)
}

func validateInput(in MovementInput, actor appctx.Actor) error {
	if err := apperror.ValidateStruct(in); err != nil {
		return err
	}
	if !in.Quantity.IsPositive() {
		return apperror.NewInvalidQuantity(int64(in.Quantity))
	}
	return CheckPolicy(in.ProductClass, in.Origin, in.Direction, actor)
}

// CreateMovement validates and appends one movement in its own transaction.
func (s *Service) CreateMovement(ctx context.Context, in MovementInput, actor appctx.Actor) (*Movement, error) {
	if err := validateInput(in, actor); err != nil {
		return nil, err
	}

	var res *AppendResult
	err := s.txManager.RunInTransactionWithOptions(ctx, s.TxOptions(), func(ctx context.Context) error {
		var err error
		res, err = s.Append(ctx, in, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	if res.Replayed {
		return res.Movement, nil
	}

	s.Invalidate(ctx, in.ProductClass, in.ProductID)
	s.recordMovement(ctx, res, actor, audit.SeverityInfo)
	logger.Info(ctx, "stock movement created",
		"movement_id", res.Movement.ID,
		"product_id", in.ProductID,
		"origin", in.Origin,
		"direction", in.Direction,
		"quantity", in.Quantity,
		"stock_after", res.StockAfter,
	)

	return res.Movement, nil
}

// Append is the in-transaction write path: policy check, fold, stock check,
// optional lot update, insert. Callers must already be inside a transaction
// and are responsible for cache invalidation and audit after commit.
func (s *Service) Append(ctx context.Context, in MovementInput, actor appctx.Actor) (*AppendResult, error) {
	if err := validateInput(in, actor); err != nil {
		return nil, err
	}

	if in.IdempotencyKey != nil {
		existing, err := s.movements.GetByIdempotencyKey(ctx, *in.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("lookup idempotency key: %w", err)
		}
		if existing != nil {
			if existing.ProductID != in.ProductID || existing.Origin != in.Origin ||
				existing.Direction != in.Direction || existing.Quantity != in.Quantity {
				return nil, apperror.NewIdempotencyMismatch(*in.IdempotencyKey)
			}
			return &AppendResult{Movement: existing, Replayed: true}, nil
		}
	}

	product, err := s.ActiveProduct(ctx, in.ProductClass, in.ProductID)
	if err != nil {
		return nil, err
	}

	before, err := s.CalculateStock(ctx, in.ProductClass, in.ProductID)
	if err != nil {
		return nil, err
	}
	if in.Direction == DirectionOut && in.Quantity > before {
		return nil, apperror.NewInsufficientStock(in.ProductID.String(), int64(in.Quantity), int64(before)).
			WithDetail("product_code", product.Code)
	}

	now := s.now()
	m := &Movement{
		ID:             id.New(),
		ProductClass:   in.ProductClass,
		ProductID:      in.ProductID,
		LotID:          in.LotID,
		Direction:      in.Direction,
		Origin:         in.Origin,
		Quantity:       in.Quantity,
		Reference:      in.Reference,
		IdempotencyKey: in.IdempotencyKey,
		ActorID:        actor.ID,
		ActorRole:      string(actor.Role),
		CreatedAt:      now,
	}
	if len(in.Metadata) > 0 {
		if m.Metadata, err = json.Marshal(in.Metadata); err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
	}

	var lot *Lot
	if in.LotID != nil {
		lot, err = s.applyToLot(ctx, in, now)
		if err != nil {
			return nil, err
		}
		snapshotBefore := lot.QuantityRemaining + in.Quantity
		if in.Direction == DirectionIn {
			snapshotBefore = lot.QuantityRemaining - in.Quantity
		}
		if m.LotSnapshot, err = json.Marshal(lot.Snapshot(snapshotBefore)); err != nil {
			return nil, fmt.Errorf("marshal lot snapshot: %w", err)
		}
	}

	if err := s.movements.Insert(ctx, m); err != nil {
		return nil, fmt.Errorf("insert movement: %w", err)
	}

	after := before + m.Signed()
	return &AppendResult{Movement: m, StockBefore: before, StockAfter: after, Lot: lot}, nil
}

// ActiveProduct returns the product of class, failing with INVALID_STATUS when it was deactivated.
func (s *Service) ActiveProduct(ctx context.Context, class catalog.Class, productID id.ID) (*catalog.Product, error) {
	product, err := s.products.GetOfClass(ctx, class, productID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, apperror.NewInvalidStatus("product", "INACTIVE").WithDetail("product_id", productID)
	}
	return product, nil
}

// applyToLot applies a lot-linked movement to its lot inside the transaction.
func (s *Service) applyToLot(ctx context.Context, in MovementInput, now time.Time) (*Lot, error) {
	lot, err := s.lots.GetForUpdate(ctx, *in.LotID)
	if err != nil {
		return nil, err
	}
	if lot.ProductID != in.ProductID {
		return nil, apperror.NewValidation("Lot does not belong to the product").
			WithDetail("lot_id", lot.ID).
			WithDetail("product_id", in.ProductID)
	}

	switch in.Direction {
	case DirectionOut:
		err = lot.Decrement(in.Quantity, in.Origin == OriginLoss, now)
	case DirectionIn:
		err = lot.Restore(in.Quantity, now)
	}
	if err != nil {
		return nil, err
	}

	if err := s.lots.Update(ctx, lot); err != nil {
		return nil, fmt.Errorf("update lot: %w", err)
	}
	return lot, nil
}

// Record policy-checks and inserts a movement the caller built itself, for
// writers that manage lot quantities on their own (intake, FIFO). Must run
// inside the caller's transaction.
func (s *Service) Record(ctx context.Context, m *Movement, actor appctx.Actor) error {
	if !m.Quantity.IsPositive() {
		return apperror.NewInvalidQuantity(int64(m.Quantity))
	}
	if err := CheckPolicy(m.ProductClass, m.Origin, m.Direction, actor); err != nil {
		return err
	}
	if id.IsNil(m.ID) {
		m.ID = id.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	m.ActorID = actor.ID
	m.ActorRole = string(actor.Role)

	if err := s.movements.Insert(ctx, m); err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

// CalculateStock folds all non-voided movements of the product into totalIn - totalOut.
// This is the only way stock is ever derived.
func (s *Service) CalculateStock(ctx context.Context, class catalog.Class, productID id.ID) (types.Quantity, error) {
	in, out, err := s.movements.SumByDirection(ctx, class, productID)
	if err != nil {
		return 0, fmt.Errorf("fold movements: %w", err)
	}
	return in - out, nil
}

// StockLevel returns stock and status for display. It may be served from the
// cache and must never feed a check-then-write decision.
func (s *Service) StockLevel(ctx context.Context, class catalog.Class, productID id.ID) (*Level, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, class, productID)
		if err != nil {
			logger.Warn(ctx, "stock cache read failed", "product_id", productID, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	product, err := s.products.GetOfClass(ctx, class, productID)
	if err != nil {
		return nil, err
	}
	stock, err := s.CalculateStock(ctx, class, productID)
	if err != nil {
		return nil, err
	}

	level := &Level{
		ProductClass: class,
		ProductID:    productID,
		Stock:        stock,
		MinStock:     product.MinStock,
		Status:       GetStockStatus(stock, product.MinStock),
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, *level); err != nil {
			logger.Warn(ctx, "stock cache write failed", "product_id", productID, "error", err)
		}
	}
	return level, nil
}

// Movements returns movement history.
func (s *Service) Movements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.Limit == 0 || filter.Limit > 1000 {
		filter.Limit = 1000
	}
	return s.movements.List(ctx, filter)
}

// Lot returns a lot by id.
func (s *Service) Lot(ctx context.Context, lotID id.ID) (*Lot, error) {
	return s.lots.Get(ctx, lotID)
}

// ProductLots lists a product's lots.
func (s *Service) ProductLots(ctx context.Context, productID id.ID, filter LotFilter) ([]Lot, error) {
	return s.lots.ListByProduct(ctx, productID, filter)
}

// Invalidate drops cached levels after a committed write. Failures are logged only.
func (s *Service) Invalidate(ctx context.Context, class catalog.Class, productIDs ...id.ID) {
	if s.cache == nil || len(productIDs) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, class, productIDs...); err != nil {
		logger.Warn(ctx, "stock cache invalidation failed", "product_ids", productIDs, "error", err)
	}
}

// MovementAudit builds the audit record for one appended movement.
func MovementAudit(res *AppendResult, severity audit.Severity) audit.Event {
	m := res.Movement
	meta := map[string]any{
		"origin":       m.Origin,
		"movementType": m.Direction,
		"quantity":     m.Quantity,
		"productClass": m.ProductClass,
		"productId":    m.ProductID,
	}
	if m.LotID != nil {
		meta["lotId"] = *m.LotID
	}
	if m.Reference != nil {
		meta["reference"] = *m.Reference
	}
	return audit.Event{
		Action:     audit.ActionMovementCreated,
		EntityType: "stock_movement",
		EntityID:   m.ID.String(),
		Severity:   severity,
		Before:     map[string]any{"stock": res.StockBefore},
		After:      map[string]any{"stock": res.StockAfter},
		Metadata:   meta,
	}
}

func (s *Service) recordMovement(ctx context.Context, res *AppendResult, actor appctx.Actor, severity audit.Severity) {
	s.recorder.Record(ctx, audit.WithActor(MovementAudit(res, severity), actor))
}
