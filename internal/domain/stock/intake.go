package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"stockledger/internal/core/apperror"
	appctx "stockledger/internal/core/context"
	"stockledger/internal/core/id"
	"stockledger/internal/core/numerator"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/catalog"
	"stockledger/pkg/logger"
)

// ReceptionLine is one received raw-material batch.
type ReceptionLine struct {
	ProductID id.ID            `json:"productId" validate:"required"`
	Quantity  types.Quantity   `json:"quantity"`
	LotNumber string           `json:"lotNumber" validate:"max=50"`
	Expiry    *time.Time       `json:"expiryDate"`
	UnitCost  *decimal.Decimal `json:"unitCost"`
}

// ReceptionInput is a supplier delivery.
type ReceptionInput struct {
	SupplierRef string          `json:"supplierRef" validate:"max=100"`
	Lines       []ReceptionLine `json:"lines" validate:"required,min=1,dive"`
}

// Reception is the result of Receive.
type Reception struct {
	Reference string     `json:"reference"`
	Lots      []Lot      `json:"lots"`
	Movements []Movement `json:"movements"`
}

// ProductionOutputInput records finished goods coming off a production run.
type ProductionOutputInput struct {
	ProductID         id.ID            `json:"productId" validate:"required"`
	Quantity          types.Quantity   `json:"quantity"`
	ProductionOrderID string           `json:"productionOrderId" validate:"required,max=100"`
	Expiry            *time.Time       `json:"expiryDate"`
	UnitCost          *decimal.Decimal `json:"unitCost"`
}

// Receive books a raw-material delivery: one AVAILABLE lot and one RECEPTION IN
// movement per line, all in one transaction.
func (s *Service) Receive(ctx context.Context, in ReceptionInput, actor appctx.Actor) (*Reception, error) {
	if err := apperror.ValidateStruct(in); err != nil {
		return nil, err
	}
	for _, line := range in.Lines {
		if !line.Quantity.IsPositive() {
			return nil, apperror.NewInvalidQuantity(int64(line.Quantity)).WithDetail("product_id", line.ProductID)
		}
	}
	if err := CheckPolicy(catalog.ClassRawMaterial, OriginReception, DirectionIn, actor); err != nil {
		return nil, err
	}

	// Numbers are drawn before the transaction; a rollback leaves a gap.
	now := s.now()
	ref, err := s.numerator.GetNextNumber(ctx, numerator.ReceptionRef, nil, now)
	if err != nil {
		return nil, fmt.Errorf("reception reference: %w", err)
	}
	lotNumbers := make([]string, len(in.Lines))
	for i, line := range in.Lines {
		lotNumbers[i] = line.LotNumber
		if lotNumbers[i] == "" {
			if lotNumbers[i], err = s.numerator.GetNextNumber(ctx, numerator.RawMaterialLot, nil, now); err != nil {
				return nil, fmt.Errorf("lot number: %w", err)
			}
		}
	}

	rec := &Reception{Reference: ref}
	err = s.txManager.RunInTransactionWithOptions(ctx, s.TxOptions(), func(ctx context.Context) error {
		rec.Lots, rec.Movements = nil, nil
		for i, line := range in.Lines {
			lot, m, err := s.createLot(ctx, lotSpec{
				class:      catalog.ClassRawMaterial,
				productID:  line.ProductID,
				quantity:   line.Quantity,
				lotNumber:  lotNumbers[i],
				expiry:     line.Expiry,
				unitCost:   line.UnitCost,
				sourceType: SourceReception,
				sourceRef:  ref,
				origin:     OriginReception,
			}, actor)
			if err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			rec.Lots = append(rec.Lots, *lot)
			rec.Movements = append(rec.Movements, *m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	productIDs := make([]id.ID, 0, len(rec.Lots))
	for i := range rec.Lots {
		productIDs = append(productIDs, rec.Lots[i].ProductID)
		s.recorder.Record(ctx, audit.WithActor(lotAudit(audit.ActionLotReceived, &rec.Lots[i], &rec.Movements[i]), actor))
	}
	s.Invalidate(ctx, catalog.ClassRawMaterial, productIDs...)
	logger.Info(ctx, "reception booked", "reference", ref, "lots", len(rec.Lots), "supplier_ref", in.SupplierRef)

	return rec, nil
}

// RecordProductionOutput books a finished-goods lot and its PRODUCTION_IN movement.
func (s *Service) RecordProductionOutput(ctx context.Context, in ProductionOutputInput, actor appctx.Actor) (*Lot, *Movement, error) {
	if err := apperror.ValidateStruct(in); err != nil {
		return nil, nil, err
	}
	if !in.Quantity.IsPositive() {
		return nil, nil, apperror.NewInvalidQuantity(int64(in.Quantity))
	}
	if err := CheckPolicy(catalog.ClassFinishedGood, OriginProductionIn, DirectionIn, actor); err != nil {
		return nil, nil, err
	}

	lotNumber, err := s.numerator.GetNextNumber(ctx, numerator.FinishedGoodsLot, nil, s.now())
	if err != nil {
		return nil, nil, fmt.Errorf("lot number: %w", err)
	}

	var (
		lot *Lot
		m   *Movement
	)
	err = s.txManager.RunInTransactionWithOptions(ctx, s.TxOptions(), func(ctx context.Context) error {
		var err error
		lot, m, err = s.createLot(ctx, lotSpec{
			class:      catalog.ClassFinishedGood,
			productID:  in.ProductID,
			quantity:   in.Quantity,
			lotNumber:  lotNumber,
			expiry:     in.Expiry,
			unitCost:   in.UnitCost,
			sourceType: SourceProduction,
			sourceRef:  in.ProductionOrderID,
			origin:     OriginProductionIn,
		}, actor)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.Invalidate(ctx, catalog.ClassFinishedGood, in.ProductID)
	s.recorder.Record(ctx, audit.WithActor(lotAudit(audit.ActionLotProduced, lot, m), actor))
	logger.Info(ctx, "production output booked",
		"lot_id", lot.ID,
		"lot_number", lot.LotNumber,
		"production_order_id", in.ProductionOrderID,
		"quantity", in.Quantity,
	)

	return lot, m, nil
}

type lotSpec struct {
	class      catalog.Class
	productID  id.ID
	quantity   types.Quantity
	lotNumber  string
	expiry     *time.Time
	unitCost   *decimal.Decimal
	sourceType string
	sourceRef  string
	origin     Origin
}

// createLot inserts a fresh lot and the IN movement linked to it.
func (s *Service) createLot(ctx context.Context, spec lotSpec, actor appctx.Actor) (*Lot, *Movement, error) {
	if _, err := s.ActiveProduct(ctx, spec.class, spec.productID); err != nil {
		return nil, nil, err
	}

	now := s.now()
	lot := &Lot{
		ID:                id.New(),
		ProductClass:      spec.class,
		ProductID:         spec.productID,
		LotNumber:         spec.lotNumber,
		QuantityInitial:   spec.quantity,
		QuantityRemaining: spec.quantity,
		Status:            LotAvailable,
		ExpiryDate:        truncateDay(spec.expiry),
		SourceType:        spec.sourceType,
		SourceRef:         &spec.sourceRef,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if spec.unitCost != nil {
		lot.UnitCost = decimal.NewNullDecimal(*spec.unitCost)
	}
	if err := s.lots.Create(ctx, lot); err != nil {
		return nil, nil, fmt.Errorf("create lot: %w", err)
	}

	m := &Movement{
		ProductClass: spec.class,
		ProductID:    spec.productID,
		LotID:        &lot.ID,
		Direction:    DirectionIn,
		Origin:       spec.origin,
		Quantity:     spec.quantity,
		Reference:    &spec.sourceRef,
		CreatedAt:    now,
	}
	if err := s.Record(ctx, m, actor); err != nil {
		return nil, nil, err
	}
	return lot, m, nil
}

func lotAudit(action string, lot *Lot, m *Movement) audit.Event {
	return audit.Event{
		Action:     action,
		EntityType: "lot",
		EntityID:   lot.ID.String(),
		After: map[string]any{
			"lotNumber":       lot.LotNumber,
			"quantityInitial": lot.QuantityInitial,
			"expiryDate":      lot.ExpiryDate,
			"status":          lot.Status,
		},
		Metadata: map[string]any{
			"movementId": m.ID,
			"origin":     m.Origin,
			"sourceRef":  lot.SourceRef,
		},
	}
}

func truncateDay(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}
