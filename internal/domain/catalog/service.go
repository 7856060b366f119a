package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"stockledger/internal/core/apperror"
	appctx "stockledger/internal/core/context"
	"stockledger/internal/core/id"
	"stockledger/internal/core/tx"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/audit"
	"stockledger/pkg/logger"
)

// Service manages products and answers ProductCatalog lookups for the ledger.
type Service struct {
	repo     Repository
	txm      tx.Manager
	lots     StockedLots
	costs    LotCosts
	recorder *audit.Recorder
}

// NewService creates a new catalog service.
func NewService(repo Repository, txm tx.Manager, lots StockedLots, costs LotCosts, recorder *audit.Recorder) *Service {
	return &Service{
		repo:     repo,
		txm:      txm,
		lots:     lots,
		costs:    costs,
		recorder: recorder,
	}
}

// Create registers a new product. ADMIN only.
func (s *Service) Create(ctx context.Context, in CreateInput, actor appctx.Actor) (*Product, error) {
	if !actor.Is(appctx.RoleAdmin) {
		return nil, apperror.NewAdminOnly("create products")
	}
	if err := apperror.ValidateStruct(in); err != nil {
		return nil, err
	}
	if in.Class == ClassFinishedGood && in.PriceHT == nil {
		return nil, apperror.NewValidation("finished goods require a unit price").WithDetail("field", "priceHt")
	}

	now := time.Now().UTC()
	p := &Product{
		ID:           id.New(),
		Class:        in.Class,
		Code:         in.Code,
		Name:         in.Name,
		Unit:         in.Unit,
		MinStock:     in.MinStock,
		IsPerishable: in.Class == ClassRawMaterial,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.PriceHT != nil {
		p.PriceHT = decimal.NewNullDecimal(*in.PriceHT)
	}
	if in.IsPerishable != nil && in.Class == ClassRawMaterial {
		p.IsPerishable = *in.IsPerishable
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	s.recorder.Record(ctx, audit.WithActor(audit.Event{
		Action:     audit.ActionProductCreated,
		EntityType: "product",
		EntityID:   p.ID.String(),
		After:      map[string]any{"code": p.Code, "class": p.Class, "minStock": p.MinStock},
	}, actor))
	logger.Info(ctx, "product created", "product_id", p.ID, "code", p.Code, "class", p.Class)

	return p, nil
}

// Get returns a product by id.
func (s *Service) Get(ctx context.Context, productID id.ID) (*Product, error) {
	return s.repo.Get(ctx, productID)
}

// GetOfClass returns the product and checks it belongs to class.
func (s *Service) GetOfClass(ctx context.Context, class Class, productID id.ID) (*Product, error) {
	p, err := s.repo.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p.Class != class {
		return nil, apperror.NewNotFound("product", productID).WithDetail("class", class)
	}
	return p, nil
}

// List returns products matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Product, error) {
	return s.repo.List(ctx, filter)
}

// Lookup returns the valuation and thresholds the ledger needs.
// Raw materials are valued at the average lot unit cost, finished goods at PriceHT.
func (s *Service) Lookup(ctx context.Context, class Class, productID id.ID) (Info, error) {
	p, err := s.GetOfClass(ctx, class, productID)
	if err != nil {
		return Info{}, err
	}

	info := Info{
		UnitCost:     decimal.Zero,
		IsPerishable: p.IsPerishable,
		MinStock:     p.MinStock,
	}

	switch class {
	case ClassRawMaterial:
		avg, err := s.costs.AverageUnitCost(ctx, productID)
		if err != nil {
			return Info{}, fmt.Errorf("average unit cost: %w", err)
		}
		if avg.Valid {
			info.UnitCost = avg.Decimal
		}
	case ClassFinishedGood:
		if p.PriceHT.Valid {
			info.UnitCost = p.PriceHT.Decimal
		}
	}

	return info, nil
}

// UpdateThresholds changes min stock and/or price. ADMIN only.
func (s *Service) UpdateThresholds(ctx context.Context, productID id.ID, in ThresholdsInput, actor appctx.Actor) (*Product, error) {
	if !actor.Is(appctx.RoleAdmin) {
		return nil, apperror.NewAdminOnly("update product thresholds")
	}
	if err := apperror.ValidateStruct(in); err != nil {
		return nil, err
	}

	var before, after map[string]any
	var updated *Product
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		p, err := s.repo.Get(ctx, productID)
		if err != nil {
			return err
		}
		before = map[string]any{"minStock": p.MinStock, "priceHt": p.PriceHT}

		if in.MinStock != nil {
			p.MinStock = *in.MinStock
		}
		if in.PriceHT != nil {
			if p.Class != ClassFinishedGood {
				return apperror.NewValidation("only finished goods carry a unit price").WithDetail("field", "priceHt")
			}
			p.PriceHT = decimal.NewNullDecimal(*in.PriceHT)
		}
		p.UpdatedAt = time.Now().UTC()

		if err := s.repo.Update(ctx, p); err != nil {
			return fmt.Errorf("update product: %w", err)
		}
		after = map[string]any{"minStock": p.MinStock, "priceHt": p.PriceHT}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, audit.WithActor(audit.Event{
		Action:     audit.ActionProductUpdated,
		EntityType: "product",
		EntityID:   productID.String(),
		Before:     before,
		After:      after,
	}, actor))

	return updated, nil
}

// Deactivate soft-deletes a product. Refused while any lot still holds stock.
func (s *Service) Deactivate(ctx context.Context, productID id.ID, actor appctx.Actor) error {
	if !actor.Is(appctx.RoleAdmin) {
		return apperror.NewAdminOnly("deactivate products")
	}

	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		p, err := s.repo.Get(ctx, productID)
		if err != nil {
			return err
		}
		if !p.IsActive {
			return nil
		}

		stocked, err := s.lots.HasPositiveRemaining(ctx, productID)
		if err != nil {
			return fmt.Errorf("check lots: %w", err)
		}
		if stocked {
			return apperror.NewBusinessRule(apperror.CodeProductHasStock,
				"Product still has lots with remaining quantity").
				WithDetail("product_id", productID)
		}

		p.IsActive = false
		p.UpdatedAt = time.Now().UTC()
		return s.repo.Update(ctx, p)
	})
	if err != nil {
		return err
	}

	s.recorder.Record(ctx, audit.WithActor(audit.Event{
		Action:     audit.ActionProductDeactivated,
		EntityType: "product",
		EntityID:   productID.String(),
		Severity:   audit.SeverityWarning,
	}, actor))
	logger.Info(ctx, "product deactivated", "product_id", productID)

	return nil
}

// MarkPhysicalCount records the last counted stock. Runs inside the caller's transaction.
func (s *Service) MarkPhysicalCount(ctx context.Context, productID id.ID, qty types.Quantity, at time.Time) error {
	return s.repo.SetLastPhysicalStock(ctx, productID, qty, at)
}
