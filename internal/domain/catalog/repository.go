package catalog

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
)

// Repository persists products.
type Repository interface {
	Create(ctx context.Context, p *Product) error
	// Get returns NOT_FOUND when the product does not exist.
	Get(ctx context.Context, productID id.ID) (*Product, error)
	Update(ctx context.Context, p *Product) error
	SetLastPhysicalStock(ctx context.Context, productID id.ID, qty types.Quantity, at time.Time) error
	List(ctx context.Context, filter ListFilter) ([]Product, error)
}

// StockedLots answers the deactivation guard; implemented by the lot repository.
type StockedLots interface {
	HasPositiveRemaining(ctx context.Context, productID id.ID) (bool, error)
}

// LotCosts provides the raw-material valuation; implemented by the lot repository.
type LotCosts interface {
	// AverageUnitCost is the mean unit_cost over the product's lots that carry one.
	AverageUnitCost(ctx context.Context, productID id.ID) (decimal.NullDecimal, error)
}
