package stock

import (
	"context"
	"time"

	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/catalog"
)

// MovementRepository is the append-only ledger store.
type MovementRepository interface {
	// Insert appends a movement. A reused idempotency key fails with DUPLICATE_ENTRY.
	Insert(ctx context.Context, m *Movement) error

	// SumByDirection folds non-voided movements of a product.
	SumByDirection(ctx context.Context, class catalog.Class, productID id.ID) (in, out types.Quantity, err error)

	// GetByIdempotencyKey returns (nil, nil) when the key is unused.
	GetByIdempotencyKey(ctx context.Context, key string) (*Movement, error)

	List(ctx context.Context, filter MovementFilter) ([]Movement, error)

	// GetForUpdate reads a movement and row-locks it for the rest of the transaction.
	GetForUpdate(ctx context.Context, movementID id.ID) (*Movement, error)
	// Void flags a movement; it stays in history but leaves the stock fold.
	Void(ctx context.Context, movementID id.ID) error
}

// LotRepository is the lot store.
type LotRepository interface {
	Create(ctx context.Context, lot *Lot) error
	Get(ctx context.Context, lotID id.ID) (*Lot, error)
	// GetForUpdate reads the lot and row-locks it for the rest of the transaction.
	GetForUpdate(ctx context.Context, lotID id.ID) (*Lot, error)
	Update(ctx context.Context, lot *Lot) error

	// LockConsumable returns the product's AVAILABLE lots with remaining > 0 in FIFO
	// order, locking them and skipping rows another transaction already holds.
	LockConsumable(ctx context.Context, productID id.ID) ([]Lot, error)
	// ListConsumable is LockConsumable without locks.
	ListConsumable(ctx context.Context, productID id.ID) ([]Lot, error)

	// LockExpired returns AVAILABLE lots with remaining > 0 and expiry before the given date.
	LockExpired(ctx context.Context, before time.Time) ([]Lot, error)
	// ListExpiringOn returns AVAILABLE lots with remaining > 0 expiring on day.
	ListExpiringOn(ctx context.Context, day time.Time) ([]Lot, error)

	ListByProduct(ctx context.Context, productID id.ID, filter LotFilter) ([]Lot, error)

	catalog.StockedLots
	catalog.LotCosts
}

// ProductCatalog is the product lookup the ledger depends on.
type ProductCatalog interface {
	GetOfClass(ctx context.Context, class catalog.Class, productID id.ID) (*catalog.Product, error)
	Lookup(ctx context.Context, class catalog.Class, productID id.ID) (catalog.Info, error)
}

// Cache is an optional read-through cache for StockLevel.
// It is never consulted by write paths.
type Cache interface {
	Get(ctx context.Context, class catalog.Class, productID id.ID) (*Level, error)
	Set(ctx context.Context, level Level) error
	Invalidate(ctx context.Context, class catalog.Class, productIDs ...id.ID) error
}
