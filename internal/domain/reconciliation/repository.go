package reconciliation

import (
	"context"
	"time"

	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/catalog"
)

// Repository persists declarations.
type Repository interface {
	Create(ctx context.Context, d *Declaration) error
	// Get fails with DECLARATION_NOT_FOUND.
	Get(ctx context.Context, declarationID id.ID) (*Declaration, error)
	// GetForUpdate is Get with a row lock held until the transaction ends.
	GetForUpdate(ctx context.Context, declarationID id.ID) (*Declaration, error)
	Update(ctx context.Context, d *Declaration) error

	// LatestCounted returns the newest declaration for the product counted at or
	// after since whose status counts for the cooldown; (nil, nil) when none.
	LatestCounted(ctx context.Context, class catalog.Class, productID id.ID, since time.Time) (*Declaration, error)
	// RecentByCounter returns up to limit of counter's declarations for the product,
	// counted at or after since, with one of statuses, newest first.
	RecentByCounter(ctx context.Context, class catalog.Class, productID id.ID, counterID string, since time.Time, statuses []Status, limit int) ([]Declaration, error)

	// ListPending returns pending declarations, highest risk first, then oldest count first.
	ListPending(ctx context.Context) ([]Declaration, error)
	// ListPendingBefore returns pending declarations counted before cutoff.
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]Declaration, error)
	// ListByProduct returns the product's declarations, newest first.
	ListByProduct(ctx context.Context, class catalog.Class, productID id.ID, limit int) ([]Declaration, error)
}

// ProductCatalog is the product side the workflow depends on.
type ProductCatalog interface {
	Lookup(ctx context.Context, class catalog.Class, productID id.ID) (catalog.Info, error)
	MarkPhysicalCount(ctx context.Context, productID id.ID, qty types.Quantity, at time.Time) error
}
