// Package catalog holds the product master data the ledger is keyed on.
package catalog

import (
	"time"

	"github.com/shopspring/decimal"

	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
)

// Class separates raw materials from finished goods. Movements, lots and
// reconciliation tolerances are all keyed on it.
type Class string

const (
	ClassRawMaterial  Class = "MP"
	ClassFinishedGood Class = "PF"
)

// Valid reports whether c is a known product class.
func (c Class) Valid() bool {
	return c == ClassRawMaterial || c == ClassFinishedGood
}

func (c Class) String() string { return string(c) }

// Product is a stocked item.
type Product struct {
	ID    id.ID  `db:"id" json:"id"`
	Class Class  `db:"class" json:"class"`
	Code  string `db:"code" json:"code"`
	Name  string `db:"name" json:"name"`
	Unit  string `db:"unit" json:"unit"`

	MinStock types.Quantity `db:"min_stock" json:"minStock"`
	// PriceHT is the unit selling price before tax; finished goods only.
	PriceHT decimal.NullDecimal `db:"price_ht" json:"priceHt"`
	// IsPerishable drives the raw-material reconciliation tolerance band.
	IsPerishable bool `db:"is_perishable" json:"isPerishable"`

	LastPhysicalStock   *types.Quantity `db:"last_physical_stock" json:"lastPhysicalStock,omitempty"`
	LastPhysicalStockAt *time.Time      `db:"last_physical_stock_at" json:"lastPhysicalStockAt,omitempty"`

	IsActive  bool      `db:"is_active" json:"isActive"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Info is what the ledger needs to know about a product.
type Info struct {
	UnitCost     types.Money
	IsPerishable bool
	MinStock     types.Quantity
}

// CreateInput describes a new product.
type CreateInput struct {
	Class        Class            `json:"class" validate:"required,oneof=MP PF"`
	Code         string           `json:"code" validate:"required,max=50"`
	Name         string           `json:"name" validate:"required,max=200"`
	Unit         string           `json:"unit" validate:"required,max=20"`
	MinStock     types.Quantity   `json:"minStock" validate:"gte=0"`
	PriceHT      *decimal.Decimal `json:"priceHt"`
	IsPerishable *bool            `json:"isPerishable"`
}

// ThresholdsInput updates the mutable product fields; nil leaves a field unchanged.
type ThresholdsInput struct {
	MinStock *types.Quantity  `json:"minStock" validate:"omitempty,gte=0"`
	PriceHT  *decimal.Decimal `json:"priceHt"`
}

// ListFilter narrows product listings.
type ListFilter struct {
	Class      Class
	ActiveOnly bool
	Limit      uint64
}
