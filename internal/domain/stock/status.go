package stock

import "stockledger/internal/core/types"

// Status is the stock health of a product.
type Status string

const (
	StatusOK      Status = "OK"
	StatusAlert   Status = "ALERT"
	StatusRupture Status = "RUPTURE"
)

// GetStockStatus classifies stock against the product's minimum threshold.
func GetStockStatus(stock, minStock types.Quantity) Status {
	switch {
	case stock <= 0:
		return StatusRupture
	case stock <= minStock:
		return StatusAlert
	default:
		return StatusOK
	}
}
