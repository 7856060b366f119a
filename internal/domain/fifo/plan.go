package fifo

import (
	"slices"

	"stockledger/internal/core/types"
	"stockledger/internal/domain/stock"
)

// BuildPlan walks lots in FIFO order and draws min(remaining, still needed)
// from each consumable lot until required is covered. It returns the plan and
// the total consumable quantity; the plan is partial when available < required.
func BuildPlan(lots []stock.Lot, required types.Quantity) ([]Consumption, types.Quantity) {
	ordered := slices.Clone(lots)
	stock.SortFIFO(ordered)

	var (
		plan      []Consumption
		available types.Quantity
		needed    = required
	)
	for _, lot := range ordered {
		if !lot.Consumable() {
			continue
		}
		available += lot.QuantityRemaining
		if needed <= 0 {
			continue
		}
		take := types.Min(lot.QuantityRemaining, needed)
		plan = append(plan, Consumption{
			LotID:      lot.ID,
			LotNumber:  lot.LotNumber,
			Quantity:   take,
			Before:     lot.QuantityRemaining,
			After:      lot.QuantityRemaining - take,
			ExpiryDate: lot.ExpiryDate,
		})
		needed -= take
	}
	return plan, available
}
