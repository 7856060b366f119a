package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/id"
	"stockledger/internal/domain/stock"
)

type AuditedRow struct {
	CreatedBy string `db:"created_by"`
	Ignored   string `db:"-"`
}

type lotRow struct {
	stock.Lot
	AuditedRow
	Note string
}

func TestExtractDBColumns(t *testing.T) {
	cols := ExtractDBColumns[stock.Lot]()

	require.NotEmpty(t, cols)
	assert.Equal(t, "id", cols[0])
	assert.Contains(t, cols, "quantity_remaining")
	assert.Contains(t, cols, "unit_cost")
	assert.Equal(t, "updated_at", cols[len(cols)-1])
}

func TestExtractDBColumns_Embedded(t *testing.T) {
	cols := ExtractDBColumns[lotRow]()

	assert.Contains(t, cols, "lot_number")
	assert.Contains(t, cols, "created_by")
	assert.NotContains(t, cols, "-")
	assert.Len(t, cols, len(ExtractDBColumns[stock.Lot]())+1)
}

func TestStructToMap(t *testing.T) {
	now := time.Now().UTC()
	row := lotRow{
		Lot: stock.Lot{
			ID:                id.New(),
			LotNumber:         "LMP-2026-00001",
			QuantityRemaining: 12,
			Status:            stock.LotAvailable,
			ConsumedAt:        &now,
		},
		AuditedRow: AuditedRow{CreatedBy: "u1", Ignored: "x"},
		Note:       "not a column",
	}

	m := StructToMap(&row)

	assert.Equal(t, row.ID, m["id"])
	assert.Equal(t, "LMP-2026-00001", m["lot_number"])
	assert.Equal(t, row.QuantityRemaining, m["quantity_remaining"])
	assert.Equal(t, &now, m["consumed_at"])
	assert.Equal(t, "u1", m["created_by"])
	assert.NotContains(t, m, "Note")
	assert.Len(t, m, len(ExtractDBColumns[lotRow]()))

	trimmed := Without(m, "id", "created_at")
	assert.NotContains(t, trimmed, "id")
	assert.Contains(t, m, "id")
	assert.Len(t, trimmed, len(m)-2)
}

func TestStructToMap_NonStruct(t *testing.T) {
	assert.Nil(t, StructToMap(42))
}
