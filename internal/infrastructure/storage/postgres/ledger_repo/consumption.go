package ledger_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"stockledger/internal/core/id"
	"stockledger/internal/domain/fifo"
	"stockledger/internal/infrastructure/storage/postgres"
)

var consumptionColumns = postgres.ExtractDBColumns[fifo.Record]()

var _ fifo.ConsumptionRepository = (*ConsumptionRepo)(nil)

// ConsumptionRepo implements fifo.ConsumptionRepository on lot_consumptions.
type ConsumptionRepo struct {
	baseRepo
	inserter *postgres.BatchInserter
}

// NewConsumptionRepo creates a new consumption repository.
func NewConsumptionRepo(txm *postgres.TxManager) *ConsumptionRepo {
	return &ConsumptionRepo{
		baseRepo: newBaseRepo(txm),
		inserter: postgres.NewBatchInserter(txm),
	}
}

// Insert copies the lines of one operation. Requires a transaction.
func (r *ConsumptionRepo) Insert(ctx context.Context, records []fifo.Record) error {
	rows := make([][]any, 0, len(records))
	for i := range records {
		m := postgres.StructToMap(&records[i])
		row := make([]any, len(consumptionColumns))
		for j, col := range consumptionColumns {
			row[j] = m[col]
		}
		rows = append(rows, row)
	}

	if _, err := r.inserter.CopyFromSlice(ctx, consumptionsTable, consumptionColumns, rows); err != nil {
		return fmt.Errorf("copy consumptions: %w", postgres.TranslateError(ctx, err))
	}
	return nil
}

func (r *ConsumptionRepo) ListByOperation(ctx context.Context, operationID id.ID) ([]fifo.Record, error) {
	q := r.builder.Select(consumptionColumns...).
		From(consumptionsTable).
		Where(squirrel.Eq{"operation_id": operationID}).
		OrderBy("created_at", "id")

	var records []fifo.Record
	if err := r.selectAll(ctx, &records, q); err != nil {
		return nil, fmt.Errorf("list consumptions: %w", err)
	}
	return records, nil
}

// MarkReversed only touches a line that is not reversed yet, so two concurrent
// reversals of one operation cannot both restore it.
func (r *ConsumptionRepo) MarkReversed(ctx context.Context, recordID, reversalMovementID id.ID, at time.Time) (bool, error) {
	n, err := r.exec(ctx, r.builder.Update(consumptionsTable).
		Set("reversed_at", at).
		Set("reversal_movement_id", reversalMovementID).
		Where(squirrel.Eq{"id": recordID, "reversed_at": nil}))
	if err != nil {
		return false, fmt.Errorf("mark consumption reversed: %w", err)
	}
	return n > 0, nil
}
