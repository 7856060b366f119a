package fifo_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/fifo"
	"stockledger/internal/domain/stock"
	"stockledger/internal/testutil"
)

func strPtr(s string) *string { return &s }

// twoLots receives A (30) then B (50) an hour later.
func twoLots(env *testutil.TestEnv) (*catalog.Product, stock.Lot, stock.Lot) {
	mp := env.RawMaterial("FLOUR", true)
	a := env.Receive(mp.ID, testutil.LotSpec{Quantity: 30, Expiry: testutil.Day(30)})
	env.Clock.Advance(time.Hour)
	b := env.Receive(mp.ID, testutil.LotSpec{Quantity: 50, Expiry: testutil.Day(10)})
	return mp, a, b
}

func consume(mp *catalog.Product, qty types.Quantity) fifo.ConsumeInput {
	return fifo.ConsumeInput{
		ProductClass: catalog.ClassRawMaterial,
		ProductID:    mp.ID,
		Quantity:     qty,
		Origin:       stock.OriginProductionOut,
		Reference:    strPtr("OP-2026-0001"),
	}
}

func TestConsume_OldestLotFirst(t *testing.T) {
	env := testutil.New(t)
	mp, a, b := twoLots(env)

	res, err := env.FIFO.Consume(env.Ctx, consume(mp, 45), testutil.Production)
	require.NoError(t, err)

	require.Len(t, res.Consumptions, 2)
	assert.Equal(t, a.ID, res.Consumptions[0].LotID)
	assert.Equal(t, types.Quantity(30), res.Consumptions[0].Quantity)
	assert.Equal(t, b.ID, res.Consumptions[1].LotID)
	assert.Equal(t, types.Quantity(15), res.Consumptions[1].Quantity)
	assert.Equal(t, types.Quantity(45), res.TotalConsumed)
	assert.Equal(t, 2, res.LotsUsed)
	assert.Equal(t, types.Quantity(80), res.StockBefore)
	assert.Equal(t, types.Quantity(35), res.StockAfter)

	assert.Equal(t, stock.LotConsumed, env.Lot(a.ID).Status)
	assert.Equal(t, types.Quantity(35), env.Lot(b.ID).QuantityRemaining)
	assert.Equal(t, types.Quantity(35), env.Stock(catalog.ClassRawMaterial, mp.ID))

	outs, err := env.Ledger.Movements(env.Ctx, stock.MovementFilter{ProductID: &mp.ID, Origin: stock.OriginProductionOut})
	require.NoError(t, err)
	require.Len(t, outs, 2)
	for _, m := range outs {
		require.NotNil(t, m.LotID)
		assert.NotEmpty(t, m.LotSnapshot)
		assert.Equal(t, "OP-2026-0001", *m.Reference)
	}

	var audits int
	for _, ev := range env.Audit.Events() {
		if ev.Action == audit.ActionFIFOConsumed {
			audits++
			assert.Equal(t, res.OperationID.String(), ev.EntityID)
		}
	}
	assert.Equal(t, 1, audits, "one consolidated audit per operation")
}

func TestConsume_Sufficiency(t *testing.T) {
	t.Run("exact amount drains every lot", func(t *testing.T) {
		env := testutil.New(t)
		mp, a, b := twoLots(env)

		res, err := env.FIFO.Consume(env.Ctx, consume(mp, 80), testutil.Production)
		require.NoError(t, err)
		assert.Equal(t, types.Quantity(0), res.StockAfter)
		assert.Equal(t, stock.LotConsumed, env.Lot(a.ID).Status)
		assert.Equal(t, stock.LotConsumed, env.Lot(b.ID).Status)
	})

	t.Run("one more fails without side effects", func(t *testing.T) {
		env := testutil.New(t)
		mp, a, b := twoLots(env)

		_, err := env.FIFO.Consume(env.Ctx, consume(mp, 81), testutil.Production)
		require.Error(t, err)
		appErr, ok := apperror.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperror.CodeInsufficientStockFIFO, appErr.Code)
		assert.Equal(t, int64(80), appErr.Details["available"])

		assert.Equal(t, types.Quantity(30), env.Lot(a.ID).QuantityRemaining)
		assert.Equal(t, types.Quantity(50), env.Lot(b.ID).QuantityRemaining)
		assert.Equal(t, types.Quantity(80), env.Stock(catalog.ClassRawMaterial, mp.ID))
	})

	t.Run("blocked lots are not eligible", func(t *testing.T) {
		env := testutil.New(t)
		mp := env.RawMaterial("MILK", true)
		env.Receive(mp.ID, testutil.LotSpec{Quantity: 10, Expiry: testutil.Day(1)})
		env.Receive(mp.ID, testutil.LotSpec{Quantity: 10, Expiry: testutil.Day(20)})
		_, err := env.Ledger.BlockExpiredLots(env.Ctx, *testutil.Day(2))
		require.NoError(t, err)

		_, err = env.FIFO.Consume(env.Ctx, consume(mp, 15), testutil.Production)
		assert.True(t, apperror.HasCode(err, apperror.CodeInsufficientStockFIFO))
		assert.Equal(t, types.Quantity(20), env.Stock(catalog.ClassRawMaterial, mp.ID))
	})

	t.Run("ledger fold is checked as well as lots", func(t *testing.T) {
		env := testutil.New(t)
		mp := env.RawMaterial("SUGAR", false)
		env.Receive(mp.ID, testutil.LotSpec{Quantity: 10})
		_, err := env.Ledger.CreateMovement(env.Ctx, stock.MovementInput{
			ProductClass: catalog.ClassRawMaterial,
			ProductID:    mp.ID,
			Origin:       stock.OriginLoss,
			Direction:    stock.DirectionOut,
			Quantity:     5,
		}, testutil.Admin)
		require.NoError(t, err)

		_, err = env.FIFO.Consume(env.Ctx, consume(mp, 8), testutil.Production)
		assert.True(t, apperror.HasCode(err, apperror.CodeInsufficientStock))
	})
}

func TestConsume_Policy(t *testing.T) {
	env := testutil.New(t)
	mp, _, _ := twoLots(env)

	_, err := env.FIFO.Consume(env.Ctx, consume(mp, 5), testutil.Commercial)
	assert.True(t, apperror.HasCode(err, apperror.CodeRoleNotAuthorized))

	in := consume(mp, 5)
	in.Origin = stock.OriginSale
	_, err = env.FIFO.Consume(env.Ctx, in, testutil.Admin)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidCombination))

	_, err = env.FIFO.Consume(env.Ctx, consume(mp, 0), testutil.Production)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidQuantity))

	assert.Equal(t, types.Quantity(80), env.Stock(catalog.ClassRawMaterial, mp.ID))
}

func TestConsume_IdempotencyKey(t *testing.T) {
	env := testutil.New(t)
	pf := env.FinishedGood("BREAD", "2.00")
	_, _, err := env.Ledger.RecordProductionOutput(env.Ctx, stock.ProductionOutputInput{
		ProductID: pf.ID, Quantity: 20, ProductionOrderID: "OP-9",
	}, testutil.Production)
	require.NoError(t, err)

	in := fifo.ConsumeInput{
		ProductClass:   catalog.ClassFinishedGood,
		ProductID:      pf.ID,
		Quantity:       7,
		Origin:         stock.OriginSale,
		IdempotencyKey: strPtr("order-1"),
	}
	first, err := env.FIFO.Consume(env.Ctx, in, testutil.Commercial)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := env.FIFO.Consume(env.Ctx, in, testutil.Commercial)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.OperationID, second.OperationID)
	assert.Equal(t, first.TotalConsumed, second.TotalConsumed)

	assert.Equal(t, types.Quantity(13), env.Stock(catalog.ClassFinishedGood, pf.ID))
	sales, err := env.Ledger.Movements(env.Ctx, stock.MovementFilter{ProductID: &pf.ID, Origin: stock.OriginSale})
	require.NoError(t, err)
	assert.Len(t, sales, 1)

	in.Quantity = 8
	_, err = env.FIFO.Consume(env.Ctx, in, testutil.Commercial)
	assert.True(t, apperror.HasCode(err, apperror.CodeIdempotency))
	assert.Equal(t, types.Quantity(13), env.Stock(catalog.ClassFinishedGood, pf.ID))
}

func TestPreview(t *testing.T) {
	env := testutil.New(t)
	mp, a, b := twoLots(env)

	p, err := env.FIFO.Preview(env.Ctx, catalog.ClassRawMaterial, mp.ID, 40)
	require.NoError(t, err)
	assert.True(t, p.Sufficient)
	assert.Equal(t, types.Quantity(80), p.AvailableStock)
	require.Len(t, p.Consumptions, 2)
	assert.Equal(t, a.ID, p.Consumptions[0].LotID)
	assert.Equal(t, b.ID, p.Consumptions[1].LotID)
	assert.Equal(t, types.Quantity(10), p.Consumptions[1].Quantity)

	p, err = env.FIFO.Preview(env.Ctx, catalog.ClassRawMaterial, mp.ID, 100)
	require.NoError(t, err)
	assert.False(t, p.Sufficient)

	assert.Equal(t, types.Quantity(30), env.Lot(a.ID).QuantityRemaining, "preview never writes")
}

func TestReverse(t *testing.T) {
	env := testutil.New(t)
	mp, a, b := twoLots(env)

	res, err := env.FIFO.Consume(env.Ctx, consume(mp, 45), testutil.Production)
	require.NoError(t, err)

	_, err = env.FIFO.Reverse(env.Ctx, res.OperationID, "", testutil.Production)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	rev, err := env.FIFO.Reverse(env.Ctx, res.OperationID, "order cancelled", testutil.Production)
	require.NoError(t, err)
	assert.Equal(t, types.Quantity(45), rev.TotalRestored)
	require.Len(t, rev.Lots, 2)

	gotA := env.Lot(a.ID)
	assert.Equal(t, types.Quantity(30), gotA.QuantityRemaining)
	assert.Equal(t, stock.LotAvailable, gotA.Status)
	assert.Nil(t, gotA.ConsumedAt)
	assert.Equal(t, types.Quantity(50), env.Lot(b.ID).QuantityRemaining)
	assert.Equal(t, types.Quantity(80), env.Stock(catalog.ClassRawMaterial, mp.ID))

	cancels, err := env.Ledger.Movements(env.Ctx, stock.MovementFilter{ProductID: &mp.ID, Origin: stock.OriginProductionCancel})
	require.NoError(t, err)
	assert.Len(t, cancels, 2)

	_, err = env.FIFO.Reverse(env.Ctx, res.OperationID, "again", testutil.Production)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidStatus))

	_, err = env.FIFO.Reverse(env.Ctx, id.New(), "unknown", testutil.Production)
	assert.True(t, apperror.IsNotFound(err))
}

func TestReverse_BlockedLotStaysBlocked(t *testing.T) {
	env := testutil.New(t)
	mp := env.RawMaterial("CREAM", true)
	l := env.Receive(mp.ID, testutil.LotSpec{Quantity: 10, Expiry: testutil.Day(2)})

	res, err := env.FIFO.Consume(env.Ctx, consume(mp, 4), testutil.Production)
	require.NoError(t, err)

	_, err = env.Ledger.BlockExpiredLots(env.Ctx, *testutil.Day(3))
	require.NoError(t, err)

	rev, err := env.FIFO.Reverse(env.Ctx, res.OperationID, "batch recalled", testutil.Admin)
	require.NoError(t, err)
	require.Len(t, rev.Lots, 1)
	assert.Equal(t, stock.LotBlocked, rev.Lots[0].Status)

	got := env.Lot(l.ID)
	assert.Equal(t, types.Quantity(10), got.QuantityRemaining)
	assert.Equal(t, stock.LotBlocked, got.Status)
}

func TestReverse_InactiveProduct(t *testing.T) {
	env := testutil.New(t)
	mp := env.RawMaterial("YEAST", false)
	l := env.Receive(mp.ID, testutil.LotSpec{Quantity: 10})

	res, err := env.FIFO.Consume(env.Ctx, consume(mp, 10), testutil.Production)
	require.NoError(t, err)
	require.NoError(t, env.Catalog.Deactivate(env.Ctx, mp.ID, testutil.Admin))

	_, err = env.FIFO.Reverse(env.Ctx, res.OperationID, "order cancelled", testutil.Production)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidStatus))

	got := env.Lot(l.ID)
	assert.Equal(t, types.Quantity(0), got.QuantityRemaining)
	assert.Equal(t, types.Quantity(0), env.Stock(catalog.ClassRawMaterial, mp.ID))
}

func TestReversalOrigin(t *testing.T) {
	assert.Equal(t, stock.OriginProductionCancel, fifo.ReversalOrigin(catalog.ClassRawMaterial))
	assert.Equal(t, stock.OriginCustomerReturn, fifo.ReversalOrigin(catalog.ClassFinishedGood))
}
