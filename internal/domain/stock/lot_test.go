package stock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
)

func quantity(v int64) types.Quantity { return types.Quantity(v) }

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newLot(remaining int64, status LotStatus) *Lot {
	return &Lot{
		ID:                id.New(),
		ProductID:         id.New(),
		LotNumber:         "LMP-2026-00001",
		QuantityInitial:   100,
		QuantityRemaining: quantity(remaining),
		Status:            status,
	}
}

func TestLotDecrement(t *testing.T) {
	t.Run("partial keeps lot available", func(t *testing.T) {
		lot := newLot(100, LotAvailable)
		require.NoError(t, lot.Decrement(40, false, now))
		assert.Equal(t, quantity(60), lot.QuantityRemaining)
		assert.Equal(t, LotAvailable, lot.Status)
		assert.Nil(t, lot.ConsumedAt)
	})

	t.Run("reaching zero consumes lot", func(t *testing.T) {
		lot := newLot(30, LotAvailable)
		require.NoError(t, lot.Decrement(30, false, now))
		assert.Equal(t, LotConsumed, lot.Status)
		require.NotNil(t, lot.ConsumedAt)
		assert.Equal(t, now, *lot.ConsumedAt)
	})

	t.Run("more than remaining", func(t *testing.T) {
		lot := newLot(5, LotAvailable)
		err := lot.Decrement(6, false, now)
		assert.True(t, apperror.HasCode(err, apperror.CodeInsufficientStock))
		assert.Equal(t, quantity(5), lot.QuantityRemaining)
	})

	t.Run("consumed lot", func(t *testing.T) {
		lot := newLot(0, LotConsumed)
		assert.True(t, apperror.HasCode(lot.Decrement(1, true, now), apperror.CodeLotNotAvailable))
	})

	t.Run("blocked lot only for losses", func(t *testing.T) {
		lot := newLot(20, LotBlocked)
		assert.True(t, apperror.HasCode(lot.Decrement(5, false, now), apperror.CodeLotNotAvailable))

		require.NoError(t, lot.Decrement(20, true, now))
		assert.Equal(t, quantity(0), lot.QuantityRemaining)
		assert.Equal(t, LotBlocked, lot.Status, "a blocked lot never becomes consumed")
	})
}

func TestLotRestore(t *testing.T) {
	t.Run("consumed becomes available", func(t *testing.T) {
		lot := newLot(0, LotConsumed)
		lot.ConsumedAt = &now
		require.NoError(t, lot.Restore(100, now))
		assert.Equal(t, quantity(100), lot.QuantityRemaining)
		assert.Equal(t, LotAvailable, lot.Status)
		assert.Nil(t, lot.ConsumedAt)
	})

	t.Run("blocked stays blocked", func(t *testing.T) {
		lot := newLot(0, LotBlocked)
		require.NoError(t, lot.Restore(100, now))
		assert.Equal(t, quantity(100), lot.QuantityRemaining)
		assert.Equal(t, LotBlocked, lot.Status)
		assert.False(t, lot.Consumable())
	})

	t.Run("cannot exceed initial", func(t *testing.T) {
		lot := newLot(90, LotAvailable)
		err := lot.Restore(11, now)
		assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
		assert.Equal(t, quantity(90), lot.QuantityRemaining)
	})
}

func TestLotBlock(t *testing.T) {
	lot := newLot(10, LotAvailable)
	require.NoError(t, lot.Block(BlockedReasonExpired, now))
	assert.Equal(t, LotBlocked, lot.Status)
	require.NotNil(t, lot.BlockedReason)
	assert.Equal(t, BlockedReasonExpired, *lot.BlockedReason)

	assert.True(t, apperror.HasCode(lot.Block(BlockedReasonExpired, now), apperror.CodeInvalidStatus))
}

func TestCompareFIFO(t *testing.T) {
	day := func(n int) time.Time { return now.AddDate(0, 0, n) }
	ptr := func(t time.Time) *time.Time { return &t }

	a := Lot{ID: id.MustParse("00000000-0000-7000-8000-000000000002"), CreatedAt: day(1), ExpiryDate: ptr(day(30))}
	b := Lot{ID: id.MustParse("00000000-0000-7000-8000-000000000001"), CreatedAt: day(2), ExpiryDate: ptr(day(20))}
	assert.Negative(t, CompareFIFO(a, b), "creation time wins over expiry")

	c := Lot{ID: a.ID, CreatedAt: day(1), ExpiryDate: nil}
	d := Lot{ID: b.ID, CreatedAt: day(1), ExpiryDate: ptr(day(40))}
	assert.Positive(t, CompareFIFO(c, d), "undated lots come last")

	e := Lot{ID: a.ID, CreatedAt: day(1), ExpiryDate: ptr(day(10))}
	f := Lot{ID: b.ID, CreatedAt: day(1), ExpiryDate: ptr(day(10))}
	assert.Positive(t, CompareFIFO(e, f), "id breaks the tie")

	lots := []Lot{b, a}
	SortFIFO(lots)
	assert.Equal(t, a.ID, lots[0].ID)
}
