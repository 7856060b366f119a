package numerator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corenumerator "stockledger/internal/core/numerator"
)

type mockRow struct {
	val int64
}

func (m *mockRow) Scan(dest ...any) error {
	if ptr, ok := dest[0].(*int64); ok {
		*ptr = m.val
	}
	return nil
}

// mockQuerier simulates sys_sequences for a single key.
type mockQuerier struct {
	mu      sync.Mutex
	current int64
	calls   int
}

func (m *mockQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	v := args[1].(int64)
	if strings.Contains(sql, "current_val = $2\n") {
		m.current = v
	} else {
		m.current += v
	}
	return &mockRow{val: m.current}
}

var period = time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

func TestGetNextNumber_Strict(t *testing.T) {
	q := &mockQuerier{}
	svc := New(q)
	ctx := context.Background()

	num, err := svc.GetNextNumber(ctx, corenumerator.ReceptionRef, nil, period)
	require.NoError(t, err)
	assert.Equal(t, "REC-2026-00001", num)

	num, err = svc.GetNextNumber(ctx, corenumerator.ReceptionRef, nil, period)
	require.NoError(t, err)
	assert.Equal(t, "REC-2026-00002", num)
	assert.Equal(t, 2, q.calls)
}

func TestGetNextNumber_Cached(t *testing.T) {
	q := &mockQuerier{}
	svc := New(q)
	ctx := context.Background()
	opts := &corenumerator.Options{Strategy: corenumerator.StrategyCached, RangeSize: 10}

	num, err := svc.GetNextNumber(ctx, corenumerator.RawMaterialLot, opts, period)
	require.NoError(t, err)
	assert.Equal(t, "LMP-2026-00001", num)
	assert.Equal(t, int64(10), q.current)

	for i := 0; i < 9; i++ {
		_, err = svc.GetNextNumber(ctx, corenumerator.RawMaterialLot, opts, period)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, q.calls, "range served from memory")

	num, err = svc.GetNextNumber(ctx, corenumerator.RawMaterialLot, opts, period)
	require.NoError(t, err)
	assert.Equal(t, "LMP-2026-00011", num)
	assert.Equal(t, int64(20), q.current)
}

func TestSetNextNumber_InvalidatesCache(t *testing.T) {
	q := &mockQuerier{}
	svc := New(q)
	ctx := context.Background()
	opts := &corenumerator.Options{Strategy: corenumerator.StrategyCached, RangeSize: 10}

	_, err := svc.GetNextNumber(ctx, corenumerator.FinishedGoodsLot, opts, period)
	require.NoError(t, err)

	require.NoError(t, svc.SetNextNumber(ctx, corenumerator.FinishedGoodsLot, period, int64(100)))

	num, err := svc.GetNextNumber(ctx, corenumerator.FinishedGoodsLot, opts, period)
	require.NoError(t, err)
	assert.Equal(t, "LPF-2026-00101", num)
}
