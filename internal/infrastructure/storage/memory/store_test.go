package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	corenumerator "stockledger/internal/core/numerator"
	"stockledger/internal/core/tx"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/stock"
)

func product(code string) *catalog.Product {
	return &catalog.Product{ID: id.New(), Class: catalog.ClassRawMaterial, Code: code, IsActive: true}
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := product("P1")

	boom := errors.New("boom")
	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Products().Create(ctx, p))
		require.NoError(t, s.Movements().Insert(ctx, &stock.Movement{
			ID: id.New(), ProductClass: p.Class, ProductID: p.ID,
			Direction: stock.DirectionIn, Origin: stock.OriginReception, Quantity: 5,
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Products().Get(ctx, p.ID)
	assert.True(t, apperror.IsNotFound(err))
	in, out, err := s.Movements().SumByDirection(ctx, p.Class, p.ID)
	require.NoError(t, err)
	assert.Zero(t, in)
	assert.Zero(t, out)
}

func TestTransaction_NestedCallsShareTheOuterTransaction(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := product("P2")

	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.RunInTransaction(ctx, func(ctx context.Context) error {
			return s.Products().Create(ctx, p)
		}); err != nil {
			return err
		}
		return errors.New("outer fails")
	})
	require.Error(t, err)

	_, err = s.Products().Get(ctx, p.ID)
	assert.True(t, apperror.IsNotFound(err), "inner write rolled back with the outer transaction")
}

func TestTransaction_Timeout(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := product("P3")

	err := s.RunInTransactionWithOptions(ctx, tx.Serializable(10*time.Millisecond), func(ctx context.Context) error {
		if err := s.Products().Create(ctx, p); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	})
	assert.True(t, apperror.HasCode(err, apperror.CodeTimeout))
	assert.True(t, apperror.IsRetryable(err))

	_, err = s.Products().Get(ctx, p.ID)
	assert.True(t, apperror.IsNotFound(err))
}

func TestTransaction_ReadOnlyDiscardsWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := product("P4")

	err := s.RunInTransactionWithOptions(ctx, tx.Options{ReadOnly: true}, func(ctx context.Context) error {
		return s.Products().Create(ctx, p)
	})
	require.NoError(t, err)

	_, err = s.Products().Get(ctx, p.ID)
	assert.True(t, apperror.IsNotFound(err))
}

func TestMovementRepo_DuplicateIdempotencyKey(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := "k-1"
	m := func() *stock.Movement {
		return &stock.Movement{
			ID: id.New(), ProductClass: catalog.ClassRawMaterial, ProductID: id.New(),
			Direction: stock.DirectionIn, Origin: stock.OriginReception, Quantity: 1, IdempotencyKey: &key,
		}
	}
	require.NoError(t, s.Movements().Insert(ctx, m()))
	err := s.Movements().Insert(ctx, m())
	assert.True(t, apperror.HasCode(err, apperror.CodeDuplicate))

	got, err := s.Movements().GetByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)

	missing, err := s.Movements().GetByIdempotencyKey(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestNumerator_OutlivesRollback(t *testing.T) {
	s := New()
	ctx := context.Background()
	period := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	_ = s.RunInTransaction(ctx, func(ctx context.Context) error {
		_, err := s.Numerator().GetNextNumber(ctx, corenumerator.ReceptionRef, nil, period)
		require.NoError(t, err)
		return errors.New("rollback")
	})

	next, err := s.Numerator().GetNextNumber(ctx, corenumerator.ReceptionRef, nil, period)
	require.NoError(t, err)
	assert.Equal(t, "REC-2026-00002", next)
}
