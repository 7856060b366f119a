package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/config"
	"stockledger/internal/domain/stock"
)

type fakeLots struct {
	blockedAt []time.Time
	alertedAt []time.Time
	err       error
}

func (f *fakeLots) BlockExpiredLots(_ context.Context, asOf time.Time) (*stock.BlockResult, error) {
	f.blockedAt = append(f.blockedAt, asOf)
	if f.err != nil {
		return nil, f.err
	}
	return &stock.BlockResult{Blocked: make([]stock.Lot, 2), EstimatedValue: decimal.NewFromInt(120)}, nil
}

func (f *fakeLots) AlertExpiringLots(_ context.Context, asOf time.Time) (int, error) {
	f.alertedAt = append(f.alertedAt, asOf)
	return 1, f.err
}

type fakeDeclarations struct {
	expiredAt []time.Time
}

func (f *fakeDeclarations) ExpireStale(_ context.Context, asOf time.Time) (int, error) {
	f.expiredAt = append(f.expiredAt, asOf)
	return 3, nil
}

var clock = time.Date(2026, 3, 10, 0, 5, 0, 0, time.UTC)

func newTestHandlers() (*Handlers, *fakeLots, *fakeDeclarations) {
	lots := &fakeLots{}
	decls := &fakeDeclarations{}
	h := NewHandlers(lots, decls).WithClock(func() time.Time { return clock })
	return h, lots, decls
}

func TestTasks_Payload(t *testing.T) {
	asOf := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		build    func(time.Time) (*asynq.Task, error)
		wantType string
	}{
		{"block expired", NewBlockExpiredLotsTask, TaskBlockExpiredLots},
		{"alert expiring", NewAlertExpiringLotsTask, TaskAlertExpiringLots},
		{"expire declarations", NewExpireDeclarationsTask, TaskExpireDeclarations},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, err := tt.build(asOf)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, task.Type())

			var p ScheduledPayload
			require.NoError(t, json.Unmarshal(task.Payload(), &p))
			assert.True(t, asOf.Equal(p.AsOf))
		})
	}
}

func TestHandlers_UsePayloadDate(t *testing.T) {
	h, lots, decls := newTestHandlers()
	asOf := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mux := asynq.NewServeMux()
	h.Register(mux)
	ctx := context.Background()

	for _, build := range []func(time.Time) (*asynq.Task, error){
		NewBlockExpiredLotsTask, NewAlertExpiringLotsTask, NewExpireDeclarationsTask,
	} {
		task, err := build(asOf)
		require.NoError(t, err)
		require.NoError(t, mux.ProcessTask(ctx, task))
	}

	require.Len(t, lots.blockedAt, 1)
	assert.True(t, asOf.Equal(lots.blockedAt[0]))
	require.Len(t, lots.alertedAt, 1)
	assert.True(t, asOf.Equal(lots.alertedAt[0]))
	require.Len(t, decls.expiredAt, 1)
	assert.True(t, asOf.Equal(decls.expiredAt[0]))
}

func TestHandlers_ZeroDateUsesClock(t *testing.T) {
	h, lots, _ := newTestHandlers()

	task, err := NewBlockExpiredLotsTask(time.Time{})
	require.NoError(t, err)
	require.NoError(t, h.HandleBlockExpiredLots(context.Background(), task))

	require.Len(t, lots.blockedAt, 1)
	assert.Equal(t, clock, lots.blockedAt[0])

	// An empty body is accepted too.
	require.NoError(t, h.HandleBlockExpiredLots(context.Background(), asynq.NewTask(TaskBlockExpiredLots, nil)))
	assert.Equal(t, clock, lots.blockedAt[1])
}

func TestHandlers_BadPayloadSkipsRetry(t *testing.T) {
	h, lots, _ := newTestHandlers()

	err := h.HandleAlertExpiringLots(context.Background(), asynq.NewTask(TaskAlertExpiringLots, []byte("{")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Empty(t, lots.alertedAt)
}

func TestHandlers_ServiceErrorIsRetried(t *testing.T) {
	h, lots, _ := newTestHandlers()
	lots.err = errors.New("db down")

	task, err := NewBlockExpiredLotsTask(time.Time{})
	require.NoError(t, err)
	err = h.HandleBlockExpiredLots(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestDefaultSchedule(t *testing.T) {
	cfg := &config.Config{
		CronBlockExpired:  "5 0 * * *",
		CronAlertExpiring: "0 8 * * *",
	}
	regs, err := DefaultSchedule(cfg)
	require.NoError(t, err)
	require.Len(t, regs, 2)
	assert.Equal(t, TaskBlockExpiredLots, regs[0].Task.Type())
	assert.Equal(t, "0 8 * * *", regs[1].Spec)
}

func TestNewWorker(t *testing.T) {
	mr := miniredis.RunT(t)
	h, _, _ := newTestHandlers()
	cfg := &config.Config{RedisAddr: mr.Addr(), CronBlockExpired: "5 0 * * *"}

	regs, err := DefaultSchedule(cfg)
	require.NoError(t, err)
	w, err := NewWorker(WorkerConfig{RedisOpts: RedisOpts(cfg), Handlers: h, Cron: regs})
	require.NoError(t, err)
	assert.NotNil(t, w.scheduler)

	task, err := NewBlockExpiredLotsTask(time.Time{})
	require.NoError(t, err)
	_, err = NewWorker(WorkerConfig{
		RedisOpts: RedisOpts(cfg),
		Handlers:  h,
		Cron:      []CronRegistration{{Spec: "not a cron", Task: task}},
	})
	assert.Error(t, err)

	_, err = NewWorker(WorkerConfig{RedisOpts: RedisOpts(cfg)})
	assert.Error(t, err)
}
