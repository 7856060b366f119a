package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stockledger/pkg/logger"
)

// OutboxChannel is raised by the sys_outbox insert trigger.
const OutboxChannel = "outbox_pending"

// NotificationHandler is called for every NOTIFY received on a subscribed channel.
type NotificationHandler func(channel, payload string)

// NotifyListener holds one dedicated connection in LISTEN mode and fans
// notifications out to registered handlers. It reconnects on failure.
type NotifyListener struct {
	pool     *pgxpool.Pool
	channels []string

	handlers   []NotificationHandler
	handlersMu sync.RWMutex

	// Lifecycle
	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool

	retryDelay  time.Duration
	waitTimeout time.Duration
}

// NewNotifyListener creates a listener for the given channels.
func NewNotifyListener(pool *Pool, channels ...string) *NotifyListener {
	return &NotifyListener{
		pool:        pool.Unwrap(),
		channels:    channels,
		retryDelay:  time.Second,
		waitTimeout: 30 * time.Second,
	}
}

// OnNotify registers a handler. Handlers run on the listener goroutine and
// must not block.
func (l *NotifyListener) OnNotify(h NotificationHandler) {
	l.handlersMu.Lock()
	l.handlers = append(l.handlers, h)
	l.handlersMu.Unlock()
}

// Start begins listening in the background.
func (l *NotifyListener) Start(ctx context.Context) error {
	if len(l.channels) == 0 {
		return fmt.Errorf("notify listener: no channels")
	}

	l.lifecycleMu.Lock()
	defer l.lifecycleMu.Unlock()
	if l.started {
		return nil
	}
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.started = true

	l.wg.Add(1)
	go l.listenLoop()
	logger.Info(l.ctx, "notify listener started", "channels", l.channels)
	return nil
}

// Stop cancels the listener and waits for it to release its connection.
func (l *NotifyListener) Stop() {
	l.lifecycleMu.Lock()
	if !l.started {
		l.lifecycleMu.Unlock()
		return
	}
	cancel := l.cancel
	l.started = false
	l.cancel = nil
	l.lifecycleMu.Unlock()

	cancel()
	l.wg.Wait()
	logger.Info(context.Background(), "notify listener stopped")
}

func (l *NotifyListener) listenStatement() string {
	stmts := make([]string, len(l.channels))
	for i, ch := range l.channels {
		stmts[i] = "LISTEN " + pgx.Identifier{ch}.Sanitize() + ";"
	}
	return strings.Join(stmts, " ")
}

func (l *NotifyListener) listenLoop() {
	defer l.wg.Done()

	for l.ctx.Err() == nil {
		conn, err := l.pool.Acquire(l.ctx)
		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			logger.Error(l.ctx, "failed to acquire connection for LISTEN", "error", err)
			l.sleep()
			continue
		}

		if _, err = conn.Exec(l.ctx, l.listenStatement()); err != nil {
			logger.Error(l.ctx, "failed to LISTEN", "error", err)
			conn.Release()
			l.sleep()
			continue
		}

		l.waitForNotifications(conn)
		// The session still has LISTEN state, don't hand it back to the pool.
		_ = conn.Conn().Close(context.Background())
		conn.Release()
	}
}

func (l *NotifyListener) waitForNotifications(conn *pgxpool.Conn) {
	for {
		ctx, cancel := context.WithTimeout(l.ctx, l.waitTimeout)
		n, err := conn.Conn().WaitForNotification(ctx)
		cancel()

		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			if ctx.Err() != nil {
				continue
			}
			logger.Warn(l.ctx, "LISTEN connection lost, reconnecting", "error", err)
			return
		}

		logger.Debug(l.ctx, "received notification", "channel", n.Channel, "payload", n.Payload)
		l.dispatch(n.Channel, n.Payload)
	}
}

func (l *NotifyListener) dispatch(channel, payload string) {
	l.handlersMu.RLock()
	handlers := make([]NotificationHandler, len(l.handlers))
	copy(handlers, l.handlers)
	l.handlersMu.RUnlock()

	for _, h := range handlers {
		func(h NotificationHandler) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error(l.ctx, "notification handler panicked", "channel", channel, "panic", r)
				}
			}()
			h(channel, payload)
		}(h)
	}
}

func (l *NotifyListener) sleep() {
	select {
	case <-l.ctx.Done():
	case <-time.After(l.retryDelay):
	}
}

// WakeChannel returns a handler that does a non-blocking send on ch, so bursts
// of notifications collapse into one pending wake-up.
func WakeChannel(ch chan<- struct{}) NotificationHandler {
	return func(string, string) {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
