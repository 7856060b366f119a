// Package memory is an in-process implementation of every ledger repository
// and of tx.Manager. Transactions are serialized by one mutex and roll back by
// restoring a snapshot, so row locks (including SKIP LOCKED reads) are implicit.
// It backs the domain tests and local tooling.
package memory

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/core/idempotency"
	"stockledger/internal/core/tx"
	"stockledger/internal/domain/alert"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/fifo"
	"stockledger/internal/domain/reconciliation"
	"stockledger/internal/domain/stock"
)

// Compile-time check that Store implements tx.Manager interface.
var _ tx.Manager = (*Store)(nil)

type state struct {
	products     map[id.ID]catalog.Product
	lots         map[id.ID]stock.Lot
	movements    []stock.Movement
	consumptions []fifo.Record
	declarations map[id.ID]reconciliation.Declaration
	idempotency  map[string]idempotency.Record
	alerts       []alert.Alert
}

func newState() *state {
	return &state{
		products:     make(map[id.ID]catalog.Product),
		lots:         make(map[id.ID]stock.Lot),
		declarations: make(map[id.ID]reconciliation.Declaration),
		idempotency:  make(map[string]idempotency.Record),
	}
}

func (st *state) clone() *state {
	c := &state{
		products:     maps.Clone(st.products),
		lots:         maps.Clone(st.lots),
		movements:    slices.Clone(st.movements),
		consumptions: slices.Clone(st.consumptions),
		declarations: make(map[id.ID]reconciliation.Declaration, len(st.declarations)),
		idempotency:  maps.Clone(st.idempotency),
		alerts:       slices.Clone(st.alerts),
	}
	for k, d := range st.declarations {
		d.Evidence = slices.Clone(d.Evidence)
		c.declarations[k] = d
	}
	return c
}

// Store holds all tables.
type Store struct {
	mu  sync.Mutex
	st  *state
	seq map[string]int64

	events   []audit.Event
	auditErr error
	alertErr error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		st:  newState(),
		seq: make(map[string]int64),
	}
}

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	owner, ok := ctx.Value(txKey{}).(*Store)
	return ok && owner == s
}

// view runs fn against the live state, taking the store lock unless ctx
// already belongs to one of this store's transactions.
func (s *Store) view(ctx context.Context, fn func(st *state) error) error {
	if s.inTx(ctx) {
		return fn(s.st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

// RunInTransaction executes fn within a transaction.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.RunInTransactionWithOptions(ctx, tx.Options{}, fn)
}

// RunInTransactionWithOptions executes fn with exclusive access to the store.
// Isolation is always serializable; Timeout is enforced through the context.
func (s *Store) RunInTransactionWithOptions(ctx context.Context, opts tx.Options, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	txCtx := context.WithValue(ctx, txKey{}, s)

	err := fn(txCtx)
	if err == nil && errors.Is(txCtx.Err(), context.DeadlineExceeded) {
		err = apperror.NewTimeout(txCtx.Err())
	}
	if err == nil && opts.ReadOnly {
		s.st = snapshot
		return nil
	}
	if err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// Products returns the product repository.
func (s *Store) Products() *ProductRepo { return &ProductRepo{s: s} }

// Movements returns the movement repository.
func (s *Store) Movements() *MovementRepo { return &MovementRepo{s: s} }

// Lots returns the lot repository.
func (s *Store) Lots() *LotRepo { return &LotRepo{s: s} }

// Consumptions returns the FIFO consumption repository.
func (s *Store) Consumptions() *ConsumptionRepo { return &ConsumptionRepo{s: s} }

// Declarations returns the reconciliation repository.
func (s *Store) Declarations() *DeclarationRepo { return &DeclarationRepo{s: s} }

// Idempotency returns the idempotency store.
func (s *Store) Idempotency() *IdempotencyStore { return &IdempotencyStore{s: s} }

// Numerator returns the reference generator.
func (s *Store) Numerator() *Numerator { return &Numerator{s: s} }

// AuditSink returns the audit sink.
func (s *Store) AuditSink() *AuditSink { return &AuditSink{s: s} }

// AlertSink returns the alert sink.
func (s *Store) AlertSink() *AlertSink { return &AlertSink{s: s} }
