// Package tx provides transaction management abstractions.
// This package defines interfaces that decouple domain logic from specific
// database implementations, following the Dependency Inversion Principle.
package tx

import (
	"context"
	"time"
)

// Isolation is the isolation level requested for a transaction.
type Isolation int

const (
	// IsolationDefault uses the store default (READ COMMITTED on Postgres).
	IsolationDefault Isolation = iota
	// IsolationSerializable is required by every stock-mutating operation.
	IsolationSerializable
)

// Options configures a single transaction.
type Options struct {
	Isolation Isolation
	// Timeout bounds the whole transaction; zero means the store default.
	Timeout  time.Duration
	ReadOnly bool
}

// Serializable returns options for check-then-write ledger operations.
func Serializable(timeout time.Duration) Options {
	return Options{Isolation: IsolationSerializable, Timeout: timeout}
}

// Manager defines the contract for transaction management.
// Implementations handle BEGIN, COMMIT, ROLLBACK, and nested transaction support.
//
// Domain services depend on this interface, not concrete implementations.
// The actual implementations live in infrastructure/storage/postgres and
// infrastructure/storage/memory.
type Manager interface {
	// RunInTransaction executes fn within a database transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn succeeds, the transaction is committed.
	//
	// Nested calls reuse the existing transaction from context.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// RunInTransactionWithOptions is RunInTransaction with explicit isolation and timeout.
	// A nested call inherits the outer transaction and its options.
	RunInTransactionWithOptions(ctx context.Context, opts Options, fn func(ctx context.Context) error) error
}
