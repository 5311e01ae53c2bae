// Package tx provides transaction management abstractions.
// The valuation domain depends on these interfaces; the Postgres implementation
// lives in infrastructure/storage/postgres.
package tx

import (
	"context"
)

// Manager defines the contract for transaction management.
type Manager interface {
	// RunInTransaction executes fn within a database transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn succeeds, the transaction is committed.
	//
	// Nested calls reuse the existing transaction from context, which lets the
	// inventory module couple its stock update with layer creation atomically.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// InTransaction reports whether ctx already carries a transaction owned by a caller.
	InTransaction(ctx context.Context) bool

	// AfterCommit runs fn once the transaction carried by ctx commits, and drops it
	// on rollback. Without a transaction in ctx fn runs immediately.
	AfterCommit(ctx context.Context, fn func(ctx context.Context))
}

// ReadOnlyManager extends Manager with read-only transaction support.
// Valuation and COGS reads use it to see a consistent snapshot without locks.
type ReadOnlyManager interface {
	Manager

	// ReadOnly executes fn in a read-only snapshot transaction.
	ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error
}
