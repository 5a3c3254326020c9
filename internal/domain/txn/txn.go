// Package txn defines the transaction boundary domain services run their
// state transitions in. Implementations decide isolation and retry; callers
// only require that everything inside fn commits or nothing does.
package txn

import "context"

// Runner executes fn as a single atomic unit against the backing store.
// The context passed to fn must be used for every store operation inside
// the unit.
type Runner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Nop runs fn directly with no transaction semantics. Intended for tests
// and single-store fakes that are already atomic.
type Nop struct{}

func (Nop) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
