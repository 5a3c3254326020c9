package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/gallery-orders/internal/domain/txn"
)

// txKey stashes the active transaction in the context so repository calls
// made inside TxRunner.InTx land on the same transaction.
type txKey struct{}

var _ txn.Runner = (*TxRunner)(nil)

// TxRunner implements the domain transaction boundary with serializable
// pgx transactions. Each state transition of the order lifecycle runs in
// exactly one of these; nesting reuses the outer transaction.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner returns a TxRunner on the given pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// InTx runs fn within a serializable transaction. The context passed to fn
// routes all repository operations through that transaction.
func (r *TxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// engine returns the transaction from ctx when present, else the pool.
func engine(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}
