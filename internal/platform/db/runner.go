package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolRunner binds RunInTx to a pool so services can take a transaction
// boundary as a dependency instead of holding the pool themselves.
type PoolRunner struct {
	pool *pgxpool.Pool
}

func NewPoolRunner(pool *pgxpool.Pool) *PoolRunner {
	return &PoolRunner{pool: pool}
}

func (r *PoolRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return RunInTx(ctx, r.pool, fn)
}
