// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const pingTimeout = 3 * time.Second

type PoolOptions struct {
	MaxConns int32
	MinConns int32
}

type PoolOption func(*PoolOptions)

// WithMaxConns bounds the pool; the API and the workers size it differently.
func WithMaxConns(n int32) PoolOption {
	return func(o *PoolOptions) {
		if n > 0 {
			o.MaxConns = n
		}
	}
}

func NewPool(ctx context.Context, databaseURL string, opts ...PoolOption) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	po := PoolOptions{MaxConns: 5, MinConns: 1}
	for _, opt := range opts {
		opt(&po)
	}
	if po.MinConns > po.MaxConns {
		po.MinConns = po.MaxConns
	}

	cfg.MaxConns = po.MaxConns
	cfg.MinConns = po.MinConns
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ctxPing, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}
