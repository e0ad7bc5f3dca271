// Package db owns the shared Postgres pool and its schema.
package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPostgresPool connects to addr and pings it. The caller must close the
// returned pool.
func NewPostgresPool(ctx context.Context, addr string, maxConns int32) (*pgxpool.Pool, error) {
	poolConf, err := pgxpool.ParseConfig(addr)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		poolConf.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConf)
	if err != nil {
		return nil, err
	}

	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err = pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
