package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/db"
)

// NewPool connects to postgres with NUMERIC columns mapped to
// decimal.Decimal, and fails fast when the database is unreachable.
func NewPool(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse database url")
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping")
	}
	return pool, nil
}

// RunMigrations applies every embedded migration in name order inside one
// transaction. Migrations are written to be re-runnable.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	ms, err := db.Migrations()
	if err != nil {
		return errors.Wrap(err, "load migrations")
	}
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, m := range ms {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return errors.Wrapf(err, "apply %s", m.Name)
			}
		}
		return nil
	})
}
