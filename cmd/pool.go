package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/oilwatch/priceintel/internal/resilience"
)

// openPool connects to cfg.Store.DatabaseURL, retrying transient connect and
// ping failures.
func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	if err := cfg.Validate("db"); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "store: parse connection string")
	}
	poolCfg.MaxConns = int32(max(cfg.Aggregate.Workers+2, 4))
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	retry := resilience.WithAttempts(cfg.Store.ConnectRetries)
	retry.OnRetry = resilience.RetryLogger("store.connect")

	pool, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*pgxpool.Pool, error) {
		p, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "store: connect")
	}

	zap.L().Debug("connected to database", zap.Int32("max_conns", poolCfg.MaxConns))
	return pool, nil
}
