package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"signal-intel/internal/config"
)

const pingTimeout = 5 * time.Second

// NewPool configures a PostgreSQL connection pool from runtime settings and
// verifies the database answers before handing it out.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, appName string) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required for the %s driver", config.DriverPostgres)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = min(int32(cfg.MaxIdleConns), poolConfig.MaxConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if appName != "" {
		if _, ok := poolConfig.ConnConfig.RuntimeParams["application_name"]; !ok {
			poolConfig.ConnConfig.RuntimeParams["application_name"] = appName
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Open connects to postgres and wraps the pool in a Store.
func Open(ctx context.Context, cfg config.DatabaseConfig, appName string) (*Store, error) {
	pool, err := NewPool(ctx, cfg, appName)
	if err != nil {
		return nil, err
	}
	return NewStore(pool), nil
}
