package config

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Taichi-iskw/transcript-index/internal/errors"
)

// LedgerPoolOptions size the run ledger pool. A run writes one row at start and
// updates it once at finish, so the pool stays small and mostly idle.
type LedgerPoolOptions struct {
	MaxConns       int32
	MinConns       int32
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
}

// DefaultLedgerPoolOptions covers one serve process plus an occasional CLI listing
func DefaultLedgerPoolOptions() LedgerPoolOptions {
	return LedgerPoolOptions{
		MaxConns:       2,
		MinConns:       0,
		IdleTimeout:    5 * time.Minute,
		ConnectTimeout: 10 * time.Second,
	}
}

// ledgerPoolConfig builds the pgx pool config for database_url
func ledgerPoolConfig(cfg *Config, opts LedgerPoolOptions) (*pgxpool.Config, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New(errors.CodeConfiguration, "database_url is not configured; run history is disabled")
	}

	dbConfig, err := cfg.ParseDatabaseConfig()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConfiguration, "invalid database_url")
	}

	poolConfig, err := pgxpool.ParseConfig(dbConfig.ConnectionString())
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConfiguration, "invalid database_url")
	}
	poolConfig.MaxConns = opts.MaxConns
	poolConfig.MinConns = opts.MinConns
	poolConfig.MaxConnIdleTime = opts.IdleTimeout
	poolConfig.ConnConfig.ConnectTimeout = opts.ConnectTimeout
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "tidx-run-ledger"
	return poolConfig, nil
}

// NewLedgerPool connects to the run ledger database and checks it is reachable
func NewLedgerPool(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	opts := DefaultLedgerPoolOptions()
	poolConfig, err := ledgerPoolConfig(cfg, opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeExternal, "failed to open run ledger pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.CodeExternal, "run ledger database is unreachable")
	}
	return pool, nil
}

// CloseLedgerPool closes pool; nil means the ledger was never opened
func CloseLedgerPool(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}
