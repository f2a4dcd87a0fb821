// Package store wraps the single relational database shared by every
// component. Each component owns a disjoint set of tables and talks to
// the pool only through its own repository type; store itself never
// knows about orders, holdings, or trades.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/marketsim/tradingcore/internal/circuitbreaker"
	"github.com/marketsim/tradingcore/internal/config"
)

// Pool wraps the shared PostgreSQL connection pool every repository is
// built on top of. Writes and multi-row reads are routed through a
// named circuit breaker so a run of database failures fails fast
// instead of piling up blocked repository callers across every
// component sharing the pool.
type Pool struct {
	*pgxpool.Pool
	logger  zerolog.Logger
	breaker *circuitbreaker.CircuitBreaker
}

// Open creates the connection pool and verifies connectivity. breakers
// supplies the shared "db_store" circuit breaker that every repository
// ends up routed through via Exec/Query.
func Open(ctx context.Context, cfg config.DatabaseConfig, breakers *circuitbreaker.Manager, logger zerolog.Logger) (*Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLife

	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Int("max_conns", cfg.MaxConns).
		Msg("connecting to shared store")

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging store: %w", err)
	}

	logger.Info().Msg("connected to shared store")

	breaker := breakers.GetOrCreate("db_store", circuitbreaker.DefaultDatabaseConfig())
	return &Pool{Pool: pool, logger: logger, breaker: breaker}, nil
}

// Close releases every connection in the pool.
func (p *Pool) Close() {
	p.logger.Info().Msg("closing shared store pool")
	p.Pool.Close()
}

// Health reports whether the store is reachable.
func (p *Pool) Health(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}

// Exec shadows pgxpool.Pool's embedded Exec, routing it through the
// shared breaker so repositories get fail-fast behavior for free.
func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	var tag pgconn.CommandTag
	err := p.breaker.Execute(func() error {
		var execErr error
		tag, execErr = p.Pool.Exec(ctx, sql, args...)
		return execErr
	})
	return tag, err
}

// Query shadows pgxpool.Pool's embedded Query. Unlike QueryRow, Query
// reports a connection or query-planning failure synchronously, so it
// is worth routing through the breaker too.
func (p *Pool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	var rows pgx.Rows
	err := p.breaker.Execute(func() error {
		var queryErr error
		rows, queryErr = p.Pool.Query(ctx, sql, args...)
		return queryErr
	})
	return rows, err
}
