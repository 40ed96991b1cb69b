package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Config struct {
	Url      string `mapstructure:"url"`
	Schema   string `mapstructure:"schema"`
	PoolSize int32  `mapstructure:"pool_size"`
}

// ErrNotInitialized is returned when the pool is used before Initialize
// (or after Close).
var ErrNotInitialized = errors.New("database pool is not initialized")

const (
	smokeTestAttempts = 5
	smokeTestBackoff  = 2 * time.Second
)

// Pool owns the process-wide pgx connection pool. Initialize and Close are
// serialized by a mutex; individual queries go through the pool's own
// thread-safe checkout. Initialize always closes an existing pool first so
// a restarted or re-exec'd worker never shares inherited connections.
type Pool struct {
	mu     sync.RWMutex
	pool   *pgxpool.Pool
	config Config
}

func NewPool(config Config) *Pool {
	if config.PoolSize <= 0 {
		config.PoolSize = 10
	}
	return &Pool{config: config}
}

// Initialize (re-)creates the underlying pool and smoke-tests connectivity
// with bounded retry. Safe to call repeatedly; each call tears down the
// previous pool before building the new one.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
		slog.Debug("Existing database pool closed before reinitialization")
	}

	poolConfig, err := pgxpool.ParseConfig(p.config.Url)
	if err != nil {
		return fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MinConns = 1
	poolConfig.MaxConns = p.config.PoolSize

	if schema := p.config.Schema; schema != "" {
		poolConfig.ConnConfig.RuntimeParams["search_path"] = schema
		poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
			return err
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := smokeTest(ctx, pool); err != nil {
		pool.Close()
		return fmt.Errorf("database smoke test failed: %w", err)
	}

	p.pool = pool
	slog.Info("Database pool initialized", "min_conns", 1, "max_conns", p.config.PoolSize)
	return nil
}

// smokeTest verifies the pool can actually reach the database, retrying a
// fixed number of times with a fixed backoff before giving up.
func smokeTest(ctx context.Context, pool *pgxpool.Pool) error {
	var err error
	for attempt := 1; attempt <= smokeTestAttempts; attempt++ {
		var one int
		err = pool.QueryRow(ctx, "SELECT 1").Scan(&one)
		if err == nil {
			return nil
		}
		slog.Warn("Database connectivity check failed",
			"attempt", attempt,
			"max_attempts", smokeTestAttempts,
			"error", err)
		if attempt < smokeTestAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(smokeTestBackoff):
			}
		}
	}
	return err
}

func (p *Pool) get() (*pgxpool.Pool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.pool == nil {
		return nil, ErrNotInitialized
	}
	return p.pool, nil
}

// WithTx runs fn inside a transaction on one pooled connection: commit when
// fn returns nil, rollback otherwise. The connection always goes back to
// the pool.
func (p *Pool) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	pool, err := p.get()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			slog.Warn("Transaction rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (p *Pool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	pool, err := p.get()
	if err != nil {
		return nil, err
	}
	return pool.Query(ctx, sql, args...)
}

func (p *Pool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	pool, err := p.get()
	if err != nil {
		return errRow{err}
	}
	return pool.QueryRow(ctx, sql, args...)
}

func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	pool, err := p.get()
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return pool.Exec(ctx, sql, args...)
}

// Ping checks connectivity with a single round trip. Used by the health
// endpoint.
func (p *Pool) Ping(ctx context.Context) error {
	pool, err := p.get()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// Close releases all connections. Idempotent; safe to call on a pool that
// was never initialized.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
		slog.Info("Database pool closed")
	}
}

// errRow lets QueryRow keep pgx's deferred-error contract when the pool is
// not initialized: the error surfaces on Scan.
type errRow struct {
	err error
}

func (r errRow) Scan(dest ...any) error {
	return r.err
}
