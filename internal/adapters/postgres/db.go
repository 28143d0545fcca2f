package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samirrijal/bilbotrack/internal/pkg/metrics"
	"github.com/samirrijal/bilbotrack/migrations"
)

// DB wraps pgxpool.Pool and provides a shared connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new DB connection pool.
func New(ctx context.Context, dsn string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	cfg.MaxConns = 50
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Ping checks the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Migrate applies every embedded migration in order. Scripts are idempotent.
func (db *DB) Migrate(ctx context.Context) ([]string, error) {
	files, err := migrations.All()
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	applied := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := db.Pool.Exec(ctx, f.SQL); err != nil {
			return applied, fmt.Errorf("exec %s: %w", f.Name, err)
		}
		applied = append(applied, f.Name)
	}
	return applied, nil
}

// ReportPoolStats refreshes the pool gauges every interval until ctx ends.
func (db *DB) ReportPoolStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateDBPoolMetrics(db.Pool.Stat())
		}
	}
}

// Close releases pool resources.
func (db *DB) Close() {
	db.Pool.Close()
}
