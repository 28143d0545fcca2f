// Package bootstrap builds the storage adapters selected by configuration.
// It is shared by the API and the notifier worker.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samirrijal/bilbotrack/internal/adapters/catalog"
	"github.com/samirrijal/bilbotrack/internal/adapters/memory"
	"github.com/samirrijal/bilbotrack/internal/adapters/postgres"
	"github.com/samirrijal/bilbotrack/internal/core/ports"
	"github.com/samirrijal/bilbotrack/internal/pkg/config"
)

// Stores are the repositories the services read and write.
type Stores struct {
	Locations ports.LocationRepository
	Routes    ports.RouteRepository
	Trips     ports.TripRepository

	// DB is nil with the memory driver.
	DB *postgres.DB
}

// Ping reports whether the database is reachable. Memory stores are always up.
func (s *Stores) Ping(ctx context.Context) error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Ping(ctx)
}

// Close releases the database pool, if any.
func (s *Stores) Close() {
	if s.DB != nil {
		s.DB.Close()
	}
}

// OpenStores connects the configured storage driver.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	switch cfg.Storage.Driver {
	case "memory":
		cat, err := catalog.Load(cfg.Storage.CatalogFile)
		if err != nil {
			return nil, err
		}
		slog.Info("using in-memory storage", "catalog", cfg.Storage.CatalogFile)
		return &Stores{
			Locations: memory.NewLocationRepo(),
			Routes:    cat,
			Trips:     cat.Trips(),
		}, nil

	case "postgres":
		db, err := postgres.New(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		go db.ReportPoolStats(ctx, 15*time.Second)
		return &Stores{
			Locations: postgres.NewLocationRepo(db),
			Routes:    postgres.NewRouteRepo(db),
			Trips:     postgres.NewTripRepo(db),
			DB:        db,
		}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}
