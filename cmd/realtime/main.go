package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/samirrijal/bilbotrack/internal/adapters/auth"
	"github.com/samirrijal/bilbotrack/internal/adapters/gtfsrt"
	natsadapter "github.com/samirrijal/bilbotrack/internal/adapters/nats"
	"github.com/samirrijal/bilbotrack/internal/adapters/valkey"
	"github.com/samirrijal/bilbotrack/internal/bootstrap"
	"github.com/samirrijal/bilbotrack/internal/core/ports"
	"github.com/samirrijal/bilbotrack/internal/core/usecases"
	"github.com/samirrijal/bilbotrack/internal/pkg/config"
	"github.com/samirrijal/bilbotrack/internal/pkg/logging"
	"github.com/samirrijal/bilbotrack/internal/workflows"
)

// realtime polls upstream GTFS-Realtime feeds. Vehicle positions for known
// trips are stored and broadcast over NATS; trip update delays become
// delay notifications.
func main() {
	cfg, err := config.Load("bilbotrack-realtime")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	if len(cfg.Ingest.Sources) == 0 {
		log.Fatal("no ingest.sources configured")
	}
	if !cfg.NATS.Enabled {
		log.Fatal("the realtime poller publishes over NATS; set nats.enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := bootstrap.OpenStores(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer stores.Close()

	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer pub.Close()

	opts := []usecases.PositionOption{usecases.WithLimits(cfg.Storage.HistoryMaxLimit, cfg.Storage.AnalyticsBatchSize)}
	if cfg.Valkey.Enabled {
		cache, err := valkey.New(cfg.Valkey.Addr)
		if err != nil {
			slog.Warn("valkey unavailable, latest cache not updated", "error", err)
		} else {
			defer cache.Close()
			opts = append(opts, usecases.WithLatestCache(cache))
		}
	}

	// The simulator is never started here; the tracking service only
	// records feed positions and fans out delays.
	sim := usecases.NewSimulator(usecases.SimulatorConfig{})
	defer sim.Close()
	positions := usecases.NewPositionService(stores.Locations, opts...)
	authn := auth.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, stores.Trips)
	tracking := usecases.NewTrackingService(sim, positions, pub, stores.Routes, stores.Trips, authn)

	var delays ports.DelayNotifier = tracking
	if cfg.Temporal.Enabled {
		tc, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
			Logger:    slog.Default(),
		})
		if err != nil {
			slog.Warn("temporal unavailable, delays fan out in-process", "error", err)
		} else {
			defer tc.Close()
			delays = workflows.NewNotifier(tc, cfg.Temporal.TaskQueue)
		}
	}

	sources := make([]gtfsrt.Source, 0, len(cfg.Ingest.Sources))
	for _, s := range cfg.Ingest.Sources {
		sources = append(sources, gtfsrt.Source{Name: s.Name, VehiclePositions: s.VehiclePositions, TripUpdates: s.TripUpdates})
	}
	poller := gtfsrt.NewPoller(&http.Client{Timeout: 30 * time.Second}, tracking, delays, cfg.Ingest.DelayThreshold())

	ticker := time.NewTicker(cfg.Ingest.PollInterval())
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	slog.Info("realtime poller starting", "sources", len(sources), "interval", cfg.Ingest.PollInterval())

	poll := func() {
		pollCtx, pollCancel := context.WithTimeout(ctx, cfg.Ingest.PollInterval())
		defer pollCancel()
		res := poller.PollAll(pollCtx, sources)
		slog.Debug("poll complete", "positions", res.Positions, "delays", res.Delays, "errors", res.Errors)
	}

	// Run once immediately
	poll()
	for {
		select {
		case <-ticker.C:
			poll()
		case sig := <-quit:
			slog.Info("shutting down realtime poller", "signal", sig.String())
			return
		}
	}
}
