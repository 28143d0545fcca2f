package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.temporal.io/sdk/client"

	"github.com/samirrijal/bilbotrack/internal/adapters/auth"
	"github.com/samirrijal/bilbotrack/internal/adapters/gtfsrt"
	"github.com/samirrijal/bilbotrack/internal/adapters/http"
	natsadapter "github.com/samirrijal/bilbotrack/internal/adapters/nats"
	"github.com/samirrijal/bilbotrack/internal/adapters/valkey"
	"github.com/samirrijal/bilbotrack/internal/bootstrap"
	"github.com/samirrijal/bilbotrack/internal/core/ports"
	"github.com/samirrijal/bilbotrack/internal/core/usecases"
	"github.com/samirrijal/bilbotrack/internal/pkg/config"
	"github.com/samirrijal/bilbotrack/internal/pkg/logging"
	"github.com/samirrijal/bilbotrack/internal/pkg/telemetry"
	"github.com/samirrijal/bilbotrack/internal/workflows"
)

var version = "dev"

func main() {
	cfg, err := config.Load("bilbotrack-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Storage
	stores, err := bootstrap.OpenStores(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer stores.Close()

	deps := &http.Dependencies{
		PingInterval: cfg.Gateway.PingInterval(),
		Version:      version,
	}
	if stores.DB != nil {
		deps.DB = stores.DB
	}

	// Cache
	var positionOpts []usecases.PositionOption
	positionOpts = append(positionOpts, usecases.WithLimits(cfg.Storage.HistoryMaxLimit, cfg.Storage.AnalyticsBatchSize))
	if cfg.Valkey.Enabled {
		cache, err := valkey.New(cfg.Valkey.Addr)
		if err != nil {
			slog.Warn("valkey unavailable, latest positions served from storage", "error", err)
		} else {
			defer cache.Close()
			positionOpts = append(positionOpts, usecases.WithLatestCache(cache))
			deps.Cache = cache
		}
	}

	// Broadcast: with NATS every instance publishes to the bus and relays
	// the bus into its own hub; without it the hub is the publisher.
	hub := usecases.NewHub()
	var publisher ports.ChannelPublisher = hub
	if cfg.NATS.Enabled {
		pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
		if err != nil {
			log.Fatalf("nats: %v", err)
		}
		defer pub.Close()

		relayConn, err := natsadapter.RawConn(cfg.NATS.URL)
		if err != nil {
			log.Fatalf("nats relay conn: %v", err)
		}
		defer relayConn.Close()

		relay, err := natsadapter.NewRelay(relayConn, hub)
		if err != nil {
			log.Fatalf("nats relay: %v", err)
		}
		defer relay.Close()

		publisher = pub
		deps.NATS = pub.Conn()
	}

	// Core services
	sim := usecases.NewSimulator(usecases.SimulatorConfig{
		TickInterval: cfg.Simulation.TickInterval(),
		SpeedKmh:     cfg.Simulation.SpeedKmh,
		EndPolicy:    usecases.EndPolicy(cfg.Simulation.EndPolicy),
		EventBuffer:  cfg.Simulation.EventBuffer,
	})
	defer sim.Close()

	positions := usecases.NewPositionService(stores.Locations, positionOpts...)
	authn := auth.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, stores.Trips)
	tracking := usecases.NewTrackingService(sim, positions, publisher, stores.Routes, stores.Trips, authn)
	go tracking.Run(ctx)

	deps.Tracking = tracking
	deps.Auth = authn
	deps.Gateway = usecases.NewGateway(hub, tracking, authn, cfg.Gateway.QueueSize)
	deps.Feed = gtfsrt.NewBuilder(tracking, positions)
	deps.Delays = tracking

	// Delay fan-out through Temporal when a worker is deployed.
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
			deps.Delays = workflows.NewNotifier(tc, cfg.Temporal.TaskQueue)
		}
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    1024 * 1024, // 1 MB max request body
		AppName:      "BilboTrack API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173, https://*.bilbotrack.eus",
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr, "storage", cfg.Storage.Driver, "nats", cfg.NATS.Enabled)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped", "simulations_running", len(tracking.ActiveSimulations()))
}
