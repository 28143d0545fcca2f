package main

import (
	"context"
	"log"
	"log/slog"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	natsadapter "github.com/samirrijal/bilbotrack/internal/adapters/nats"
	"github.com/samirrijal/bilbotrack/internal/bootstrap"
	"github.com/samirrijal/bilbotrack/internal/pkg/config"
	"github.com/samirrijal/bilbotrack/internal/pkg/logging"
	"github.com/samirrijal/bilbotrack/internal/workflows"
)

func main() {
	cfg, err := config.Load("bilbotrack-notifier")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := bootstrap.OpenStores(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer stores.Close()

	// Delays reach API instances through the NATS relay.
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer pub.Close()

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    slog.Default(),
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})

	w.RegisterWorkflow(workflows.DelayNotificationWorkflow)
	w.RegisterActivity(&workflows.DelayActivities{
		Trips:     stores.Trips,
		Publisher: pub,
	})

	slog.Info("notifier worker started", "task_queue", cfg.Temporal.TaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
