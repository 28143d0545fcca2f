package http

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/bilbotrack/internal/adapters/gtfsrt"
	"github.com/samirrijal/bilbotrack/internal/core/ports"
	"github.com/samirrijal/bilbotrack/internal/core/usecases"
)

// Pinger is a backing service the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Tracking *usecases.TrackingService
	Gateway  *usecases.Gateway
	Auth     ports.Authenticator
	Delays   ports.DelayNotifier
	Feed     *gtfsrt.Builder

	DB    Pinger
	Cache Pinger
	NATS  *nats.Conn

	// PingInterval is how often idle WebSocket clients are pinged.
	PingInterval time.Duration
	Version      string
}
