package ports

import (
	"context"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
)

// ChannelPublisher fans an event out to every session in a channel.
type ChannelPublisher interface {
	Publish(ctx context.Context, channel string, event domain.ChannelEvent) error
}

// Session is one connected client as seen by the broadcast hub.
// Deliver must not block.
type Session interface {
	ID() string
	Deliver(payload []byte) bool
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// Authenticator resolves tokens and trip assignments.
type Authenticator interface {
	VerifyIdentity(ctx context.Context, token string) (*domain.Identity, error)
	IsDriverOfTrip(ctx context.Context, userID, tripID string) (bool, error)
}

// DelayNotifier hands a delay off for fan-out to booked passengers.
type DelayNotifier interface {
	NotifyDelay(ctx context.Context, n domain.DelayNotification) error
}
