package ports

import (
	"context"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
)

// LocationRepository stores the append-only location history of trips.
// Implementations must return samples ordered by timestamp.
type LocationRepository interface {
	Insert(ctx context.Context, sample *domain.LocationSample) error
	// Latest returns the newest sample for a trip, or domain.ErrNotFound.
	Latest(ctx context.Context, tripID string) (*domain.LocationSample, error)
	Range(ctx context.Context, tripID string, q domain.HistoryQuery) ([]domain.LocationSample, error)
	Count(ctx context.Context, tripID string, q domain.HistoryQuery) (int, error)
}

// RouteRepository reads published routes.
type RouteRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Route, error)
}

// TripRepository reads trips and their bookings.
type TripRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Trip, error)
	BookedUserIDs(ctx context.Context, tripID string) ([]string, error)
}
