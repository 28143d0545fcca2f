package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
)

// LocationRepo is an in-process ports.LocationRepository. Samples for each
// trip are kept sorted by timestamp; equal timestamps keep insertion order.
type LocationRepo struct {
	mu     sync.RWMutex
	byTrip map[string][]domain.LocationSample
}

// NewLocationRepo creates an empty repository.
func NewLocationRepo() *LocationRepo {
	return &LocationRepo{byTrip: make(map[string][]domain.LocationSample)}
}

// Insert appends a sample, keeping the trip's slice ordered.
func (r *LocationRepo) Insert(_ context.Context, sample *domain.LocationSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.byTrip[sample.TripID]
	i := sort.Search(len(list), func(i int) bool { return list[i].Timestamp.After(sample.Timestamp) })
	list = append(list, domain.LocationSample{})
	copy(list[i+1:], list[i:])
	list[i] = *sample
	r.byTrip[sample.TripID] = list
	return nil
}

// Latest returns the newest sample for a trip.
func (r *LocationRepo) Latest(_ context.Context, tripID string) (*domain.LocationSample, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.byTrip[tripID]
	if len(list) == 0 {
		return nil, domain.ErrNotFound
	}
	s := list[len(list)-1]
	return &s, nil
}

// Range returns a page of samples within the query window.
func (r *LocationRepo) Range(_ context.Context, tripID string, q domain.HistoryQuery) ([]domain.LocationSample, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	window := r.window(tripID, q)
	n := len(window)
	if q.Offset >= n {
		return []domain.LocationSample{}, nil
	}
	limit := q.Limit
	if limit <= 0 || q.Offset+limit > n {
		limit = n - q.Offset
	}

	out := make([]domain.LocationSample, 0, limit)
	for i := 0; i < limit; i++ {
		idx := q.Offset + i
		if !q.Ascending {
			idx = n - 1 - idx
		}
		out = append(out, window[idx])
	}
	return out, nil
}

// Count returns how many samples fall inside the query window.
func (r *LocationRepo) Count(_ context.Context, tripID string, q domain.HistoryQuery) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.window(tripID, q)), nil
}

// window must be called with r.mu held.
func (r *LocationRepo) window(tripID string, q domain.HistoryQuery) []domain.LocationSample {
	list := r.byTrip[tripID]
	lo, hi := 0, len(list)
	if q.From != nil {
		lo = sort.Search(len(list), func(i int) bool { return !list[i].Timestamp.Before(*q.From) })
	}
	if q.To != nil {
		hi = sort.Search(len(list), func(i int) bool { return list[i].Timestamp.After(*q.To) })
	}
	if lo > hi {
		return nil
	}
	return list[lo:hi]
}
