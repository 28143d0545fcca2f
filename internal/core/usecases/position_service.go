package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
	"github.com/samirrijal/bilbotrack/internal/core/ports"
	"github.com/samirrijal/bilbotrack/internal/pkg/geospatial"
	"github.com/samirrijal/bilbotrack/internal/pkg/metrics"
	"github.com/samirrijal/bilbotrack/internal/pkg/telemetry"
)

const (
	DefaultHistoryLimit   = 100
	MaxHistoryLimit       = 1000
	AnalyticsBatchSize    = 10000
	latestCacheTTLSeconds = 300
)

var tracer = otel.Tracer("github.com/samirrijal/bilbotrack/usecases")

// PositionService is the append-only location history of trips.
type PositionService struct {
	repo      ports.LocationRepository
	cache     ports.CacheService
	now       func() time.Time
	maxLimit  int
	batchSize int // analytics read batch
}

// PositionOption customises a PositionService.
type PositionOption func(*PositionService)

// WithLatestCache enables write-through caching of the latest sample.
func WithLatestCache(c ports.CacheService) PositionOption {
	return func(s *PositionService) { s.cache = c }
}

// WithLimits overrides the history page cap and the number of samples
// analytics reads from the store per batch.
func WithLimits(maxHistory, analyticsBatch int) PositionOption {
	return func(s *PositionService) {
		if maxHistory > 0 {
			s.maxLimit = maxHistory
		}
		if analyticsBatch > 0 {
			s.batchSize = analyticsBatch
		}
	}
}

// WithClock replaces time.Now, used for default timestamps.
func WithClock(now func() time.Time) PositionOption {
	return func(s *PositionService) { s.now = now }
}

// NewPositionService creates a new PositionService.
func NewPositionService(repo ports.LocationRepository, opts ...PositionOption) *PositionService {
	s := &PositionService{
		repo:      repo,
		now:       time.Now,
		maxLimit:  MaxHistoryLimit,
		batchSize: AnalyticsBatchSize,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ValidateSample checks coordinates and optional measurements.
func ValidateSample(sample *domain.LocationSample) error {
	if sample.TripID == "" {
		return fmt.Errorf("trip_id is required: %w", domain.ErrInvalidSample)
	}
	if math.IsNaN(sample.Latitude) || sample.Latitude < -90 || sample.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range [-90,90]: %w", sample.Latitude, domain.ErrInvalidSample)
	}
	if math.IsNaN(sample.Longitude) || sample.Longitude < -180 || sample.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range [-180,180]: %w", sample.Longitude, domain.ErrInvalidSample)
	}
	for name, v := range map[string]*float64{"speed": sample.Speed, "heading": sample.Heading, "accuracy": sample.Accuracy} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0) {
			return fmt.Errorf("%s must be a non-negative number: %w", name, domain.ErrInvalidSample)
		}
	}
	return nil
}

// Append validates and inserts a sample. It never updates an existing
// sample and returns the stored value with its generated ID.
func (s *PositionService) Append(ctx context.Context, sample domain.LocationSample) (*domain.LocationSample, error) {
	ctx, span := tracer.Start(ctx, "PositionService.Append")
	defer span.End()
	span.SetAttributes(telemetry.TripIDKey.String(sample.TripID))

	if err := ValidateSample(&sample); err != nil {
		metrics.SamplesRejected.Inc()
		span.RecordError(err)
		return nil, err
	}

	sample.ID = uuid.NewString()
	if sample.Timestamp.IsZero() {
		sample.Timestamp = s.now()
	}
	sample.Timestamp = sample.Timestamp.UTC()
	if sample.Source == "" {
		sample.Source = domain.SourceAPI
	}

	if err := s.repo.Insert(ctx, &sample); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("insert location sample: %w", err)
	}
	metrics.SamplesAppended.WithLabelValues(string(sample.Source)).Inc()
	span.SetAttributes(telemetry.SampleIDKey.String(sample.ID), telemetry.SourceKey.String(string(sample.Source)))

	s.invalidateLatest(ctx, sample.TripID)
	return &sample, nil
}

// invalidateLatest drops the cached latest sample so the next Latest reads
// the store. Appends from several processes may race; the store decides.
func (s *PositionService) invalidateLatest(ctx context.Context, tripID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, latestCacheKey(tripID)); err != nil {
		slog.Warn("invalidate latest sample failed", "trip_id", tripID, "error", err)
	}
}

func (s *PositionService) cacheLatest(ctx context.Context, sample *domain.LocationSample) {
	data, err := json.Marshal(sample)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, latestCacheKey(sample.TripID), data, latestCacheTTLSeconds); err != nil {
		slog.Warn("cache latest sample failed", "trip_id", sample.TripID, "error", err)
	}
}

func (s *PositionService) cachedLatest(ctx context.Context, key string) (*domain.LocationSample, bool) {
	data, err := s.cache.Get(ctx, key)
	if err != nil || len(data) == 0 {
		return nil, false
	}
	var sample domain.LocationSample
	if err := json.Unmarshal(data, &sample); err != nil {
		return nil, false
	}
	return &sample, true
}

// Latest returns the newest sample for a trip. found is false when the trip
// has no samples yet; that is not an error.
func (s *PositionService) Latest(ctx context.Context, tripID string) (sample *domain.LocationSample, found bool, err error) {
	if s.cache != nil {
		if cached, ok := s.cachedLatest(ctx, latestCacheKey(tripID)); ok {
			metrics.CacheHits.WithLabelValues("latest_position").Inc()
			return cached, true, nil
		}
		metrics.CacheMisses.WithLabelValues("latest_position").Inc()
	}

	latest, err := s.repo.Latest(ctx, tripID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("latest sample for trip %s: %w", tripID, err)
	}
	if s.cache != nil {
		s.cacheLatest(ctx, latest)
	}
	return latest, true, nil
}

// NormalizeHistoryQuery applies the default limit and the configured cap.
func (s *PositionService) NormalizeHistoryQuery(q domain.HistoryQuery) domain.HistoryQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultHistoryLimit
	}
	if q.Limit > s.maxLimit {
		q.Limit = s.maxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// History returns a page of samples, newest first unless q.Ascending.
func (s *PositionService) History(ctx context.Context, tripID string, q domain.HistoryQuery) ([]domain.LocationSample, int, error) {
	q = s.NormalizeHistoryQuery(q)
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return nil, 0, fmt.Errorf("to is before from: %w", domain.ErrInvalidQuery)
	}

	samples, err := s.repo.Range(ctx, tripID, q)
	if err != nil {
		return nil, 0, fmt.Errorf("history for trip %s: %w", tripID, err)
	}
	total, err := s.repo.Count(ctx, tripID, q)
	if err != nil {
		return nil, 0, fmt.Errorf("count history for trip %s: %w", tripID, err)
	}
	return samples, total, nil
}

// Analytics aggregates every sample of a trip in an optional time window.
// Samples are read in ascending batches so long trips are never truncated.
// Missing speeds count as 0 in the average but are left out of min/max;
// when no sample carries a speed, min and max are 0 and SpeedSamples is 0.
func (s *PositionService) Analytics(ctx context.Context, tripID string, from, to *time.Time) (*domain.TripAnalytics, error) {
	if from != nil && to != nil && to.Before(*from) {
		return nil, fmt.Errorf("to is before from: %w", domain.ErrInvalidQuery)
	}

	agg := newAnalyticsAggregate(tripID)
	q := domain.HistoryQuery{Limit: s.batchSize, From: from, To: to, Ascending: true}
	for {
		batch, err := s.repo.Range(ctx, tripID, q)
		if err != nil {
			return nil, fmt.Errorf("analytics for trip %s: %w", tripID, err)
		}
		for i := range batch {
			agg.add(&batch[i])
		}
		if len(batch) < q.Limit {
			break
		}
		q.Offset += len(batch)
	}
	return agg.result(), nil
}

// ComputeAnalytics aggregates samples that are already in ascending time order.
func ComputeAnalytics(tripID string, samples []domain.LocationSample) *domain.TripAnalytics {
	agg := newAnalyticsAggregate(tripID)
	for i := range samples {
		agg.add(&samples[i])
	}
	return agg.result()
}

// analyticsAggregate folds samples in ascending time order.
type analyticsAggregate struct {
	a                  domain.TripAnalytics
	sum                float64
	minSpeed, maxSpeed float64
	first, prev        *domain.LocationSample
}

func newAnalyticsAggregate(tripID string) *analyticsAggregate {
	return &analyticsAggregate{
		a:        domain.TripAnalytics{TripID: tripID},
		minSpeed: math.Inf(1),
		maxSpeed: math.Inf(-1),
	}
}

func (g *analyticsAggregate) add(smp *domain.LocationSample) {
	g.a.SampleCount++
	if smp.Speed != nil {
		v := *smp.Speed
		g.sum += v
		g.a.SpeedSamples++
		g.minSpeed = math.Min(g.minSpeed, v)
		g.maxSpeed = math.Max(g.maxSpeed, v)
	}
	if g.prev != nil {
		if d := geospatial.DistanceKm(g.prev.Latitude, g.prev.Longitude, smp.Latitude, smp.Longitude); !math.IsNaN(d) {
			g.a.DistanceKm += d
		}
	}
	if g.first == nil {
		g.first = smp
	}
	g.prev = smp
}

func (g *analyticsAggregate) result() *domain.TripAnalytics {
	a := g.a
	if a.SampleCount == 0 {
		return &a
	}
	a.AverageSpeed = g.sum / float64(a.SampleCount)
	if a.SpeedSamples > 0 {
		a.MinSpeed, a.MaxSpeed = g.minSpeed, g.maxSpeed
	}
	first, last := g.first.Timestamp, g.prev.Timestamp
	a.FirstSampleAt, a.LastSampleAt = &first, &last
	a.DurationSeconds = last.Sub(first).Seconds()
	return &a
}

func latestCacheKey(tripID string) string {
	return "bilbotrack:latest:" + tripID
}
