package gtfsrt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
	"github.com/samirrijal/bilbotrack/internal/core/ports"
)

// Source is one upstream agency publishing GTFS-Realtime feeds.
type Source struct {
	Name             string
	VehiclePositions string
	TripUpdates      string
}

// PositionSink records a vehicle position taken from a feed.
type PositionSink interface {
	RecordFeedPosition(ctx context.Context, sample domain.LocationSample) (*domain.LocationSample, error)
}

// PollResult counts what one pass over the sources produced.
type PollResult struct {
	Positions int
	Delays    int
	Errors    int
}

// Poller pulls upstream feeds and feeds their positions and delays into
// the tracking core.
type Poller struct {
	client    *http.Client
	positions PositionSink
	delays    ports.DelayNotifier
	threshold time.Duration

	mu       sync.Mutex
	reported map[string]int // trip -> last delay minutes announced
}

// NewPoller creates a Poller. Delays at or below threshold are ignored.
func NewPoller(client *http.Client, positions PositionSink, delays ports.DelayNotifier, threshold time.Duration) *Poller {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Poller{
		client:    client,
		positions: positions,
		delays:    delays,
		threshold: threshold,
		reported:  make(map[string]int),
	}
}

// PollAll fetches every source with at most 8 fetches in flight.
func (p *Poller) PollAll(ctx context.Context, sources []Source) PollResult {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		res PollResult
	)
	sem := make(chan struct{}, 8)

	add := func(r PollResult) {
		mu.Lock()
		res.Positions += r.Positions
		res.Delays += r.Delays
		res.Errors += r.Errors
		mu.Unlock()
	}

	for _, src := range sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			add(p.Poll(ctx, src))
		}(src)
	}
	wg.Wait()
	return res
}

// Poll fetches one source's vehicle positions and trip updates.
func (p *Poller) Poll(ctx context.Context, src Source) PollResult {
	var res PollResult
	logger := slog.With("source", src.Name)

	if src.VehiclePositions != "" {
		feed, err := p.Fetch(ctx, src.VehiclePositions)
		if err != nil {
			logger.Warn("vehicle positions fetch failed", "error", err)
			res.Errors++
		} else {
			res.Positions = p.IngestPositions(ctx, feed)
		}
	}

	if src.TripUpdates != "" {
		feed, err := p.Fetch(ctx, src.TripUpdates)
		if err != nil {
			logger.Warn("trip updates fetch failed", "error", err)
			res.Errors++
		} else {
			res.Delays = p.IngestTripUpdates(ctx, feed)
		}
	}

	if res.Positions > 0 || res.Delays > 0 {
		logger.Info("feed ingested", "positions", res.Positions, "delays", res.Delays)
	}
	return res
}

// Fetch downloads and decodes a protobuf feed.
func (p *Poller) Fetch(ctx context.Context, url string) (*gtfs.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/x-protobuf")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return Decode(body)
}

// IngestPositions records every vehicle entity that names a known trip and
// returns how many were stored.
func (p *Poller) IngestPositions(ctx context.Context, feed *gtfs.FeedMessage) int {
	stored := 0
	for _, sample := range SamplesFromFeed(feed) {
		if _, err := p.positions.RecordFeedPosition(ctx, sample); err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				slog.Debug("feed position rejected", "trip_id", sample.TripID, "error", err)
			}
			continue
		}
		stored++
	}
	return stored
}

// IngestTripUpdates announces delays above the threshold. A trip is only
// announced again when its delay in whole minutes changes.
func (p *Poller) IngestTripUpdates(ctx context.Context, feed *gtfs.FeedMessage) int {
	announced := 0
	for tripID, delay := range DelaysFromFeed(feed) {
		if delay <= p.threshold {
			p.forget(tripID)
			continue
		}
		minutes := int(delay.Round(time.Minute) / time.Minute)
		if !p.markReported(tripID, minutes) {
			continue
		}
		err := p.delays.NotifyDelay(ctx, domain.DelayNotification{
			TripID:       tripID,
			DelayMinutes: minutes,
			Reason:       "reported by realtime feed",
		})
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				slog.Warn("delay notification failed", "trip_id", tripID, "error", err)
			}
			p.forget(tripID)
			continue
		}
		announced++
	}
	return announced
}

func (p *Poller) markReported(tripID string, minutes int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reported[tripID] == minutes {
		return false
	}
	p.reported[tripID] = minutes
	return true
}

func (p *Poller) forget(tripID string) {
	p.mu.Lock()
	delete(p.reported, tripID)
	p.mu.Unlock()
}

// SamplesFromFeed converts vehicle entities with a trip and a position into
// location samples. Speed is converted from m/s to km/h.
func SamplesFromFeed(feed *gtfs.FeedMessage) []domain.LocationSample {
	var out []domain.LocationSample
	for _, entity := range feed.GetEntity() {
		vp := entity.GetVehicle()
		if vp == nil || vp.GetPosition() == nil {
			continue
		}
		tripID := vp.GetTrip().GetTripId()
		if tripID == "" {
			continue
		}

		pos := vp.GetPosition()
		sample := domain.LocationSample{
			TripID:    tripID,
			Latitude:  float64(pos.GetLatitude()),
			Longitude: float64(pos.GetLongitude()),
			Source:    domain.SourceFeed,
		}
		if pos.Bearing != nil {
			heading := float64(pos.GetBearing())
			sample.Heading = &heading
		}
		if pos.Speed != nil {
			speed := float64(pos.GetSpeed()) * 3.6
			sample.Speed = &speed
		}
		if vp.Timestamp != nil {
			sample.Timestamp = time.Unix(int64(vp.GetTimestamp()), 0).UTC()
		}
		out = append(out, sample)
	}
	return out
}

// DelaysFromFeed returns the largest delay reported for each trip, taken from
// the trip-level delay and every stop time update.
func DelaysFromFeed(feed *gtfs.FeedMessage) map[string]time.Duration {
	out := make(map[string]time.Duration)
	for _, entity := range feed.GetEntity() {
		tu := entity.GetTripUpdate()
		if tu == nil {
			continue
		}
		tripID := tu.GetTrip().GetTripId()
		if tripID == "" {
			continue
		}

		worst := time.Duration(tu.GetDelay()) * time.Second
		for _, stu := range tu.GetStopTimeUpdate() {
			var d int32
			if arr := stu.GetArrival(); arr != nil && arr.Delay != nil {
				d = arr.GetDelay()
			} else if dep := stu.GetDeparture(); dep != nil && dep.Delay != nil {
				d = dep.GetDelay()
			}
			if sd := time.Duration(d) * time.Second; sd > worst {
				worst = sd
			}
		}
		if cur, ok := out[tripID]; !ok || worst > cur {
			out[tripID] = worst
		}
	}
	return out
}
