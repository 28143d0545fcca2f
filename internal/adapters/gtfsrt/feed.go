// Package gtfsrt renders tracked vehicles as a GTFS-Realtime
// VehiclePositions feed.
package gtfsrt

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
)

const Version = "2.0"

// SimulationLister lists running simulations.
type SimulationLister interface {
	ActiveSimulations() []domain.SimulationState
}

// LatestReader returns a trip's most recent stored sample.
type LatestReader interface {
	Latest(ctx context.Context, tripID string) (*domain.LocationSample, bool, error)
}

// Builder assembles feeds from running simulations and stored samples.
type Builder struct {
	sims   SimulationLister
	latest LatestReader
	now    func() time.Time
}

func NewBuilder(sims SimulationLister, latest LatestReader) *Builder {
	return &Builder{sims: sims, latest: latest, now: time.Now}
}

// Build returns a full-dataset feed with one entity per running simulation
// plus one per extra trip that has a stored sample.
func (b *Builder) Build(ctx context.Context, extraTrips ...string) (*gtfs.FeedMessage, error) {
	feed := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String(Version),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(b.now().Unix())),
		},
	}

	seen := make(map[string]bool)
	for _, st := range b.sims.ActiveSimulations() {
		seen[st.TripID] = true
		feed.Entity = append(feed.Entity, b.fromState(ctx, st))
	}

	sort.Strings(extraTrips)
	for _, tripID := range extraTrips {
		if tripID == "" || seen[tripID] {
			continue
		}
		seen[tripID] = true
		sample, found, err := b.latest.Latest(ctx, tripID)
		if err != nil {
			return nil, fmt.Errorf("latest position for %s: %w", tripID, err)
		}
		if !found {
			continue
		}
		feed.Entity = append(feed.Entity, fromSample(sample))
	}
	return feed, nil
}

// fromState builds an entity for a simulated trip. Speed comes from the
// last stored sample when there is one.
func (b *Builder) fromState(ctx context.Context, st domain.SimulationState) *gtfs.FeedEntity {
	vp := &gtfs.VehiclePosition{
		Trip: &gtfs.TripDescriptor{TripId: proto.String(st.TripID)},
		Position: &gtfs.Position{
			Latitude:  proto.Float32(float32(st.Position.Lat)),
			Longitude: proto.Float32(float32(st.Position.Lon)),
			Bearing:   proto.Float32(float32(st.Heading)),
		},
		CurrentStopSequence: proto.Uint32(uint32(st.WaypointIndex + 1)),
		Timestamp:           proto.Uint64(uint64(st.UpdatedAt.Unix())),
	}
	if st.IsMoving {
		vp.CurrentStatus = gtfs.VehiclePosition_IN_TRANSIT_TO.Enum()
		vp.CurrentStopSequence = proto.Uint32(uint32(st.WaypointIndex + 2))
	} else {
		vp.CurrentStatus = gtfs.VehiclePosition_STOPPED_AT.Enum()
	}

	sample, found, err := b.latest.Latest(ctx, st.TripID)
	if err != nil {
		slog.Debug("gtfs-rt latest lookup failed", "trip_id", st.TripID, "error", err)
	}
	if found && sample.Speed != nil {
		vp.Position.Speed = proto.Float32(float32(*sample.Speed / 3.6))
	}
	return &gtfs.FeedEntity{Id: proto.String(st.TripID), Vehicle: vp}
}

func fromSample(s *domain.LocationSample) *gtfs.FeedEntity {
	pos := &gtfs.Position{
		Latitude:  proto.Float32(float32(s.Latitude)),
		Longitude: proto.Float32(float32(s.Longitude)),
	}
	if s.Heading != nil {
		pos.Bearing = proto.Float32(float32(*s.Heading))
	}
	if s.Speed != nil {
		pos.Speed = proto.Float32(float32(*s.Speed / 3.6)) // m/s
	}
	return &gtfs.FeedEntity{
		Id: proto.String(s.TripID),
		Vehicle: &gtfs.VehiclePosition{
			Trip:      &gtfs.TripDescriptor{TripId: proto.String(s.TripID)},
			Position:  pos,
			Timestamp: proto.Uint64(uint64(s.Timestamp.Unix())),
		},
	}
}

// Marshal encodes a feed as protobuf, or as JSON when asJSON is set.
func Marshal(feed *gtfs.FeedMessage, asJSON bool) ([]byte, error) {
	if asJSON {
		return protojson.MarshalOptions{UseProtoNames: true}.Marshal(feed)
	}
	return proto.Marshal(feed)
}

// Decode parses a protobuf feed.
func Decode(data []byte) (*gtfs.FeedMessage, error) {
	feed := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(data, feed); err != nil {
		return nil, fmt.Errorf("unmarshal protobuf: %w", err)
	}
	return feed, nil
}
