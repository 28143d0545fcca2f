package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
	"github.com/samirrijal/bilbotrack/internal/core/ports"
	"github.com/samirrijal/bilbotrack/internal/pkg/telemetry"
)

// TrackingService connects the simulator, the position store and the
// channel publisher. It is built once at startup and shared by every
// transport.
type TrackingService struct {
	sim       *Simulator
	positions *PositionService
	publisher ports.ChannelPublisher
	routes    ports.RouteRepository
	trips     ports.TripRepository
	auth      ports.Authenticator
	now       func() time.Time
}

// NewTrackingService creates a new TrackingService.
func NewTrackingService(
	sim *Simulator,
	positions *PositionService,
	publisher ports.ChannelPublisher,
	routes ports.RouteRepository,
	trips ports.TripRepository,
	auth ports.Authenticator,
) *TrackingService {
	return &TrackingService{
		sim:       sim,
		positions: positions,
		publisher: publisher,
		routes:    routes,
		trips:     trips,
		auth:      auth,
		now:       time.Now,
	}
}

// Run consumes simulator events until ctx is done. Each trip's events are
// persisted and published in the order the simulator produced them.
func (s *TrackingService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.sim.Events():
			s.handleSimulationEvent(ctx, ev)
		}
	}
}

func (s *TrackingService) handleSimulationEvent(ctx context.Context, ev domain.SimulationEvent) {
	switch ev.Kind {
	case domain.SimPosition:
		if ev.Position == nil {
			return
		}
		p := ev.Position
		speed, heading := p.Speed, p.Heading
		sample, err := s.positions.Append(ctx, domain.LocationSample{
			TripID:    p.TripID,
			Latitude:  p.Latitude,
			Longitude: p.Longitude,
			Speed:     &speed,
			Heading:   &heading,
			Timestamp: p.Timestamp,
			Source:    domain.SourceSimulator,
		})
		if err != nil {
			slog.Error("persist simulated position failed", "trip_id", p.TripID, "error", err)
			return
		}
		idx, progress := p.WaypointIndex, p.Progress
		update := locationUpdate(sample)
		update.WaypointIndex, update.Progress = &idx, &progress
		s.publish(ctx, domain.TripChannel(p.TripID), domain.EventLocationUpdate, update)

	case domain.SimStarted:
		s.publishStatus(ctx, ev.TripID, domain.StatusSimulationStarted, "")
	case domain.SimCompleted:
		s.publishStatus(ctx, ev.TripID, domain.StatusSimulationCompleted, "")
	case domain.SimStopped:
		s.publishStatus(ctx, ev.TripID, domain.StatusSimulationStopped, "")
	case domain.SimFailed:
		reason := "simulation failed"
		if ev.Err != nil {
			reason = ev.Err.Error()
		}
		s.publishStatus(ctx, ev.TripID, domain.StatusSimulationDegraded, reason)
	}
}

// StartSimulation loads the route for a trip and starts simulating it.
// routeID may be empty, in which case the trip's own route is used.
func (s *TrackingService) StartSimulation(ctx context.Context, tripID, routeID string) (domain.SimulationState, error) {
	if routeID == "" {
		trip, err := s.trips.GetByID(ctx, tripID)
		if err != nil {
			return domain.SimulationState{}, fmt.Errorf("load trip %s: %w", tripID, err)
		}
		routeID = trip.RouteID
	}
	route, err := s.routes.GetByID(ctx, routeID)
	if err != nil {
		return domain.SimulationState{}, fmt.Errorf("load route %s: %w", routeID, err)
	}
	return s.sim.Start(tripID, route.Waypoints, route.Path)
}

// StartSimulationWithRoute starts a simulation from inline route data.
func (s *TrackingService) StartSimulationWithRoute(tripID string, waypoints []domain.Waypoint, path []domain.GeoPoint) (domain.SimulationState, error) {
	return s.sim.Start(tripID, waypoints, path)
}

// StopSimulation stops a trip's simulation if one is running.
func (s *TrackingService) StopSimulation(tripID string) bool {
	return s.sim.Stop(tripID)
}

// SimulationStatus returns the current state of a trip's simulation.
func (s *TrackingService) SimulationStatus(tripID string) (domain.SimulationState, bool) {
	return s.sim.Status(tripID)
}

// ActiveSimulations lists every running simulation.
func (s *TrackingService) ActiveSimulations() []domain.SimulationState {
	return s.sim.Active()
}

// Positions exposes the position store for read paths.
func (s *TrackingService) Positions() *PositionService {
	return s.positions
}

// ReportLocation records a driver's position fix and broadcasts it. The
// reporter must be the trip's assigned driver and the trip must be in
// progress.
func (s *TrackingService) ReportLocation(ctx context.Context, who domain.Identity, report domain.LocationReport) (*domain.LocationSample, error) {
	ctx, span := tracer.Start(ctx, "TrackingService.ReportLocation")
	defer span.End()
	span.SetAttributes(telemetry.TripIDKey.String(report.TripID), telemetry.UserIDKey.String(who.UserID))

	ok, err := s.auth.IsDriverOfTrip(ctx, who.UserID, report.TripID)
	if err != nil {
		return nil, fmt.Errorf("check driver of trip %s: %w", report.TripID, err)
	}
	if !ok {
		return nil, fmt.Errorf("user %s is not the driver of trip %s: %w", who.UserID, report.TripID, domain.ErrForbidden)
	}

	trip, err := s.trips.GetByID(ctx, report.TripID)
	if err != nil {
		return nil, fmt.Errorf("load trip %s: %w", report.TripID, err)
	}
	if trip.Status != domain.TripInProgress {
		return nil, fmt.Errorf("trip %s is %s: %w", report.TripID, trip.Status, domain.ErrInvalidState)
	}

	sample, err := s.positions.Append(ctx, domain.LocationSample{
		TripID:    report.TripID,
		Latitude:  report.Latitude,
		Longitude: report.Longitude,
		Speed:     report.Speed,
		Heading:   report.Heading,
		Accuracy:  report.Accuracy,
		Timestamp: report.Timestamp,
		Source:    domain.SourceDriver,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.publish(ctx, domain.TripChannel(report.TripID), domain.EventLocationUpdate, locationUpdate(sample))
	return sample, nil
}

// RecordFeedPosition stores a position taken from an upstream realtime feed
// and broadcasts it. The trip must exist; no driver check applies.
func (s *TrackingService) RecordFeedPosition(ctx context.Context, sample domain.LocationSample) (*domain.LocationSample, error) {
	if _, err := s.trips.GetByID(ctx, sample.TripID); err != nil {
		return nil, fmt.Errorf("load trip %s: %w", sample.TripID, err)
	}
	sample.Source = domain.SourceFeed
	stored, err := s.positions.Append(ctx, sample)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, domain.TripChannel(sample.TripID), domain.EventLocationUpdate, locationUpdate(stored))
	return stored, nil
}

// PublishTripStatus broadcasts a trip status change to the trip channel.
func (s *TrackingService) PublishTripStatus(ctx context.Context, tripID, status, reason string) error {
	return s.publisher.Publish(ctx, domain.TripChannel(tripID), domain.ChannelEvent{
		Type: domain.EventTripStatusUpdate,
		Data: domain.TripStatusUpdate{TripID: tripID, Status: status, Reason: reason},
	})
}

// NotifyDelay publishes a delay notice on the trip channel and once on each
// booked passenger's user channel. It implements ports.DelayNotifier.
func (s *TrackingService) NotifyDelay(ctx context.Context, n domain.DelayNotification) error {
	if err := s.PublishDelay(ctx, n); err != nil {
		return err
	}
	users, err := s.BookedUsers(ctx, n.TripID)
	if err != nil {
		return err
	}
	var errs []error
	for _, userID := range users {
		if err := s.PublishUserDelay(ctx, userID, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishDelay publishes a delay notice on the trip channel only.
func (s *TrackingService) PublishDelay(ctx context.Context, n domain.DelayNotification) error {
	return s.publisher.Publish(ctx, domain.TripChannel(n.TripID), domain.ChannelEvent{
		Type: domain.EventDelayNotification,
		Data: n,
	})
}

// PublishUserDelay publishes a delay notice on one passenger's channel.
func (s *TrackingService) PublishUserDelay(ctx context.Context, userID string, n domain.DelayNotification) error {
	return s.publisher.Publish(ctx, domain.UserChannel(userID), domain.ChannelEvent{
		Type: domain.EventDelayNotification,
		Data: n,
	})
}

// BookedUsers returns the passengers booked on a trip.
func (s *TrackingService) BookedUsers(ctx context.Context, tripID string) ([]string, error) {
	users, err := s.trips.BookedUserIDs(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("booked users for trip %s: %w", tripID, err)
	}
	return users, nil
}

// NotifyUser sends a generic notification to a user's channel.
func (s *TrackingService) NotifyUser(ctx context.Context, userID string, n domain.Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = s.now().UTC()
	}
	if n.Type == "" {
		n.Type = "info"
	}
	return s.publisher.Publish(ctx, domain.UserChannel(userID), domain.ChannelEvent{
		Type: domain.EventNotification,
		Data: n,
	})
}

// AuthorizeChannel decides whether who may join channel. Trip channels are
// open to operators, the trip's driver and booked passengers; user channels
// only to that user and operators.
func (s *TrackingService) AuthorizeChannel(ctx context.Context, who domain.Identity, channel string) error {
	kind, id, ok := domain.ParseChannel(channel)
	if !ok {
		return fmt.Errorf("unknown channel %q: %w", channel, domain.ErrNotFound)
	}
	if who.IsOperator() {
		return nil
	}

	switch kind {
	case "user":
		if who.UserID == id {
			return nil
		}
	case "trip":
		isDriver, err := s.auth.IsDriverOfTrip(ctx, who.UserID, id)
		if err != nil {
			return fmt.Errorf("check driver of trip %s: %w", id, err)
		}
		if isDriver {
			return nil
		}
		users, err := s.BookedUsers(ctx, id)
		if err != nil {
			return err
		}
		for _, u := range users {
			if u == who.UserID {
				return nil
			}
		}
	}
	return fmt.Errorf("user %s may not join %s: %w", who.UserID, channel, domain.ErrForbidden)
}

func (s *TrackingService) publishStatus(ctx context.Context, tripID, status, reason string) {
	if err := s.PublishTripStatus(ctx, tripID, status, reason); err != nil {
		slog.Warn("publish trip status failed", "trip_id", tripID, "status", status, "error", err)
	}
}

func (s *TrackingService) publish(ctx context.Context, channel, eventType string, data any) {
	if err := s.publisher.Publish(ctx, channel, domain.ChannelEvent{Type: eventType, Data: data}); err != nil {
		slog.Warn("publish event failed", "channel", channel, "type", eventType, "error", err)
	}
}

func locationUpdate(sample *domain.LocationSample) domain.LocationUpdate {
	u := domain.LocationUpdate{
		TripID:    sample.TripID,
		Latitude:  sample.Latitude,
		Longitude: sample.Longitude,
		Timestamp: sample.Timestamp,
	}
	if sample.Speed != nil {
		u.Speed = *sample.Speed
	}
	if sample.Heading != nil {
		u.Heading = *sample.Heading
	}
	return u
}
