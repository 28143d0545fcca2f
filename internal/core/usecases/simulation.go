package usecases

import (
	"fmt"
	"time"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
	"github.com/samirrijal/bilbotrack/internal/pkg/geospatial"
)

// EndPolicy decides what happens when a simulated bus reaches its last waypoint.
type EndPolicy string

const (
	EndTerminate EndPolicy = "terminate"
	EndLoop      EndPolicy = "loop"
)

// segment is the stretch between waypoint i and i+1.
type segment struct {
	from, to   domain.GeoPoint
	path       []domain.GeoPoint // nil when travelling in a straight line
	distanceKm float64
	heading    float64
}

// routePlan is a validated route with per-segment geometry precomputed.
type routePlan struct {
	waypoints []domain.Waypoint
	segments  []segment
}

func newRoutePlan(waypoints []domain.Waypoint, path []domain.GeoPoint) (*routePlan, error) {
	if len(waypoints) < 2 {
		return nil, domain.ErrInsufficientRoute
	}
	for i, wp := range waypoints {
		if !wp.Location.Finite() {
			return nil, fmt.Errorf("waypoint %d (%q): %w", i, wp.Name, domain.ErrInvalidRoute)
		}
		if wp.DwellMs < 0 {
			return nil, fmt.Errorf("waypoint %d (%q) has negative dwell: %w", i, wp.Name, domain.ErrInvalidRoute)
		}
	}
	for i, p := range path {
		if !p.Finite() {
			return nil, fmt.Errorf("path point %d: %w", i, domain.ErrInvalidRoute)
		}
	}

	// Split the polyline at the path index nearest each waypoint, searching
	// forward so a route that doubles back keeps its order.
	var cuts []int
	if len(path) >= 2 {
		cuts = make([]int, len(waypoints))
		prev := 0
		for i, wp := range waypoints {
			cuts[i] = geospatial.NearestIndex(path, wp.Location, prev)
			prev = cuts[i]
		}
	}

	plan := &routePlan{
		waypoints: waypoints,
		segments:  make([]segment, len(waypoints)-1),
	}
	for i := range plan.segments {
		from, to := waypoints[i].Location, waypoints[i+1].Location
		seg := segment{
			from:       from,
			to:         to,
			distanceKm: geospatial.PointDistanceKm(from, to),
			heading:    geospatial.PointBearing(from, to),
		}
		if cuts != nil && cuts[i+1]-cuts[i] >= 1 {
			seg.path = path[cuts[i] : cuts[i+1]+1]
			seg.distanceKm = geospatial.PathDistanceKm(seg.path)
		}
		plan.segments[i] = seg
	}
	return plan, nil
}

// stepResult is what one tick of the state machine produced.
type stepResult struct {
	event    domain.PositionEvent
	dwell    time.Duration // pause before the next segment, if any
	terminal bool
}

// stepper is the per-trip movement state machine. It is not safe for
// concurrent use; a single worker goroutine owns each instance.
type stepper struct {
	tripID   string
	plan     *routePlan
	speedKmh float64
	tick     time.Duration
	policy   EndPolicy

	index     int // waypoint the current segment starts from
	progress  float64
	position  domain.GeoPoint
	heading   float64
	moving    bool
	phase     domain.SimulationPhase
	wrap      bool // at the last waypoint in loop mode, restart on resume
	startedAt time.Time
	updatedAt time.Time
}

func newStepper(tripID string, plan *routePlan, speedKmh float64, tick time.Duration, policy EndPolicy, now time.Time) *stepper {
	return &stepper{
		tripID:    tripID,
		plan:      plan,
		speedKmh:  speedKmh,
		tick:      tick,
		policy:    policy,
		position:  plan.waypoints[0].Location,
		heading:   plan.segments[0].heading,
		phase:     domain.PhaseIdle,
		startedAt: now,
		updatedAt: now,
	}
}

// segmentDuration is how long the bus needs for segment i at the assumed speed.
func (s *stepper) segmentDuration(i int) time.Duration {
	km := s.plan.segments[i].distanceKm
	if km <= 0 || s.speedKmh <= 0 {
		return 0
	}
	return time.Duration(km / s.speedKmh * float64(time.Hour))
}

// step advances the bus by one tick. The caller must not call step while
// the stepper is dwelling or terminal.
func (s *stepper) step(now time.Time) (stepResult, error) {
	switch s.phase {
	case domain.PhaseDwelling, domain.PhaseTerminal:
		return stepResult{}, fmt.Errorf("step in phase %s: %w", s.phase, domain.ErrInvalidState)
	}
	s.phase = domain.PhaseTraveling
	s.moving = true

	seg := s.plan.segments[s.index]
	if d := s.segmentDuration(s.index); d > 0 {
		s.progress += float64(s.tick) / float64(d)
	} else {
		s.progress = 1
	}
	s.heading = seg.heading
	s.updatedAt = now

	if s.progress >= 1 {
		return s.arrive(now), nil
	}

	pos := geospatial.Interpolate(seg.from, seg.to, s.progress)
	if seg.path != nil {
		pos, _ = geospatial.InterpolatePath(seg.path, s.progress)
	}
	if !pos.Finite() {
		return stepResult{}, fmt.Errorf("trip %s segment %d: non-finite position", s.tripID, s.index)
	}
	s.position = pos

	return stepResult{event: domain.PositionEvent{
		TripID:        s.tripID,
		Latitude:      pos.Lat,
		Longitude:     pos.Lon,
		Speed:         s.speedKmh,
		Heading:       s.heading,
		Timestamp:     now,
		WaypointIndex: s.index,
		Progress:      s.progress,
	}}, nil
}

// arrive snaps to the next waypoint and decides what comes after it.
func (s *stepper) arrive(now time.Time) stepResult {
	s.index++
	s.progress = 0
	s.moving = false
	wp := s.plan.waypoints[s.index]
	s.position = wp.Location

	res := stepResult{event: domain.PositionEvent{
		TripID:        s.tripID,
		Latitude:      wp.Location.Lat,
		Longitude:     wp.Location.Lon,
		Speed:         0,
		Heading:       s.heading,
		Timestamp:     now,
		WaypointIndex: s.index,
		Progress:      0,
		Arrived:       true,
	}}

	last := s.index == len(s.plan.waypoints)-1
	if last && s.policy != EndLoop {
		s.phase = domain.PhaseTerminal
		res.terminal = true
		return res
	}
	s.wrap = last

	if d := wp.Dwell(); d > 0 {
		s.phase = domain.PhaseDwelling
		res.dwell = d
		return res
	}
	s.resume()
	return res
}

// resume ends a dwell and readies the next segment.
func (s *stepper) resume() {
	if s.wrap {
		s.wrap = false
		s.index = 0
		s.position = s.plan.waypoints[0].Location
		s.heading = s.plan.segments[0].heading
	}
	s.progress = 0
	s.phase = domain.PhaseTraveling
}

func (s *stepper) snapshot() domain.SimulationState {
	return domain.SimulationState{
		TripID:          s.tripID,
		WaypointIndex:   s.index,
		SegmentProgress: s.progress,
		Position:        s.position,
		Heading:         s.heading,
		IsMoving:        s.moving,
		Phase:           s.phase,
		StartedAt:       s.startedAt,
		UpdatedAt:       s.updatedAt,
	}
}
