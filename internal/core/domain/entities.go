package domain

import (
	"time"
)

// WaypointRole marks where a waypoint sits on its route.
type WaypointRole string

const (
	RoleStart        WaypointRole = "start"
	RoleIntermediate WaypointRole = "intermediate"
	RoleEnd          WaypointRole = "end"
)

// Waypoint is a named stop on a route. Order within a route is significant.
type Waypoint struct {
	Name     string       `json:"name" yaml:"name" validate:"required"`
	Location GeoPoint     `json:"location" yaml:"location"`
	DwellMs  int64        `json:"dwell_time_ms" yaml:"dwell_time_ms" validate:"gte=0"`
	Role     WaypointRole `json:"role" yaml:"role" validate:"omitempty,oneof=start intermediate end"`
}

// Dwell returns how long a vehicle pauses at the waypoint.
func (w Waypoint) Dwell() time.Duration {
	return time.Duration(w.DwellMs) * time.Millisecond
}

// Route is an ordered list of waypoints plus an optional road-following path.
type Route struct {
	ID        string     `json:"id" yaml:"id" validate:"required"`
	Name      string     `json:"name" yaml:"name"`
	Waypoints []Waypoint `json:"waypoints" yaml:"waypoints" validate:"min=2,dive"`
	Path      []GeoPoint `json:"path,omitempty" yaml:"path"`
}

// TripStatus is the lifecycle state of a trip as tracked by the trip service.
type TripStatus string

const (
	TripScheduled  TripStatus = "scheduled"
	TripInProgress TripStatus = "in_progress"
	TripCompleted  TripStatus = "completed"
	TripCancelled  TripStatus = "cancelled"
)

// Trip is a single run of a bus along a route.
type Trip struct {
	ID       string     `json:"id" yaml:"id" validate:"required"`
	RouteID  string     `json:"route_id" yaml:"route_id" validate:"required"`
	BusID    string     `json:"bus_id,omitempty" yaml:"bus_id"`
	DriverID string     `json:"driver_id,omitempty" yaml:"driver_id"`
	Status   TripStatus `json:"status" yaml:"status"`
	Bookings []string   `json:"-" yaml:"bookings"`
}

// SampleSource records who produced a location sample.
type SampleSource string

const (
	SourceSimulator SampleSource = "simulator"
	SourceDriver    SampleSource = "driver"
	SourceAPI       SampleSource = "api"
	SourceFeed      SampleSource = "feed"
)

// LocationSample is one persisted observation of a vehicle's position.
type LocationSample struct {
	ID        string       `json:"id"`
	TripID    string       `json:"trip_id"`
	Latitude  float64      `json:"latitude"`
	Longitude float64      `json:"longitude"`
	Speed     *float64     `json:"speed,omitempty"`   // km/h
	Heading   *float64     `json:"heading,omitempty"` // degrees
	Accuracy  *float64     `json:"accuracy,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Source    SampleSource `json:"source,omitempty"`
}

// HistoryQuery bounds a history or analytics read.
type HistoryQuery struct {
	Limit     int
	Offset    int
	From      *time.Time
	To        *time.Time
	Ascending bool
}

// TripAnalytics are aggregates computed over a trip's samples.
type TripAnalytics struct {
	TripID          string     `json:"trip_id"`
	SampleCount     int        `json:"sample_count"`
	SpeedSamples    int        `json:"speed_samples"`
	AverageSpeed    float64    `json:"average_speed"`
	MinSpeed        float64    `json:"min_speed"`
	MaxSpeed        float64    `json:"max_speed"`
	DistanceKm      float64    `json:"distance_km"`
	DurationSeconds float64    `json:"duration_seconds"`
	FirstSampleAt   *time.Time `json:"first_sample_at,omitempty"`
	LastSampleAt    *time.Time `json:"last_sample_at,omitempty"`
}

// Identity is the caller as resolved by the auth collaborator.
type Identity struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

const (
	RolePassenger = "passenger"
	RoleDriver    = "driver"
	RoleOperator  = "operator"
	RoleAdmin     = "admin"
)

// IsOperator reports whether the identity may act on any trip.
func (i Identity) IsOperator() bool {
	return i.Role == RoleOperator || i.Role == RoleAdmin
}

// LocationReport is a driver-originated position fix.
type LocationReport struct {
	TripID    string    `json:"trip_id" validate:"required"`
	Latitude  float64   `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64   `json:"longitude" validate:"gte=-180,lte=180"`
	Speed     *float64  `json:"speed,omitempty" validate:"omitempty,gte=0"`
	Heading   *float64  `json:"heading,omitempty" validate:"omitempty,gte=0,lt=360"`
	Accuracy  *float64  `json:"accuracy,omitempty" validate:"omitempty,gte=0"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}
