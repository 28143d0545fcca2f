package domain

import (
	"strings"
	"time"
)

// SimulationPhase is the state of a trip's movement state machine.
type SimulationPhase string

const (
	PhaseIdle      SimulationPhase = "idle"
	PhaseTraveling SimulationPhase = "traveling"
	PhaseDwelling  SimulationPhase = "dwelling"
	PhaseTerminal  SimulationPhase = "terminal"
)

// SimulationState is a read-only snapshot of one running simulation.
type SimulationState struct {
	TripID          string          `json:"trip_id"`
	WaypointIndex   int             `json:"waypoint_index"`
	SegmentProgress float64         `json:"segment_progress"`
	Position        GeoPoint        `json:"position"`
	Heading         float64         `json:"heading"`
	IsMoving        bool            `json:"is_moving"`
	Phase           SimulationPhase `json:"phase"`
	StartedAt       time.Time       `json:"started_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// PositionEvent is emitted by the simulator on every tick and on arrival.
type PositionEvent struct {
	TripID        string    `json:"trip_id"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Speed         float64   `json:"speed"`
	Heading       float64   `json:"heading"`
	Timestamp     time.Time `json:"timestamp"`
	WaypointIndex int       `json:"waypoint_index"`
	Progress      float64   `json:"progress"`
	Arrived       bool      `json:"arrived,omitempty"`
}

// SimulationEventKind distinguishes simulator lifecycle events.
type SimulationEventKind string

const (
	SimStarted   SimulationEventKind = "started"
	SimPosition  SimulationEventKind = "position"
	SimCompleted SimulationEventKind = "completed"
	SimStopped   SimulationEventKind = "stopped"
	SimFailed    SimulationEventKind = "failed"
)

// SimulationEvent is the value the simulator sends on its event channel.
type SimulationEvent struct {
	Kind     SimulationEventKind
	TripID   string
	Position *PositionEvent
	Err      error
	At       time.Time
}

// Channel event types pushed to subscribers.
const (
	EventLocationUpdate    = "location-update"
	EventTripStatusUpdate  = "trip-status-update"
	EventDelayNotification = "delay-notification"
	EventNotification      = "notification"
)

// Trip status values carried by trip-status-update events.
const (
	StatusSimulationStarted   = "simulation_started"
	StatusSimulationCompleted = "simulation_completed"
	StatusSimulationStopped   = "simulation_stopped"
	StatusSimulationDegraded  = "simulation_degraded"
)

// ChannelEvent is the envelope delivered to every session in a channel.
type ChannelEvent struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Data    any    `json:"data"`
}

// LocationUpdate is the payload of a location-update event.
type LocationUpdate struct {
	TripID    string    `json:"trip_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"`
	Heading   float64   `json:"heading"`
	Timestamp time.Time `json:"timestamp"`
	// Simulator-only fields.
	WaypointIndex *int     `json:"waypoint_index,omitempty"`
	Progress      *float64 `json:"progress,omitempty"`
}

// TripStatusUpdate is the payload of a trip-status-update event.
type TripStatusUpdate struct {
	TripID string `json:"trip_id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// DelayNotification is the payload of a delay-notification event.
type DelayNotification struct {
	TripID       string `json:"trip_id"`
	DelayMinutes int    `json:"delay_minutes"`
	Reason       string `json:"reason,omitempty"`
}

// Notification is a generic user-scoped message.
type Notification struct {
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	tripChannelPrefix = "trip-"
	userChannelPrefix = "user-"
)

// TripChannel returns the channel name for a trip.
func TripChannel(tripID string) string { return tripChannelPrefix + tripID }

// UserChannel returns the channel name for a user.
func UserChannel(userID string) string { return userChannelPrefix + userID }

// ParseChannel splits a channel name into its kind ("trip" or "user") and id.
func ParseChannel(channel string) (kind, id string, ok bool) {
	switch {
	case strings.HasPrefix(channel, tripChannelPrefix) && len(channel) > len(tripChannelPrefix):
		return "trip", channel[len(tripChannelPrefix):], true
	case strings.HasPrefix(channel, userChannelPrefix) && len(channel) > len(userChannelPrefix):
		return "user", channel[len(userChannelPrefix):], true
	}
	return "", "", false
}
