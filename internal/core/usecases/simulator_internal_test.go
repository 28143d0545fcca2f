package usecases

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
)

func TestSimulator_FailedTripDoesNotAffectOthers(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{TickInterval: 5 * time.Millisecond})
	defer sim.Close()

	_, err := sim.Start("GOOD", []domain.Waypoint{wp("a", 0, 0, 0), wp("b", 0, 1, 0)}, nil)
	require.NoError(t, err)

	plan, err := newRoutePlan([]domain.Waypoint{wp("a", 0, 0, 0), wp("b", 0, 1, 0)}, nil)
	require.NoError(t, err)
	plan.segments[0].to = domain.GeoPoint{Lat: math.NaN()}
	_, err = sim.launch("BAD", plan)
	require.NoError(t, err)

	var failure *domain.SimulationEvent
	goodAfterFailure := 0
	deadline := time.After(2 * time.Second)
	for failure == nil || goodAfterFailure < 3 {
		select {
		case ev := <-sim.Events():
			switch {
			case ev.TripID == "BAD" && ev.Kind == domain.SimFailed:
				failure = &ev
			case ev.TripID == "BAD" && ev.Kind == domain.SimPosition:
				t.Fatalf("failed trip produced a position: %+v", ev.Position)
			case ev.TripID == "GOOD" && ev.Kind == domain.SimPosition && failure != nil:
				goodAfterFailure++
			}
		case <-deadline:
			t.Fatalf("failure=%v, good ticks after failure=%d", failure != nil, goodAfterFailure)
		}
	}

	require.Error(t, failure.Err)
	assert.Contains(t, failure.Err.Error(), "non-finite")

	_, running := sim.Status("BAD")
	assert.False(t, running, "failed trip leaves the registry")
	active := sim.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "GOOD", active[0].TripID)

	// The failed trip can be started again with a valid route.
	_, err = sim.Start("BAD", []domain.Waypoint{wp("a", 0, 0, 0), wp("b", 0, 1, 0)}, nil)
	assert.NoError(t, err)
}

type capturedPublish struct {
	channel string
	event   domain.ChannelEvent
}

type capturePublisher struct{ got []capturedPublish }

func (c *capturePublisher) Publish(_ context.Context, channel string, ev domain.ChannelEvent) error {
	c.got = append(c.got, capturedPublish{channel, ev})
	return nil
}

func TestTrackingService_FailedSimulationIsDegraded(t *testing.T) {
	pub := &capturePublisher{}
	svc := &TrackingService{publisher: pub, now: time.Now}

	svc.handleSimulationEvent(context.Background(), domain.SimulationEvent{
		Kind:   domain.SimFailed,
		TripID: "T1",
		Err:    errors.New("trip T1 segment 0: non-finite position"),
	})

	require.Len(t, pub.got, 1)
	assert.Equal(t, domain.TripChannel("T1"), pub.got[0].channel)
	assert.Equal(t, domain.EventTripStatusUpdate, pub.got[0].event.Type)
	assert.Equal(t, domain.TripStatusUpdate{
		TripID: "T1",
		Status: domain.StatusSimulationDegraded,
		Reason: "trip T1 segment 0: non-finite position",
	}, pub.got[0].event.Data)
}
