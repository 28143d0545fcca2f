package usecases_test

import (
	"math"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
	"github.com/samirrijal/bilbotrack/internal/core/usecases"
)

func waypoint(name string, lat, lon float64, dwellMs int64) domain.Waypoint {
	return domain.Waypoint{Name: name, Location: domain.GeoPoint{Lat: lat, Lon: lon}, DwellMs: dwellMs}
}

// fastSimulator covers ~1.1 km segments in about 50ms with 5ms ticks.
func fastSimulator(t *testing.T) *usecases.Simulator {
	t.Helper()
	sim := usecases.NewSimulator(usecases.SimulatorConfig{
		TickInterval: 5 * time.Millisecond,
		SpeedKmh:     80000,
	})
	t.Cleanup(sim.Close)
	return sim
}

// slowRoute never finishes within a test run at 30 km/h.
func slowRoute() []domain.Waypoint {
	return []domain.Waypoint{waypoint("a", 0, 0, 0), waypoint("b", 0, 1, 0)}
}

func collectUntil(t *testing.T, sim *usecases.Simulator, tripID string, kind domain.SimulationEventKind, timeout time.Duration) []domain.SimulationEvent {
	t.Helper()
	deadline := time.After(timeout)
	var out []domain.SimulationEvent
	for {
		select {
		case ev := <-sim.Events():
			if ev.TripID != tripID {
				continue
			}
			out = append(out, ev)
			if ev.Kind == kind {
				return out
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event on %s", kind, tripID)
		}
	}
}

func TestSimulator_RunsToCompletionWithDwell(t *testing.T) {
	sim := fastSimulator(t)

	_, err := sim.Start("T1", []domain.Waypoint{
		waypoint("origin", 0, 0, 0),
		waypoint("stop", 0, 0.01, 150),
		waypoint("terminus", 0.01, 0.01, 0),
	}, nil)
	require.NoError(t, err)

	events := collectUntil(t, sim, "T1", domain.SimCompleted, 5*time.Second)
	require.Equal(t, domain.SimStarted, events[0].Kind)

	var arrival *domain.PositionEvent
	var afterDwell *domain.PositionEvent
	lastIdx := 0
	for _, ev := range events {
		if ev.Kind != domain.SimPosition {
			continue
		}
		p := ev.Position
		require.GreaterOrEqual(t, p.WaypointIndex, lastIdx)
		lastIdx = p.WaypointIndex
		if p.Arrived && p.WaypointIndex == 1 {
			arrival = p
			continue
		}
		if arrival != nil && afterDwell == nil {
			afterDwell = p
		}
	}
	require.NotNil(t, arrival)
	require.NotNil(t, afterDwell)
	assert.Equal(t, 1, afterDwell.WaypointIndex)
	assert.GreaterOrEqual(t, afterDwell.Timestamp.Sub(arrival.Timestamp), 150*time.Millisecond)
	assert.Equal(t, 2, lastIdx)

	_, running := sim.Status("T1")
	assert.False(t, running, "completed simulations leave the registry")
}

func TestSimulator_AlreadyRunning(t *testing.T) {
	sim := usecases.NewSimulator(usecases.SimulatorConfig{TickInterval: time.Second})
	defer sim.Close()

	_, err := sim.Start("T1", slowRoute(), nil)
	require.NoError(t, err)

	_, err = sim.Start("T1", slowRoute(), nil)
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)

	_, err = sim.Start("T2", slowRoute(), nil)
	assert.NoError(t, err)
	assert.Len(t, sim.Active(), 2)
}

func TestSimulator_StartValidation(t *testing.T) {
	sim := usecases.NewSimulator(usecases.SimulatorConfig{})
	defer sim.Close()

	_, err := sim.Start("T1", []domain.Waypoint{waypoint("a", 0, 0, 0)}, nil)
	assert.ErrorIs(t, err, domain.ErrInsufficientRoute)

	_, err = sim.Start("T1", []domain.Waypoint{waypoint("a", 0, 0, 0), waypoint("b", math.NaN(), 0, 0)}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidRoute)

	assert.Empty(t, sim.Active())
}

func TestSimulator_StopIsIdempotent(t *testing.T) {
	sim := usecases.NewSimulator(usecases.SimulatorConfig{TickInterval: 5 * time.Millisecond})
	defer sim.Close()

	state, err := sim.Start("T1", slowRoute(), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseIdle, state.Phase)
	assert.False(t, state.IsMoving)
	assert.Equal(t, 0, state.WaypointIndex)

	collectUntil(t, sim, "T1", domain.SimPosition, time.Second)

	assert.True(t, sim.Stop("T1"))
	assert.False(t, sim.Stop("T1"))
	assert.False(t, sim.Stop("never-started"))

	collectUntil(t, sim, "T1", domain.SimStopped, time.Second)

	// No further ticks after stop.
	select {
	case ev := <-sim.Events():
		t.Fatalf("unexpected event after stop: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	// The trip can be started again once stopped.
	_, err = sim.Start("T1", slowRoute(), nil)
	assert.NoError(t, err)
}

func TestSimulator_StatusTracksProgress(t *testing.T) {
	sim := usecases.NewSimulator(usecases.SimulatorConfig{TickInterval: 5 * time.Millisecond})
	defer sim.Close()

	_, err := sim.Start("T1", slowRoute(), nil)
	require.NoError(t, err)

	collectUntil(t, sim, "T1", domain.SimPosition, time.Second)
	collectUntil(t, sim, "T1", domain.SimPosition, time.Second)

	state, ok := sim.Status("T1")
	require.True(t, ok)
	assert.Equal(t, domain.PhaseTraveling, state.Phase)
	assert.True(t, state.IsMoving)
	assert.Greater(t, state.SegmentProgress, 0.0)
	assert.Greater(t, state.Position.Lon, 0.0)
}

func TestSimulator_StopWhileDwelling(t *testing.T) {
	sim := fastSimulator(t)

	_, err := sim.Start("T1", []domain.Waypoint{
		waypoint("origin", 0, 0, 0),
		waypoint("stop", 0, 0.01, 60_000),
		waypoint("terminus", 0.01, 0.01, 0),
	}, nil)
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for arrived := false; !arrived; {
		select {
		case ev := <-sim.Events():
			arrived = ev.Kind == domain.SimPosition && ev.Position.Arrived && ev.Position.WaypointIndex == 1
		case <-deadline:
			t.Fatal("bus never reached the dwelling stop")
		}
	}

	state, ok := sim.Status("T1")
	require.True(t, ok)
	assert.Equal(t, domain.PhaseDwelling, state.Phase)

	start := time.Now()
	require.True(t, sim.Stop("T1"))
	assert.Less(t, time.Since(start), time.Second, "stop waits for the dwell to elapse")

	collectUntil(t, sim, "T1", domain.SimStopped, time.Second)
	select {
	case ev := <-sim.Events():
		t.Fatalf("unexpected event after stop: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	_, running := sim.Status("T1")
	assert.False(t, running)
}

func TestSimulator_RestartNeverPrecedesStop(t *testing.T) {
	sim := usecases.NewSimulator(usecases.SimulatorConfig{TickInterval: 5 * time.Millisecond})
	defer sim.Close()

	for i := 0; i < 50; i++ {
		_, err := sim.Start("T1", slowRoute(), nil)
		require.NoError(t, err)
		collectUntil(t, sim, "T1", domain.SimStarted, time.Second)

		stopped := make(chan bool)
		go func() { stopped <- sim.Stop("T1") }()

		for {
			_, err = sim.Start("T1", slowRoute(), nil)
			if err == nil {
				break
			}
			require.ErrorIs(t, err, domain.ErrAlreadyRunning)
			runtime.Gosched()
		}

		for _, ev := range collectUntil(t, sim, "T1", domain.SimStopped, time.Second) {
			require.NotEqual(t, domain.SimStarted, ev.Kind, "iteration %d: restart announced before the stop", i)
		}
		collectUntil(t, sim, "T1", domain.SimStarted, time.Second)
		require.True(t, <-stopped)

		require.True(t, sim.Stop("T1"))
		collectUntil(t, sim, "T1", domain.SimStopped, time.Second)
	}
}
