package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
	"github.com/samirrijal/bilbotrack/internal/pkg/metrics"
)

// SimulatorConfig tunes the movement simulator.
type SimulatorConfig struct {
	TickInterval time.Duration
	SpeedKmh     float64
	EndPolicy    EndPolicy
	EventBuffer  int
}

func (c SimulatorConfig) withDefaults() SimulatorConfig {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.SpeedKmh <= 0 {
		c.SpeedKmh = 30
	}
	if c.EndPolicy == "" {
		c.EndPolicy = EndTerminate
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	return c
}

// Simulator runs one movement worker per trip and publishes what they
// produce on a single typed event channel. The registry only starts, stops,
// and looks up workers; each worker owns its own state.
type Simulator struct {
	cfg    SimulatorConfig
	events chan domain.SimulationEvent
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers map[string]*simWorker
}

type simWorker struct {
	tripID string
	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Pointer[domain.SimulationState]
	ended  atomic.Bool // claimed by whoever emits the final event
}

// NewSimulator creates a Simulator. Call Close to stop all workers.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Simulator{
		cfg:     cfg,
		events:  make(chan domain.SimulationEvent, cfg.EventBuffer),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[string]*simWorker),
	}
}

// Events is the stream of position and lifecycle events from all trips.
// Events for one trip arrive in the order they were produced.
func (s *Simulator) Events() <-chan domain.SimulationEvent {
	return s.events
}

// Config returns the effective configuration.
func (s *Simulator) Config() SimulatorConfig {
	return s.cfg
}

// Start begins simulating tripID along the given waypoints. path, when
// non-empty, is a road-following polyline used for interpolation.
func (s *Simulator) Start(tripID string, waypoints []domain.Waypoint, path []domain.GeoPoint) (domain.SimulationState, error) {
	if tripID == "" {
		return domain.SimulationState{}, fmt.Errorf("trip id is required: %w", domain.ErrInvalidRoute)
	}
	plan, err := newRoutePlan(waypoints, path)
	if err != nil {
		return domain.SimulationState{}, err
	}

	snap, err := s.launch(tripID, plan)
	if err != nil {
		return domain.SimulationState{}, err
	}
	slog.Info("simulation started", "trip_id", tripID, "waypoints", len(waypoints), "path_points", len(path))
	return snap, nil
}

// launch registers a worker for a validated plan and starts it.
func (s *Simulator) launch(tripID string, plan *routePlan) (domain.SimulationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return domain.SimulationState{}, errors.New("simulator closed")
	}
	if _, ok := s.workers[tripID]; ok {
		return domain.SimulationState{}, fmt.Errorf("trip %s: %w", tripID, domain.ErrAlreadyRunning)
	}

	st := newStepper(tripID, plan, s.cfg.SpeedKmh, s.cfg.TickInterval, s.cfg.EndPolicy, s.now())
	ctx, cancel := context.WithCancel(s.ctx)
	w := &simWorker{tripID: tripID, cancel: cancel, done: make(chan struct{})}
	snap := st.snapshot()
	w.state.Store(&snap)
	s.workers[tripID] = w
	metrics.SimulationsActive.Inc()

	s.wg.Add(1)
	go s.run(ctx, w, st)
	return snap, nil
}

// Stop cancels the simulation for tripID. It is a no-op if none is running
// and reports whether a simulation was stopped.
func (s *Simulator) Stop(tripID string) bool {
	s.mu.Lock()
	w, ok := s.workers[tripID]
	s.mu.Unlock()
	if !ok || !w.ended.CompareAndSwap(false, true) {
		return false
	}

	w.cancel()
	<-w.done

	// Still registered here: Start for this trip fails until the stop
	// event is queued.
	s.emit(s.ctx, domain.SimulationEvent{Kind: domain.SimStopped, TripID: tripID, At: s.now()})
	s.remove(w)
	slog.Info("simulation stopped", "trip_id", tripID)
	return true
}

// Status returns the latest snapshot of a running simulation.
func (s *Simulator) Status(tripID string) (domain.SimulationState, bool) {
	s.mu.Lock()
	w, ok := s.workers[tripID]
	s.mu.Unlock()
	if !ok || w.ended.Load() {
		return domain.SimulationState{}, false
	}
	return *w.state.Load(), true
}

// Active returns snapshots of all running simulations ordered by trip ID.
func (s *Simulator) Active() []domain.SimulationState {
	s.mu.Lock()
	out := make([]domain.SimulationState, 0, len(s.workers))
	for _, w := range s.workers {
		if w.ended.Load() {
			continue
		}
		out = append(out, *w.state.Load())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TripID < out[j].TripID })
	return out
}

// Close stops every worker and waits for them to exit.
func (s *Simulator) Close() {
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	n := len(s.workers)
	s.workers = make(map[string]*simWorker)
	s.mu.Unlock()
	metrics.SimulationsActive.Sub(float64(n))
}

// run is the worker loop for one trip. Only this goroutine touches st.
func (s *Simulator) run(ctx context.Context, w *simWorker, st *stepper) {
	defer s.wg.Done()
	defer close(w.done)

	if !s.emit(ctx, domain.SimulationEvent{Kind: domain.SimStarted, TripID: w.tripID, At: s.now()}) {
		return
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		res, err := s.safeStep(st)
		metrics.SimulationTicks.Inc()
		if err != nil {
			metrics.SimulationFailures.Inc()
			slog.Error("simulation tick failed", "trip_id", w.tripID, "error", err)
			s.finish(w, domain.SimulationEvent{Kind: domain.SimFailed, TripID: w.tripID, Err: err, At: s.now()})
			return
		}

		snap := st.snapshot()
		w.state.Store(&snap)

		ev := res.event
		if !s.emit(ctx, domain.SimulationEvent{Kind: domain.SimPosition, TripID: w.tripID, Position: &ev, At: ev.Timestamp}) {
			return
		}

		if res.terminal {
			if s.finish(w, domain.SimulationEvent{Kind: domain.SimCompleted, TripID: w.tripID, At: s.now()}) {
				slog.Info("simulation completed", "trip_id", w.tripID)
			}
			return
		}

		if res.dwell > 0 {
			timer := time.NewTimer(res.dwell)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			st.resume()
			snap := st.snapshot()
			w.state.Store(&snap)
			ticker.Reset(s.cfg.TickInterval)
		}
	}
}

func (s *Simulator) safeStep(st *stepper) (res stepResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()
	return st.step(s.now())
}

// finish ends w from inside its own goroutine: it queues the terminal event
// and then unregisters the worker. It does nothing if Stop got there first.
func (s *Simulator) finish(w *simWorker, ev domain.SimulationEvent) bool {
	if !w.ended.CompareAndSwap(false, true) {
		return false
	}
	s.emit(s.ctx, ev)
	s.remove(w)
	return true
}

// remove unregisters w if it is still the registered worker for its trip.
func (s *Simulator) remove(w *simWorker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.workers[w.tripID]; ok && cur == w {
		delete(s.workers, w.tripID)
		metrics.SimulationsActive.Dec()
	}
}

// emit sends ev unless ctx is cancelled first.
func (s *Simulator) emit(ctx context.Context, ev domain.SimulationEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
