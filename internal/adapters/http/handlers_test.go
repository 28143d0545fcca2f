package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/bilbotrack/internal/adapters/auth"
	"github.com/samirrijal/bilbotrack/internal/adapters/catalog"
	"github.com/samirrijal/bilbotrack/internal/adapters/gtfsrt"
	handler "github.com/samirrijal/bilbotrack/internal/adapters/http"
	"github.com/samirrijal/bilbotrack/internal/adapters/memory"
	"github.com/samirrijal/bilbotrack/internal/core/domain"
	"github.com/samirrijal/bilbotrack/internal/core/usecases"
)

const testCatalog = `
routes:
  - id: R1
    name: Moyua - Zabalburu
    waypoints:
      - { name: Moyua, location: { lat: 43.2630, lon: -2.9350 } }
      - { name: Zabalburu, location: { lat: 43.2565, lon: -2.9330 } }
trips:
  - id: T1
    route_id: R1
    driver_id: driver-1
    status: in_progress
    bookings: [U1]
  - id: T2
    route_id: R1
    driver_id: driver-2
    status: scheduled
`

// ---- Test helpers ----

type testEnv struct {
	app    *fiber.App
	deps   *handler.Dependencies
	hub    *usecases.Hub
	tokens map[string]string
}

func setupApp(t *testing.T) *testEnv {
	t.Helper()
	cat, err := catalog.Parse(strings.NewReader(testCatalog))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	authn := auth.NewJWTAuthenticator("test-secret", "bilbotrack", cat.Trips())

	// A long tick keeps simulations parked at their first waypoint.
	sim := usecases.NewSimulator(usecases.SimulatorConfig{TickInterval: time.Hour, SpeedKmh: 30})
	t.Cleanup(sim.Close)

	hub := usecases.NewHub()
	positions := usecases.NewPositionService(memory.NewLocationRepo())
	tracking := usecases.NewTrackingService(sim, positions, hub, cat, cat.Trips(), authn)

	deps := &handler.Dependencies{
		Tracking: tracking,
		Gateway:  usecases.NewGateway(hub, tracking, authn, 16),
		Auth:     authn,
		Delays:   tracking,
		Feed:     gtfsrt.NewBuilder(tracking, positions),
	}

	tokens := map[string]string{}
	for name, who := range map[string]domain.Identity{
		"operator": {UserID: "ops", Role: domain.RoleOperator},
		"driver":   {UserID: "driver-1", Role: domain.RoleDriver},
		"driver2":  {UserID: "driver-2", Role: domain.RoleDriver},
		"u1":       {UserID: "U1", Role: domain.RolePassenger},
		"u3":       {UserID: "U3", Role: domain.RolePassenger},
	} {
		tok, err := authn.Issue(who.UserID, who.Role, time.Hour)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		tokens[name] = tok
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.SetupRoutes(app, deps)
	return &testEnv{app: app, deps: deps, hub: hub, tokens: tokens}
}

func (e *testEnv) do(t *testing.T, method, path, who string, body any, headers ...string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if who != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[who])
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, body)
	}
}

func expectCode(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	expectStatus(t, resp, status)
	var apiErr handler.APIError
	decode(t, resp, &apiErr)
	if apiErr.Code != code {
		t.Errorf("expected error code %s, got %s", code, apiErr.Code)
	}
}

type recordingSession struct {
	id  string
	mu  sync.Mutex
	got []domain.ChannelEvent
}

func (s *recordingSession) ID() string { return s.id }

func (s *recordingSession) Deliver(payload []byte) bool {
	var ev domain.ChannelEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, ev)
	return true
}

func (s *recordingSession) events() []domain.ChannelEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChannelEvent(nil), s.got...)
}

// ---- Health ----

func TestHealth(t *testing.T) {
	env := setupApp(t)

	resp := env.do(t, "GET", "/v1/health", "", nil)
	expectStatus(t, resp, 200)
	var body map[string]any
	decode(t, resp, &body)
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}

	resp = env.do(t, "GET", "/v1/ready", "", nil)
	expectStatus(t, resp, 200)
}

func TestAuthRequired(t *testing.T) {
	env := setupApp(t)

	resp := env.do(t, "GET", "/v1/trips/T1/location", "", nil)
	expectCode(t, resp, 401, "unauthorized")

	req := httptest.NewRequest("GET", "/v1/trips/T1/location", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp, _ = env.app.Test(req, -1)
	expectCode(t, resp, 401, "unauthorized")
}

// ---- Locations ----

func TestReportAndReadLocation(t *testing.T) {
	env := setupApp(t)

	resp := env.do(t, "GET", "/v1/trips/T1/location", "u1", nil)
	expectCode(t, resp, 404, "not_found")

	watcher := &recordingSession{id: "watcher"}
	env.hub.Join(watcher, domain.TripChannel("T1"))

	resp = env.do(t, "POST", "/v1/trips/T1/locations", "driver", map[string]any{
		"latitude": 43.2611, "longitude": -2.9342, "speed": 22.5,
	})
	expectStatus(t, resp, 201)
	var created domain.LocationSample
	decode(t, resp, &created)
	if created.ID == "" || created.Source != domain.SourceDriver {
		t.Errorf("unexpected sample %+v", created)
	}

	resp = env.do(t, "GET", "/v1/trips/T1/location", "u1", nil)
	expectStatus(t, resp, 200)
	var latest domain.LocationSample
	decode(t, resp, &latest)
	if latest.ID != created.ID || latest.Latitude != 43.2611 {
		t.Errorf("latest = %+v, want %s", latest, created.ID)
	}

	events := watcher.events()
	if len(events) != 1 || events[0].Type != domain.EventLocationUpdate {
		t.Fatalf("expected one location-update, got %+v", events)
	}
}

func TestReportLocation_Errors(t *testing.T) {
	env := setupApp(t)
	fix := map[string]any{"latitude": 43.26, "longitude": -2.93}

	// Passenger is not the trip's driver.
	resp := env.do(t, "POST", "/v1/trips/T1/locations", "u1", fix)
	expectCode(t, resp, 403, "forbidden")

	// T2 has not started.
	resp = env.do(t, "POST", "/v1/trips/T2/locations", "driver2", fix)
	expectCode(t, resp, 409, "conflict")

	resp = env.do(t, "POST", "/v1/trips/T1/locations", "driver", map[string]any{"latitude": 91, "longitude": 0})
	expectCode(t, resp, 422, "unprocessable")

	req := httptest.NewRequest("POST", "/v1/trips/T1/locations", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+env.tokens["driver"])
	resp, _ = env.app.Test(req, -1)
	expectCode(t, resp, 400, "bad_request")
}

func TestLatestLocation_ForbiddenForStrangers(t *testing.T) {
	env := setupApp(t)
	resp := env.do(t, "GET", "/v1/trips/T1/location", "u3", nil)
	expectCode(t, resp, 403, "forbidden")
}

func TestLocationHistory_Pagination(t *testing.T) {
	env := setupApp(t)
	base := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := env.deps.Tracking.Positions().Append(context.Background(), domain.LocationSample{
			TripID: "T1", Latitude: 43.26, Longitude: -2.93 + float64(i)*0.001, Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	resp := env.do(t, "GET", "/v1/trips/T1/locations?limit=2&order=asc", "operator", nil)
	expectStatus(t, resp, 200)
	link := resp.Header.Get("Link")
	if !strings.Contains(link, `rel="next"`) || !strings.Contains(link, "order=asc") {
		t.Errorf("unexpected Link header %q", link)
	}

	var page struct {
		Data       []domain.LocationSample `json:"data"`
		Pagination handler.Pagination      `json:"pagination"`
	}
	decode(t, resp, &page)
	if page.Pagination.Total != 5 || len(page.Data) != 2 {
		t.Fatalf("expected 2 of 5, got %d of %d", len(page.Data), page.Pagination.Total)
	}
	if !page.Data[0].Timestamp.Equal(base) {
		t.Errorf("ascending page should start at %v, got %v", base, page.Data[0].Timestamp)
	}

	from := base.Add(3 * time.Minute).Format(time.RFC3339)
	resp = env.do(t, "GET", "/v1/trips/T1/locations?from="+from, "operator", nil)
	decode(t, resp, &page)
	if page.Pagination.Total != 2 {
		t.Errorf("expected 2 samples from %s, got %d", from, page.Pagination.Total)
	}

	resp = env.do(t, "GET", "/v1/trips/T1/locations?from=yesterday", "operator", nil)
	expectCode(t, resp, 400, "bad_request")

	resp = env.do(t, "GET", "/v1/trips/T1/locations?order=sideways", "operator", nil)
	expectCode(t, resp, 400, "bad_request")
}

func TestAnalytics_AndETag(t *testing.T) {
	env := setupApp(t)
	base := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	speed := 30.0
	for i := 0; i < 3; i++ {
		_, err := env.deps.Tracking.Positions().Append(context.Background(), domain.LocationSample{
			TripID: "T1", Latitude: 43.26, Longitude: -2.93, Speed: &speed, Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	resp := env.do(t, "GET", "/v1/trips/T1/analytics", "u1", nil)
	expectStatus(t, resp, 200)
	etag := resp.Header.Get("ETag")
	var a domain.TripAnalytics
	decode(t, resp, &a)
	if a.SampleCount != 3 || a.AverageSpeed != 30 || a.DurationSeconds != 120 {
		t.Errorf("unexpected analytics %+v", a)
	}
	if etag == "" {
		t.Fatal("expected an ETag")
	}

	resp = env.do(t, "GET", "/v1/trips/T1/analytics", "u1", nil, "If-None-Match", etag)
	expectStatus(t, resp, 304)

	to := base.Format(time.RFC3339)
	from := base.Add(time.Hour).Format(time.RFC3339)
	resp = env.do(t, "GET", fmt.Sprintf("/v1/trips/T1/analytics?from=%s&to=%s", from, to), "u1", nil)
	expectCode(t, resp, 400, "bad_request")
}

// ---- Simulations ----

func TestSimulationLifecycle(t *testing.T) {
	env := setupApp(t)

	resp := env.do(t, "POST", "/v1/simulations", "u1", map[string]any{"trip_id": "T1"})
	expectCode(t, resp, 403, "forbidden")

	resp = env.do(t, "POST", "/v1/simulations", "operator", map[string]any{"trip_id": "T1"})
	expectStatus(t, resp, 201)
	var state domain.SimulationState
	decode(t, resp, &state)
	if state.TripID != "T1" || state.WaypointIndex != 0 {
		t.Errorf("unexpected state %+v", state)
	}

	resp = env.do(t, "POST", "/v1/simulations", "operator", map[string]any{"trip_id": "T1"})
	expectCode(t, resp, 409, "conflict")

	resp = env.do(t, "GET", "/v1/simulations", "operator", nil)
	var list struct {
		Count int `json:"count"`
	}
	decode(t, resp, &list)
	if list.Count != 1 {
		t.Errorf("expected 1 running simulation, got %d", list.Count)
	}

	resp = env.do(t, "GET", "/v1/simulations/T1", "u1", nil)
	expectStatus(t, resp, 200)

	for i, want := range []bool{true, false} {
		resp = env.do(t, "DELETE", "/v1/simulations/T1", "operator", nil)
		expectStatus(t, resp, 200)
		var out struct {
			Stopped bool `json:"stopped"`
		}
		decode(t, resp, &out)
		if out.Stopped != want {
			t.Errorf("stop #%d: expected stopped=%v", i+1, want)
		}
	}

	resp = env.do(t, "GET", "/v1/simulations/T1", "operator", nil)
	expectCode(t, resp, 404, "not_found")
}

func TestStartSimulation_Errors(t *testing.T) {
	env := setupApp(t)

	resp := env.do(t, "POST", "/v1/simulations", "operator", map[string]any{"trip_id": "T9", "route_id": "nope"})
	expectCode(t, resp, 404, "not_found")

	resp = env.do(t, "POST", "/v1/simulations", "operator", map[string]any{
		"trip_id":   "T9",
		"waypoints": []map[string]any{{"name": "only", "location": map[string]float64{"lat": 1, "lon": 1}}},
	})
	expectCode(t, resp, 422, "unprocessable")

	resp = env.do(t, "POST", "/v1/simulations", "operator", map[string]any{})
	expectCode(t, resp, 422, "unprocessable")
}

// ---- Notifications ----

func TestDelay_FansOutToBookedUsers(t *testing.T) {
	env := setupApp(t)
	tripWatcher := &recordingSession{id: "trip"}
	u1 := &recordingSession{id: "u1"}
	env.hub.Join(tripWatcher, domain.TripChannel("T1"))
	env.hub.Join(u1, domain.UserChannel("U1"))

	resp := env.do(t, "POST", "/v1/trips/T1/delay", "operator", map[string]any{"delay_minutes": 7, "reason": "traffic"})
	expectStatus(t, resp, 202)

	for _, s := range []*recordingSession{tripWatcher, u1} {
		events := s.events()
		if len(events) != 1 || events[0].Type != domain.EventDelayNotification {
			t.Errorf("%s: expected one delay-notification, got %+v", s.id, events)
		}
	}

	resp = env.do(t, "POST", "/v1/trips/T1/delay", "operator", map[string]any{"delay_minutes": 0})
	expectCode(t, resp, 422, "unprocessable")

	resp = env.do(t, "POST", "/v1/trips/T1/delay", "driver", map[string]any{"delay_minutes": 5})
	expectCode(t, resp, 403, "forbidden")
}

func TestTripStatusAndUserNotification(t *testing.T) {
	env := setupApp(t)
	tripWatcher := &recordingSession{id: "trip"}
	u3 := &recordingSession{id: "u3"}
	env.hub.Join(tripWatcher, domain.TripChannel("T1"))
	env.hub.Join(u3, domain.UserChannel("U3"))

	resp := env.do(t, "POST", "/v1/trips/T1/status", "operator", map[string]any{"status": "boarding"})
	expectStatus(t, resp, 202)

	resp = env.do(t, "POST", "/v1/users/U3/notifications", "operator", map[string]any{
		"type": "booking", "title": "Booked", "message": "Seat 12 confirmed",
	})
	expectStatus(t, resp, 202)

	if ev := tripWatcher.events(); len(ev) != 1 || ev[0].Type != domain.EventTripStatusUpdate {
		t.Errorf("expected trip-status-update, got %+v", ev)
	}
	if ev := u3.events(); len(ev) != 1 || ev[0].Type != domain.EventNotification || ev[0].Channel != "user-U3" {
		t.Errorf("expected notification on user-U3, got %+v", ev)
	}

	resp = env.do(t, "POST", "/v1/users/U3/notifications", "operator", map[string]any{"type": "spam", "title": "x", "message": "y"})
	expectCode(t, resp, 422, "unprocessable")
}

// ---- Feed ----

func TestVehiclePositionsFeed(t *testing.T) {
	env := setupApp(t)
	if _, err := env.deps.Tracking.StartSimulation(context.Background(), "T1", ""); err != nil {
		t.Fatal(err)
	}

	resp := env.do(t, "GET", "/v1/feeds/vehicle-positions", "", nil)
	expectStatus(t, resp, 200)
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-protobuf" {
		t.Errorf("unexpected content type %q", ct)
	}
	data, _ := io.ReadAll(resp.Body)
	feed, err := gtfsrt.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(feed.GetEntity()) != 1 || feed.GetEntity()[0].GetVehicle().GetTrip().GetTripId() != "T1" {
		t.Errorf("unexpected feed entities %v", feed.GetEntity())
	}

	resp = env.do(t, "GET", "/v1/feeds/vehicle-positions?format=json", "", nil)
	expectStatus(t, resp, 200)
	var doc map[string]any
	decode(t, resp, &doc)
	if _, ok := doc["entity"]; !ok {
		t.Error("expected entity in JSON feed")
	}
}

func TestVehiclePositionsFeed_TrackedTripsNeedAccess(t *testing.T) {
	env := setupApp(t)

	resp := env.do(t, "POST", "/v1/trips/T1/locations", "driver", map[string]any{
		"latitude": 43.26, "longitude": -2.93,
	})
	expectStatus(t, resp, 201)

	// Without trip_id the public feed only lists simulations, and none run.
	resp = env.do(t, "GET", "/v1/feeds/vehicle-positions", "", nil)
	expectStatus(t, resp, 200)
	data, _ := io.ReadAll(resp.Body)
	feed, err := gtfsrt.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(feed.GetEntity()); n != 0 {
		t.Errorf("public feed leaked %d tracked entities", n)
	}

	resp = env.do(t, "GET", "/v1/feeds/vehicle-positions?trip_id=T1", "", nil)
	expectCode(t, resp, 401, "unauthorized")

	resp = env.do(t, "GET", "/v1/feeds/vehicle-positions?trip_id=T1", "u3", nil)
	expectCode(t, resp, 403, "forbidden")

	resp = env.do(t, "GET", "/v1/feeds/vehicle-positions?trip_id=T2,T1", "u1", nil)
	expectCode(t, resp, 403, "forbidden")

	resp = env.do(t, "GET", "/v1/feeds/vehicle-positions?trip_id=T1", "u1", nil)
	expectStatus(t, resp, 200)
	data, _ = io.ReadAll(resp.Body)
	feed, err = gtfsrt.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	entities := feed.GetEntity()
	if len(entities) != 1 || entities[0].GetVehicle().GetTrip().GetTripId() != "T1" {
		t.Fatalf("unexpected feed entities %v", entities)
	}
	if lat := entities[0].GetVehicle().GetPosition().GetLatitude(); lat < 43.25 || lat > 43.27 {
		t.Errorf("latitude = %v", lat)
	}
}

// ---- GraphQL ----

func TestGraphQL_LatestPosition(t *testing.T) {
	env := setupApp(t)
	_, err := env.deps.Tracking.Positions().Append(context.Background(), domain.LocationSample{
		TripID: "T1", Latitude: 43.2611, Longitude: -2.9342,
	})
	if err != nil {
		t.Fatal(err)
	}

	query := map[string]any{"query": `{ latestPosition(trip_id: "T1") { trip_id latitude source } tripAnalytics(trip_id: "T1") { sample_count } }`}
	resp := env.do(t, "POST", "/graphql", "u1", query)
	expectStatus(t, resp, 200)

	var result struct {
		Data struct {
			LatestPosition struct {
				TripID   string  `json:"trip_id"`
				Latitude float64 `json:"latitude"`
				Source   string  `json:"source"`
			} `json:"latestPosition"`
			TripAnalytics struct {
				SampleCount int `json:"sample_count"`
			} `json:"tripAnalytics"`
		} `json:"data"`
		Errors []any `json:"errors"`
	}
	decode(t, resp, &result)
	if len(result.Errors) > 0 {
		t.Fatalf("graphql errors: %v", result.Errors)
	}
	if result.Data.LatestPosition.Latitude != 43.2611 || result.Data.LatestPosition.Source != "api" {
		t.Errorf("unexpected latestPosition %+v", result.Data.LatestPosition)
	}
	if result.Data.TripAnalytics.SampleCount != 1 {
		t.Errorf("expected 1 sample, got %d", result.Data.TripAnalytics.SampleCount)
	}

	var denied struct {
		Errors []any `json:"errors"`
	}
	resp = env.do(t, "POST", "/graphql", "u3", query)
	decode(t, resp, &denied)
	if len(denied.Errors) == 0 {
		t.Error("expected an authorization error for a passenger not on the trip")
	}

	denied.Errors = nil
	resp = env.do(t, "POST", "/graphql", "u1", map[string]any{"query": `{ simulations { trip_id } }`})
	decode(t, resp, &denied)
	if len(denied.Errors) == 0 {
		t.Error("expected simulations to be operator-only")
	}
}

func TestWebSocket_RequiresUpgrade(t *testing.T) {
	env := setupApp(t)
	resp := env.do(t, "GET", "/ws", "u1", nil)
	expectStatus(t, resp, fiber.StatusUpgradeRequired)
}
