package catalog

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
)

// Catalog serves routes and trips from a YAML file. It implements
// ports.RouteRepository and ports.TripRepository for deployments without
// the route and trip services.
type Catalog struct {
	mu     sync.RWMutex
	routes map[string]domain.Route
	trips  map[string]domain.Trip
}

type document struct {
	Routes []domain.Route `yaml:"routes" validate:"dive"`
	Trips  []domain.Trip  `yaml:"trips" validate:"dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads a catalog file.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes and validates a catalog document.
func Parse(r io.Reader) (*Catalog, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	c := &Catalog{
		routes: make(map[string]domain.Route, len(doc.Routes)),
		trips:  make(map[string]domain.Trip, len(doc.Trips)),
	}
	for _, rt := range doc.Routes {
		if _, dup := c.routes[rt.ID]; dup {
			return nil, fmt.Errorf("duplicate route %q", rt.ID)
		}
		c.routes[rt.ID] = withRoles(rt)
	}
	for _, tr := range doc.Trips {
		if _, ok := c.routes[tr.RouteID]; !ok {
			return nil, fmt.Errorf("trip %q references unknown route %q", tr.ID, tr.RouteID)
		}
		if tr.Status == "" {
			tr.Status = domain.TripScheduled
		}
		c.trips[tr.ID] = tr
	}
	return c, nil
}

// withRoles fills in missing waypoint roles from position.
func withRoles(rt domain.Route) domain.Route {
	last := len(rt.Waypoints) - 1
	for i := range rt.Waypoints {
		if rt.Waypoints[i].Role != "" {
			continue
		}
		switch i {
		case 0:
			rt.Waypoints[i].Role = domain.RoleStart
		case last:
			rt.Waypoints[i].Role = domain.RoleEnd
		default:
			rt.Waypoints[i].Role = domain.RoleIntermediate
		}
	}
	return rt
}

func (c *Catalog) GetByID(_ context.Context, id string) (*domain.Route, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rt, ok := c.routes[id]
	if !ok {
		return nil, fmt.Errorf("route %s: %w", id, domain.ErrNotFound)
	}
	return &rt, nil
}

// AllRoutes returns every route ordered by ID.
func (c *Catalog) AllRoutes() []domain.Route {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Route, 0, len(c.routes))
	for _, rt := range c.routes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllTrips returns every trip ordered by ID.
func (c *Catalog) AllTrips() []domain.Trip {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Trip, 0, len(c.trips))
	for _, tr := range c.trips {
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Trips exposes the catalog's trip side as a ports.TripRepository.
func (c *Catalog) Trips() *TripView {
	return &TripView{c: c}
}

// SetTripStatus changes a trip's status in memory.
func (c *Catalog) SetTripStatus(id string, status domain.TripStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tr, ok := c.trips[id]
	if !ok {
		return fmt.Errorf("trip %s: %w", id, domain.ErrNotFound)
	}
	tr.Status = status
	c.trips[id] = tr
	return nil
}

// TripView implements ports.TripRepository over a Catalog.
type TripView struct {
	c *Catalog
}

func (v *TripView) GetByID(_ context.Context, id string) (*domain.Trip, error) {
	v.c.mu.RLock()
	defer v.c.mu.RUnlock()
	tr, ok := v.c.trips[id]
	if !ok {
		return nil, fmt.Errorf("trip %s: %w", id, domain.ErrNotFound)
	}
	return &tr, nil
}

func (v *TripView) BookedUserIDs(_ context.Context, tripID string) ([]string, error) {
	v.c.mu.RLock()
	defer v.c.mu.RUnlock()
	tr, ok := v.c.trips[tripID]
	if !ok {
		return nil, nil
	}
	out := append([]string(nil), tr.Bookings...)
	sort.Strings(out)
	return out, nil
}

// DriverOf returns the driver assigned to a trip.
func (v *TripView) DriverOf(tripID string) string {
	v.c.mu.RLock()
	defer v.c.mu.RUnlock()
	return v.c.trips[tripID].DriverID
}
