package http_test

import (
	"context"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/samirrijal/bilbotrack/api"
)

func loadOpenAPI(t *testing.T) *openapi3.T {
	t.Helper()
	loader := &openapi3.Loader{IsExternalRefsAllowed: false}
	spec, err := loader.LoadFromData(api.OpenAPI)
	if err != nil {
		t.Fatalf("failed to parse OpenAPI document: %v", err)
	}
	return spec
}

// TestOpenAPISpec validates the embedded OpenAPI document and checks that
// every public route is described.
func TestOpenAPISpec(t *testing.T) {
	spec := loadOpenAPI(t)

	if err := spec.Validate(context.Background()); err != nil {
		t.Fatalf("OpenAPI validation failed: %v", err)
	}

	expectedPaths := []string{
		"/v1/health",
		"/v1/ready",
		"/v1/simulations",
		"/v1/simulations/{trip_id}",
		"/v1/trips/{id}/locations",
		"/v1/trips/{id}/location",
		"/v1/trips/{id}/analytics",
		"/v1/trips/{id}/status",
		"/v1/trips/{id}/delay",
		"/v1/users/{id}/notifications",
		"/v1/feeds/vehicle-positions",
		"/graphql",
		"/ws",
	}
	for _, path := range expectedPaths {
		if item := spec.Paths.Find(path); item == nil {
			t.Errorf("expected path %s not found", path)
		}
	}

	expectedSchemas := []string{
		"GeoPoint",
		"Waypoint",
		"LocationReport",
		"LocationSample",
		"StartSimulationRequest",
		"SimulationState",
		"TripAnalytics",
		"TripStatusUpdate",
		"DelayNotification",
		"Notification",
		"APIError",
		"Pagination",
	}
	for _, schema := range expectedSchemas {
		if spec.Components.Schemas[schema] == nil {
			t.Errorf("expected schema %s not found", schema)
		}
	}

	if spec.Components.SecuritySchemes["bearerAuth"] == nil {
		t.Error("expected bearerAuth security scheme")
	}

	t.Logf("OpenAPI valid: %d paths, %d schemas", len(spec.Paths.Map()), len(spec.Components.Schemas))
}

func TestOpenAPIInfo(t *testing.T) {
	spec := loadOpenAPI(t)

	if spec.Info.Title != "BilboTrack API" {
		t.Errorf("expected title 'BilboTrack API', got %q", spec.Info.Title)
	}
	if spec.Info.Version != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %q", spec.Info.Version)
	}
	if spec.Info.Description == "" {
		t.Error("expected non-empty description")
	}
	if len(spec.Servers) == 0 {
		t.Fatal("expected at least one server")
	}
}
