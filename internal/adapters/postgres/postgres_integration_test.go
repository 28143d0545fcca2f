//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/samirrijal/bilbotrack/internal/adapters/postgres"
	"github.com/samirrijal/bilbotrack/internal/core/domain"
)

// setupDB starts a PostgreSQL container, applies migrations and returns a pool.
func setupDB(t *testing.T) *postgres.DB {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "bilbotrack_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/bilbotrack_test?sslmode=disable", host, port.Port())

	var db *postgres.DB
	require.Eventually(t, func() bool {
		db, err = postgres.New(ctx, dsn)
		return err == nil
	}, 30*time.Second, 500*time.Millisecond, "postgres never became reachable")
	t.Cleanup(db.Close)

	applied, err := db.Migrate(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, applied)
	return db
}

func TestLocationRepo_Integration(t *testing.T) {
	db := setupDB(t)
	repo := postgres.NewLocationRepo(db)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 7, 30, 0, 0, time.UTC)

	_, err := repo.Latest(ctx, "T1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	speed := 28.5
	for _, off := range []int{1, 0, 2} {
		require.NoError(t, repo.Insert(ctx, &domain.LocationSample{
			ID:        uuid.NewString(),
			TripID:    "T1",
			Latitude:  43.26 + float64(off)*0.001,
			Longitude: -2.93,
			Speed:     &speed,
			Timestamp: base.Add(time.Duration(off) * time.Minute),
			Source:    domain.SourceDriver,
		}))
	}

	latest, err := repo.Latest(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, base.Add(2*time.Minute), latest.Timestamp)
	require.NotNil(t, latest.Speed)
	assert.Equal(t, 28.5, *latest.Speed)
	assert.Nil(t, latest.Heading)
	assert.Equal(t, domain.SourceDriver, latest.Source)

	desc, err := repo.Range(ctx, "T1", domain.HistoryQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, desc, 3)
	assert.True(t, desc[0].Timestamp.After(desc[1].Timestamp))

	from := base.Add(30 * time.Second)
	q := domain.HistoryQuery{Limit: 10, From: &from, Ascending: true}
	asc, err := repo.Range(ctx, "T1", q)
	require.NoError(t, err)
	require.Len(t, asc, 2)
	assert.Equal(t, base.Add(time.Minute), asc[0].Timestamp)

	n, err := repo.Count(ctx, "T1", q)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRouteAndTripRepo_Integration(t *testing.T) {
	db := setupDB(t)
	routes := postgres.NewRouteRepo(db)
	trips := postgres.NewTripRepo(db)
	ctx := context.Background()

	route := &domain.Route{
		ID:   "R1",
		Name: "Moyua - Txurdinaga",
		Waypoints: []domain.Waypoint{
			{Name: "Moyua", Location: domain.GeoPoint{Lat: 43.2630, Lon: -2.9350}, Role: domain.RoleStart},
			{Name: "Zabalburu", Location: domain.GeoPoint{Lat: 43.2565, Lon: -2.9330}, DwellMs: 20000, Role: domain.RoleIntermediate},
			{Name: "Txurdinaga", Location: domain.GeoPoint{Lat: 43.2570, Lon: -2.9110}, Role: domain.RoleEnd},
		},
		Path: []domain.GeoPoint{{Lat: 43.2630, Lon: -2.9350}, {Lat: 43.2600, Lon: -2.9340}, {Lat: 43.2565, Lon: -2.9330}},
	}
	require.NoError(t, routes.Upsert(ctx, route))

	got, err := routes.GetByID(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, route.Waypoints, got.Waypoints)
	assert.Equal(t, route.Path, got.Path)

	_, err = routes.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, trips.Upsert(ctx, &domain.Trip{
		ID: "T1", RouteID: "R1", DriverID: "driver-1", Status: domain.TripInProgress, Bookings: []string{"U2", "U1"},
	}))
	trip, err := trips.GetByID(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.TripInProgress, trip.Status)
	assert.Equal(t, "driver-1", trip.DriverID)

	users, err := trips.BookedUserIDs(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, []string{"U1", "U2"}, users)
}
