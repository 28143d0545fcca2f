package geospatial

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
)

func TestDistanceKm_KnownPair(t *testing.T) {
	// Moyua to Txorierri junction, about 4.7 km.
	d := DistanceKm(43.2630, -2.9350, 43.3011, -2.9106)
	assert.InDelta(t, 4.7, d, 0.3)

	// One degree of longitude on the equator.
	assert.InDelta(t, 111.19, DistanceKm(0, 0, 0, 1), 0.01)
}

func TestDistanceKm_SymmetricAndZero(t *testing.T) {
	points := []domain.GeoPoint{
		{Lat: 0, Lon: 0}, {Lat: 43.26, Lon: -2.93}, {Lat: -33.86, Lon: 151.2},
		{Lat: 89.9, Lon: 179.9}, {Lat: -89.9, Lon: -179.9},
	}
	for _, a := range points {
		assert.Equal(t, 0.0, PointDistanceKm(a, a))
		for _, b := range points {
			assert.InDelta(t, PointDistanceKm(a, b), PointDistanceKm(b, a), 1e-9)
		}
	}
}

func TestDistanceKm_NaN(t *testing.T) {
	assert.True(t, math.IsNaN(DistanceKm(math.NaN(), 0, 0, 0)))
}

func TestHaversine_Meters(t *testing.T) {
	assert.InDelta(t, DistanceKm(0, 0, 0, 1)*1000, Haversine(0, 0, 0, 1), 1e-6)
}

func TestBearingDegrees(t *testing.T) {
	assert.InDelta(t, 0, BearingDegrees(0, 0, 1, 0), 1e-9)
	assert.InDelta(t, 90, BearingDegrees(0, 0, 0, 1), 1e-9)
	assert.InDelta(t, 180, BearingDegrees(1, 0, 0, 0), 1e-9)
	assert.InDelta(t, 270, BearingDegrees(0, 1, 0, 0), 1e-9)
}

func TestBearingDegrees_Range(t *testing.T) {
	for lat := -80.0; lat <= 80; lat += 20 {
		for lon := -170.0; lon <= 170; lon += 34 {
			b := BearingDegrees(lat, lon, -lat/2, -lon/3)
			require.GreaterOrEqual(t, b, 0.0)
			require.Less(t, b, 360.0)
		}
	}
}

func TestInterpolate(t *testing.T) {
	a := domain.GeoPoint{Lat: 0, Lon: 0}
	b := domain.GeoPoint{Lat: 2, Lon: 4}

	assert.Equal(t, a, Interpolate(a, b, 0))
	assert.Equal(t, b, Interpolate(a, b, 1))
	assert.Equal(t, domain.GeoPoint{Lat: 1, Lon: 2}, Interpolate(a, b, 0.5))
	assert.Equal(t, b, Interpolate(a, b, 1.7))
}

func TestInterpolatePath(t *testing.T) {
	path := []domain.GeoPoint{{Lat: 0}, {Lat: 1}, {Lat: 2}, {Lat: 3}, {Lat: 4}}

	p, ok := InterpolatePath(path, 0.5)
	require.True(t, ok)
	assert.Equal(t, 2.0, p.Lat)

	p, _ = InterpolatePath(path, 0.6) // round(2.4) = 2
	assert.Equal(t, 2.0, p.Lat)

	p, _ = InterpolatePath(path, 0.65) // round(2.6) = 3
	assert.Equal(t, 3.0, p.Lat)

	_, ok = InterpolatePath(nil, 0.5)
	assert.False(t, ok)
}

func TestPathDistanceKm(t *testing.T) {
	path := []domain.GeoPoint{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 0, Lon: 2}}
	assert.InDelta(t, DistanceKm(0, 0, 0, 2), PathDistanceKm(path), 1e-6)
	assert.Equal(t, 0.0, PathDistanceKm(path[:1]))
}

func TestNearestIndex(t *testing.T) {
	path := []domain.GeoPoint{{Lat: 0}, {Lat: 1}, {Lat: 2}, {Lat: 1}}
	assert.Equal(t, 1, NearestIndex(path, domain.GeoPoint{Lat: 1.1}, 0))
	assert.Equal(t, 3, NearestIndex(path, domain.GeoPoint{Lat: 1.1}, 3))
}
