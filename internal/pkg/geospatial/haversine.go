package geospatial

import (
	"math"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance in kilometres between two points.
// Non-finite inputs yield NaN.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// Haversine calculates the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	return DistanceKm(lat1, lon1, lat2, lon2) * 1000
}

// BearingDegrees returns the initial bearing from point 1 to point 2 in [0,360).
func BearingDegrees(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRad(lat1)
	phi2 := toRad(lat2)
	dLon := toRad(lon2 - lon1)

	y := math.Sin(dLon) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLon)

	deg := math.Mod(toDeg(math.Atan2(y, x))+360, 360)
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// PointDistanceKm is DistanceKm for two GeoPoints.
func PointDistanceKm(a, b domain.GeoPoint) float64 {
	return DistanceKm(a.Lat, a.Lon, b.Lat, b.Lon)
}

// PointBearing is BearingDegrees for two GeoPoints.
func PointBearing(a, b domain.GeoPoint) float64 {
	return BearingDegrees(a.Lat, a.Lon, b.Lat, b.Lon)
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}
