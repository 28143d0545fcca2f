package geospatial

import (
	"math"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
)

// Interpolate returns the point a fraction t of the way from a to b.
// t is clamped to [0,1].
func Interpolate(from, to domain.GeoPoint, t float64) domain.GeoPoint {
	t = clamp01(t)
	return domain.GeoPoint{
		Lat: from.Lat + (to.Lat-from.Lat)*t,
		Lon: from.Lon + (to.Lon-from.Lon)*t,
	}
}

// InterpolatePath selects the path sample at index round(t*(len-1)).
// An empty path yields the zero point and false.
func InterpolatePath(path []domain.GeoPoint, t float64) (domain.GeoPoint, bool) {
	if len(path) == 0 {
		return domain.GeoPoint{}, false
	}
	idx := int(math.Round(clamp01(t) * float64(len(path)-1)))
	return path[idx], true
}

// PathDistanceKm sums the great-circle length of a polyline.
func PathDistanceKm(path []domain.GeoPoint) float64 {
	var total float64
	for i := 1; i < len(path); i++ {
		total += PointDistanceKm(path[i-1], path[i])
	}
	return total
}

// NearestIndex returns the index in path[from:] closest to p.
func NearestIndex(path []domain.GeoPoint, p domain.GeoPoint, from int) int {
	best, bestDist := from, math.Inf(1)
	for i := from; i < len(path); i++ {
		d := PointDistanceKm(path[i], p)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func clamp01(t float64) float64 {
	switch {
	case t < 0 || math.IsNaN(t):
		return 0
	case t > 1:
		return 1
	}
	return t
}
