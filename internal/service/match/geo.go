// internal/service/match/geo.go

package match

import (
	"math"

	"triage/internal/domain/report"
)

const earthRadiusKm = 6371.0

// DistanceKm computes the great-circle (haversine) distance in kilometers
// between two points. A nil or out-of-range point yields +Inf so callers
// can treat missing coordinates uniformly as "no spatial match".
func DistanceKm(a, b *report.Point) float64 {
	if !validPoint(a) || !validPoint(b) {
		return math.Inf(1)
	}

	// Convert latitude and longitude from degrees to radians
	lat1 := a.Latitude * math.Pi / 180.0
	lon1 := a.Longitude * math.Pi / 180.0
	lat2 := b.Latitude * math.Pi / 180.0
	lon2 := b.Longitude * math.Pi / 180.0

	// Haversine formula
	dLat := lat2 - lat1
	dLon := lon2 - lon1

	hSin := math.Sin(dLat / 2)
	hSin *= hSin

	vSin := math.Sin(dLon / 2)
	vSin *= vSin

	h := hSin + math.Cos(lat1)*math.Cos(lat2)*vSin

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// validPoint checks that a point exists and its coordinates are finite
// and within range.
func validPoint(p *report.Point) bool {
	if p == nil {
		return false
	}
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
		return false
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return false
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return false
	}
	return true
}
