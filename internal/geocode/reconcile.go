package geocode

import (
	"math"

	"github.com/caminotrails/stamp-crawler/internal/camino"
)

// AgreementThresholdMeters is the great-circle distance below which two
// provider estimates are considered to agree.
const AgreementThresholdMeters = 50.0

const earthRadiusMeters = 6371000.0

// Reconcile combines the two provider estimates into final coordinates and
// a confidence tag. It is a pure function so the decision table can be
// tested without any HTTP client:
//
//   - both agree (< 50 m apart): midpoint average, high confidence
//   - both present but apart: the commercial estimate, low confidence
//   - exactly one present: that estimate, low confidence
//   - neither: nil coordinates, failed
//
// When both are present, the second argument is treated as the commercial
// provider, preferred on disagreement for named points of interest.
func Reconcile(nominatim, google *Estimate) (*camino.Coordinates, camino.Confidence) {
	switch {
	case nominatim == nil && google == nil:
		return nil, camino.ConfidenceFailed
	case nominatim == nil:
		return &camino.Coordinates{Lat: google.Lat, Lon: google.Lon}, camino.ConfidenceLow
	case google == nil:
		return &camino.Coordinates{Lat: nominatim.Lat, Lon: nominatim.Lon}, camino.ConfidenceLow
	}

	if DistanceMeters(nominatim.Lat, nominatim.Lon, google.Lat, google.Lon) < AgreementThresholdMeters {
		return &camino.Coordinates{
			Lat: (nominatim.Lat + google.Lat) / 2,
			Lon: (nominatim.Lon + google.Lon) / 2,
		}, camino.ConfidenceHigh
	}
	return &camino.Coordinates{Lat: google.Lat, Lon: google.Lon}, camino.ConfidenceLow
}

// DistanceMeters returns the haversine great-circle distance between two
// WGS 84 points.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
