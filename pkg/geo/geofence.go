// Package geo evaluates whether a reported position falls inside a circular geofence.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000.0

// DistanceMeters returns the great-circle distance between two coordinates
// given in decimal degrees. Non-finite input yields NaN.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := toRadians(lat2 - lat1)
	dLambda := toRadians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// IsWithinRadius reports whether distance lies on or inside the radius.
func IsWithinRadius(distance, radiusMeters float64) bool {
	return distance <= radiusMeters
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
