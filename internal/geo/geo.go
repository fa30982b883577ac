package geo

import "math"

// EarthRadiusKm per the WGS84 mean radius, good enough for ranking mechanics.
const EarthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two WGS84 points
// via the haversine formula.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// Round2 rounds a distance to two decimals for display.
func Round2(km float64) float64 {
	return math.Round(km*100) / 100
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
