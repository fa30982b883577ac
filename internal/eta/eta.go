// Package eta estimates mechanic arrival times from straight-line distance.
// The average speed is a deliberate simplification; there is no traffic data
// in this system.
package eta

import "math"

const (
	// AverageSpeedKmh assumed for a mechanic driving to a customer.
	AverageSpeedKmh = 30.0

	MinMinutes = 5
	MaxMinutes = 180
)

// Minutes converts a distance to an ETA, clamped to [MinMinutes, MaxMinutes].
func Minutes(distanceKm float64) int {
	m := int(math.Ceil(distanceKm / AverageSpeedKmh * 60))
	if m < MinMinutes {
		return MinMinutes
	}
	if m > MaxMinutes {
		return MaxMinutes
	}
	return m
}
