// Package units provides shared acoustic and distance unit helpers.
package units

import "math"

// Unit constants
const (
	Meters = "m"
	Feet   = "ft"
	Miles  = "mi"
)

// SpeedOfSoundMPS is the nominal speed of sound at 20C, used for
// audible time-delay corrections.
const SpeedOfSoundMPS = 343.0

// ValidDistanceUnits contains all valid distance unit values
var ValidDistanceUnits = []string{Meters, Feet, Miles}

// IsValidDistanceUnit checks if the given unit is in the list of valid units
func IsValidDistanceUnit(unit string) bool {
	for _, validUnit := range ValidDistanceUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// ConvertDistance converts a distance from meters to the target units.
// All internal computation is done in meters.
func ConvertDistance(distanceM float64, targetUnits string) float64 {
	switch targetUnits {
	case Feet:
		return distanceM * 3.28084
	case Miles:
		return distanceM / 1609.344
	case Meters:
		return distanceM
	default:
		return distanceM // default to meters if unknown unit
	}
}

// SumDB combines sound pressure levels energetically:
// 10*log10(sum(10^(L/10))). An empty input returns -Inf (silence).
func SumDB(levels ...float64) float64 {
	if len(levels) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, l := range levels {
		sum += math.Pow(10, l/10)
	}
	return 10 * math.Log10(sum)
}

// MeanDB returns the energetic mean of the given levels.
func MeanDB(levels []float64) float64 {
	if len(levels) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, l := range levels {
		sum += math.Pow(10, l/10)
	}
	return 10 * math.Log10(sum/float64(len(levels)))
}
