// Package activespace builds audibility polygons around a listening point.
//
// The builder sweeps bearings from the listening point, finds the maximum
// audible range on each bearing with a binary search over the propagation
// model, and assembles the resulting radii into a closed simple ring: the
// active space of the noise source at that site.
package activespace

import (
	"fmt"

	"github.com/soundscape-data/activespace/internal/geo"
	"github.com/soundscape-data/activespace/internal/propagation"
)

// ListeningPoint is a microphone deployment site: a geographic location
// with an ambient-noise profile and the detection margin required for a
// signal to count as audible there. Immutable once constructed.
type ListeningPoint struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	ElevationM float64 `json:"elevation_m"`

	// Ambient is either a single broadband background level or a
	// one-third-octave spectrum from NVSPL measurements.
	Ambient propagation.Spectrum `json:"ambient"`

	// ThresholdMarginDB is the excess over ambient required for audibility.
	ThresholdMarginDB float64 `json:"threshold_margin_db"`
}

// Point returns the site coordinate.
func (lp ListeningPoint) Point() geo.Point {
	return geo.NewPoint(lp.Lat, lp.Lon)
}

// CRS returns the EPSG code of the UTM zone containing the site, recorded
// on built polygons for downstream GIS use.
func (lp ListeningPoint) CRS() string {
	return geo.UTMZoneEPSG(lp.Lat, lp.Lon)
}

// Validate checks the listening point for usable values.
func (lp ListeningPoint) Validate() error {
	if lp.Lat < -90 || lp.Lat > 90 {
		return fmt.Errorf("listening point %s: latitude %v out of range", lp.ID, lp.Lat)
	}
	if lp.Lon < -180 || lp.Lon > 180 {
		return fmt.Errorf("listening point %s: longitude %v out of range", lp.ID, lp.Lon)
	}
	if len(lp.Ambient) == 0 {
		return fmt.Errorf("listening point %s: ambient profile required", lp.ID)
	}
	if len(lp.Ambient) != 1 && len(lp.Ambient) != len(propagation.ThirdOctaveBands) {
		return fmt.Errorf("listening point %s: ambient must be broadband or %d bands, got %d",
			lp.ID, len(propagation.ThirdOctaveBands), len(lp.Ambient))
	}
	if lp.ThresholdMarginDB < 0 {
		return fmt.Errorf("listening point %s: threshold margin must be non-negative", lp.ID)
	}
	return nil
}

// BearingSample records the audibility boundary found on one bearing of a
// sweep, with the levels used to derive it. Ephemeral: produced per sweep
// step and consumed by the builder.
type BearingSample struct {
	BearingDeg      float64 `json:"bearing_deg"`
	RadiusM         float64 `json:"radius_m"`
	ReceivedLevelDB float64 `json:"received_level_db"`
	AmbientLevelDB  float64 `json:"ambient_level_db"`
	Inaudible       bool    `json:"inaudible,omitempty"`
	Saturated       bool    `json:"saturated,omitempty"`
}

// DegenerateGeometryError reports a polygon that cannot be used for
// intersection: fewer than three distinct vertices, or a self-intersecting
// ring. Fatal for the build that produced it; a tuning run may retry with
// adjusted parameters.
type DegenerateGeometryError struct {
	Reason   string
	Vertices int
}

func (e *DegenerateGeometryError) Error() string {
	return fmt.Sprintf("degenerate active-space geometry (%d vertices): %s", e.Vertices, e.Reason)
}
