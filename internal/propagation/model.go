// Package propagation models received sound levels around a listening point.
//
// The model combines geometric spreading, frequency-dependent atmospheric
// absorption, an excess ground attenuation term and an optional discrete
// terrain-occlusion penalty. For a fixed bearing and parameter set the
// received level is monotone non-increasing in distance, which the
// audibility range search depends on.
package propagation

import (
	"math"

	"github.com/soundscape-data/activespace/internal/geo"
	"github.com/soundscape-data/activespace/internal/units"
)

// losSamples is the number of profile positions sampled along the bearing
// for the terrain occlusion test.
const losSamples = 16

// ElevationSampler provides terrain elevations (meters above sea level) for
// line-of-sight occlusion checks. Implementations are read-only; a single
// sampler may be shared by concurrent bearing sweeps.
type ElevationSampler interface {
	ElevationAt(p geo.Point) float64
}

// Model computes received levels at distances and bearings around an
// origin. A Model is immutable after construction; tuning builds new models
// from adjusted parameter copies.
type Model struct {
	origin  geo.Point
	originZ float64 // origin ground elevation, meters ASL
	params  Params
	terrain ElevationSampler // nil disables occlusion
}

// NewModel validates the parameter set and returns a propagation model
// centred on the given origin. terrain may be nil when no elevation profile
// is available.
func NewModel(origin geo.Point, originElevM float64, params Params, terrain ElevationSampler) (*Model, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Model{
		origin:  origin,
		originZ: originElevM,
		params:  params,
		terrain: terrain,
	}, nil
}

// Params returns a copy of the model's parameter set.
func (m *Model) Params() Params {
	return m.params.Clone()
}

// Origin returns the model's origin coordinate.
func (m *Model) Origin() geo.Point {
	return m.origin
}

// ReceivedSpectrum returns the per-band level received at the origin from a
// source at the given distance and bearing. Distances below one meter are
// clamped to avoid a log singularity at the origin itself.
func (m *Model) ReceivedSpectrum(distanceM, bearingDeg float64) Spectrum {
	if distanceM < 1 {
		distanceM = 1
	}

	src := m.params.sourceSpectrum()
	out := make(Spectrum, len(src))

	// Geometric spreading and ground attenuation are band-independent.
	decades := math.Log10(distanceM / m.params.RefDistanceM)
	spreading := 20 * decades
	ground := 10 * m.params.GroundFactor * decades

	var occlusion float64
	if m.lineOfSightBlocked(distanceM, bearingDeg) {
		occlusion = m.params.OcclusionLossDB
	}

	excessKM := (distanceM - m.params.RefDistanceM) / 1000
	for i, level := range src {
		absorption := m.params.absorptionFor(i, len(src)) * m.params.AbsorptionScale * excessKM
		out[i] = level - spreading - absorption - ground - occlusion
	}
	return out
}

// ReceivedLevel returns the broadband level received at the origin from a
// source at the given distance and bearing: the energetic sum of the
// received spectrum.
func (m *Model) ReceivedLevel(distanceM, bearingDeg float64) float64 {
	return units.SumDB(m.ReceivedSpectrum(distanceM, bearingDeg)...)
}

// lineOfSightBlocked walks the terrain profile outward from the origin and
// reports whether the sight line to the source is blocked. Blockage is
// sticky in distance: a source position hidden by nearer terrain stays
// hidden at every greater distance along the bearing, so high far terrain
// cannot reopen an occluded stretch and the received level stays monotone
// non-increasing. The source sits SourceHeightM above the terrain at each
// sampled position.
func (m *Model) lineOfSightBlocked(distanceM, bearingDeg float64) bool {
	if m.terrain == nil {
		return false
	}

	// Slopes from the receiver: a source position is hidden when some
	// nearer terrain sample rises above its sight line.
	horizon := math.Inf(-1)
	for i := 1; i <= losSamples; i++ {
		d := distanceM * float64(i) / losSamples
		elev := m.terrain.ElevationAt(geo.Destination(m.origin, bearingDeg, d))
		if (elev+m.params.SourceHeightM-m.originZ)/d < horizon {
			return true
		}
		if slope := (elev - m.originZ) / d; slope > horizon {
			horizon = slope
		}
	}
	return false
}
