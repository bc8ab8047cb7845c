package propagation

import (
	"fmt"
	"math"
)

// Physical bounds for parameter validation. Values outside these ranges are
// rejected as non-physical rather than silently clamped.
const (
	MinSourceLevelDB     = 0
	MaxSourceLevelDB     = 200
	MaxAbsorptionDBPerKM = 1000
	MaxGroundFactor      = 10
)

// InvalidParameterError reports a non-physical propagation input. It is
// fatal for the build that produced it.
type InvalidParameterError struct {
	Param  string
	Value  float64
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid propagation parameter %s=%v: %s", e.Param, e.Value, e.Reason)
}

// Params describes the sound source and the propagation environment.
// Params are plain values: tuning trials copy and adjust them, they are
// never shared mutable state across goroutines.
type Params struct {
	// SourceLevelDB is the broadband source level measured at RefDistanceM.
	SourceLevelDB float64 `json:"source_level_db"`

	// SourceSpectrum optionally replaces SourceLevelDB with per-band levels
	// at RefDistanceM. When nil, the broadband level is used.
	SourceSpectrum Spectrum `json:"source_spectrum,omitempty"`

	// RefDistanceM is the reference distance the source level was measured
	// at. Spreading loss is zero here.
	RefDistanceM float64 `json:"ref_distance_m"`

	// AbsorptionDBPerKM holds atmospheric absorption coefficients, either a
	// single broadband coefficient or one per third-octave band.
	AbsorptionDBPerKM Spectrum `json:"absorption_db_per_km"`

	// AbsorptionScale is a dimensionless multiplier on the absorption
	// coefficients. 1.0 means use them as-is; the tuner adjusts this.
	AbsorptionScale float64 `json:"absorption_scale"`

	// GroundFactor adds excess ground attenuation of 10*GroundFactor dB per
	// decade of distance beyond the reference. 0 disables the term.
	GroundFactor float64 `json:"ground_factor"`

	// SourceHeightM is the source height above local terrain, used only for
	// line-of-sight occlusion tests.
	SourceHeightM float64 `json:"source_height_m"`

	// OcclusionLossDB is the discrete extra attenuation applied when the
	// terrain profile blocks line of sight to the source.
	OcclusionLossDB float64 `json:"occlusion_loss_db"`
}

// DefaultParams returns a parameter set for a light fixed-wing aircraft:
// 90 dB at 1 km, mid-band atmospheric absorption, soft ground.
func DefaultParams() Params {
	return Params{
		SourceLevelDB:     90,
		RefDistanceM:      1000,
		AbsorptionDBPerKM: Broadband(2.0),
		AbsorptionScale:   1.0,
		GroundFactor:      0.5,
		SourceHeightM:     300,
		OcclusionLossDB:   20,
	}
}

// Clone returns a deep copy of the parameter set.
func (p Params) Clone() Params {
	out := p
	out.SourceSpectrum = p.SourceSpectrum.Clone()
	out.AbsorptionDBPerKM = p.AbsorptionDBPerKM.Clone()
	return out
}

// Validate checks the parameter set for non-physical values. It returns an
// *InvalidParameterError naming the first offending parameter.
func (p Params) Validate() error {
	if math.IsNaN(p.SourceLevelDB) || p.SourceLevelDB < MinSourceLevelDB || p.SourceLevelDB > MaxSourceLevelDB {
		return &InvalidParameterError{Param: "source_level_db", Value: p.SourceLevelDB,
			Reason: fmt.Sprintf("must be within [%d, %d] dB", MinSourceLevelDB, MaxSourceLevelDB)}
	}
	if math.IsNaN(p.RefDistanceM) || p.RefDistanceM <= 0 {
		return &InvalidParameterError{Param: "ref_distance_m", Value: p.RefDistanceM,
			Reason: "must be positive"}
	}
	if len(p.AbsorptionDBPerKM) == 0 {
		return &InvalidParameterError{Param: "absorption_db_per_km", Value: 0,
			Reason: "at least one coefficient required"}
	}
	if len(p.AbsorptionDBPerKM) != 1 && len(p.AbsorptionDBPerKM) != len(ThirdOctaveBands) {
		return &InvalidParameterError{Param: "absorption_db_per_km", Value: float64(len(p.AbsorptionDBPerKM)),
			Reason: fmt.Sprintf("must be broadband or %d bands", len(ThirdOctaveBands))}
	}
	for i, c := range p.AbsorptionDBPerKM {
		if math.IsNaN(c) || c < 0 || c > MaxAbsorptionDBPerKM {
			return &InvalidParameterError{Param: fmt.Sprintf("absorption_db_per_km[%d]", i), Value: c,
				Reason: fmt.Sprintf("must be within [0, %d]", MaxAbsorptionDBPerKM)}
		}
	}
	if p.SourceSpectrum != nil && len(p.SourceSpectrum) != len(ThirdOctaveBands) && len(p.SourceSpectrum) != 1 {
		return &InvalidParameterError{Param: "source_spectrum", Value: float64(len(p.SourceSpectrum)),
			Reason: fmt.Sprintf("must be broadband or %d bands", len(ThirdOctaveBands))}
	}
	for i, l := range p.SourceSpectrum {
		if math.IsNaN(l) || l < MinSourceLevelDB || l > MaxSourceLevelDB {
			return &InvalidParameterError{Param: fmt.Sprintf("source_spectrum[%d]", i), Value: l,
				Reason: fmt.Sprintf("must be within [%d, %d] dB", MinSourceLevelDB, MaxSourceLevelDB)}
		}
	}
	if math.IsNaN(p.AbsorptionScale) || p.AbsorptionScale < 0 {
		return &InvalidParameterError{Param: "absorption_scale", Value: p.AbsorptionScale,
			Reason: "must be non-negative"}
	}
	if math.IsNaN(p.GroundFactor) || p.GroundFactor < 0 || p.GroundFactor > MaxGroundFactor {
		return &InvalidParameterError{Param: "ground_factor", Value: p.GroundFactor,
			Reason: fmt.Sprintf("must be within [0, %d]", MaxGroundFactor)}
	}
	if math.IsNaN(p.OcclusionLossDB) || p.OcclusionLossDB < 0 {
		return &InvalidParameterError{Param: "occlusion_loss_db", Value: p.OcclusionLossDB,
			Reason: "must be non-negative"}
	}
	return nil
}

// sourceSpectrum resolves the effective per-band source levels: the explicit
// spectrum when present, otherwise the broadband level.
func (p Params) sourceSpectrum() Spectrum {
	if p.SourceSpectrum != nil {
		return p.SourceSpectrum
	}
	return Broadband(p.SourceLevelDB)
}

// absorptionFor returns the absorption coefficient for band index i of a
// spectrum with n bands, mapping a broadband coefficient onto every band.
func (p Params) absorptionFor(i, n int) float64 {
	if p.AbsorptionDBPerKM.IsBroadband() {
		return p.AbsorptionDBPerKM[0]
	}
	if n == 1 {
		// Broadband source against banded absorption: use the energy-mean
		// coefficient region around 1 kHz where A-weighted content peaks.
		return p.AbsorptionDBPerKM[19] // 1000 Hz band
	}
	return p.AbsorptionDBPerKM[i]
}
