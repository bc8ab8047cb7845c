package activespace

import (
	"fmt"

	"github.com/soundscape-data/activespace/internal/propagation"
	"github.com/soundscape-data/activespace/internal/units"
)

// SearchConfig bounds the audibility range search on each bearing. All
// values are explicit: there are no hidden defaults that change results
// between runs.
type SearchConfig struct {
	MinDistanceM float64 `json:"min_distance_m"`
	MaxDistanceM float64 `json:"max_distance_m"`

	// ToleranceM terminates the binary search when the bracketing interval
	// drops below this width.
	ToleranceM float64 `json:"tolerance_m"`
}

// DefaultSearchConfig covers overflight ranges typical for backcountry
// sites: 50 m to 40 km with 10 m convergence.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		MinDistanceM: 50,
		MaxDistanceM: 40000,
		ToleranceM:   10,
	}
}

// Validate checks the search bounds for consistency.
func (c SearchConfig) Validate() error {
	if c.MinDistanceM <= 0 {
		return fmt.Errorf("search min distance must be positive, got %v", c.MinDistanceM)
	}
	if c.MaxDistanceM <= c.MinDistanceM {
		return fmt.Errorf("search max distance %v must exceed min distance %v",
			c.MaxDistanceM, c.MinDistanceM)
	}
	if c.ToleranceM <= 0 {
		return fmt.Errorf("search tolerance must be positive, got %v", c.ToleranceM)
	}
	return nil
}

// Evaluator decides audibility at points around a listening site and finds
// the audibility boundary along a bearing. Read-only over its model and
// listening point, so a single evaluator is safe for concurrent sweeps.
type Evaluator struct {
	model *propagation.Model
	lp    ListeningPoint
	cfg   SearchConfig
}

// NewEvaluator wires a propagation model to a listening point's ambient
// profile and detection margin.
func NewEvaluator(model *propagation.Model, lp ListeningPoint, cfg SearchConfig) (*Evaluator, error) {
	if err := lp.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{model: model, lp: lp, cfg: cfg}, nil
}

// Audible is the bare detection rule: a received level is audible when it
// meets or exceeds ambient plus the threshold margin.
func Audible(receivedLevelDB, ambientLevelDB, thresholdMarginDB float64) bool {
	return receivedLevelDB >= ambientLevelDB+thresholdMarginDB
}

// audibleAt evaluates the detection rule at a distance along a bearing.
// With matching band counts the comparison is band-by-band: the source is
// audible when any band clears its ambient band plus the margin. Otherwise
// broadband levels are compared. Returns the broadband received level for
// reporting either way.
func (e *Evaluator) audibleAt(distanceM, bearingDeg float64) (bool, float64) {
	spec := e.model.ReceivedSpectrum(distanceM, bearingDeg)
	broadband := units.SumDB(spec...)

	if len(spec) == len(e.lp.Ambient) && len(spec) > 1 {
		for i := range spec {
			if Audible(spec[i], e.lp.Ambient[i], e.lp.ThresholdMarginDB) {
				return true, broadband
			}
		}
		return false, broadband
	}

	return Audible(broadband, e.ambientBroadband(), e.lp.ThresholdMarginDB), broadband
}

// ambientBroadband collapses the ambient profile to a single level.
func (e *Evaluator) ambientBroadband() float64 {
	return units.SumDB(e.lp.Ambient...)
}

// MaxAudibleRange finds the furthest distance along the bearing at which
// the source is still audible, by binary search over the configured bounds.
// The propagation model is monotone non-increasing in distance, so the
// audible region along a bearing is a single interval starting at the site.
//
// Two boundary conditions are reported rather than searched through:
// inaudible at the minimum distance yields the Inaudible sentinel with a
// zero radius, and audibility at the maximum distance yields a saturated
// sample at MaxDistanceM, signalling that the search bounds may be too
// narrow.
func (e *Evaluator) MaxAudibleRange(bearingDeg float64) BearingSample {
	sample := BearingSample{
		BearingDeg:     bearingDeg,
		AmbientLevelDB: e.ambientBroadband(),
	}

	audibleMin, levelMin := e.audibleAt(e.cfg.MinDistanceM, bearingDeg)
	if !audibleMin {
		sample.Inaudible = true
		sample.RadiusM = 0
		sample.ReceivedLevelDB = levelMin
		return sample
	}

	audibleMax, levelMax := e.audibleAt(e.cfg.MaxDistanceM, bearingDeg)
	if audibleMax {
		sample.Saturated = true
		sample.RadiusM = e.cfg.MaxDistanceM
		sample.ReceivedLevelDB = levelMax
		return sample
	}

	lo, hi := e.cfg.MinDistanceM, e.cfg.MaxDistanceM
	level := levelMin
	for hi-lo > e.cfg.ToleranceM {
		mid := lo + (hi-lo)/2
		audible, l := e.audibleAt(mid, bearingDeg)
		if audible {
			lo = mid
			level = l
		} else {
			hi = mid
		}
	}

	sample.RadiusM = lo
	sample.ReceivedLevelDB = level
	return sample
}
