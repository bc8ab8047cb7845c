// Package tuner calibrates propagation parameters against ground-truth
// aircraft detections logged at a listening point. The fit is radial: for
// each detection the tuner compares the modeled audibility radius along the
// detection's bearing with the detection's actual range from the site.
package tuner

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/soundscape-data/activespace/internal/activespace"
	"github.com/soundscape-data/activespace/internal/geo"
	"github.com/soundscape-data/activespace/internal/propagation"
)

// Detection is one ground-truth observation: an aircraft at a known location
// that an observer at the listening point marked audible or inaudible.
type Detection struct {
	ID               string    `json:"id"`
	ListeningPointID string    `json:"listening_point_id"`
	Onset            time.Time `json:"onset"`
	Offset           time.Time `json:"offset"`
	Lat              float64   `json:"lat"`
	Lon              float64   `json:"lon"`
	AltitudeM        float64   `json:"altitude_m"`

	// Audible records the observer's call. Inaudible detections constrain
	// the boundary from the outside.
	Audible bool `json:"audible"`

	// Confidence weights the detection in the fit, (0, 1].
	Confidence float64 `json:"confidence"`
}

// Point returns the detection coordinate.
func (d Detection) Point() geo.Point {
	return geo.NewPoint(d.Lat, d.Lon)
}

// Validate checks the detection for usable values.
func (d Detection) Validate() error {
	if d.Lat < -90 || d.Lat > 90 || d.Lon < -180 || d.Lon > 180 {
		return fmt.Errorf("detection %s: coordinate out of range (%v, %v)", d.ID, d.Lat, d.Lon)
	}
	if math.IsNaN(d.Confidence) || d.Confidence <= 0 || d.Confidence > 1 {
		return fmt.Errorf("detection %s: confidence must be in (0, 1], got %v", d.ID, d.Confidence)
	}
	return nil
}

// ConvergenceWarning reports a tuning run that hit its iteration cap before
// the fit stopped improving. The result it accompanies is still the best
// parameter set found and is usable; the warning flags it for review.
type ConvergenceWarning struct {
	Iterations int
	FitErrorM  float64
}

func (e *ConvergenceWarning) Error() string {
	return fmt.Sprintf("tuning stopped at iteration cap %d with fit error %.1f m still improving",
		e.Iterations, e.FitErrorM)
}

// Clamp limits for the tuned parameters that have no package-level physical
// bound of their own.
const (
	maxAbsorptionScale = 100
	maxMarginDB        = 60

	// stepFloorDivisor ends the search once every step has been halved down
	// to 1/64 of its initial size.
	stepFloorDivisor = 64
)

// Config controls the coordinate descent. A zero step freezes that parameter
// at its starting value, which keeps underdetermined fits well-posed: source
// level and threshold margin trade off one-for-one, so tuning both against
// the same ground truth rarely makes sense.
type Config struct {
	Search activespace.SearchConfig `json:"search"`

	SourceLevelStepDB   float64 `json:"source_level_step_db"`
	GroundFactorStep    float64 `json:"ground_factor_step"`
	AbsorptionScaleStep float64 `json:"absorption_scale_step"`
	MarginStepDB        float64 `json:"margin_step_db"`

	MaxIterations   int     `json:"max_iterations"`
	ConvergenceTolM float64 `json:"convergence_tol_m"`
}

// DefaultConfig tunes source level, ground factor and absorption scale with
// the margin frozen.
func DefaultConfig() Config {
	return Config{
		Search:              activespace.DefaultSearchConfig(),
		SourceLevelStepDB:   4,
		GroundFactorStep:    0.2,
		AbsorptionScaleStep: 0.2,
		MarginStepDB:        0,
		MaxIterations:       60,
		ConvergenceTolM:     1,
	}
}

// Validate checks the descent configuration.
func (c Config) Validate() error {
	if err := c.Search.Validate(); err != nil {
		return err
	}
	for _, s := range []struct {
		name string
		v    float64
	}{
		{"source_level_step_db", c.SourceLevelStepDB},
		{"ground_factor_step", c.GroundFactorStep},
		{"absorption_scale_step", c.AbsorptionScaleStep},
		{"margin_step_db", c.MarginStepDB},
	} {
		if math.IsNaN(s.v) || s.v < 0 {
			return fmt.Errorf("tuner step %s must be non-negative, got %v", s.name, s.v)
		}
	}
	if c.SourceLevelStepDB == 0 && c.GroundFactorStep == 0 &&
		c.AbsorptionScaleStep == 0 && c.MarginStepDB == 0 {
		return fmt.Errorf("tuner has no free parameters: all steps are zero")
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("tuner max iterations must be positive, got %d", c.MaxIterations)
	}
	if c.ConvergenceTolM <= 0 {
		return fmt.Errorf("tuner convergence tolerance must be positive, got %v", c.ConvergenceTolM)
	}
	return nil
}

// Result is the outcome of a tuning run.
type Result struct {
	Params            propagation.Params `json:"params"`
	ThresholdMarginDB float64            `json:"threshold_margin_db"`
	FitErrorM         float64            `json:"fit_error_m"`
	Iterations        int                `json:"iterations"`
	Converged         bool               `json:"converged"`
}

// observation is a detection reduced to site-relative polar form, computed
// once up front so candidate trials only run the range search.
type observation struct {
	bearingDeg float64
	rangeM     float64
	audible    bool
	weight     float64
}

// Tuner fits propagation parameters to ground-truth detections for a single
// listening point by deterministic cyclic coordinate descent.
type Tuner struct {
	lp      activespace.ListeningPoint
	terrain propagation.ElevationSampler
	obs     []observation
	cfg     Config
}

// NewTuner validates inputs and precomputes the site-relative geometry of
// the detections.
func NewTuner(lp activespace.ListeningPoint, terrain propagation.ElevationSampler, detections []Detection, cfg Config) (*Tuner, error) {
	if err := lp.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(detections) == 0 {
		return nil, fmt.Errorf("tuner needs at least one detection")
	}

	site := lp.Point()
	obs := make([]observation, 0, len(detections))
	for _, d := range detections {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		obs = append(obs, observation{
			bearingDeg: geo.BearingDeg(site, d.Point()),
			rangeM:     geo.DistanceM(site, d.Point()),
			audible:    d.Audible,
			weight:     d.Confidence,
		})
	}
	return &Tuner{lp: lp, terrain: terrain, obs: obs, cfg: cfg}, nil
}

// fitError evaluates the weighted RMS radial discrepancy for one candidate
// parameter set. Audible detections pull the modeled boundary onto their
// range; inaudible detections only penalize a boundary that reaches past
// them.
func (t *Tuner) fitError(params propagation.Params, marginDB float64) (float64, error) {
	lp := t.lp
	lp.ThresholdMarginDB = marginDB

	model, err := propagation.NewModel(lp.Point(), lp.ElevationM, params, t.terrain)
	if err != nil {
		return 0, err
	}
	ev, err := activespace.NewEvaluator(model, lp, t.cfg.Search)
	if err != nil {
		return 0, err
	}

	var sumSq, sumW float64
	for _, o := range t.obs {
		radius := ev.MaxAudibleRange(o.bearingDeg).RadiusM
		d := radius - o.rangeM
		if !o.audible && d < 0 {
			d = 0
		}
		sumSq += o.weight * d * d
		sumW += o.weight
	}
	return math.Sqrt(sumSq / sumW), nil
}

// knob is one tunable coordinate: how to read and write it on a candidate,
// and the bounds it is clamped to.
type knob struct {
	step     float64
	min, max float64
	get      func(propagation.Params, float64) float64
	set      func(*propagation.Params, *float64, float64)
}

func (t *Tuner) knobs() []knob {
	return []knob{
		{
			step: t.cfg.SourceLevelStepDB,
			min:  propagation.MinSourceLevelDB, max: propagation.MaxSourceLevelDB,
			get: func(p propagation.Params, _ float64) float64 { return p.SourceLevelDB },
			set: func(p *propagation.Params, _ *float64, v float64) { p.SourceLevelDB = v },
		},
		{
			step: t.cfg.GroundFactorStep,
			min:  0, max: propagation.MaxGroundFactor,
			get: func(p propagation.Params, _ float64) float64 { return p.GroundFactor },
			set: func(p *propagation.Params, _ *float64, v float64) { p.GroundFactor = v },
		},
		{
			step: t.cfg.AbsorptionScaleStep,
			min:  0, max: maxAbsorptionScale,
			get: func(p propagation.Params, _ float64) float64 { return p.AbsorptionScale },
			set: func(p *propagation.Params, _ *float64, v float64) { p.AbsorptionScale = v },
		},
		{
			step: t.cfg.MarginStepDB,
			min:  0, max: maxMarginDB,
			get: func(_ propagation.Params, m float64) float64 { return m },
			set: func(_ *propagation.Params, m *float64, v float64) { *m = v },
		},
	}
}

// candidate is one trial evaluation. Each trial owns its Params copy.
type candidate struct {
	params  propagation.Params
	margin  float64
	err     float64
	evalErr error
}

// Fit runs the descent from the given starting parameters and the listening
// point's configured threshold margin. The search visits the tunable
// parameters in a fixed order, trying one step up and one step down on each
// and keeping whichever strictly improves the fit; a full cycle with no
// improvement halves every step. There is no randomness anywhere, so two
// runs from the same start return the same result.
//
// On hitting MaxIterations with the fit still improving, Fit returns the
// best result found alongside a *ConvergenceWarning.
func (t *Tuner) Fit(ctx context.Context, start propagation.Params) (Result, error) {
	if err := start.Validate(); err != nil {
		return Result{}, err
	}

	bestParams := start.Clone()
	bestMargin := t.lp.ThresholdMarginDB
	bestErr, err := t.fitError(bestParams, bestMargin)
	if err != nil {
		return Result{}, err
	}

	knobs := t.knobs()
	steps := make([]float64, len(knobs))
	floors := make([]float64, len(knobs))
	for i, k := range knobs {
		steps[i] = k.step
		floors[i] = k.step / stepFloorDivisor
	}

	res := Result{Iterations: 0}
	for iter := 1; iter <= t.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		res.Iterations = iter

		startErr := bestErr
		for i, k := range knobs {
			if steps[i] == 0 {
				continue
			}
			cur := k.get(bestParams, bestMargin)
			cands := make([]candidate, 0, 2)
			for _, v := range []float64{cur + steps[i], cur - steps[i]} {
				v = math.Min(math.Max(v, k.min), k.max)
				if v == cur {
					continue
				}
				c := candidate{params: bestParams.Clone(), margin: bestMargin}
				k.set(&c.params, &c.margin, v)
				cands = append(cands, c)
			}

			var wg sync.WaitGroup
			for j := range cands {
				wg.Add(1)
				go func(c *candidate) {
					defer wg.Done()
					c.err, c.evalErr = t.fitError(c.params, c.margin)
				}(&cands[j])
			}
			wg.Wait()

			for j := range cands {
				c := &cands[j]
				if c.evalErr != nil {
					return Result{}, c.evalErr
				}
				if c.err < bestErr {
					bestErr = c.err
					bestParams = c.params
					bestMargin = c.margin
				}
			}
		}

		if startErr-bestErr < t.cfg.ConvergenceTolM {
			allAtFloor := true
			for i := range steps {
				if steps[i] == 0 {
					continue
				}
				steps[i] /= 2
				if steps[i] >= floors[i] {
					allAtFloor = false
				}
			}
			if allAtFloor {
				res.Converged = true
				break
			}
		}
	}

	res.Params = bestParams
	res.ThresholdMarginDB = bestMargin
	res.FitErrorM = bestErr
	if !res.Converged {
		return res, &ConvergenceWarning{Iterations: res.Iterations, FitErrorM: bestErr}
	}
	return res, nil
}
