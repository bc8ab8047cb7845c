package activespace

import (
	"context"
	"fmt"
	"log"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soundscape-data/activespace/internal/geo"
	"github.com/soundscape-data/activespace/internal/propagation"
)

// BuildConfig controls a bearing sweep. All knobs are explicit; the zero
// value is not usable, start from DefaultBuildConfig.
type BuildConfig struct {
	// BearingStepDeg is the sweep step. 360 must yield at least 3 bearings.
	BearingStepDeg float64 `json:"bearing_step_deg"`

	Search SearchConfig `json:"search"`

	// Smoothing is one of none, moving_average or spline.
	Smoothing string `json:"smoothing"`

	// SmoothingWindow is the moving-average half-width, or the control-point
	// stride for spline resampling.
	SmoothingWindow int `json:"smoothing_window"`

	// Workers bounds the parallel bearing searches. 0 means GOMAXPROCS.
	Workers int `json:"workers"`
}

// DefaultBuildConfig returns a 5-degree sweep with no smoothing.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		BearingStepDeg: 5,
		Search:         DefaultSearchConfig(),
		Smoothing:      SmoothingNone,
	}
}

// Validate checks the sweep configuration.
func (c BuildConfig) Validate() error {
	if c.BearingStepDeg <= 0 || c.BearingStepDeg > 120 {
		return fmt.Errorf("bearing step %v degrees out of range (0, 120]", c.BearingStepDeg)
	}
	if c.Smoothing != "" && !IsValidSmoothingMethod(c.Smoothing) {
		return fmt.Errorf("unknown smoothing method %q (valid: %v)", c.Smoothing, ValidSmoothingMethods)
	}
	if c.SmoothingWindow < 0 {
		return fmt.Errorf("smoothing window must be non-negative, got %d", c.SmoothingWindow)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Workers)
	}
	return c.Search.Validate()
}

// Builder orchestrates the evaluator across a full bearing sweep and
// assembles the result into an active-space polygon.
type Builder struct {
	lp        ListeningPoint
	evaluator *Evaluator
	cfg       BuildConfig
}

// NewBuilder validates the parameters and configuration and returns a
// builder for the listening point. terrain may be nil.
func NewBuilder(lp ListeningPoint, params propagation.Params, terrain propagation.ElevationSampler, cfg BuildConfig) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("build config: %w", err)
	}

	model, err := propagation.NewModel(lp.Point(), lp.ElevationM, params, terrain)
	if err != nil {
		return nil, err
	}
	ev, err := NewEvaluator(model, lp, cfg.Search)
	if err != nil {
		return nil, err
	}

	return &Builder{lp: lp, evaluator: ev, cfg: cfg}, nil
}

// Build sweeps bearings 0..360 in configured steps and returns the active
// space polygon. Bearing searches run on a bounded worker pool; results are
// keyed by bearing index so rebuilding with identical inputs yields
// identical vertices.
func (b *Builder) Build(ctx context.Context) (*Polygon, error) {
	n := int(math.Round(360 / b.cfg.BearingStepDeg))
	if n < 3 {
		return nil, &DegenerateGeometryError{
			Reason:   fmt.Sprintf("bearing step %v yields %d bearings", b.cfg.BearingStepDeg, n),
			Vertices: n,
		}
	}

	samples := make([]BearingSample, n)

	workers := b.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > n {
		workers = n
	}

	indices := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				samples[i] = b.evaluator.MaxAudibleRange(float64(i) * b.cfg.BearingStepDeg)
			}
		}()
	}

	var cancelled bool
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			cancelled = true
		case indices <- i:
			continue
		}
		break
	}
	close(indices)
	wg.Wait()

	if cancelled {
		return nil, ctx.Err()
	}

	radii := make([]float64, n)
	var saturated []float64
	for i, s := range samples {
		radii[i] = s.RadiusM
		if s.Saturated {
			saturated = append(saturated, s.BearingDeg)
		}
	}
	if len(saturated) > 0 {
		log.Printf("ActiveSpace: %s: audibility search saturated at max distance %vm on %d of %d bearings; search bounds may be too narrow",
			b.lp.ID, b.cfg.Search.MaxDistanceM, len(saturated), n)
	}

	smoothed, err := smoothRadii(radii, b.cfg.Smoothing, b.cfg.SmoothingWindow)
	if err != nil {
		return nil, err
	}
	for i := range samples {
		samples[i].RadiusM = smoothed[i]
	}

	origin := b.lp.Point()
	ring := make(geo.Ring, 0, n+1)
	for i, s := range samples {
		if s.RadiusM <= 0 {
			// Inaudible bearing: the boundary collapses onto the site.
			ring = append(ring, origin)
			continue
		}
		ring = append(ring, geo.Destination(origin, float64(i)*b.cfg.BearingStepDeg, s.RadiusM))
	}
	ring = geo.CloseRing(ring)

	poly := &Polygon{
		ID:                uuid.NewString(),
		ListeningPointID:  b.lp.ID,
		Ring:              ring,
		Samples:           samples,
		Params:            b.evaluator.model.Params(),
		BearingStepDeg:    b.cfg.BearingStepDeg,
		Smoothing:         b.cfg.Smoothing,
		CRS:               b.lp.CRS(),
		BuiltAt:           time.Now().UTC(),
		SaturatedBearings: saturated,
	}

	if err := poly.Validate(); err != nil {
		return nil, fmt.Errorf("listening point %s: %w", b.lp.ID, err)
	}
	return poly, nil
}
