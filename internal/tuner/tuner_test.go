package tuner

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/soundscape-data/activespace/internal/activespace"
	"github.com/soundscape-data/activespace/internal/geo"
	"github.com/soundscape-data/activespace/internal/propagation"
)

func testListeningPoint() activespace.ListeningPoint {
	return activespace.ListeningPoint{
		ID:                "YELL-TUNE",
		Name:              "tuner test site",
		Lat:               44.60,
		Lon:               -110.50,
		ElevationM:        2400,
		Ambient:           propagation.Broadband(25),
		ThresholdMarginDB: 3,
	}
}

func trueParams() propagation.Params {
	p := propagation.DefaultParams()
	p.SourceLevelDB = 90
	p.GroundFactor = 0.5
	p.AbsorptionScale = 1.0
	return p
}

func tightSearch() activespace.SearchConfig {
	cfg := activespace.DefaultSearchConfig()
	cfg.ToleranceM = 1
	return cfg
}

// boundaryDetections places detections exactly on the audibility boundary
// computed for the given parameters, one per bearing.
func boundaryDetections(t *testing.T, lp activespace.ListeningPoint, params propagation.Params, bearings []float64) []Detection {
	t.Helper()
	model, err := propagation.NewModel(lp.Point(), lp.ElevationM, params, nil)
	if err != nil {
		t.Fatal(err)
	}
	ev, err := activespace.NewEvaluator(model, lp, tightSearch())
	if err != nil {
		t.Fatal(err)
	}

	site := lp.Point()
	out := make([]Detection, 0, len(bearings))
	for _, b := range bearings {
		sample := ev.MaxAudibleRange(b)
		if sample.Inaudible || sample.Saturated {
			t.Fatalf("bearing %v: boundary search did not converge inside bounds", b)
		}
		pt := geo.Destination(site, b, sample.RadiusM)
		out = append(out, Detection{
			ID:               "gt",
			ListeningPointID: lp.ID,
			Lat:              pt[1],
			Lon:              pt[0],
			Audible:          true,
			Confidence:       1,
		})
	}
	return out
}

func sourceLevelOnlyConfig() Config {
	cfg := DefaultConfig()
	cfg.Search = tightSearch()
	cfg.GroundFactorStep = 0
	cfg.AbsorptionScaleStep = 0
	return cfg
}

func TestFitRecoversSourceLevel(t *testing.T) {
	lp := testListeningPoint()
	truth := trueParams()
	detections := boundaryDetections(t, lp, truth, []float64{0, 45, 90, 135, 180, 225, 270, 315})

	tn, err := NewTuner(lp, nil, detections, sourceLevelOnlyConfig())
	if err != nil {
		t.Fatal(err)
	}

	start := truth.Clone()
	start.SourceLevelDB = 98

	res, err := tn.Fit(context.Background(), start)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if !res.Converged {
		t.Error("fit should converge within default iteration cap")
	}
	if math.Abs(res.Params.SourceLevelDB-truth.SourceLevelDB) > 0.2 {
		t.Errorf("recovered source level %v, want %v", res.Params.SourceLevelDB, truth.SourceLevelDB)
	}
	if res.FitErrorM > 2 {
		t.Errorf("fit error %v m against exact boundary detections, want near zero", res.FitErrorM)
	}
}

func TestFitDeterministic(t *testing.T) {
	lp := testListeningPoint()
	truth := trueParams()
	detections := boundaryDetections(t, lp, truth, []float64{30, 150, 270})

	start := truth.Clone()
	start.SourceLevelDB = 97
	start.GroundFactor = 0.9

	cfg := DefaultConfig()
	cfg.Search = tightSearch()

	run := func() Result {
		tn, err := NewTuner(lp, nil, detections, cfg)
		if err != nil {
			t.Fatal(err)
		}
		res, err := tn.Fit(context.Background(), start)
		if err != nil {
			var warn *ConvergenceWarning
			if !errors.As(err, &warn) {
				t.Fatalf("fit: %v", err)
			}
		}
		return res
	}

	if diff := cmp.Diff(run(), run()); diff != "" {
		t.Errorf("identical runs diverged (-first +second):\n%s", diff)
	}
}

func TestFitErrorInaudibleOneSided(t *testing.T) {
	lp := testListeningPoint()
	truth := trueParams()

	// Locate the modeled boundary along bearing 0 so the inaudible
	// detections can be placed inside and outside of it.
	boundary := boundaryDetections(t, lp, truth, []float64{0})[0]
	site := lp.Point()
	boundaryR := geo.DistanceM(site, boundary.Point())

	inaudibleAt := func(radiusM float64) Detection {
		pt := geo.Destination(site, 0, radiusM)
		return Detection{ID: "na", Lat: pt[1], Lon: pt[0], Audible: false, Confidence: 1}
	}

	cfg := sourceLevelOnlyConfig()

	outside, err := NewTuner(lp, nil, []Detection{inaudibleAt(boundaryR * 1.5)}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	feOutside, err := outside.fitError(truth, lp.ThresholdMarginDB)
	if err != nil {
		t.Fatal(err)
	}
	if feOutside > 1 {
		t.Errorf("inaudible detection beyond the boundary should not penalize the fit, got %v m", feOutside)
	}

	inside, err := NewTuner(lp, nil, []Detection{inaudibleAt(boundaryR * 0.5)}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	feInside, err := inside.fitError(truth, lp.ThresholdMarginDB)
	if err != nil {
		t.Fatal(err)
	}
	if feInside < boundaryR*0.4 {
		t.Errorf("inaudible detection inside the boundary should penalize by the excess radius, got %v m", feInside)
	}
}

func TestFitErrorConfidenceWeighting(t *testing.T) {
	lp := testListeningPoint()
	truth := trueParams()
	site := lp.Point()

	good := boundaryDetections(t, lp, truth, []float64{90})[0]

	badPt := geo.Destination(site, 0, 2000)
	bad := Detection{ID: "bad", Lat: badPt[1], Lon: badPt[0], Audible: true, Confidence: 1}

	cfg := sourceLevelOnlyConfig()

	fe := func(badConfidence float64) float64 {
		b := bad
		b.Confidence = badConfidence
		tn, err := NewTuner(lp, nil, []Detection{good, b}, cfg)
		if err != nil {
			t.Fatal(err)
		}
		v, err := tn.fitError(truth, lp.ThresholdMarginDB)
		if err != nil {
			t.Fatal(err)
		}
		return v
	}

	full, down := fe(1), fe(0.25)
	if down >= full {
		t.Errorf("downweighted discrepant detection should lower the fit error: %v >= %v", down, full)
	}
}

func TestFitHonorsContext(t *testing.T) {
	lp := testListeningPoint()
	truth := trueParams()
	detections := boundaryDetections(t, lp, truth, []float64{0})

	tn, err := NewTuner(lp, nil, detections, sourceLevelOnlyConfig())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tn.Fit(ctx, truth); !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
}

func TestFitIterationCapWarns(t *testing.T) {
	lp := testListeningPoint()
	truth := trueParams()
	detections := boundaryDetections(t, lp, truth, []float64{0, 120, 240})

	cfg := sourceLevelOnlyConfig()
	cfg.MaxIterations = 1

	tn, err := NewTuner(lp, nil, detections, cfg)
	if err != nil {
		t.Fatal(err)
	}

	start := truth.Clone()
	start.SourceLevelDB = 120

	res, err := tn.Fit(context.Background(), start)
	var warn *ConvergenceWarning
	if !errors.As(err, &warn) {
		t.Fatalf("want ConvergenceWarning at the iteration cap, got %v", err)
	}
	if res.Converged {
		t.Error("result should not be marked converged")
	}
	if res.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", res.Iterations)
	}
	if res.Params.SourceLevelDB >= start.SourceLevelDB {
		t.Errorf("even a capped run should keep its best candidate, got %v", res.Params.SourceLevelDB)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"all steps zero", func(c *Config) {
			c.SourceLevelStepDB, c.GroundFactorStep, c.AbsorptionScaleStep, c.MarginStepDB = 0, 0, 0, 0
		}},
		{"negative step", func(c *Config) { c.GroundFactorStep = -0.1 }},
		{"zero iterations", func(c *Config) { c.MaxIterations = 0 }},
		{"zero tolerance", func(c *Config) { c.ConvergenceTolM = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("want validation error")
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestNewTunerRejectsBadInput(t *testing.T) {
	lp := testListeningPoint()
	cfg := DefaultConfig()

	if _, err := NewTuner(lp, nil, nil, cfg); err == nil {
		t.Error("want error for empty detection set")
	}

	bad := Detection{ID: "x", Lat: 44.6, Lon: -110.5, Audible: true, Confidence: 0}
	if _, err := NewTuner(lp, nil, []Detection{bad}, cfg); err == nil {
		t.Error("want error for zero confidence")
	}
}
