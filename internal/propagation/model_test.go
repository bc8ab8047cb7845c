package propagation

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/soundscape-data/activespace/internal/geo"
)

func testOrigin() geo.Point {
	return geo.NewPoint(44.60, -110.50)
}

func TestReceivedLevelAtReferenceDistance(t *testing.T) {
	p := DefaultParams()
	p.GroundFactor = 0
	m, err := NewModel(testOrigin(), 2400, p, nil)
	if err != nil {
		t.Fatal(err)
	}

	// At the reference distance spreading, absorption and ground terms are
	// all zero, so the received level equals the source level.
	got := m.ReceivedLevel(p.RefDistanceM, 0)
	if math.Abs(got-p.SourceLevelDB) > 1e-9 {
		t.Errorf("ReceivedLevel(ref) = %v, want %v", got, p.SourceLevelDB)
	}
}

func TestReceivedLevelMonotoneInDistance(t *testing.T) {
	p := DefaultParams()
	m, err := NewModel(testOrigin(), 2400, p, nil)
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		bearing := rng.Float64() * 360
		d1 := 1 + rng.Float64()*50000
		d2 := 1 + rng.Float64()*50000
		if d1 > d2 {
			d1, d2 = d2, d1
		}

		l1 := m.ReceivedLevel(d1, bearing)
		l2 := m.ReceivedLevel(d2, bearing)
		if l2 > l1+1e-9 {
			t.Fatalf("level increased with distance: %v dB at %vm vs %v dB at %vm (bearing %v)",
				l1, d1, l2, d2, bearing)
		}
	}
}

func TestReceivedSpectrumBanded(t *testing.T) {
	p := DefaultParams()
	p.SourceSpectrum = make(Spectrum, len(ThirdOctaveBands))
	p.AbsorptionDBPerKM = make(Spectrum, len(ThirdOctaveBands))
	for i := range p.SourceSpectrum {
		p.SourceSpectrum[i] = 70
		// Absorption grows with frequency, as it does physically.
		p.AbsorptionDBPerKM[i] = float64(i) * 0.5
	}

	m, err := NewModel(testOrigin(), 2400, p, nil)
	if err != nil {
		t.Fatal(err)
	}

	spec := m.ReceivedSpectrum(5000, 90)
	if len(spec) != len(ThirdOctaveBands) {
		t.Fatalf("expected %d bands, got %d", len(ThirdOctaveBands), len(spec))
	}
	// Higher bands attenuate more beyond the reference distance.
	for i := 1; i < len(spec); i++ {
		if spec[i] > spec[i-1]+1e-9 {
			t.Fatalf("band %d louder than band %d at long range", i, i-1)
		}
	}
}

func TestParamsValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
		param  string
	}{
		{"NaN source level", func(p *Params) { p.SourceLevelDB = math.NaN() }, "source_level_db"},
		{"negative source level", func(p *Params) { p.SourceLevelDB = -5 }, "source_level_db"},
		{"zero ref distance", func(p *Params) { p.RefDistanceM = 0 }, "ref_distance_m"},
		{"negative absorption", func(p *Params) { p.AbsorptionDBPerKM = Broadband(-1) }, "absorption_db_per_km[0]"},
		{"no absorption", func(p *Params) { p.AbsorptionDBPerKM = nil }, "absorption_db_per_km"},
		{"wrong band count", func(p *Params) { p.AbsorptionDBPerKM = Spectrum{1, 2, 3} }, "absorption_db_per_km"},
		{"negative scale", func(p *Params) { p.AbsorptionScale = -0.1 }, "absorption_scale"},
		{"NaN ground factor", func(p *Params) { p.GroundFactor = math.NaN() }, "ground_factor"},
		{"negative occlusion", func(p *Params) { p.OcclusionLossDB = -3 }, "occlusion_loss_db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)

			_, err := NewModel(testOrigin(), 0, p, nil)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var iperr *InvalidParameterError
			if !errors.As(err, &iperr) {
				t.Fatalf("expected InvalidParameterError, got %T", err)
			}
			if iperr.Param != tt.param {
				t.Errorf("offending param = %q, want %q", iperr.Param, tt.param)
			}
		})
	}
}

// ridgeSampler raises a terrain wall north of the origin.
type ridgeSampler struct {
	origin geo.Point
}

func (r ridgeSampler) ElevationAt(p geo.Point) float64 {
	bearing := geo.BearingDeg(r.origin, p)
	dist := geo.DistanceM(r.origin, p)
	if (bearing < 45 || bearing > 315) && dist > 2000 && dist < 3000 {
		return 5000 // ridge well above the sight line
	}
	return 2400
}

func TestTerrainOcclusionPenalty(t *testing.T) {
	origin := testOrigin()
	p := DefaultParams()
	m, err := NewModel(origin, 2400, p, ridgeSampler{origin: origin})
	if err != nil {
		t.Fatal(err)
	}

	blocked := m.ReceivedLevel(10000, 0)  // north, behind the ridge
	open := m.ReceivedLevel(10000, 180)   // south, clear
	if diff := open - blocked; math.Abs(diff-p.OcclusionLossDB) > 1e-9 {
		t.Errorf("occlusion penalty = %v dB, want %v", diff, p.OcclusionLossDB)
	}
}

// pocketSampler puts a low ridge in front of the origin and high ground far
// beyond it, terrain where the ridge hides a stretch of the bearing while
// higher positions past it can still see the receiver.
type pocketSampler struct {
	origin geo.Point
}

func (r pocketSampler) ElevationAt(p geo.Point) float64 {
	d := geo.DistanceM(r.origin, p)
	switch {
	case d >= 8000 && d < 9500:
		return 400
	case d > 20000:
		return (d - 20000) * 0.1
	default:
		return 0
	}
}

func TestOcclusionStickyBeyondRidge(t *testing.T) {
	origin := testOrigin()
	p := DefaultParams()
	p.AbsorptionDBPerKM = Broadband(0)
	p.GroundFactor = 0
	m, err := NewModel(origin, 0, p, pocketSampler{origin: origin})
	if err != nil {
		t.Fatal(err)
	}

	// High far terrain must not lift the penalty that applies closer in:
	// the level stays monotone through and beyond the ridge.
	prev := math.Inf(1)
	for _, d := range []float64{5000, 10000, 15000, 25000, 30000} {
		got := m.ReceivedLevel(d, 0)
		if got > prev+1e-9 {
			t.Fatalf("level increased with distance: %.2f dB at %.0fm after %.2f dB", got, d, prev)
		}
		prev = got
	}

	open, blocked := m.ReceivedLevel(5000, 0), m.ReceivedLevel(30000, 0)
	if open-blocked < p.OcclusionLossDB {
		t.Errorf("occlusion not applied beyond the ridge: %.2f dB at 5km vs %.2f dB at 30km", open, blocked)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	p := DefaultParams()
	p.SourceSpectrum = Broadband(80)

	q := p.Clone()
	q.SourceSpectrum[0] = 100
	q.AbsorptionDBPerKM[0] = 99

	if p.SourceSpectrum[0] != 80 {
		t.Error("clone shares source spectrum backing array")
	}
	if p.AbsorptionDBPerKM[0] == 99 {
		t.Error("clone shares absorption backing array")
	}
}
