package track

import (
	"errors"
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2023, 6, 15, 12, 0, 0, 0, time.UTC)

func samplesAt(offsets ...time.Duration) []Point {
	pts := make([]Point, len(offsets))
	for i, off := range offsets {
		pts[i] = Point{Time: t0.Add(off), Lat: 44.6, Lon: -110.5, AltitudeM: 3000}
	}
	return pts
}

func TestTrackValidate(t *testing.T) {
	good := Track{ID: "a_0_20230615", Points: samplesAt(0, time.Second, 2*time.Second)}
	if err := good.Validate(); err != nil {
		t.Errorf("valid track rejected: %v", err)
	}

	dup := Track{ID: "dup", Points: samplesAt(0, time.Second, time.Second)}
	var iterr *InconsistentTrackError
	if err := dup.Validate(); !errors.As(err, &iterr) {
		t.Errorf("expected InconsistentTrackError for duplicate timestamps, got %v", err)
	}

	backwards := Track{ID: "back", Points: samplesAt(0, 2*time.Second, time.Second)}
	if err := backwards.Validate(); !errors.As(err, &iterr) {
		t.Errorf("expected InconsistentTrackError for non-monotone timestamps, got %v", err)
	}

	empty := Track{ID: "empty"}
	if err := empty.Validate(); !errors.As(err, &iterr) {
		t.Errorf("expected InconsistentTrackError for empty track, got %v", err)
	}
}

func TestSplitSessions(t *testing.T) {
	// Two flights separated by a 20 minute silence, plus a stray single
	// sample an hour later that must be dropped.
	points := append(samplesAt(0, 10*time.Second, 20*time.Second),
		append(samplesAt(30*time.Minute, 30*time.Minute+15*time.Second),
			samplesAt(2*time.Hour)...)...)

	tracks := SplitSessions("A1B2C3", points, 15*time.Minute)

	if len(tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(tracks))
	}
	if len(tracks[0].Points) != 3 || len(tracks[1].Points) != 2 {
		t.Errorf("track sizes = %d, %d; want 3, 2", len(tracks[0].Points), len(tracks[1].Points))
	}
	if tracks[0].ID != "A1B2C3_0_20230615" {
		t.Errorf("track ID = %q", tracks[0].ID)
	}
	for _, tr := range tracks {
		if err := tr.Validate(); err != nil {
			t.Errorf("session track invalid: %v", err)
		}
	}
}

func TestSplitSessionsDedupesTimestamps(t *testing.T) {
	points := samplesAt(0, time.Second, time.Second, 2*time.Second)
	points[2].AltitudeM = 9999 // later duplicate wins

	tracks := SplitSessions("X", points, 0)
	if len(tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(tracks))
	}
	if len(tracks[0].Points) != 3 {
		t.Fatalf("expected 3 deduped samples, got %d", len(tracks[0].Points))
	}
	if tracks[0].Points[1].AltitudeM != 9999 {
		t.Error("dedupe did not keep the last duplicate sample")
	}
}

func TestSplitSessionsUnsortedInput(t *testing.T) {
	points := samplesAt(20*time.Second, 0, 10*time.Second)
	tracks := SplitSessions("X", points, 0)
	if len(tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(tracks))
	}
	if err := tracks[0].Validate(); err != nil {
		t.Errorf("sessionized track not time ordered: %v", err)
	}
}

func TestInterpolateDensifies(t *testing.T) {
	tr := Track{
		ID: "interp",
		Points: []Point{
			{Time: t0, Lat: 44.60, Lon: -110.60, AltitudeM: 3000},
			{Time: t0.Add(30 * time.Second), Lat: 44.61, Lon: -110.55, AltitudeM: 3100},
			{Time: t0.Add(60 * time.Second), Lat: 44.62, Lon: -110.50, AltitudeM: 3200},
			{Time: t0.Add(90 * time.Second), Lat: 44.63, Lon: -110.45, AltitudeM: 3300},
		},
	}

	dense, err := Interpolate(tr, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	if len(dense.Points) != 91 {
		t.Errorf("expected 91 samples at 1 s step, got %d", len(dense.Points))
	}
	if err := dense.Validate(); err != nil {
		t.Errorf("densified track invalid: %v", err)
	}

	// Endpoints are preserved exactly; the spline interpolates through the
	// original samples.
	first, last := dense.Points[0], dense.Points[len(dense.Points)-1]
	if !first.Time.Equal(t0) || first.Lat != 44.60 {
		t.Errorf("first sample drifted: %+v", first)
	}
	if !last.Time.Equal(t0.Add(90*time.Second)) || math.Abs(last.Lat-44.63) > 1e-9 {
		t.Errorf("last sample drifted: %+v", last)
	}
}

func TestInterpolateLinearFallback(t *testing.T) {
	tr := Track{
		ID: "two-point",
		Points: []Point{
			{Time: t0, Lat: 44.0, Lon: -110.0, AltitudeM: 1000},
			{Time: t0.Add(10 * time.Second), Lat: 45.0, Lon: -111.0, AltitudeM: 2000},
		},
	}

	dense, err := Interpolate(tr, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(dense.Points) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(dense.Points))
	}
	mid := dense.Points[1]
	if mid.Lat != 44.5 || mid.Lon != -110.5 || mid.AltitudeM != 1500 {
		t.Errorf("linear midpoint = %+v", mid)
	}
}

func TestInterpolateRejectsBadInput(t *testing.T) {
	tr := Track{ID: "x", Points: samplesAt(0, time.Second)}
	if _, err := Interpolate(tr, 0); err == nil {
		t.Error("expected error for non-positive step")
	}

	var iterr *InconsistentTrackError
	bad := Track{ID: "bad", Points: samplesAt(time.Second, 0)}
	if _, err := Interpolate(bad, time.Second); !errors.As(err, &iterr) {
		t.Errorf("expected InconsistentTrackError, got %v", err)
	}
}

func TestAudibleShift(t *testing.T) {
	site := sitePoint()
	near := Point{Time: t0, Lat: 44.60, Lon: -110.49, AltitudeM: 2400}
	far := Point{Time: t0, Lat: 44.60, Lon: -110.30, AltitudeM: 2400}

	shifted := AudibleShift(Track{ID: "s", Points: []Point{near, far}}, site, 2400, 0)

	nearDelay := shifted.Points[0].Time.Sub(t0)
	farDelay := shifted.Points[1].Time.Sub(t0)
	if nearDelay <= 0 || farDelay <= 0 {
		t.Fatalf("delays must be positive: %v, %v", nearDelay, farDelay)
	}
	if farDelay <= nearDelay {
		t.Errorf("farther sample delayed less: near %v, far %v", nearDelay, farDelay)
	}

	// ~790 m east at this latitude: just over 2 seconds of sound travel.
	if nearDelay < 2*time.Second || nearDelay > 3*time.Second {
		t.Errorf("near delay = %v, want between 2s and 3s", nearDelay)
	}
}

func TestAudibleShiftUsesSlantDistance(t *testing.T) {
	site := sitePoint()
	overhead := Point{Time: t0, Lat: 44.60, Lon: -110.50, AltitudeM: 2400 + 3430}

	shifted := AudibleShift(Track{ID: "o", Points: []Point{overhead}}, site, 2400, 343)
	delay := shifted.Points[0].Time.Sub(t0)
	if delay < 9*time.Second || delay > 11*time.Second {
		t.Errorf("overhead delay = %v, want ~10s for 3430 m at 343 m/s", delay)
	}
}
