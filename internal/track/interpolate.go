package track

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/interp"

	"github.com/soundscape-data/activespace/internal/geo"
	"github.com/soundscape-data/activespace/internal/units"
)

// minSplinePoints is the sample count below which densification falls back
// to piecewise-linear interpolation; a cubic spline needs more support.
const minSplinePoints = 4

// Interpolate densifies a sparse track to a fixed time step by fitting an
// interpolating spline through the samples, one per coordinate dimension.
// Coarse ADS-B tracks are densified before intersection so entry and exit
// crossings land close to the true trajectory. Tracks with fewer than
// minSplinePoints samples use linear interpolation instead.
func Interpolate(t Track, step time.Duration) (Track, error) {
	if err := t.Validate(); err != nil {
		return Track{}, err
	}
	if len(t.Points) < 2 {
		return Track{}, &InconsistentTrackError{TrackID: t.ID, Reason: "at least 2 samples required for interpolation"}
	}
	if step <= 0 {
		return Track{}, fmt.Errorf("track %s: interpolation step must be positive, got %v", t.ID, step)
	}

	start := t.Points[0].Time
	ts := make([]float64, len(t.Points))
	lats := make([]float64, len(t.Points))
	lons := make([]float64, len(t.Points))
	alts := make([]float64, len(t.Points))
	for i, p := range t.Points {
		ts[i] = p.Time.Sub(start).Seconds()
		lats[i] = p.Lat
		lons[i] = p.Lon
		alts[i] = p.AltitudeM
	}

	latF, err := fitPredictor(ts, lats, len(t.Points))
	if err != nil {
		return Track{}, fmt.Errorf("track %s: %w", t.ID, err)
	}
	lonF, err := fitPredictor(ts, lons, len(t.Points))
	if err != nil {
		return Track{}, fmt.Errorf("track %s: %w", t.ID, err)
	}
	altF, err := fitPredictor(ts, alts, len(t.Points))
	if err != nil {
		return Track{}, fmt.Errorf("track %s: %w", t.ID, err)
	}

	duration := ts[len(ts)-1]
	stepSec := step.Seconds()

	var points []Point
	for offset := 0.0; offset <= duration; offset += stepSec {
		points = append(points, Point{
			Time:      start.Add(time.Duration(offset * float64(time.Second))),
			Lat:       latF.Predict(offset),
			Lon:       lonF.Predict(offset),
			AltitudeM: altF.Predict(offset),
		})
	}
	// Keep the final sample when the duration is not a step multiple.
	if last := points[len(points)-1]; last.Time.Before(t.Points[len(t.Points)-1].Time) {
		points = append(points, t.Points[len(t.Points)-1])
	}

	return Track{ID: t.ID, VehicleID: t.VehicleID, Points: points}, nil
}

// fitPredictor chooses cubic spline or linear interpolation based on the
// available support.
func fitPredictor(xs, ys []float64, n int) (interp.Predictor, error) {
	if n >= minSplinePoints {
		var spline interp.NaturalCubic
		if err := spline.Fit(xs, ys); err != nil {
			return nil, fmt.Errorf("spline fit: %w", err)
		}
		return &spline, nil
	}
	var lin interp.PiecewiseLinear
	if err := lin.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("linear fit: %w", err)
	}
	return &lin, nil
}

// AudibleShift returns a copy of the track with each sample time shifted
// forward by the sound travel time from the sample position to the
// listening site, so intersection intervals are reported in the time frame
// the listener experienced. speedMPS of 0 uses the nominal speed of sound.
//
// The shift uses slant distance including the altitude difference between
// the aircraft and the site elevation.
func AudibleShift(t Track, site geo.Point, siteElevM, speedMPS float64) Track {
	if speedMPS <= 0 {
		speedMPS = units.SpeedOfSoundMPS
	}

	points := make([]Point, len(t.Points))
	for i, p := range t.Points {
		horiz := geo.DistanceM(site, p.Coord())
		vert := p.AltitudeM - siteElevM
		slant := math.Hypot(horiz, vert)
		delay := time.Duration(slant / speedMPS * float64(time.Second))
		points[i] = p
		points[i].Time = p.Time.Add(delay)
	}
	return Track{ID: t.ID, VehicleID: t.VehicleID, Points: points}
}
