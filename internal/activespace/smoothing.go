package activespace

import (
	"fmt"

	"gonum.org/v1/gonum/interp"
)

// Smoothing method names accepted in configuration.
const (
	SmoothingNone          = "none"
	SmoothingMovingAverage = "moving_average"
	SmoothingSpline        = "spline"
)

// ValidSmoothingMethods lists the accepted smoothing method names.
var ValidSmoothingMethods = []string{SmoothingNone, SmoothingMovingAverage, SmoothingSpline}

// IsValidSmoothingMethod checks if the given method name is known.
func IsValidSmoothingMethod(method string) bool {
	for _, m := range ValidSmoothingMethods {
		if method == m {
			return true
		}
	}
	return false
}

// smoothRadii applies the configured smoothing to the per-bearing radii.
// Radii are periodic in bearing, so both methods wrap around the sweep;
// the closed-ring invariant is preserved by construction. Inaudible (zero)
// radii participate like any other value.
func smoothRadii(radii []float64, method string, window int) ([]float64, error) {
	switch method {
	case "", SmoothingNone:
		return radii, nil
	case SmoothingMovingAverage:
		return movingAverageCircular(radii, window), nil
	case SmoothingSpline:
		return splineResampleCircular(radii, window)
	default:
		return nil, fmt.Errorf("unknown smoothing method %q", method)
	}
}

// movingAverageCircular smooths the radii with a centred window that wraps
// around the 0/360 seam. window is the half-width; a window of 0 is a
// no-op.
func movingAverageCircular(radii []float64, window int) []float64 {
	n := len(radii)
	if n == 0 || window <= 0 {
		return radii
	}
	out := make([]float64, n)
	for i := range radii {
		var sum float64
		count := 0
		for k := -window; k <= window; k++ {
			sum += radii[((i+k)%n+n)%n]
			count++
		}
		out[i] = sum / float64(count)
	}
	return out
}

// splineResampleCircular thins the radii to every windowth sample, fits a
// natural cubic spline through the control points, and resamples at the
// original bearings. The control points are padded past both ends of the
// sweep so the fit sees the periodic continuation and the seam stays
// smooth.
func splineResampleCircular(radii []float64, window int) ([]float64, error) {
	n := len(radii)
	if n == 0 || window <= 1 {
		return radii, nil
	}
	if n/window < 3 {
		return nil, fmt.Errorf("spline smoothing window %d leaves fewer than 3 control points for %d samples", window, n)
	}

	step := 360.0 / float64(n)

	// Control points every windowth sample, padded one sweep period on each
	// side using the periodicity of the radii.
	const pad = 3
	var xs, ys []float64
	for c := -pad; c < n/window+pad; c++ {
		idx := ((c * window % n) + n) % n
		xs = append(xs, float64(c*window)*step)
		ys = append(ys, radii[idx])
	}

	var spline interp.NaturalCubic
	if err := spline.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("spline fit failed: %w", err)
	}

	out := make([]float64, n)
	for i := range out {
		v := spline.Predict(float64(i) * step)
		if v < 0 {
			v = 0 // radii are distances; splines can overshoot near zero
		}
		out[i] = v
	}
	return out, nil
}
