package track

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/soundscape-data/activespace/internal/activespace"
	"github.com/soundscape-data/activespace/internal/geo"
)

// crossingIterations bounds the bisection that locates a boundary crossing
// on a track segment. 20 halvings resolve the crossing to about one
// millionth of the segment.
const crossingIterations = 20

// Interval is a contiguous span during which the vehicle was inside the
// active space. Entry is strictly before Exit.
type Interval struct {
	Entry time.Time `json:"entry"`
	Exit  time.Time `json:"exit"`

	// LowConfidence marks intervals whose entry or exit crossing was
	// interpolated inside a flagged sample gap.
	LowConfidence bool `json:"low_confidence,omitempty"`
}

// Duration returns the interval length.
func (iv Interval) Duration() time.Duration {
	return iv.Exit.Sub(iv.Entry)
}

// IntersectionResult holds the audible intervals for one track against one
// polygon. Results are derived values: recompute on any polygon or track
// change, never mutate in place.
type IntersectionResult struct {
	TrackID   string     `json:"track_id"`
	PolygonID string     `json:"polygon_id"`
	Intervals []Interval `json:"intervals"`

	AudibleDuration time.Duration `json:"audible_duration"`
	EventCount      int           `json:"event_count"`
	TrackDuration   time.Duration `json:"track_duration"`

	// GapCount is the number of sample gaps exceeding the configured
	// threshold. Gaps are flagged, not fatal.
	GapCount int `json:"gap_count"`

	// FlaggedGaps lists the flagged gap spans in track order.
	FlaggedGaps []Interval `json:"flagged_gaps,omitempty"`
}

// AudibleFraction returns audible duration over total track duration, the
// track's duty cycle inside the active space.
func (r *IntersectionResult) AudibleFraction() float64 {
	if r.TrackDuration <= 0 {
		return 0
	}
	return float64(r.AudibleDuration) / float64(r.TrackDuration)
}

// IntersectConfig controls track intersection.
type IntersectConfig struct {
	// MaxGap flags sample gaps longer than this. Crossings interpolated
	// inside a flagged gap are marked low confidence since constant
	// velocity cannot be assumed across it.
	MaxGap time.Duration `json:"max_gap"`
}

// DefaultIntersectConfig flags gaps longer than a minute.
func DefaultIntersectConfig() IntersectConfig {
	return IntersectConfig{MaxGap: time.Minute}
}

// Intersector computes audible intervals of vehicle tracks against a fixed
// active-space polygon. Read-only over the polygon, safe for concurrent
// per-track use.
type Intersector struct {
	poly *activespace.Polygon
	cfg  IntersectConfig
}

// NewIntersector validates the polygon geometry once up front so every
// track is classified against a known-simple ring.
func NewIntersector(poly *activespace.Polygon, cfg IntersectConfig) (*Intersector, error) {
	if err := poly.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxGap <= 0 {
		cfg.MaxGap = DefaultIntersectConfig().MaxGap
	}
	return &Intersector{poly: poly, cfg: cfg}, nil
}

// Intersect walks the track and produces the time-ordered set of intervals
// during which the vehicle was inside the polygon. Boundary samples count
// as inside. When the inside/outside state flips between consecutive
// samples, the crossing position is located by bisection on the segment and
// the crossing time by linear interpolation.
func (ix *Intersector) Intersect(t Track) (*IntersectionResult, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	res := &IntersectionResult{
		TrackID:       t.ID,
		PolygonID:     ix.poly.ID,
		TrackDuration: t.Duration(),
	}

	inside := ix.poly.Contains(t.Points[0].Coord())
	var entry time.Time
	var entryLowConf bool
	if inside {
		// Track starts inside: the interval opens at the first sample.
		entry = t.Points[0].Time
	}

	for i := 1; i < len(t.Points); i++ {
		prev, cur := t.Points[i-1], t.Points[i]
		gap := cur.Time.Sub(prev.Time)
		flaggedGap := gap > ix.cfg.MaxGap
		if flaggedGap {
			res.GapCount++
			res.FlaggedGaps = append(res.FlaggedGaps, Interval{Entry: prev.Time, Exit: cur.Time})
		}

		nowInside := ix.poly.Contains(cur.Coord())
		if nowInside == inside {
			continue
		}

		crossing := ix.crossingTime(prev, cur, inside)
		if nowInside {
			entry = crossing
			entryLowConf = flaggedGap
		} else {
			if err := res.appendInterval(t.ID, Interval{
				Entry:         entry,
				Exit:          crossing,
				LowConfidence: entryLowConf || flaggedGap,
			}); err != nil {
				return nil, err
			}
		}
		inside = nowInside
	}

	if inside {
		// Track ends inside: close the interval at the last sample.
		last := t.Points[len(t.Points)-1].Time
		if err := res.appendInterval(t.ID, Interval{Entry: entry, Exit: last, LowConfidence: entryLowConf}); err != nil {
			return nil, err
		}
	}

	res.EventCount = len(res.Intervals)
	for _, iv := range res.Intervals {
		res.AudibleDuration += iv.Duration()
	}
	return res, nil
}

// appendInterval enforces the non-inverted, non-overlapping, time-ordered
// interval invariants as intervals are produced.
func (r *IntersectionResult) appendInterval(trackID string, iv Interval) error {
	if !iv.Entry.Before(iv.Exit) {
		return &InconsistentTrackError{TrackID: trackID,
			Reason: "intersection produced a zero-length or inverted interval"}
	}
	if n := len(r.Intervals); n > 0 && iv.Entry.Before(r.Intervals[n-1].Exit) {
		return &InconsistentTrackError{TrackID: trackID,
			Reason: "intersection produced overlapping intervals"}
	}
	r.Intervals = append(r.Intervals, iv)
	return nil
}

// crossingTime bisects the segment between two samples with opposite
// inside/outside states and returns the linearly interpolated crossing
// time. prevInside is the state at the segment start.
func (ix *Intersector) crossingTime(prev, cur Point, prevInside bool) time.Time {
	a, b := prev.Coord(), cur.Coord()
	lo, hi := 0.0, 1.0
	for i := 0; i < crossingIterations; i++ {
		mid := (lo + hi) / 2
		p := geo.Point{a[0] + (b[0]-a[0])*mid, a[1] + (b[1]-a[1])*mid}
		if ix.poly.Contains(p) == prevInside {
			lo = mid
		} else {
			hi = mid
		}
	}
	frac := (lo + hi) / 2
	return prev.Time.Add(time.Duration(frac * float64(cur.Time.Sub(prev.Time))))
}

// TrackError pairs a failed track with its error so a batch run can report
// every failure without aborting the healthy tracks.
type TrackError struct {
	TrackID string
	Err     error
}

func (e TrackError) Error() string {
	return e.Err.Error()
}

// IntersectAll intersects many tracks concurrently. Per-track errors are
// collected and returned alongside the successful results; one bad track
// never aborts the batch. Result order follows input order.
func (ix *Intersector) IntersectAll(ctx context.Context, tracks []Track) ([]*IntersectionResult, []TrackError) {
	results := make([]*IntersectionResult, len(tracks))
	errs := make([]error, len(tracks))

	var wg sync.WaitGroup
	sem := make(chan struct{}, 8)
	for i := range tracks {
		if ctx.Err() != nil {
			errs[i] = ctx.Err()
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i], errs[i] = ix.Intersect(tracks[i])
		}(i)
	}
	wg.Wait()

	out := results[:0]
	var trackErrs []TrackError
	for i, r := range results {
		if errs[i] != nil {
			log.Printf("Intersect: track %s failed: %v", tracks[i].ID, errs[i])
			trackErrs = append(trackErrs, TrackError{TrackID: tracks[i].ID, Err: errs[i]})
			continue
		}
		out = append(out, r)
	}
	return out, trackErrs
}
