// Package track models time-ordered vehicle tracks and their intersection
// with active-space polygons.
package track

import (
	"fmt"
	"sort"
	"time"

	"github.com/soundscape-data/activespace/internal/geo"
)

// Point is one track sample: a position fix with a timestamp.
type Point struct {
	Time      time.Time `json:"time"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	AltitudeM float64   `json:"altitude_m"`
}

// Coord returns the sample's geographic coordinate.
func (p Point) Coord() geo.Point {
	return geo.NewPoint(p.Lat, p.Lon)
}

// Track is an ordered sequence of samples for one vehicle flight, strictly
// increasing in time with no duplicate timestamps.
type Track struct {
	ID        string  `json:"id"`
	VehicleID string  `json:"vehicle_id"`
	Points    []Point `json:"points"`
}

// InconsistentTrackError reports a track whose samples violate the time
// ordering invariants, or an intersection that produced an inverted
// interval. Fatal for that track only; batch processing continues with the
// remaining tracks.
type InconsistentTrackError struct {
	TrackID string
	Reason  string
}

func (e *InconsistentTrackError) Error() string {
	return fmt.Sprintf("inconsistent track %s: %s", e.TrackID, e.Reason)
}

// Validate checks the strict time ordering invariant.
func (t Track) Validate() error {
	if len(t.Points) == 0 {
		return &InconsistentTrackError{TrackID: t.ID, Reason: "no samples"}
	}
	for i := 1; i < len(t.Points); i++ {
		prev, cur := t.Points[i-1].Time, t.Points[i].Time
		if cur.Equal(prev) {
			return &InconsistentTrackError{TrackID: t.ID,
				Reason: fmt.Sprintf("duplicate timestamp %s at sample %d", cur.Format(time.RFC3339), i)}
		}
		if cur.Before(prev) {
			return &InconsistentTrackError{TrackID: t.ID,
				Reason: fmt.Sprintf("non-monotone timestamp at sample %d (%s before %s)",
					i, cur.Format(time.RFC3339), prev.Format(time.RFC3339))}
		}
	}
	return nil
}

// Duration returns the elapsed time between the first and last samples.
func (t Track) Duration() time.Duration {
	if len(t.Points) < 2 {
		return 0
	}
	return t.Points[len(t.Points)-1].Time.Sub(t.Points[0].Time)
}

// DefaultSessionGap is the inter-sample gap beyond which a vehicle's
// samples are considered separate flights, matching the 900 s threshold
// used by the NPS ADS-B loggers.
const DefaultSessionGap = 15 * time.Minute

// SplitSessions sorts a vehicle's raw samples by time and splits them into
// separate flight tracks wherever consecutive samples are further apart
// than gap. Duplicate timestamps collapse to the last sample seen.
// Single-sample flights carry no usable trajectory and are dropped.
//
// Track IDs follow the logger convention vehicleID_n_YYYYMMDD.
func SplitSessions(vehicleID string, points []Point, gap time.Duration) []Track {
	if len(points) == 0 {
		return nil
	}
	if gap <= 0 {
		gap = DefaultSessionGap
	}

	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	// Collapse duplicate timestamps, keeping the last record.
	deduped := sorted[:0]
	for _, p := range sorted {
		if len(deduped) > 0 && deduped[len(deduped)-1].Time.Equal(p.Time) {
			deduped[len(deduped)-1] = p
			continue
		}
		deduped = append(deduped, p)
	}

	var tracks []Track
	session := 0
	start := 0
	flush := func(end int) {
		pts := deduped[start:end]
		if len(pts) < 2 {
			return
		}
		cp := make([]Point, len(pts))
		copy(cp, pts)
		tracks = append(tracks, Track{
			ID:        fmt.Sprintf("%s_%d_%s", vehicleID, session, pts[0].Time.UTC().Format("20060102")),
			VehicleID: vehicleID,
			Points:    cp,
		})
		session++
	}

	for i := 1; i < len(deduped); i++ {
		if deduped[i].Time.Sub(deduped[i-1].Time) >= gap {
			flush(i)
			start = i
		}
	}
	flush(len(deduped))

	return tracks
}
