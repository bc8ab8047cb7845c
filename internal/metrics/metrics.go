// Package metrics aggregates track intersection results into acoustic
// exposure summaries. Pure aggregation: no geometry is recomputed here.
package metrics

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/soundscape-data/activespace/internal/track"
)

// TrackMetrics is one output row per track.
type TrackMetrics struct {
	TrackID         string        `json:"track_id"`
	PolygonID       string        `json:"polygon_id"`
	AudibleDuration time.Duration `json:"audible_duration"`
	EventCount      int           `json:"event_count"`
	TrackDuration   time.Duration `json:"track_duration"`
	AudibleFraction float64       `json:"audible_fraction"`
	GapCount        int           `json:"gap_count"`
}

// Summary aggregates exposure across a batch of tracks.
type Summary struct {
	Tracks []TrackMetrics `json:"tracks"`

	TotalAudible    time.Duration `json:"total_audible"`
	TotalDuration   time.Duration `json:"total_duration"`
	TotalEvents     int           `json:"total_events"`
	AudibleTracks   int           `json:"audible_tracks"`
	OverallFraction float64       `json:"overall_fraction"`

	// Distribution of per-track audible durations, seconds.
	MeanAudibleSec   float64 `json:"mean_audible_sec"`
	MedianAudibleSec float64 `json:"median_audible_sec"`
	P90AudibleSec    float64 `json:"p90_audible_sec"`
}

// Summarize aggregates intersection results across one or many tracks:
// total audible duration, discrete audible event counts (each interval is
// one event) and the audible fraction of total track time.
func Summarize(results []*track.IntersectionResult) Summary {
	s := Summary{Tracks: make([]TrackMetrics, 0, len(results))}

	durations := make([]float64, 0, len(results))
	for _, r := range results {
		m := TrackMetrics{
			TrackID:         r.TrackID,
			PolygonID:       r.PolygonID,
			AudibleDuration: r.AudibleDuration,
			EventCount:      r.EventCount,
			TrackDuration:   r.TrackDuration,
			AudibleFraction: r.AudibleFraction(),
			GapCount:        r.GapCount,
		}
		s.Tracks = append(s.Tracks, m)

		s.TotalAudible += r.AudibleDuration
		s.TotalDuration += r.TrackDuration
		s.TotalEvents += r.EventCount
		if r.EventCount > 0 {
			s.AudibleTracks++
		}
		durations = append(durations, r.AudibleDuration.Seconds())
	}

	if s.TotalDuration > 0 {
		s.OverallFraction = float64(s.TotalAudible) / float64(s.TotalDuration)
	}

	if len(durations) > 0 {
		sort.Float64s(durations)
		s.MeanAudibleSec = stat.Mean(durations, nil)
		s.MedianAudibleSec = stat.Quantile(0.5, stat.Empirical, durations, nil)
		s.P90AudibleSec = stat.Quantile(0.9, stat.Empirical, durations, nil)
	}

	return s
}
