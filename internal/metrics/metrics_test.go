package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundscape-data/activespace/internal/track"
)

func result(id string, audible, total time.Duration, events int) *track.IntersectionResult {
	return &track.IntersectionResult{
		TrackID:         id,
		PolygonID:       "poly-1",
		AudibleDuration: audible,
		EventCount:      events,
		TrackDuration:   total,
	}
}

func TestSummarizeTotals(t *testing.T) {
	results := []*track.IntersectionResult{
		result("a", 2*time.Minute, 10*time.Minute, 1),
		result("b", 3*time.Minute, 10*time.Minute, 2),
		result("c", 0, 10*time.Minute, 0),
	}

	s := Summarize(results)

	require.Len(t, s.Tracks, 3)
	assert.Equal(t, 5*time.Minute, s.TotalAudible)
	assert.Equal(t, 30*time.Minute, s.TotalDuration)
	assert.Equal(t, 3, s.TotalEvents)
	assert.Equal(t, 2, s.AudibleTracks)
	assert.InDelta(t, 5.0/30.0, s.OverallFraction, 1e-12)
}

func TestSummarizePerTrackFraction(t *testing.T) {
	s := Summarize([]*track.IntersectionResult{
		result("a", 90*time.Second, 6*time.Minute, 1),
	})
	require.Len(t, s.Tracks, 1)
	assert.InDelta(t, 0.25, s.Tracks[0].AudibleFraction, 1e-12)
}

func TestSummarizeDistribution(t *testing.T) {
	results := []*track.IntersectionResult{
		result("a", 10*time.Second, time.Minute, 1),
		result("b", 20*time.Second, time.Minute, 1),
		result("c", 30*time.Second, time.Minute, 1),
		result("d", 40*time.Second, time.Minute, 1),
	}

	s := Summarize(results)

	assert.InDelta(t, 25, s.MeanAudibleSec, 1e-9)
	assert.GreaterOrEqual(t, s.MedianAudibleSec, 20.0)
	assert.LessOrEqual(t, s.MedianAudibleSec, 30.0)
	assert.GreaterOrEqual(t, s.P90AudibleSec, 30.0)
	assert.LessOrEqual(t, s.P90AudibleSec, 40.0)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Empty(t, s.Tracks)
	assert.Zero(t, s.TotalEvents)
	assert.Zero(t, s.OverallFraction)
	assert.Zero(t, s.MeanAudibleSec)
	assert.Zero(t, s.MedianAudibleSec)
}
