package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/soundscape-data/activespace/internal/track"
	"github.com/soundscape-data/activespace/internal/tuner"
)

// ReadTrackPoints parses flight track samples from delimited text. The
// first row is a header naming at least time, lat and lon columns;
// altitude is optional and defaults to zero. Comma and tab delimiters are
// both accepted, which covers the exports the GPS loggers produce.
func ReadTrackPoints(r io.Reader) ([]track.Point, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(strings.NewReader(string(data)))
	if i := strings.IndexByte(string(data), '\n'); i > 0 && strings.ContainsRune(string(data[:i]), '\t') {
		cr.Comma = '\t'
	}
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read track header: %w", err)
	}
	cols := map[string]int{}
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}

	timeCol, ok := findColumn(cols, "time", "timestamp", "ltime")
	if !ok {
		return nil, fmt.Errorf("track file has no time column, got header %v", header)
	}
	latCol, ok := findColumn(cols, "lat", "latitude")
	if !ok {
		return nil, fmt.Errorf("track file has no lat column, got header %v", header)
	}
	lonCol, ok := findColumn(cols, "lon", "longitude", "long")
	if !ok {
		return nil, fmt.Errorf("track file has no lon column, got header %v", header)
	}
	altCol, hasAlt := findColumn(cols, "altitude_m", "altitude", "alt", "alt_m")

	var points []track.Point
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("track line %d: %w", line, err)
		}

		ts, err := parseTime(rec[timeCol])
		if err != nil {
			return nil, fmt.Errorf("track line %d: %w", line, err)
		}
		lat, err := strconv.ParseFloat(rec[latCol], 64)
		if err != nil {
			return nil, fmt.Errorf("track line %d: bad lat %q", line, rec[latCol])
		}
		lon, err := strconv.ParseFloat(rec[lonCol], 64)
		if err != nil {
			return nil, fmt.Errorf("track line %d: bad lon %q", line, rec[lonCol])
		}
		var alt float64
		if hasAlt && rec[altCol] != "" {
			alt, err = strconv.ParseFloat(rec[altCol], 64)
			if err != nil {
				return nil, fmt.Errorf("track line %d: bad altitude %q", line, rec[altCol])
			}
		}
		points = append(points, track.Point{Time: ts, Lat: lat, Lon: lon, AltitudeM: alt})
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("track file has no data rows")
	}
	return points, nil
}

func findColumn(cols map[string]int, names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := cols[n]; ok {
			return i, true
		}
	}
	return 0, false
}

// parseTime accepts RFC3339 timestamps, the space-separated variant, and
// unix epoch seconds.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	if sec, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Unix(0, int64(sec*float64(time.Second))).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// ReadDetectionsGeoJSON parses ground-truth detections from a GeoJSON
// FeatureCollection of Point features. Audibility, confidence and the
// observation window live in the feature properties. Annotations
// invalidated during ground-truth review (valid=false) are dropped before
// they can reach the tuner.
func ReadDetectionsGeoJSON(data []byte) ([]tuner.Detection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse detections geojson: %w", err)
	}

	var out []tuner.Detection
	for i, f := range fc.Features {
		if !f.Properties.MustBool("valid", true) {
			continue
		}
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			return nil, fmt.Errorf("detections feature %d: geometry is %T, want Point", i, f.Geometry)
		}

		d := tuner.Detection{
			ID:               f.Properties.MustString("id", fmt.Sprintf("detection-%d", i)),
			ListeningPointID: f.Properties.MustString("listening_point_id", ""),
			Lat:              pt.Lat(),
			Lon:              pt.Lon(),
			AltitudeM:        f.Properties.MustFloat64("altitude_m", 0),
			Audible:          f.Properties.MustBool("audible", true),
			Confidence:       f.Properties.MustFloat64("confidence", 1),
		}
		if s := f.Properties.MustString("onset", ""); s != "" {
			if d.Onset, err = parseTime(s); err != nil {
				return nil, fmt.Errorf("detections feature %d: %w", i, err)
			}
		}
		if s := f.Properties.MustString("offset", ""); s != "" {
			if d.Offset, err = parseTime(s); err != nil {
				return nil, fmt.Errorf("detections feature %d: %w", i, err)
			}
		}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
