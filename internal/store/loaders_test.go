package store

import (
	"strings"
	"testing"
	"time"
)

func TestReadTrackPointsCSV(t *testing.T) {
	csvData := `time,lat,lon,altitude_m
2023-06-15T12:00:00Z,44.55,-110.55,3000
2023-06-15T12:00:30Z,44.56,-110.54,3050
2023-06-15T12:01:00Z,44.57,-110.53,3100
`
	points, err := ReadTrackPoints(strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("ReadTrackPoints: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("want 3 points, got %d", len(points))
	}
	if points[0].Lat != 44.55 || points[0].Lon != -110.55 || points[0].AltitudeM != 3000 {
		t.Errorf("first point mismatch: %+v", points[0])
	}
	want := time.Date(2023, 6, 15, 12, 0, 30, 0, time.UTC)
	if !points[1].Time.Equal(want) {
		t.Errorf("second timestamp = %v, want %v", points[1].Time, want)
	}
}

func TestReadTrackPointsTSV(t *testing.T) {
	tsvData := "timestamp\tlatitude\tlongitude\talt\n" +
		"1686830400\t44.55\t-110.55\t3000\n" +
		"1686830460\t44.56\t-110.54\t3050\n"

	points, err := ReadTrackPoints(strings.NewReader(tsvData))
	if err != nil {
		t.Fatalf("ReadTrackPoints: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("want 2 points, got %d", len(points))
	}
	if got := points[1].Time.Sub(points[0].Time); got != time.Minute {
		t.Errorf("sample spacing = %v, want 1m", got)
	}
}

func TestReadTrackPointsNoAltitude(t *testing.T) {
	csvData := `time,lat,lon
2023-06-15T12:00:00Z,44.55,-110.55
`
	points, err := ReadTrackPoints(strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("ReadTrackPoints: %v", err)
	}
	if points[0].AltitudeM != 0 {
		t.Errorf("missing altitude should default to 0, got %v", points[0].AltitudeM)
	}
}

func TestReadTrackPointsRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"missing lat column", "time,lon\n2023-06-15T12:00:00Z,-110.55\n"},
		{"bad timestamp", "time,lat,lon\nyesterday,44.55,-110.55\n"},
		{"bad coordinate", "time,lat,lon\n2023-06-15T12:00:00Z,north,-110.55\n"},
		{"no data rows", "time,lat,lon\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ReadTrackPoints(strings.NewReader(tc.data)); err == nil {
				t.Error("want parse error")
			}
		})
	}
}

func TestReadDetectionsGeoJSON(t *testing.T) {
	data := []byte(`{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "geometry": {"type": "Point", "coordinates": [-110.48, 44.62]},
      "properties": {
        "id": "d1",
        "listening_point_id": "YELL-008",
        "onset": "2023-06-15T12:00:00Z",
        "offset": "2023-06-15T12:00:30Z",
        "altitude_m": 3000,
        "audible": true,
        "confidence": 0.9
      }
    },
    {
      "type": "Feature",
      "geometry": {"type": "Point", "coordinates": [-110.40, 44.70]},
      "properties": {"listening_point_id": "YELL-008", "audible": false}
    }
  ]
}`)

	detections, err := ReadDetectionsGeoJSON(data)
	if err != nil {
		t.Fatalf("ReadDetectionsGeoJSON: %v", err)
	}
	if len(detections) != 2 {
		t.Fatalf("want 2 detections, got %d", len(detections))
	}

	d := detections[0]
	if d.ID != "d1" || d.Lat != 44.62 || d.Lon != -110.48 || !d.Audible {
		t.Errorf("first detection mismatch: %+v", d)
	}
	if d.Confidence != 0.9 || d.AltitudeM != 3000 {
		t.Errorf("first detection properties mismatch: %+v", d)
	}
	if !d.Onset.Equal(time.Date(2023, 6, 15, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("onset = %v", d.Onset)
	}

	// Sparse properties fall back to defaults.
	d2 := detections[1]
	if d2.Audible || d2.Confidence != 1 {
		t.Errorf("second detection defaults mismatch: %+v", d2)
	}
	if d2.ID == "" {
		t.Error("missing id should get a generated one")
	}
}

func TestReadDetectionsGeoJSONDropsInvalidated(t *testing.T) {
	data := []byte(`{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "geometry": {"type": "Point", "coordinates": [-110.48, 44.62]},
      "properties": {"id": "kept", "listening_point_id": "YELL-008", "audible": true}
    },
    {
      "type": "Feature",
      "geometry": {"type": "Point", "coordinates": [-110.40, 44.70]},
      "properties": {"id": "struck", "listening_point_id": "YELL-008", "audible": true, "valid": false}
    },
    {
      "type": "Feature",
      "geometry": {"type": "Point", "coordinates": [-110.45, 44.65]},
      "properties": {"id": "reviewed", "listening_point_id": "YELL-008", "audible": false, "valid": true}
    }
  ]
}`)

	detections, err := ReadDetectionsGeoJSON(data)
	if err != nil {
		t.Fatalf("ReadDetectionsGeoJSON: %v", err)
	}
	if len(detections) != 2 {
		t.Fatalf("want 2 detections after filtering, got %d", len(detections))
	}
	for _, d := range detections {
		if d.ID == "struck" {
			t.Error("invalidated annotation survived filtering")
		}
	}
}

func TestReadDetectionsGeoJSONRejectsNonPoint(t *testing.T) {
	data := []byte(`{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "geometry": {"type": "LineString", "coordinates": [[-110.48, 44.62], [-110.40, 44.70]]},
      "properties": {"audible": true}
    }
  ]
}`)
	if _, err := ReadDetectionsGeoJSON(data); err == nil {
		t.Error("want error for non-point geometry")
	}
}
