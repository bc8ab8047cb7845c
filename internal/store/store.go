// Package store persists listening points, active space polygons, ground
// truth detections, flight tracks and intersection results in sqlite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/soundscape-data/activespace/internal/activespace"
	"github.com/soundscape-data/activespace/internal/metrics"
	"github.com/soundscape-data/activespace/internal/track"
	"github.com/soundscape-data/activespace/internal/tuner"
)

type DB struct {
	*sql.DB
}

// Open opens (or creates) the sqlite database at path and applies any
// pending migrations.
func Open(path string) (*DB, error) {
	sdb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db := &DB{sdb}
	if err := db.MigrateUp(); err != nil {
		sdb.Close()
		return nil, err
	}
	return db, nil
}

// SaveListeningPoint inserts or replaces a listening point.
func (db *DB) SaveListeningPoint(lp activespace.ListeningPoint) error {
	if err := lp.Validate(); err != nil {
		return err
	}
	ambient, err := json.Marshal(lp.Ambient)
	if err != nil {
		return fmt.Errorf("failed to encode ambient spectrum: %w", err)
	}
	_, err = db.Exec(
		`INSERT OR REPLACE INTO listening_points (
			id, name, lat, lon, elevation_m, ambient, threshold_margin_db
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		lp.ID, lp.Name, lp.Lat, lp.Lon, lp.ElevationM, string(ambient), lp.ThresholdMarginDB,
	)
	return err
}

// ListeningPoint loads a listening point by id.
func (db *DB) ListeningPoint(id string) (activespace.ListeningPoint, error) {
	var lp activespace.ListeningPoint
	var ambient string
	err := db.QueryRow(
		`SELECT id, name, lat, lon, elevation_m, ambient, threshold_margin_db
		 FROM listening_points WHERE id = ?`, id,
	).Scan(&lp.ID, &lp.Name, &lp.Lat, &lp.Lon, &lp.ElevationM, &ambient, &lp.ThresholdMarginDB)
	if err == sql.ErrNoRows {
		return lp, fmt.Errorf("listening point %s not found", id)
	}
	if err != nil {
		return lp, err
	}
	if err := json.Unmarshal([]byte(ambient), &lp.Ambient); err != nil {
		return lp, fmt.Errorf("failed to decode ambient spectrum for %s: %w", id, err)
	}
	return lp, nil
}

// ListeningPoints loads every listening point, ordered by id.
func (db *DB) ListeningPoints() ([]activespace.ListeningPoint, error) {
	rows, err := db.Query(
		`SELECT id, name, lat, lon, elevation_m, ambient, threshold_margin_db
		 FROM listening_points ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []activespace.ListeningPoint
	for rows.Next() {
		var lp activespace.ListeningPoint
		var ambient string
		if err := rows.Scan(&lp.ID, &lp.Name, &lp.Lat, &lp.Lon, &lp.ElevationM,
			&ambient, &lp.ThresholdMarginDB); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ambient), &lp.Ambient); err != nil {
			return nil, fmt.Errorf("failed to decode ambient spectrum for %s: %w", lp.ID, err)
		}
		out = append(out, lp)
	}
	return out, rows.Err()
}

// SavePolygon inserts or replaces a built active space polygon. The ring,
// sweep samples and parameter set are stored as JSON columns: they are
// read back whole, never queried into.
func (db *DB) SavePolygon(p *activespace.Polygon) error {
	if err := p.Validate(); err != nil {
		return err
	}
	ring, err := json.Marshal(p.Ring)
	if err != nil {
		return fmt.Errorf("failed to encode ring: %w", err)
	}
	samples, err := json.Marshal(p.Samples)
	if err != nil {
		return fmt.Errorf("failed to encode samples: %w", err)
	}
	params, err := json.Marshal(p.Params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	saturated, err := json.Marshal(p.SaturatedBearings)
	if err != nil {
		return fmt.Errorf("failed to encode saturated bearings: %w", err)
	}
	_, err = db.Exec(
		`INSERT OR REPLACE INTO polygons (
			id, listening_point_id, crs, bearing_step_deg, smoothing,
			params, ring, samples, saturated_bearings, built_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ListeningPointID, p.CRS, p.BearingStepDeg, p.Smoothing,
		string(params), string(ring), string(samples), string(saturated),
		p.BuiltAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Polygon loads a polygon by id.
func (db *DB) Polygon(id string) (*activespace.Polygon, error) {
	row := db.QueryRow(
		`SELECT id, listening_point_id, crs, bearing_step_deg, smoothing,
		        params, ring, samples, saturated_bearings, built_at
		 FROM polygons WHERE id = ?`, id)
	p, err := scanPolygon(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("polygon %s not found", id)
	}
	return p, err
}

// Polygons loads every polygon built for a listening point, newest first.
func (db *DB) Polygons(listeningPointID string) ([]*activespace.Polygon, error) {
	rows, err := db.Query(
		`SELECT id, listening_point_id, crs, bearing_step_deg, smoothing,
		        params, ring, samples, saturated_bearings, built_at
		 FROM polygons WHERE listening_point_id = ? ORDER BY built_at DESC`,
		listeningPointID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*activespace.Polygon
	for rows.Next() {
		p, err := scanPolygon(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// rowScanner lets scanPolygon work for both QueryRow and Query results.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolygon(row rowScanner) (*activespace.Polygon, error) {
	var p activespace.Polygon
	var params, ring, samples, builtAt string
	var saturated sql.NullString
	if err := row.Scan(&p.ID, &p.ListeningPointID, &p.CRS, &p.BearingStepDeg,
		&p.Smoothing, &params, &ring, &samples, &saturated, &builtAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &p.Params); err != nil {
		return nil, fmt.Errorf("failed to decode params for %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(ring), &p.Ring); err != nil {
		return nil, fmt.Errorf("failed to decode ring for %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(samples), &p.Samples); err != nil {
		return nil, fmt.Errorf("failed to decode samples for %s: %w", p.ID, err)
	}
	if saturated.Valid && saturated.String != "" {
		if err := json.Unmarshal([]byte(saturated.String), &p.SaturatedBearings); err != nil {
			return nil, fmt.Errorf("failed to decode saturated bearings for %s: %w", p.ID, err)
		}
	}
	t, err := time.Parse(time.RFC3339Nano, builtAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse built_at for %s: %w", p.ID, err)
	}
	p.BuiltAt = t
	return &p, nil
}

// SaveDetections inserts or replaces ground-truth detections.
func (db *DB) SaveDetections(detections []tuner.Detection) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO detections (
			id, listening_point_id, onset_ns, offset_ns, lat, lon,
			altitude_m, audible, confidence
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range detections {
		if err := d.Validate(); err != nil {
			return err
		}
		if _, err := stmt.Exec(d.ID, d.ListeningPointID,
			d.Onset.UnixNano(), d.Offset.UnixNano(),
			d.Lat, d.Lon, d.AltitudeM, d.Audible, d.Confidence); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Detections loads the ground-truth detections for a listening point.
func (db *DB) Detections(listeningPointID string) ([]tuner.Detection, error) {
	rows, err := db.Query(
		`SELECT id, listening_point_id, onset_ns, offset_ns, lat, lon,
		        altitude_m, audible, confidence
		 FROM detections WHERE listening_point_id = ? ORDER BY onset_ns, id`,
		listeningPointID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tuner.Detection
	for rows.Next() {
		var d tuner.Detection
		var onset, offset int64
		if err := rows.Scan(&d.ID, &d.ListeningPointID, &onset, &offset,
			&d.Lat, &d.Lon, &d.AltitudeM, &d.Audible, &d.Confidence); err != nil {
			return nil, err
		}
		d.Onset = time.Unix(0, onset).UTC()
		d.Offset = time.Unix(0, offset).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveTrack inserts or replaces a track and all of its points in one
// transaction.
func (db *DB) SaveTrack(t track.Track) error {
	if err := t.Validate(); err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	first, last := t.Points[0].Time, t.Points[len(t.Points)-1].Time
	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO tracks (id, vehicle_id, start_ns, end_ns, point_count)
		 VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.VehicleID, first.UnixNano(), last.UnixNano(), len(t.Points),
	); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM track_points WHERE track_id = ?`, t.ID); err != nil {
		return err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO track_points (track_id, seq, ts_ns, lat, lon, altitude_m)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, pt := range t.Points {
		if _, err := stmt.Exec(t.ID, i, pt.Time.UnixNano(), pt.Lat, pt.Lon, pt.AltitudeM); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Track loads a track and its points by id.
func (db *DB) Track(id string) (track.Track, error) {
	t := track.Track{ID: id}
	err := db.QueryRow(`SELECT vehicle_id FROM tracks WHERE id = ?`, id).Scan(&t.VehicleID)
	if err == sql.ErrNoRows {
		return t, fmt.Errorf("track %s not found", id)
	}
	if err != nil {
		return t, err
	}

	rows, err := db.Query(
		`SELECT ts_ns, lat, lon, altitude_m FROM track_points
		 WHERE track_id = ? ORDER BY seq`, id)
	if err != nil {
		return t, err
	}
	defer rows.Close()

	for rows.Next() {
		var ns int64
		var pt track.Point
		if err := rows.Scan(&ns, &pt.Lat, &pt.Lon, &pt.AltitudeM); err != nil {
			return t, err
		}
		pt.Time = time.Unix(0, ns).UTC()
		t.Points = append(t.Points, pt)
	}
	return t, rows.Err()
}

// TrackIDs lists every stored track id, ordered by start time.
func (db *DB) TrackIDs() ([]string, error) {
	rows, err := db.Query(`SELECT id FROM tracks ORDER BY start_ns, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SaveIntersection replaces the stored intervals and metrics row for one
// track/polygon pair.
func (db *DB) SaveIntersection(r *track.IntersectionResult) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM intersections WHERE track_id = ? AND polygon_id = ?`,
		r.TrackID, r.PolygonID); err != nil {
		return err
	}
	for i, iv := range r.Intervals {
		if _, err := tx.Exec(
			`INSERT INTO intersections (track_id, polygon_id, seq, entry_ns, exit_ns, low_confidence)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			r.TrackID, r.PolygonID, i, iv.Entry.UnixNano(), iv.Exit.UnixNano(), iv.LowConfidence,
		); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO track_metrics (
			track_id, polygon_id, audible_seconds, event_count,
			track_seconds, audible_fraction, gap_count
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.TrackID, r.PolygonID, r.AudibleDuration.Seconds(), r.EventCount,
		r.TrackDuration.Seconds(), r.AudibleFraction(), r.GapCount,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Intersections loads the stored result for one track/polygon pair.
func (db *DB) Intersections(trackID, polygonID string) (*track.IntersectionResult, error) {
	r := &track.IntersectionResult{TrackID: trackID, PolygonID: polygonID}

	var audibleSec, trackSec float64
	err := db.QueryRow(
		`SELECT audible_seconds, event_count, track_seconds, gap_count
		 FROM track_metrics WHERE track_id = ? AND polygon_id = ?`,
		trackID, polygonID,
	).Scan(&audibleSec, &r.EventCount, &trackSec, &r.GapCount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no intersection stored for track %s polygon %s", trackID, polygonID)
	}
	if err != nil {
		return nil, err
	}
	r.AudibleDuration = time.Duration(audibleSec * float64(time.Second))
	r.TrackDuration = time.Duration(trackSec * float64(time.Second))

	rows, err := db.Query(
		`SELECT entry_ns, exit_ns, low_confidence FROM intersections
		 WHERE track_id = ? AND polygon_id = ? ORDER BY seq`,
		trackID, polygonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var entry, exit int64
		var iv track.Interval
		if err := rows.Scan(&entry, &exit, &iv.LowConfidence); err != nil {
			return nil, err
		}
		iv.Entry = time.Unix(0, entry).UTC()
		iv.Exit = time.Unix(0, exit).UTC()
		r.Intervals = append(r.Intervals, iv)
	}
	return r, rows.Err()
}

// TrackMetricsFor loads the stored per-track metrics rows for a polygon.
func (db *DB) TrackMetricsFor(polygonID string) ([]metrics.TrackMetrics, error) {
	rows, err := db.Query(
		`SELECT track_id, polygon_id, audible_seconds, event_count,
		        track_seconds, audible_fraction, gap_count
		 FROM track_metrics WHERE polygon_id = ? ORDER BY track_id`, polygonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []metrics.TrackMetrics
	for rows.Next() {
		var m metrics.TrackMetrics
		var audibleSec, trackSec float64
		if err := rows.Scan(&m.TrackID, &m.PolygonID, &audibleSec, &m.EventCount,
			&trackSec, &m.AudibleFraction, &m.GapCount); err != nil {
			return nil, err
		}
		m.AudibleDuration = time.Duration(audibleSec * float64(time.Second))
		m.TrackDuration = time.Duration(trackSec * float64(time.Second))
		out = append(out, m)
	}
	return out, rows.Err()
}
