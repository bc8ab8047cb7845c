package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/soundscape-data/activespace/internal/activespace"
	"github.com/soundscape-data/activespace/internal/config"
	"github.com/soundscape-data/activespace/internal/metrics"
	"github.com/soundscape-data/activespace/internal/propagation"
	"github.com/soundscape-data/activespace/internal/store"
	"github.com/soundscape-data/activespace/internal/track"
	"github.com/soundscape-data/activespace/internal/tuner"
	"github.com/soundscape-data/activespace/internal/units"
)

var (
	dbPath     string
	configPath string
	database   *store.DB
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "activespace",
		Short: "Active space estimation for aircraft audibility",
		Long: `A CLI tool for estimating the geographic region where an aircraft noise
source is audible above ambient at a listening point, intersecting flight
tracks with that region, and calibrating the propagation model against
ground-truth detections. Results are stored in SQLite.`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "activespace.db", "Path to SQLite database")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to run config JSON (defaults apply when omitted)")

	// Add commands
	rootCmd.AddCommand(siteCmd())
	rootCmd.AddCommand(buildCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(tuneCmd())
	rootCmd.AddCommand(intersectCmd())
	rootCmd.AddCommand(metricsCmd())
	rootCmd.AddCommand(dbCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initDB opens the database and applies pending migrations.
func initDB() error {
	var err error
	database, err = store.Open(dbPath)
	return err
}

// loadConfig loads the run config named by --config, or defaults.
func loadConfig() (*config.RunConfig, error) {
	if configPath == "" {
		return config.EmptyRunConfig(), nil
	}
	return config.LoadRunConfig(configPath)
}

// loadParams reads a propagation parameter set from a JSON file, layered
// over the defaults so partial files are safe.
func loadParams(path string) (propagation.Params, error) {
	params := propagation.DefaultParams()
	if path == "" {
		return params, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return params, fmt.Errorf("failed to read params file: %w", err)
	}
	if err := json.Unmarshal(data, &params); err != nil {
		return params, fmt.Errorf("failed to parse params JSON: %w", err)
	}
	return params, params.Validate()
}

// parseSpectrum parses a comma-separated dB list: one value for broadband,
// or one per third-octave band.
func parseSpectrum(s string) (propagation.Spectrum, error) {
	parts := strings.Split(s, ",")
	out := make(propagation.Spectrum, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("bad spectrum value %q", p)
		}
		out = append(out, v)
	}
	return out, nil
}

// siteCmd manages listening points
func siteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "site",
		Short: "Listening point management commands",
	}

	var (
		name     string
		lat      float64
		lon      float64
		elev     float64
		ambient  string
		marginDB float64
	)
	addCmd := &cobra.Command{
		Use:   "add [site_id]",
		Short: "Register a listening point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			spec, err := parseSpectrum(ambient)
			if err != nil {
				return err
			}
			lp := activespace.ListeningPoint{
				ID:                args[0],
				Name:              name,
				Lat:               lat,
				Lon:               lon,
				ElevationM:        elev,
				Ambient:           spec,
				ThresholdMarginDB: marginDB,
			}
			if err := database.SaveListeningPoint(lp); err != nil {
				return err
			}
			fmt.Printf("Saved listening point %s (%s) at %.5f,%.5f in zone %s\n",
				lp.ID, lp.Name, lp.Lat, lp.Lon, lp.CRS())
			return nil
		},
	}
	addCmd.Flags().StringVar(&name, "name", "", "Human-readable site name")
	addCmd.Flags().Float64Var(&lat, "lat", 0, "Latitude (WGS84)")
	addCmd.Flags().Float64Var(&lon, "lon", 0, "Longitude (WGS84)")
	addCmd.Flags().Float64Var(&elev, "elevation", 0, "Site elevation in meters")
	addCmd.Flags().StringVar(&ambient, "ambient", "25", "Ambient level(s) in dB, comma-separated for band spectra")
	addCmd.Flags().Float64Var(&marginDB, "margin", 3, "Audibility threshold margin in dB")
	addCmd.MarkFlagRequired("lat")
	addCmd.MarkFlagRequired("lon")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered listening points",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			sites, err := database.ListeningPoints()
			if err != nil {
				return err
			}
			if len(sites) == 0 {
				fmt.Println("No listening points found. Use 'activespace site add' to register one.")
				return nil
			}
			fmt.Printf("%-12s %-24s %10s %11s %8s %8s %6s\n", "ID", "Name", "Lat", "Lon", "Elev(m)", "Ambient", "Margin")
			for _, lp := range sites {
				fmt.Printf("%-12s %-24s %10.5f %11.5f %8.0f %8.1f %6.1f\n",
					lp.ID, lp.Name, lp.Lat, lp.Lon, lp.ElevationM,
					units.MeanDB(lp.Ambient), lp.ThresholdMarginDB)
			}
			return nil
		},
	}

	cmd.AddCommand(addCmd, listCmd)
	return cmd
}

// buildCmd sweeps an active space polygon for a listening point
func buildCmd() *cobra.Command {
	var paramsPath string
	var outPath string
	var distUnits string

	cmd := &cobra.Command{
		Use:   "build [site_id]",
		Short: "Build the active space polygon for a listening point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !units.IsValidDistanceUnit(distUnits) {
				return fmt.Errorf("invalid units %q (valid: %s)", distUnits, strings.Join(units.ValidDistanceUnits, ", "))
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			params, err := loadParams(paramsPath)
			if err != nil {
				return err
			}
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			lp, err := database.ListeningPoint(args[0])
			if err != nil {
				return err
			}

			builder, err := activespace.NewBuilder(lp, params, nil, cfg.BuildConfig())
			if err != nil {
				return err
			}

			start := time.Now()
			poly, err := builder.Build(cmd.Context())
			if err != nil {
				return err
			}
			elapsed := time.Since(start)

			if err := database.SavePolygon(poly); err != nil {
				return err
			}

			var maxRadiusM float64
			for _, s := range poly.Samples {
				if s.RadiusM > maxRadiusM {
					maxRadiusM = s.RadiusM
				}
			}
			fmt.Printf("Built polygon %s for %s: %d vertices in %v, max radius %.1f %s\n",
				poly.ID, lp.ID, len(poly.Ring), elapsed,
				units.ConvertDistance(maxRadiusM, distUnits), distUnits)
			if n := len(poly.SaturatedBearings); n > 0 {
				fmt.Printf("Warning: %d bearings hit the max search distance; widen max_distance_m\n", n)
			}

			if outPath != "" {
				gj, err := poly.GeoJSON()
				if err != nil {
					return err
				}
				if err := os.WriteFile(outPath, gj, 0644); err != nil {
					return fmt.Errorf("failed to write geojson: %w", err)
				}
				fmt.Printf("Polygon exported to %s\n", outPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&paramsPath, "params", "", "Propagation params JSON file (defaults apply when omitted)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Export the polygon as GeoJSON to this path")
	cmd.Flags().StringVar(&distUnits, "units", units.Meters, "Distance units for the radius summary (m, ft, mi)")
	return cmd
}

// ingestCmd loads tracks and ground-truth detections into the database
func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest flight tracks and ground-truth detections",
	}

	var vehicleID string
	tracksCmd := &cobra.Command{
		Use:   "tracks [file...]",
		Short: "Ingest flight track samples from CSV/TSV files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			totalTracks := 0
			for _, file := range args {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				points, err := store.ReadTrackPoints(f)
				f.Close()
				if err != nil {
					return fmt.Errorf("%s: %w", file, err)
				}

				tracks := track.SplitSessions(vehicleID, points, cfg.GetSessionGap())
				for _, t := range tracks {
					if err := database.SaveTrack(t); err != nil {
						return fmt.Errorf("%s: %w", file, err)
					}
				}
				fmt.Printf("%s: %d samples, %d flight sessions\n", file, len(points), len(tracks))
				totalTracks += len(tracks)
			}
			fmt.Printf("Ingested %d tracks\n", totalTracks)
			return nil
		},
	}
	tracksCmd.Flags().StringVar(&vehicleID, "vehicle", "unknown", "Vehicle identifier for the ingested samples")

	detectionsCmd := &cobra.Command{
		Use:   "detections [file.geojson]",
		Short: "Ingest ground-truth detections from a GeoJSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			detections, err := store.ReadDetectionsGeoJSON(data)
			if err != nil {
				return err
			}
			if err := database.SaveDetections(detections); err != nil {
				return err
			}
			fmt.Printf("Ingested %d detections\n", len(detections))
			return nil
		},
	}

	cmd.AddCommand(tracksCmd, detectionsCmd)
	return cmd
}

// tuneCmd fits propagation parameters to stored ground-truth detections
func tuneCmd() *cobra.Command {
	var paramsPath string
	var outPath string

	cmd := &cobra.Command{
		Use:   "tune [site_id]",
		Short: "Fit propagation parameters to ground-truth detections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			start, err := loadParams(paramsPath)
			if err != nil {
				return err
			}
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			lp, err := database.ListeningPoint(args[0])
			if err != nil {
				return err
			}
			detections, err := database.Detections(lp.ID)
			if err != nil {
				return err
			}
			if len(detections) == 0 {
				return fmt.Errorf("no detections stored for %s; run 'activespace ingest detections' first", lp.ID)
			}

			tn, err := tuner.NewTuner(lp, nil, detections, cfg.TunerConfig())
			if err != nil {
				return err
			}

			t0 := time.Now()
			res, err := tn.Fit(cmd.Context(), start)
			elapsed := time.Since(t0)

			var warn *tuner.ConvergenceWarning
			if err != nil && !errors.As(err, &warn) {
				return err
			}
			if warn != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", warn)
			}

			fmt.Printf("Fit %d detections in %d iterations (%v): error %.1f m, converged=%v\n",
				len(detections), res.Iterations, elapsed, res.FitErrorM, res.Converged)

			out, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return err
			}
			if outPath != "" {
				if err := os.WriteFile(outPath, out, 0644); err != nil {
					return fmt.Errorf("failed to write result: %w", err)
				}
				fmt.Printf("Result written to %s\n", outPath)
				return nil
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&paramsPath, "params", "", "Starting propagation params JSON file")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write the fit result JSON to this path")
	return cmd
}

// intersectCmd intersects stored tracks with a stored polygon
func intersectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intersect [polygon_id] [track_id...]",
		Short: "Intersect flight tracks with an active space polygon",
		Long: `Intersects stored flight tracks with a stored active space polygon.
Tracks are densified to the configured interpolation step and, unless
disabled, their timestamps are shifted to the moment the sound reaches
the listening point before the audible intervals are computed. With no
track ids given, every stored track is intersected.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			poly, err := database.Polygon(args[0])
			if err != nil {
				return err
			}
			lp, err := database.ListeningPoint(poly.ListeningPointID)
			if err != nil {
				return err
			}

			trackIDs := args[1:]
			if len(trackIDs) == 0 {
				trackIDs, err = database.TrackIDs()
				if err != nil {
					return err
				}
			}
			if len(trackIDs) == 0 {
				return fmt.Errorf("no tracks stored; run 'activespace ingest tracks' first")
			}

			var tracks []track.Track
			for _, id := range trackIDs {
				t, err := database.Track(id)
				if err != nil {
					return err
				}
				dense, err := track.Interpolate(t, cfg.GetInterpolationStep())
				if err != nil {
					return fmt.Errorf("track %s: %w", id, err)
				}
				if cfg.GetShiftToAudibleTime() {
					dense = track.AudibleShift(dense, lp.Point(), lp.ElevationM, cfg.GetSpeedOfSoundMPS())
				}
				tracks = append(tracks, dense)
			}

			ix, err := track.NewIntersector(poly, cfg.IntersectConfig())
			if err != nil {
				return err
			}
			results, trackErrs := ix.IntersectAll(cmd.Context(), tracks)
			for _, te := range trackErrs {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", te)
			}

			for _, r := range results {
				if err := database.SaveIntersection(r); err != nil {
					return err
				}
				fmt.Printf("%s: %d audible events, %v audible (%.1f%% of track)\n",
					r.TrackID, r.EventCount, r.AudibleDuration.Round(time.Second),
					100*r.AudibleFraction())
			}
			fmt.Printf("Intersected %d tracks with polygon %s (%d failed)\n",
				len(results), poly.ID, len(trackErrs))
			return nil
		},
	}
	return cmd
}

// metricsCmd summarizes stored intersection results for a polygon
func metricsCmd() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "metrics [polygon_id]",
		Short: "Summarize audibility metrics for a polygon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			rows, err := database.TrackMetricsFor(args[0])
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				return fmt.Errorf("no intersections stored for polygon %s; run 'activespace intersect' first", args[0])
			}

			results := make([]*track.IntersectionResult, 0, len(rows))
			for _, m := range rows {
				results = append(results, &track.IntersectionResult{
					TrackID:         m.TrackID,
					PolygonID:       m.PolygonID,
					AudibleDuration: m.AudibleDuration,
					EventCount:      m.EventCount,
					TrackDuration:   m.TrackDuration,
					GapCount:        m.GapCount,
				})
			}
			summary := metrics.Summarize(results)

			if outputFormat == "json" {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}

			fmt.Printf("%-28s %12s %8s %8s %6s\n", "Track", "Audible", "Events", "Frac", "Gaps")
			for _, m := range summary.Tracks {
				fmt.Printf("%-28s %12v %8d %7.1f%% %6d\n",
					m.TrackID, m.AudibleDuration.Round(time.Second),
					m.EventCount, 100*m.AudibleFraction, m.GapCount)
			}
			fmt.Println()
			fmt.Printf("Tracks:          %d (%d with audible events)\n", len(summary.Tracks), summary.AudibleTracks)
			fmt.Printf("Total audible:   %v of %v (%.1f%%)\n",
				summary.TotalAudible.Round(time.Second), summary.TotalDuration.Round(time.Second),
				100*summary.OverallFraction)
			fmt.Printf("Audible events:  %d\n", summary.TotalEvents)
			fmt.Printf("Per-track audible seconds: mean %.0f, median %.0f, p90 %.0f\n",
				summary.MeanAudibleSec, summary.MedianAudibleSec, summary.P90AudibleSec)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	return cmd
}

// dbCmd exposes schema migration operations
func dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance commands",
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Schema migration commands",
	}

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return err
			}
			defer database.Close()
			return database.MigrateUp()
		},
	})
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return err
			}
			defer database.Close()
			return database.MigrateDown()
		},
	})
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return err
			}
			defer database.Close()
			version, dirty, err := database.MigrateVersion()
			if err != nil {
				return err
			}
			fmt.Printf("Version: %d, dirty: %v\n", version, dirty)
			return nil
		},
	})
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "force [version]",
		Short: "Force the migration version (recover from dirty state)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("bad version %q", args[0])
			}
			if err := initDB(); err != nil {
				return err
			}
			defer database.Close()
			return database.MigrateForce(v)
		},
	})

	cmd.AddCommand(migrateCmd)
	return cmd
}
