package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/soundscape-data/activespace/internal/activespace"
	"github.com/soundscape-data/activespace/internal/track"
	"github.com/soundscape-data/activespace/internal/tuner"
	"github.com/soundscape-data/activespace/internal/units"
)

// RunConfig represents the root configuration for an analysis run: the
// boundary sweep, the track pipeline and the tuner share one file. Fields
// are pointers so a partial JSON file overrides only what it names; the
// Get* methods supply defaults for everything else.
type RunConfig struct {
	// Sweep params
	BearingStepDeg  *float64 `json:"bearing_step_deg,omitempty"`
	Smoothing       *string  `json:"smoothing,omitempty"` // "none", "moving_average" or "spline"
	SmoothingWindow *int     `json:"smoothing_window,omitempty"`
	Workers         *int     `json:"workers,omitempty"`

	// Range search params
	MinDistanceM *float64 `json:"min_distance_m,omitempty"`
	MaxDistanceM *float64 `json:"max_distance_m,omitempty"`
	ToleranceM   *float64 `json:"tolerance_m,omitempty"`

	// Track pipeline params
	InterpolationStep  *string  `json:"interpolation_step,omitempty"` // duration string like "1s"
	SessionGap         *string  `json:"session_gap,omitempty"`        // duration string like "15m"
	MaxSampleGap       *string  `json:"max_sample_gap,omitempty"`     // duration string like "60s"
	ShiftToAudibleTime *bool    `json:"shift_to_audible_time,omitempty"`
	SpeedOfSoundMPS    *float64 `json:"speed_of_sound_mps,omitempty"`

	// Tuner params (optional)
	SourceLevelStepDB   *float64 `json:"source_level_step_db,omitempty"`
	GroundFactorStep    *float64 `json:"ground_factor_step,omitempty"`
	AbsorptionScaleStep *float64 `json:"absorption_scale_step,omitempty"`
	MarginStepDB        *float64 `json:"margin_step_db,omitempty"`
	MaxIterations       *int     `json:"max_iterations,omitempty"`
	ConvergenceTolM     *float64 `json:"convergence_tol_m,omitempty"`

	// Storage params
	DatabasePath *string `json:"database_path,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyRunConfig returns a RunConfig with all fields set to nil.
// Use LoadRunConfig to load actual values from a file.
func EmptyRunConfig() *RunConfig {
	return &RunConfig{}
}

// LoadRunConfig loads a RunConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadRunConfig(path string) (*RunConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyRunConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *RunConfig) Validate() error {
	// Validate BearingStepDeg if set
	if c.BearingStepDeg != nil {
		if *c.BearingStepDeg <= 0 || *c.BearingStepDeg > 120 {
			return fmt.Errorf("bearing_step_deg must be in (0, 120], got %f", *c.BearingStepDeg)
		}
	}

	// Validate Smoothing if set
	if c.Smoothing != nil && *c.Smoothing != "" {
		if !activespace.IsValidSmoothingMethod(*c.Smoothing) {
			return fmt.Errorf("unknown smoothing method %q", *c.Smoothing)
		}
	}

	// Validate SmoothingWindow if set
	if c.SmoothingWindow != nil {
		if *c.SmoothingWindow < 1 {
			return fmt.Errorf("smoothing_window must be positive, got %d", *c.SmoothingWindow)
		}
	}

	// Validate search bounds as a group, mixing in defaults for unset ends
	if c.GetMaxDistanceM() <= c.GetMinDistanceM() {
		return fmt.Errorf("max_distance_m %f must exceed min_distance_m %f",
			c.GetMaxDistanceM(), c.GetMinDistanceM())
	}

	// Validate duration strings can be parsed if set
	for name, v := range map[string]*string{
		"interpolation_step": c.InterpolationStep,
		"session_gap":        c.SessionGap,
		"max_sample_gap":     c.MaxSampleGap,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	// Validate SpeedOfSoundMPS if set
	if c.SpeedOfSoundMPS != nil {
		if *c.SpeedOfSoundMPS <= 0 {
			return fmt.Errorf("speed_of_sound_mps must be positive, got %f", *c.SpeedOfSoundMPS)
		}
	}

	return nil
}

// GetBearingStepDeg returns the bearing_step_deg value or the default.
func (c *RunConfig) GetBearingStepDeg() float64 {
	if c.BearingStepDeg == nil {
		return 5 // default
	}
	return *c.BearingStepDeg
}

// GetSmoothing returns the smoothing value or the default.
func (c *RunConfig) GetSmoothing() string {
	if c.Smoothing == nil || *c.Smoothing == "" {
		return activespace.SmoothingNone
	}
	return *c.Smoothing
}

// GetSmoothingWindow returns the smoothing_window value or the default.
func (c *RunConfig) GetSmoothingWindow() int {
	if c.SmoothingWindow == nil {
		return 5
	}
	return *c.SmoothingWindow
}

// GetWorkers returns the workers value or the default.
func (c *RunConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0 // default: one worker per CPU
	}
	return *c.Workers
}

// GetMinDistanceM returns the min_distance_m value or the default.
func (c *RunConfig) GetMinDistanceM() float64 {
	if c.MinDistanceM == nil {
		return 50
	}
	return *c.MinDistanceM
}

// GetMaxDistanceM returns the max_distance_m value or the default.
func (c *RunConfig) GetMaxDistanceM() float64 {
	if c.MaxDistanceM == nil {
		return 40000
	}
	return *c.MaxDistanceM
}

// GetToleranceM returns the tolerance_m value or the default.
func (c *RunConfig) GetToleranceM() float64 {
	if c.ToleranceM == nil {
		return 10
	}
	return *c.ToleranceM
}

// GetInterpolationStep parses and returns the InterpolationStep as a time.Duration.
func (c *RunConfig) GetInterpolationStep() time.Duration {
	if c.InterpolationStep == nil || *c.InterpolationStep == "" {
		return time.Second // default
	}
	d, err := time.ParseDuration(*c.InterpolationStep)
	if err != nil {
		return time.Second // default on parse error
	}
	return d
}

// GetSessionGap parses and returns the SessionGap as a time.Duration.
func (c *RunConfig) GetSessionGap() time.Duration {
	if c.SessionGap == nil || *c.SessionGap == "" {
		return track.DefaultSessionGap
	}
	d, err := time.ParseDuration(*c.SessionGap)
	if err != nil {
		return track.DefaultSessionGap
	}
	return d
}

// GetMaxSampleGap parses and returns the MaxSampleGap as a time.Duration.
func (c *RunConfig) GetMaxSampleGap() time.Duration {
	if c.MaxSampleGap == nil || *c.MaxSampleGap == "" {
		return time.Minute // default
	}
	d, err := time.ParseDuration(*c.MaxSampleGap)
	if err != nil {
		return time.Minute
	}
	return d
}

// GetShiftToAudibleTime returns the shift_to_audible_time value or the default.
func (c *RunConfig) GetShiftToAudibleTime() bool {
	if c.ShiftToAudibleTime == nil {
		return true // default: report intervals in listener time
	}
	return *c.ShiftToAudibleTime
}

// GetSpeedOfSoundMPS returns the speed_of_sound_mps value or the default.
func (c *RunConfig) GetSpeedOfSoundMPS() float64 {
	if c.SpeedOfSoundMPS == nil {
		return units.SpeedOfSoundMPS
	}
	return *c.SpeedOfSoundMPS
}

// GetSourceLevelStepDB returns the source_level_step_db value or the default.
func (c *RunConfig) GetSourceLevelStepDB() float64 {
	if c.SourceLevelStepDB == nil {
		return 4.0
	}
	return *c.SourceLevelStepDB
}

// GetGroundFactorStep returns the ground_factor_step value or the default.
func (c *RunConfig) GetGroundFactorStep() float64 {
	if c.GroundFactorStep == nil {
		return 0.2
	}
	return *c.GroundFactorStep
}

// GetAbsorptionScaleStep returns the absorption_scale_step value or the default.
func (c *RunConfig) GetAbsorptionScaleStep() float64 {
	if c.AbsorptionScaleStep == nil {
		return 0.2
	}
	return *c.AbsorptionScaleStep
}

// GetMarginStepDB returns the margin_step_db value or the default.
func (c *RunConfig) GetMarginStepDB() float64 {
	if c.MarginStepDB == nil {
		return 0 // default: margin frozen, see tuner.DefaultConfig
	}
	return *c.MarginStepDB
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *RunConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 60
	}
	return *c.MaxIterations
}

// GetConvergenceTolM returns the convergence_tol_m value or the default.
func (c *RunConfig) GetConvergenceTolM() float64 {
	if c.ConvergenceTolM == nil {
		return 1.0
	}
	return *c.ConvergenceTolM
}

// GetDatabasePath returns the database_path value or the default.
func (c *RunConfig) GetDatabasePath() string {
	if c.DatabasePath == nil || *c.DatabasePath == "" {
		return "activespace.db"
	}
	return *c.DatabasePath
}

// SearchConfig assembles the range search settings.
func (c *RunConfig) SearchConfig() activespace.SearchConfig {
	return activespace.SearchConfig{
		MinDistanceM: c.GetMinDistanceM(),
		MaxDistanceM: c.GetMaxDistanceM(),
		ToleranceM:   c.GetToleranceM(),
	}
}

// BuildConfig assembles the boundary sweep settings.
func (c *RunConfig) BuildConfig() activespace.BuildConfig {
	return activespace.BuildConfig{
		BearingStepDeg:  c.GetBearingStepDeg(),
		Search:          c.SearchConfig(),
		Smoothing:       c.GetSmoothing(),
		SmoothingWindow: c.GetSmoothingWindow(),
		Workers:         c.GetWorkers(),
	}
}

// IntersectConfig assembles the track intersection settings.
func (c *RunConfig) IntersectConfig() track.IntersectConfig {
	return track.IntersectConfig{
		MaxGap: c.GetMaxSampleGap(),
	}
}

// TunerConfig assembles the parameter fitting settings.
func (c *RunConfig) TunerConfig() tuner.Config {
	return tuner.Config{
		Search:              c.SearchConfig(),
		SourceLevelStepDB:   c.GetSourceLevelStepDB(),
		GroundFactorStep:    c.GetGroundFactorStep(),
		AbsorptionScaleStep: c.GetAbsorptionScaleStep(),
		MarginStepDB:        c.GetMarginStepDB(),
		MaxIterations:       c.GetMaxIterations(),
		ConvergenceTolM:     c.GetConvergenceTolM(),
	}
}
