package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// BufferToEdge as a buffer length means "extend the buffer to the movie edge".
const BufferToEdge = -1

// ErrNonConstantFrameRate is returned when a movie's frame times are not
// uniformly spaced. Lifetimes and cohorts assume a constant sampling interval.
var ErrNonConstantFrameRate = errors.New("non-constant frame rate")

// frameTimeTolerance is the relative tolerance on frame-time deltas.
const frameTimeTolerance = 1e-6

// TuningConfig represents the root configuration for track processing.
// Every field is optional; the Get* accessors supply defaults so partial
// files are safe.
type TuningConfig struct {
	// Buffers (frames; -1 = to movie edge)
	BufferBefore *int  `json:"buffer_before,omitempty"`
	BufferAfter  *int  `json:"buffer_after,omitempty"`
	BufferAll    *bool `json:"buffer_all,omitempty"`

	// Stage switches
	Preprocess  *bool `json:"preprocess,omitempty"`
	Postprocess *bool `json:"postprocess,omitempty"`

	// Classification
	CohortBoundsSecs         []float64 `json:"cohort_bounds_s,omitempty"`
	CutoffFrames             *int      `json:"cutoff_frames,omitempty"`
	ForceDiffractionLimited  *bool     `json:"force_diffraction_limited,omitempty"`
	Alpha                    *float64  `json:"alpha,omitempty"`
	RescuePercentile         *float64  `json:"rescue_percentile,omitempty"`
	HotspotMinLength         *int      `json:"hotspot_min_length,omitempty"`
	GapDensityLimit          *float64  `json:"gap_density_limit,omitempty"`
	DisplacementOutlierCount *int      `json:"displacement_outlier_count,omitempty"`
	DisplacementPercentile   *float64  `json:"displacement_percentile,omitempty"`

	// Geometry
	BorderSigmaFactor    *float64 `json:"border_sigma_factor,omitempty"`
	FitRadiusSigmaFactor *float64 `json:"fit_radius_sigma_factor,omitempty"`
	ShortBranchFrames    *int     `json:"short_branch_frames,omitempty"`
	MaxMSDLag            *int     `json:"max_msd_lag,omitempty"`

	// Batch
	Workers *int `json:"workers,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// with its default, mirroring config/tuning.defaults.json.
func DefaultTuningConfig() *TuningConfig {
	e := EmptyTuningConfig()
	return &TuningConfig{
		BufferBefore:             ptrInt(e.GetBufferBefore()),
		BufferAfter:              ptrInt(e.GetBufferAfter()),
		BufferAll:                ptrBool(e.GetBufferAll()),
		Preprocess:               ptrBool(e.GetPreprocess()),
		Postprocess:              ptrBool(e.GetPostprocess()),
		CohortBoundsSecs:         e.GetCohortBoundsSecs(),
		CutoffFrames:             ptrInt(e.GetCutoffFrames()),
		ForceDiffractionLimited:  ptrBool(e.GetForceDiffractionLimited()),
		Alpha:                    ptrFloat64(e.GetAlpha()),
		RescuePercentile:         ptrFloat64(e.GetRescuePercentile()),
		HotspotMinLength:         ptrInt(e.GetHotspotMinLength()),
		GapDensityLimit:          ptrFloat64(e.GetGapDensityLimit()),
		DisplacementOutlierCount: ptrInt(e.GetDisplacementOutlierCount()),
		DisplacementPercentile:   ptrFloat64(e.GetDisplacementPercentile()),
		BorderSigmaFactor:        ptrFloat64(e.GetBorderSigmaFactor()),
		FitRadiusSigmaFactor:     ptrFloat64(e.GetFitRadiusSigmaFactor()),
		ShortBranchFrames:        ptrInt(e.GetShortBranchFrames()),
		MaxMSDLag:                ptrInt(e.GetMaxMSDLag()),
		Workers:                  ptrInt(e.GetWorkers()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
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
	return ParseTuningConfig(data)
}

// ParseTuningConfig decodes and validates a JSON tuning document.
func ParseTuningConfig(data []byte) (*TuningConfig, error) {
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/tracking/l3tracks/
		"../../../../" + DefaultConfigPath,    // from internal/tracking/storage/sqlite/
		"../../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.BufferBefore != nil && *c.BufferBefore < BufferToEdge {
		return fmt.Errorf("buffer_before must be >= -1, got %d", *c.BufferBefore)
	}
	if c.BufferAfter != nil && *c.BufferAfter < BufferToEdge {
		return fmt.Errorf("buffer_after must be >= -1, got %d", *c.BufferAfter)
	}

	prev := 0.0
	for i, b := range c.CohortBoundsSecs {
		if b <= 0 || math.IsNaN(b) || math.IsInf(b, 0) {
			return fmt.Errorf("cohort_bounds_s[%d] must be positive and finite, got %v", i, b)
		}
		if b <= prev {
			return fmt.Errorf("cohort_bounds_s must be strictly increasing (index %d)", i)
		}
		prev = b
	}

	if c.Alpha != nil && (*c.Alpha <= 0 || *c.Alpha >= 1) {
		return fmt.Errorf("alpha must be in (0, 1), got %f", *c.Alpha)
	}
	if c.RescuePercentile != nil && (*c.RescuePercentile < 0 || *c.RescuePercentile > 100) {
		return fmt.Errorf("rescue_percentile must be in [0, 100], got %f", *c.RescuePercentile)
	}
	if c.DisplacementPercentile != nil && (*c.DisplacementPercentile < 0 || *c.DisplacementPercentile > 100) {
		return fmt.Errorf("displacement_percentile must be in [0, 100], got %f", *c.DisplacementPercentile)
	}
	if c.GapDensityLimit != nil && (*c.GapDensityLimit <= 0 || *c.GapDensityLimit > 1) {
		return fmt.Errorf("gap_density_limit must be in (0, 1], got %f", *c.GapDensityLimit)
	}
	if c.CutoffFrames != nil && *c.CutoffFrames < 1 {
		return fmt.Errorf("cutoff_frames must be >= 1, got %d", *c.CutoffFrames)
	}
	if c.BorderSigmaFactor != nil && *c.BorderSigmaFactor <= 0 {
		return fmt.Errorf("border_sigma_factor must be positive, got %f", *c.BorderSigmaFactor)
	}
	if c.FitRadiusSigmaFactor != nil && *c.FitRadiusSigmaFactor <= 0 {
		return fmt.Errorf("fit_radius_sigma_factor must be positive, got %f", *c.FitRadiusSigmaFactor)
	}
	if c.ShortBranchFrames != nil && *c.ShortBranchFrames < 1 {
		return fmt.Errorf("short_branch_frames must be >= 1, got %d", *c.ShortBranchFrames)
	}
	if c.MaxMSDLag != nil && *c.MaxMSDLag < 1 {
		return fmt.Errorf("max_msd_lag must be >= 1, got %d", *c.MaxMSDLag)
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", *c.Workers)
	}
	return nil
}

// ValidateFrameTimes checks that frame timestamps are strictly increasing
// with a constant interval and returns that interval in seconds.
func ValidateFrameTimes(times []float64) (float64, error) {
	if len(times) < 2 {
		return 0, fmt.Errorf("%w: need at least two frame times, got %d", ErrNonConstantFrameRate, len(times))
	}
	dt := times[1] - times[0]
	if !(dt > 0) {
		return 0, fmt.Errorf("%w: first interval %v is not positive", ErrNonConstantFrameRate, dt)
	}
	for i := 2; i < len(times); i++ {
		d := times[i] - times[i-1]
		if math.Abs(d-dt) > frameTimeTolerance*dt {
			return 0, fmt.Errorf("%w: interval %d is %v, expected %v", ErrNonConstantFrameRate, i-1, d, dt)
		}
	}
	return dt, nil
}

// GetBufferBefore returns the buffer_before value or the default.
func (c *TuningConfig) GetBufferBefore() int {
	if c.BufferBefore == nil {
		return 5
	}
	return *c.BufferBefore
}

// GetBufferAfter returns the buffer_after value or the default.
func (c *TuningConfig) GetBufferAfter() int {
	if c.BufferAfter == nil {
		return 5
	}
	return *c.BufferAfter
}

// GetBufferAll returns the buffer_all value or the default.
func (c *TuningConfig) GetBufferAll() bool {
	if c.BufferAll == nil {
		return false // default: buffer complete tracks only
	}
	return *c.BufferAll
}

// GetPreprocess returns the preprocess value or the default.
func (c *TuningConfig) GetPreprocess() bool {
	if c.Preprocess == nil {
		return true
	}
	return *c.Preprocess
}

// GetPostprocess returns the postprocess value or the default.
func (c *TuningConfig) GetPostprocess() bool {
	if c.Postprocess == nil {
		return true
	}
	return *c.Postprocess
}

// GetCohortBoundsSecs returns the lifetime cohort bounds in seconds.
func (c *TuningConfig) GetCohortBoundsSecs() []float64 {
	if len(c.CohortBoundsSecs) == 0 {
		return []float64{10, 20, 40, 60, 80, 100, 125, 150}
	}
	out := make([]float64, len(c.CohortBoundsSecs))
	copy(out, c.CohortBoundsSecs)
	return out
}

// GetCutoffFrames returns the minimum lifetime (frames) for slave-channel estimates.
func (c *TuningConfig) GetCutoffFrames() int {
	if c.CutoffFrames == nil {
		return 3
	}
	return *c.CutoffFrames
}

// GetForceDiffractionLimited returns the force_diffraction_limited value or the default.
func (c *TuningConfig) GetForceDiffractionLimited() bool {
	if c.ForceDiffractionLimited == nil {
		return true
	}
	return *c.ForceDiffractionLimited
}

// GetAlpha returns the significance level shared by all tests.
func (c *TuningConfig) GetAlpha() float64 {
	if c.Alpha == nil {
		return 0.05
	}
	return *c.Alpha
}

// GetRescuePercentile returns the cohort intensity percentile used by rescue.
func (c *TuningConfig) GetRescuePercentile() float64 {
	if c.RescuePercentile == nil {
		return 2.5
	}
	return *c.RescuePercentile
}

// GetHotspotMinLength returns the minimum track length (frames, exclusive) for hotspot testing.
func (c *TuningConfig) GetHotspotMinLength() int {
	if c.HotspotMinLength == nil {
		return 5
	}
	return *c.HotspotMinLength
}

// GetGapDensityLimit returns the gap-frame fraction at which a track is rejected.
func (c *TuningConfig) GetGapDensityLimit() float64 {
	if c.GapDensityLimit == nil {
		return 0.5
	}
	return *c.GapDensityLimit
}

// GetDisplacementOutlierCount returns the tolerated number of outlier steps.
func (c *TuningConfig) GetDisplacementOutlierCount() int {
	if c.DisplacementOutlierCount == nil {
		return 4
	}
	return *c.DisplacementOutlierCount
}

// GetDisplacementPercentile returns the percentile of per-track median steps used as threshold.
func (c *TuningConfig) GetDisplacementPercentile() float64 {
	if c.DisplacementPercentile == nil {
		return 95
	}
	return *c.DisplacementPercentile
}

// GetBorderSigmaFactor returns the border margin in PSF sigmas.
func (c *TuningConfig) GetBorderSigmaFactor() float64 {
	if c.BorderSigmaFactor == nil {
		return 4
	}
	return *c.BorderSigmaFactor
}

// GetFitRadiusSigmaFactor returns the accepted fit drift radius in PSF sigmas.
func (c *TuningConfig) GetFitRadiusSigmaFactor() float64 {
	if c.FitRadiusSigmaFactor == nil {
		return 2
	}
	return *c.FitRadiusSigmaFactor
}

// GetShortBranchFrames returns the length below which merge/split branches are noise.
func (c *TuningConfig) GetShortBranchFrames() int {
	if c.ShortBranchFrames == nil {
		return 4
	}
	return *c.ShortBranchFrames
}

// GetMaxMSDLag returns the largest MSD lag.
func (c *TuningConfig) GetMaxMSDLag() int {
	if c.MaxMSDLag == nil {
		return 10
	}
	return *c.MaxMSDLag
}

// GetWorkers returns the number of movies processed concurrently.
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil {
		return 4
	}
	return *c.Workers
}
