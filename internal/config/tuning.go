package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for analysis parameters.
// The schema matches the /api/lattice/params endpoint so the same JSON
// can be used for both startup configuration and runtime updates.
type TuningConfig struct {
	// Peak finding params
	PeakSeparation *int     `json:"peak_separation,omitempty"`
	ThresholdRel   *float64 `json:"threshold_rel,omitempty"`

	// Topology params
	NearestNeighbors  *int     `json:"nearest_neighbors,omitempty"`
	ZoneAxisNeighbors *int     `json:"zone_axis_neighbors,omitempty"`
	PlaneTolerance    *float64 `json:"plane_tolerance,omitempty"`
	RadiusFactor      *float64 `json:"radius_factor,omitempty"`
	BadPlaneRatio     *float64 `json:"bad_plane_ratio,omitempty"`

	// Refinement params. MaskRadius and PercentToNN are mutually
	// exclusive ways of sizing the fit mask.
	MaskRadius      *float64 `json:"mask_radius,omitempty"`
	PercentToNN     *float64 `json:"percent_to_nn,omitempty"`
	RotationEnabled *bool    `json:"rotation_enabled,omitempty"`
	GaussianPasses  *int     `json:"gaussian_passes,omitempty"`
	CoMPasses       *int     `json:"com_passes,omitempty"`
	RefineWorkers   *int     `json:"refine_workers,omitempty"`

	// Image calibration params
	PixelSize  *float64 `json:"pixel_size,omitempty"` // physical units per pixel
	PixelUnits *string  `json:"pixel_units,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
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
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
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
	if c.PeakSeparation != nil && *c.PeakSeparation < 1 {
		return fmt.Errorf("peak_separation can not be smaller than 1, got %d", *c.PeakSeparation)
	}
	if c.ThresholdRel != nil {
		if *c.ThresholdRel < 0 || *c.ThresholdRel > 1 {
			return fmt.Errorf("threshold_rel must be between 0 and 1, got %f", *c.ThresholdRel)
		}
	}
	if c.BadPlaneRatio != nil {
		if *c.BadPlaneRatio < 0 || *c.BadPlaneRatio > 1 {
			return fmt.Errorf("bad_plane_ratio must be between 0 and 1, got %f", *c.BadPlaneRatio)
		}
	}
	if c.MaskRadius != nil && c.PercentToNN != nil {
		if *c.MaskRadius > 0 && *c.PercentToNN > 0 {
			return fmt.Errorf("mask_radius and percent_to_nn are mutually exclusive, only one of them should be set")
		}
	}
	if c.PercentToNN != nil && *c.PercentToNN < 0 {
		return fmt.Errorf("percent_to_nn must be non-negative, got %f", *c.PercentToNN)
	}
	if c.PlaneTolerance != nil && *c.PlaneTolerance <= 0 {
		return fmt.Errorf("plane_tolerance must be positive, got %f", *c.PlaneTolerance)
	}
	if c.PixelSize != nil && *c.PixelSize < 0 {
		return fmt.Errorf("pixel_size must be non-negative, got %f", *c.PixelSize)
	}
	return nil
}

// GetPeakSeparation returns the peak_separation value or the default.
func (c *TuningConfig) GetPeakSeparation() int {
	if c.PeakSeparation == nil {
		return 5 // default
	}
	return *c.PeakSeparation
}

// GetThresholdRel returns the threshold_rel value or the default.
func (c *TuningConfig) GetThresholdRel() float64 {
	if c.ThresholdRel == nil {
		return 0.02 // default
	}
	return *c.ThresholdRel
}

// GetNearestNeighbors returns the nearest_neighbors value or the default.
func (c *TuningConfig) GetNearestNeighbors() int {
	if c.NearestNeighbors == nil {
		return 9
	}
	return *c.NearestNeighbors
}

// GetZoneAxisNeighbors returns the zone_axis_neighbors value or the default.
func (c *TuningConfig) GetZoneAxisNeighbors() int {
	if c.ZoneAxisNeighbors == nil {
		return 15
	}
	return *c.ZoneAxisNeighbors
}

// GetPlaneTolerance returns the plane_tolerance value or the default.
func (c *TuningConfig) GetPlaneTolerance() float64 {
	if c.PlaneTolerance == nil {
		return 0.5
	}
	return *c.PlaneTolerance
}

// GetRadiusFactor returns the radius_factor value or the default.
func (c *TuningConfig) GetRadiusFactor() float64 {
	if c.RadiusFactor == nil {
		return 7.0
	}
	return *c.RadiusFactor
}

// GetBadPlaneRatio returns the bad_plane_ratio value or the default.
func (c *TuningConfig) GetBadPlaneRatio() float64 {
	if c.BadPlaneRatio == nil {
		return 0.6
	}
	return *c.BadPlaneRatio
}

// GetMaskRadius returns the mask_radius value or the default.
func (c *TuningConfig) GetMaskRadius() float64 {
	if c.MaskRadius == nil {
		return 0 // default: use percent_to_nn instead
	}
	return *c.MaskRadius
}

// GetPercentToNN returns the percent_to_nn value or the default.
func (c *TuningConfig) GetPercentToNN() float64 {
	if c.PercentToNN == nil {
		return 0.40
	}
	return *c.PercentToNN
}

// GetRotationEnabled returns the rotation_enabled value or the default.
func (c *TuningConfig) GetRotationEnabled() bool {
	if c.RotationEnabled == nil {
		return true
	}
	return *c.RotationEnabled
}

// GetGaussianPasses returns the gaussian_passes value or the default.
func (c *TuningConfig) GetGaussianPasses() int {
	if c.GaussianPasses == nil {
		return 2
	}
	return *c.GaussianPasses
}

// GetCoMPasses returns the com_passes value or the default.
func (c *TuningConfig) GetCoMPasses() int {
	if c.CoMPasses == nil {
		return 1
	}
	return *c.CoMPasses
}

// GetRefineWorkers returns the refine_workers value or the default.
func (c *TuningConfig) GetRefineWorkers() int {
	if c.RefineWorkers == nil {
		return 4
	}
	return *c.RefineWorkers
}

// GetPixelSize returns the pixel_size value or the default.
func (c *TuningConfig) GetPixelSize() float64 {
	if c.PixelSize == nil {
		return 0 // default: uncalibrated
	}
	return *c.PixelSize
}

// GetPixelUnits returns the pixel_units value or the default.
func (c *TuningConfig) GetPixelUnits() string {
	if c.PixelUnits == nil {
		return "px"
	}
	return *c.PixelUnits
}
