package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmptyTuningConfigDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	// All Get* methods must fall back to their documented defaults.
	if cfg.GetPeakSeparation() != 5 {
		t.Errorf("GetPeakSeparation() = %d, want 5", cfg.GetPeakSeparation())
	}
	if cfg.GetThresholdRel() != 0.02 {
		t.Errorf("GetThresholdRel() = %f, want 0.02", cfg.GetThresholdRel())
	}
	if cfg.GetNearestNeighbors() != 9 {
		t.Errorf("GetNearestNeighbors() = %d, want 9", cfg.GetNearestNeighbors())
	}
	if cfg.GetZoneAxisNeighbors() != 15 {
		t.Errorf("GetZoneAxisNeighbors() = %d, want 15", cfg.GetZoneAxisNeighbors())
	}
	if cfg.GetPlaneTolerance() != 0.5 {
		t.Errorf("GetPlaneTolerance() = %f, want 0.5", cfg.GetPlaneTolerance())
	}
	if cfg.GetRadiusFactor() != 7.0 {
		t.Errorf("GetRadiusFactor() = %f, want 7.0", cfg.GetRadiusFactor())
	}
	if cfg.GetBadPlaneRatio() != 0.6 {
		t.Errorf("GetBadPlaneRatio() = %f, want 0.6", cfg.GetBadPlaneRatio())
	}
	if cfg.GetMaskRadius() != 0 {
		t.Errorf("GetMaskRadius() = %f, want 0", cfg.GetMaskRadius())
	}
	if cfg.GetPercentToNN() != 0.40 {
		t.Errorf("GetPercentToNN() = %f, want 0.40", cfg.GetPercentToNN())
	}
	if cfg.GetRotationEnabled() != true {
		t.Errorf("GetRotationEnabled() = %v, want true", cfg.GetRotationEnabled())
	}
	if cfg.GetGaussianPasses() != 2 {
		t.Errorf("GetGaussianPasses() = %d, want 2", cfg.GetGaussianPasses())
	}
	if cfg.GetCoMPasses() != 1 {
		t.Errorf("GetCoMPasses() = %d, want 1", cfg.GetCoMPasses())
	}
	if cfg.GetRefineWorkers() != 4 {
		t.Errorf("GetRefineWorkers() = %d, want 4", cfg.GetRefineWorkers())
	}
	if cfg.GetPixelUnits() != "px" {
		t.Errorf("GetPixelUnits() = %q, want \"px\"", cfg.GetPixelUnits())
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	// Partial config: omitted fields keep their defaults.
	testJSON := `{
  "peak_separation": 8,
  "threshold_rel": 0.05,
  "mask_radius": 12.5,
  "rotation_enabled": false,
  "pixel_size": 0.0125,
  "pixel_units": "nm"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.PeakSeparation == nil || *cfg.PeakSeparation != 8 {
		t.Errorf("Expected PeakSeparation 8, got %v", cfg.PeakSeparation)
	}
	if cfg.ThresholdRel == nil || *cfg.ThresholdRel != 0.05 {
		t.Errorf("Expected ThresholdRel 0.05, got %v", cfg.ThresholdRel)
	}
	if cfg.MaskRadius == nil || *cfg.MaskRadius != 12.5 {
		t.Errorf("Expected MaskRadius 12.5, got %v", cfg.MaskRadius)
	}
	if cfg.RotationEnabled == nil || *cfg.RotationEnabled != false {
		t.Errorf("Expected RotationEnabled false, got %v", cfg.RotationEnabled)
	}
	if cfg.GetPixelSize() != 0.0125 {
		t.Errorf("GetPixelSize() = %f, want 0.0125", cfg.GetPixelSize())
	}
	if cfg.GetPixelUnits() != "nm" {
		t.Errorf("GetPixelUnits() = %q, want \"nm\"", cfg.GetPixelUnits())
	}
	// Omitted field falls back.
	if cfg.GetNearestNeighbors() != 9 {
		t.Errorf("GetNearestNeighbors() = %d, want default 9", cfg.GetNearestNeighbors())
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	_, err := LoadTuningConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadTuningConfigBadExtension(t *testing.T) {
	_, err := LoadTuningConfig("/tmp/config.yaml")
	if err == nil {
		t.Error("Expected error for non-JSON extension, got nil")
	}
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_config.json")

	invalidJSON := `{
  "peak_separation": "invalid"
`
	if err := os.WriteFile(configPath, []byte(invalidJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr bool
	}{
		{"empty config", EmptyTuningConfig(), false},
		{"valid threshold", &TuningConfig{ThresholdRel: ptrFloat64(0.5)}, false},
		{"threshold too high", &TuningConfig{ThresholdRel: ptrFloat64(1.5)}, true},
		{"negative threshold", &TuningConfig{ThresholdRel: ptrFloat64(-0.1)}, true},
		{"zero separation", &TuningConfig{PeakSeparation: ptrInt(0)}, true},
		{"valid separation", &TuningConfig{PeakSeparation: ptrInt(3)}, false},
		{"bad plane ratio too high", &TuningConfig{BadPlaneRatio: ptrFloat64(1.2)}, true},
		{
			"mask radius and percent together",
			&TuningConfig{MaskRadius: ptrFloat64(5), PercentToNN: ptrFloat64(0.4)},
			true,
		},
		{"mask radius alone", &TuningConfig{MaskRadius: ptrFloat64(5)}, false},
		{"negative percent", &TuningConfig{PercentToNN: ptrFloat64(-0.4)}, true},
		{"zero plane tolerance", &TuningConfig{PlaneTolerance: ptrFloat64(0)}, true},
		{"negative pixel size", &TuningConfig{PixelSize: ptrFloat64(-1)}, true},
		{"pixel units only", &TuningConfig{PixelUnits: ptrString("nm")}, false},
		{"rotation disabled", &TuningConfig{RotationEnabled: ptrBool(false)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if cfg.GetPeakSeparation() != 5 {
		t.Errorf("defaults file peak_separation = %d, want 5", cfg.GetPeakSeparation())
	}
	if cfg.GetPercentToNN() != 0.4 {
		t.Errorf("defaults file percent_to_nn = %f, want 0.4", cfg.GetPercentToNN())
	}
}
