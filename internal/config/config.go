// Package config holds the reduction tuning parameters. Camera-specific
// constants (default gain, read noise) live here rather than in code so a
// different detector is a config change, not a rebuild.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ReductionConfig represents the root configuration for one pipeline run.
// Fields omitted from the JSON file retain their default values, so partial
// configs are safe.
type ReductionConfig struct {
	// Combination params
	MemLimitBytes *int64   `json:"mem_limit_bytes,omitempty"`
	ClipSigma     *float64 `json:"clip_sigma,omitempty"`

	// Detector params. The gain and read-noise defaults are used only
	// when a frame's header omits them, with a logged warning.
	DefaultGain      *float64 `json:"default_gain,omitempty"`
	DefaultReadNoise *float64 `json:"default_read_noise,omitempty"`

	// Cosmic-ray rejection params
	CosmicSigClip *float64 `json:"cosmic_sigclip,omitempty"`

	// Defect mask params
	MaskBox       *int     `json:"mask_box,omitempty"`
	MaskThreshold *float64 `json:"mask_threshold,omitempty"`

	// Pipeline params
	Workers     *int    `json:"workers,omitempty"`
	ScienceDir  *string `json:"science_dir_suffix,omitempty"`
	FlatDir     *string `json:"flat_dir_suffix,omitempty"`
	OutputDir   *string `json:"output_dir_suffix,omitempty"`
	CatalogPath *string `json:"catalog_path,omitempty"`
}

// EmptyConfig returns a ReductionConfig with all fields unset; every Get*
// accessor then answers with its default.
func EmptyConfig() *ReductionConfig {
	return &ReductionConfig{}
}

// LoadConfig loads a ReductionConfig from a JSON file. The file is validated
// to ensure it has a .json extension and is under the max file size.
func LoadConfig(path string) (*ReductionConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

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

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *ReductionConfig) Validate() error {
	if c.MemLimitBytes != nil && *c.MemLimitBytes <= 0 {
		return fmt.Errorf("mem_limit_bytes must be positive, got %d", *c.MemLimitBytes)
	}
	if c.ClipSigma != nil && *c.ClipSigma <= 0 {
		return fmt.Errorf("clip_sigma must be positive, got %f", *c.ClipSigma)
	}
	if c.DefaultGain != nil && *c.DefaultGain <= 0 {
		return fmt.Errorf("default_gain must be positive, got %f", *c.DefaultGain)
	}
	if c.DefaultReadNoise != nil && *c.DefaultReadNoise < 0 {
		return fmt.Errorf("default_read_noise must be non-negative, got %f", *c.DefaultReadNoise)
	}
	if c.CosmicSigClip != nil && *c.CosmicSigClip <= 0 {
		return fmt.Errorf("cosmic_sigclip must be positive, got %f", *c.CosmicSigClip)
	}
	if c.MaskBox != nil && (*c.MaskBox < 3 || *c.MaskBox%2 == 0) {
		return fmt.Errorf("mask_box must be an odd number >= 3, got %d", *c.MaskBox)
	}
	if c.MaskThreshold != nil && *c.MaskThreshold <= 0 {
		return fmt.Errorf("mask_threshold must be positive, got %f", *c.MaskThreshold)
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}
	return nil
}

// GetMemLimitBytes returns the combination memory ceiling or the default.
func (c *ReductionConfig) GetMemLimitBytes() int64 {
	if c.MemLimitBytes == nil {
		return 2 << 30 // 2 GiB
	}
	return *c.MemLimitBytes
}

// GetClipSigma returns the sigma-clip threshold for master combination.
func (c *ReductionConfig) GetClipSigma() float64 {
	if c.ClipSigma == nil {
		return 3.0
	}
	return *c.ClipSigma
}

// GetDefaultGain returns the fallback gain in electrons per ADU.
func (c *ReductionConfig) GetDefaultGain() float64 {
	if c.DefaultGain == nil {
		return 2.0
	}
	return *c.DefaultGain
}

// GetDefaultReadNoise returns the fallback read noise in electrons.
func (c *ReductionConfig) GetDefaultReadNoise() float64 {
	if c.DefaultReadNoise == nil {
		return 9.0
	}
	return *c.DefaultReadNoise
}

// GetCosmicSigClip returns the cosmic-ray detection threshold in sigmas.
func (c *ReductionConfig) GetCosmicSigClip() float64 {
	if c.CosmicSigClip == nil {
		return 7.0
	}
	return *c.CosmicSigClip
}

// GetMaskBox returns the defect-mask smoothing box size in pixels.
func (c *ReductionConfig) GetMaskBox() int {
	if c.MaskBox == nil {
		return 5
	}
	return *c.MaskBox
}

// GetMaskThreshold returns the defect-mask deviation threshold in
// robust-spread units.
func (c *ReductionConfig) GetMaskThreshold() float64 {
	if c.MaskThreshold == nil {
		return 6.0
	}
	return *c.MaskThreshold
}

// GetWorkers returns the science-frame worker count.
func (c *ReductionConfig) GetWorkers() int {
	if c.Workers == nil {
		return 4
	}
	return *c.Workers
}

// GetScienceDirSuffix returns the per-night science directory suffix.
func (c *ReductionConfig) GetScienceDirSuffix() string {
	if c.ScienceDir == nil {
		return "-CAMS"
	}
	return *c.ScienceDir
}

// GetFlatDirSuffix returns the per-night flat directory suffix.
func (c *ReductionConfig) GetFlatDirSuffix() string {
	if c.FlatDir == nil {
		return "-CAMS_SKYFLAT"
	}
	return *c.FlatDir
}

// GetOutputDirSuffix returns the per-night calibrated-output directory
// suffix.
func (c *ReductionConfig) GetOutputDirSuffix() string {
	if c.OutputDir == nil {
		return "-CAMS_CAL"
	}
	return *c.OutputDir
}

// GetCatalogPath returns the run-catalog database path; empty disables the
// catalog.
func (c *ReductionConfig) GetCatalogPath() string {
	if c.CatalogPath == nil {
		return ""
	}
	return *c.CatalogPath
}
