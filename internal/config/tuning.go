package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/beltline-data/conveyor.report/internal/track"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// All fields are optional pointers so a partial JSON file only overrides
// what it names; the Get* methods supply defaults for the rest.
type TuningConfig struct {
	// Tracker params
	HitsToConfirm   *int     `json:"hits_to_confirm,omitempty"`
	Patience        *int     `json:"patience,omitempty"`
	CostCeiling     *float64 `json:"cost_ceiling,omitempty"`
	MaxCentroidDist *float64 `json:"max_centroid_dist,omitempty"`
	HistoryLength   *int     `json:"history_length,omitempty"`
	SmoothingAlpha  *float64 `json:"smoothing_alpha,omitempty"`

	// Detector params
	BatchSize     *int     `json:"batch_size,omitempty"`
	MinConfidence *float64 `json:"min_confidence,omitempty"`

	// Job runner params
	WorkerPoolSize   *int  `json:"worker_pool_size,omitempty"`
	SkipFailedFrames *bool `json:"skip_failed_frames,omitempty"`

	// Upload params
	MaxUploadBytes *int64 `json:"max_upload_bytes,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field set to its
// default value.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		HitsToConfirm:    ptrInt(3),
		Patience:         ptrInt(5),
		CostCeiling:      ptrFloat64(0.7),
		MaxCentroidDist:  ptrFloat64(100),
		HistoryLength:    ptrInt(32),
		SmoothingAlpha:   ptrFloat64(0.5),
		BatchSize:        ptrInt(128),
		MinConfidence:    ptrFloat64(0.25),
		WorkerPoolSize:   ptrInt(4),
		SkipFailedFrames: ptrBool(false),
		MaxUploadBytes:   ptrInt64(512 * 1024 * 1024),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file fall back to defaults,
// so partial configs are safe.
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

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.HitsToConfirm != nil && *c.HitsToConfirm < 1 {
		return fmt.Errorf("hits_to_confirm must be >= 1, got %d", *c.HitsToConfirm)
	}
	if c.Patience != nil && *c.Patience < 0 {
		return fmt.Errorf("patience must be non-negative, got %d", *c.Patience)
	}
	if c.CostCeiling != nil && (*c.CostCeiling <= 0 || *c.CostCeiling > 2) {
		return fmt.Errorf("cost_ceiling must be in (0, 2], got %f", *c.CostCeiling)
	}
	if c.MaxCentroidDist != nil && *c.MaxCentroidDist < 0 {
		return fmt.Errorf("max_centroid_dist must be non-negative, got %f", *c.MaxCentroidDist)
	}
	if c.HistoryLength != nil && *c.HistoryLength < 2 {
		return fmt.Errorf("history_length must be >= 2, got %d", *c.HistoryLength)
	}
	if c.SmoothingAlpha != nil && (*c.SmoothingAlpha <= 0 || *c.SmoothingAlpha > 1) {
		return fmt.Errorf("smoothing_alpha must be in (0, 1], got %f", *c.SmoothingAlpha)
	}
	if c.BatchSize != nil && *c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be >= 1, got %d", *c.BatchSize)
	}
	if c.MinConfidence != nil && (*c.MinConfidence < 0 || *c.MinConfidence > 1) {
		return fmt.Errorf("min_confidence must be in [0, 1], got %f", *c.MinConfidence)
	}
	if c.WorkerPoolSize != nil && *c.WorkerPoolSize < 1 {
		return fmt.Errorf("worker_pool_size must be >= 1, got %d", *c.WorkerPoolSize)
	}
	if c.MaxUploadBytes != nil && *c.MaxUploadBytes < 1 {
		return fmt.Errorf("max_upload_bytes must be >= 1, got %d", *c.MaxUploadBytes)
	}
	return nil
}

// GetHitsToConfirm returns the hits_to_confirm value or the default.
func (c *TuningConfig) GetHitsToConfirm() int {
	if c.HitsToConfirm == nil {
		return 3 // default
	}
	return *c.HitsToConfirm
}

// GetPatience returns the patience value or the default.
func (c *TuningConfig) GetPatience() int {
	if c.Patience == nil {
		return 5 // default
	}
	return *c.Patience
}

// GetCostCeiling returns the cost_ceiling value or the default.
func (c *TuningConfig) GetCostCeiling() float64 {
	if c.CostCeiling == nil {
		return 0.7 // default
	}
	return *c.CostCeiling
}

// GetMaxCentroidDist returns the max_centroid_dist value or the default.
func (c *TuningConfig) GetMaxCentroidDist() float64 {
	if c.MaxCentroidDist == nil {
		return 100 // default
	}
	return *c.MaxCentroidDist
}

// GetHistoryLength returns the history_length value or the default.
func (c *TuningConfig) GetHistoryLength() int {
	if c.HistoryLength == nil {
		return 32 // default
	}
	return *c.HistoryLength
}

// GetSmoothingAlpha returns the smoothing_alpha value or the default.
func (c *TuningConfig) GetSmoothingAlpha() float64 {
	if c.SmoothingAlpha == nil {
		return 0.5 // default
	}
	return *c.SmoothingAlpha
}

// GetBatchSize returns the batch_size value or the default.
func (c *TuningConfig) GetBatchSize() int {
	if c.BatchSize == nil {
		return 128 // default
	}
	return *c.BatchSize
}

// GetMinConfidence returns the min_confidence value or the default.
func (c *TuningConfig) GetMinConfidence() float64 {
	if c.MinConfidence == nil {
		return 0.25 // default
	}
	return *c.MinConfidence
}

// GetWorkerPoolSize returns the worker_pool_size value or the default.
func (c *TuningConfig) GetWorkerPoolSize() int {
	if c.WorkerPoolSize == nil {
		return 4 // default
	}
	return *c.WorkerPoolSize
}

// GetSkipFailedFrames returns the skip_failed_frames value or the default.
func (c *TuningConfig) GetSkipFailedFrames() bool {
	if c.SkipFailedFrames == nil {
		return false // default: a bad frame fails the job
	}
	return *c.SkipFailedFrames
}

// GetMaxUploadBytes returns the max_upload_bytes value or the default.
func (c *TuningConfig) GetMaxUploadBytes() int64 {
	if c.MaxUploadBytes == nil {
		return 512 * 1024 * 1024 // default 512MB
	}
	return *c.MaxUploadBytes
}

// TrackerConfig converts the tuning values into a per-context tracker
// configuration.
func (c *TuningConfig) TrackerConfig() track.Config {
	return track.Config{
		HitsToConfirm:   c.GetHitsToConfirm(),
		Patience:        c.GetPatience(),
		CostCeiling:     float32(c.GetCostCeiling()),
		MaxCentroidDist: float32(c.GetMaxCentroidDist()),
		HistoryLength:   c.GetHistoryLength(),
		SmoothingAlpha:  float32(c.GetSmoothingAlpha()),
	}
}
