package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical localisation defaults file.
const DefaultConfigPath = "config/localization.defaults.json"

// Seed modes for the initial particle population.
const (
	SeedModeUniform = "uniform"
	SeedModeSpawn   = "spawn"
)

// LocalizationConfig is the root configuration for the particle filter and
// the loop that drives it. Every field is optional; the Get* methods supply
// the default for anything left unset, so partial files are safe.
type LocalizationConfig struct {
	// Filter size
	ParticleCount *int `json:"particle_count,omitempty"`
	EvalBeams     *int `json:"eval_beams,omitempty"`

	// Motion noise
	TranslationStdDev *float64 `json:"translation_std_dev,omitempty"`
	OrientationStdDev *float64 `json:"orientation_std_dev,omitempty"`
	OdomNoise         *bool    `json:"odom_noise,omitempty"`
	OdomNoiseFraction *float64 `json:"odom_noise_fraction,omitempty"`

	// Loop pacing
	UpdateRate      *int     `json:"update_rate,omitempty"`
	BroadcastRateHz *float64 `json:"broadcast_rate_hz,omitempty"`

	// Initial seeding
	SeedMode     *string  `json:"seed_mode,omitempty"`
	SpawnX       *float64 `json:"spawn_x,omitempty"`
	SpawnY       *float64 `json:"spawn_y,omitempty"`
	SpawnRadiusM *float64 `json:"spawn_radius_m,omitempty"`

	// Accuracy gating and adaptive noise
	AccuracyThreshold           *float64 `json:"accuracy_threshold,omitempty"`
	NoiseScaleIncreaseFactor    *float64 `json:"noise_scale_increase_factor,omitempty"`
	InaccurateCyclesBeforeBoost *int     `json:"inaccurate_cycles_before_boost,omitempty"`
	MaxNoiseScale               *float64 `json:"max_noise_scale,omitempty"`

	// Misc
	SensorOffsetM      *float64 `json:"sensor_offset_m,omitempty"`
	MaxOdometryHistory *int     `json:"max_odometry_history,omitempty"`
	ReseedOnDegenerate *bool    `json:"reseed_on_degenerate,omitempty"`
	RandomSeed         *uint64  `json:"random_seed,omitempty"`
}

// EmptyConfig returns a LocalizationConfig with all fields set to nil.
func EmptyConfig() *LocalizationConfig {
	return &LocalizationConfig{}
}

// LoadConfig loads a LocalizationConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadConfig(path string) (*LocalizationConfig, error) {
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

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *LocalizationConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/<pkg>/
		"../../../" + DefaultConfigPath, // from cmd/<binary>/ or deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *LocalizationConfig) Validate() error {
	if c.ParticleCount != nil && *c.ParticleCount <= 0 {
		return fmt.Errorf("particle_count must be positive, got %d", *c.ParticleCount)
	}
	if c.EvalBeams != nil && *c.EvalBeams <= 0 {
		return fmt.Errorf("eval_beams must be positive, got %d", *c.EvalBeams)
	}
	if c.TranslationStdDev != nil && *c.TranslationStdDev < 0 {
		return fmt.Errorf("translation_std_dev must be non-negative, got %f", *c.TranslationStdDev)
	}
	if c.OrientationStdDev != nil && *c.OrientationStdDev < 0 {
		return fmt.Errorf("orientation_std_dev must be non-negative, got %f", *c.OrientationStdDev)
	}
	if c.OdomNoiseFraction != nil && *c.OdomNoiseFraction < 0 {
		return fmt.Errorf("odom_noise_fraction must be non-negative, got %f", *c.OdomNoiseFraction)
	}
	if c.UpdateRate != nil && *c.UpdateRate < 1 {
		return fmt.Errorf("update_rate must be at least 1, got %d", *c.UpdateRate)
	}
	if c.BroadcastRateHz != nil && *c.BroadcastRateHz <= 0 {
		return fmt.Errorf("broadcast_rate_hz must be positive, got %f", *c.BroadcastRateHz)
	}
	if c.SeedMode != nil && *c.SeedMode != SeedModeUniform && *c.SeedMode != SeedModeSpawn {
		return fmt.Errorf("seed_mode must be %q or %q, got %q", SeedModeUniform, SeedModeSpawn, *c.SeedMode)
	}
	if c.SpawnRadiusM != nil && *c.SpawnRadiusM <= 0 {
		return fmt.Errorf("spawn_radius_m must be positive, got %f", *c.SpawnRadiusM)
	}
	if c.AccuracyThreshold != nil && *c.AccuracyThreshold <= 0 {
		return fmt.Errorf("accuracy_threshold must be positive, got %f", *c.AccuracyThreshold)
	}
	if c.NoiseScaleIncreaseFactor != nil && *c.NoiseScaleIncreaseFactor < 1 {
		return fmt.Errorf("noise_scale_increase_factor must be >= 1, got %f", *c.NoiseScaleIncreaseFactor)
	}
	if c.InaccurateCyclesBeforeBoost != nil && *c.InaccurateCyclesBeforeBoost < 0 {
		return fmt.Errorf("inaccurate_cycles_before_boost must be non-negative, got %d", *c.InaccurateCyclesBeforeBoost)
	}
	if c.MaxNoiseScale != nil && *c.MaxNoiseScale < 1 {
		return fmt.Errorf("max_noise_scale must be >= 1, got %f", *c.MaxNoiseScale)
	}
	if c.MaxOdometryHistory != nil && *c.MaxOdometryHistory < 1 {
		return fmt.Errorf("max_odometry_history must be at least 1, got %d", *c.MaxOdometryHistory)
	}
	return nil
}

// GetParticleCount returns the particle_count value or the default.
func (c *LocalizationConfig) GetParticleCount() int {
	if c.ParticleCount == nil {
		return 1000
	}
	return *c.ParticleCount
}

// GetEvalBeams returns the eval_beams value or the default.
func (c *LocalizationConfig) GetEvalBeams() int {
	if c.EvalBeams == nil {
		return 8
	}
	return *c.EvalBeams
}

// GetTranslationStdDev returns the translation_std_dev value or the default.
func (c *LocalizationConfig) GetTranslationStdDev() float64 {
	if c.TranslationStdDev == nil {
		return 0.5
	}
	return *c.TranslationStdDev
}

// GetOrientationStdDev returns the orientation_std_dev value or the default.
func (c *LocalizationConfig) GetOrientationStdDev() float64 {
	if c.OrientationStdDev == nil {
		return 0.5
	}
	return *c.OrientationStdDev
}

// GetOdomNoise returns the odom_noise value or the default.
func (c *LocalizationConfig) GetOdomNoise() bool {
	if c.OdomNoise == nil {
		return false
	}
	return *c.OdomNoise
}

// GetOdomNoiseFraction returns the odom_noise_fraction value or the default.
func (c *LocalizationConfig) GetOdomNoiseFraction() float64 {
	if c.OdomNoiseFraction == nil {
		return 0.1
	}
	return *c.OdomNoiseFraction
}

// GetUpdateRate returns the update_rate value or the default.
func (c *LocalizationConfig) GetUpdateRate() int {
	if c.UpdateRate == nil {
		return 4
	}
	return *c.UpdateRate
}

// GetBroadcastRateHz returns the broadcast_rate_hz value or the default.
func (c *LocalizationConfig) GetBroadcastRateHz() float64 {
	if c.BroadcastRateHz == nil {
		return 20
	}
	return *c.BroadcastRateHz
}

// GetBroadcastPeriod converts the broadcast rate into a ticker period.
func (c *LocalizationConfig) GetBroadcastPeriod() time.Duration {
	return time.Duration(float64(time.Second) / c.GetBroadcastRateHz())
}

// GetSeedMode returns the seed_mode value or the default.
func (c *LocalizationConfig) GetSeedMode() string {
	if c.SeedMode == nil || *c.SeedMode == "" {
		return SeedModeUniform
	}
	return *c.SeedMode
}

// GetSpawnX returns the spawn_x value or the default.
func (c *LocalizationConfig) GetSpawnX() float64 {
	if c.SpawnX == nil {
		return 0
	}
	return *c.SpawnX
}

// GetSpawnY returns the spawn_y value or the default.
func (c *LocalizationConfig) GetSpawnY() float64 {
	if c.SpawnY == nil {
		return 0
	}
	return *c.SpawnY
}

// GetSpawnRadiusM returns the spawn_radius_m value or the default.
func (c *LocalizationConfig) GetSpawnRadiusM() float64 {
	if c.SpawnRadiusM == nil {
		return 1.0
	}
	return *c.SpawnRadiusM
}

// GetAccuracyThreshold returns the accuracy_threshold value or the default.
func (c *LocalizationConfig) GetAccuracyThreshold() float64 {
	if c.AccuracyThreshold == nil {
		return 50
	}
	return *c.AccuracyThreshold
}

// GetNoiseScaleIncreaseFactor returns the noise_scale_increase_factor value or the default.
func (c *LocalizationConfig) GetNoiseScaleIncreaseFactor() float64 {
	if c.NoiseScaleIncreaseFactor == nil {
		return 1.5
	}
	return *c.NoiseScaleIncreaseFactor
}

// GetInaccurateCyclesBeforeBoost returns the inaccurate_cycles_before_boost
// value or the default. Zero disables the boost.
func (c *LocalizationConfig) GetInaccurateCyclesBeforeBoost() int {
	if c.InaccurateCyclesBeforeBoost == nil {
		return 0
	}
	return *c.InaccurateCyclesBeforeBoost
}

// GetMaxNoiseScale returns the max_noise_scale value or the default.
func (c *LocalizationConfig) GetMaxNoiseScale() float64 {
	if c.MaxNoiseScale == nil {
		return 4
	}
	return *c.MaxNoiseScale
}

// GetSensorOffsetM returns the sensor_offset_m value or the default.
func (c *LocalizationConfig) GetSensorOffsetM() float64 {
	if c.SensorOffsetM == nil {
		return 0
	}
	return *c.SensorOffsetM
}

// GetMaxOdometryHistory returns the max_odometry_history value or the default.
func (c *LocalizationConfig) GetMaxOdometryHistory() int {
	if c.MaxOdometryHistory == nil {
		return 256
	}
	return *c.MaxOdometryHistory
}

// GetReseedOnDegenerate returns the reseed_on_degenerate value or the default.
func (c *LocalizationConfig) GetReseedOnDegenerate() bool {
	if c.ReseedOnDegenerate == nil {
		return false
	}
	return *c.ReseedOnDegenerate
}

// GetRandomSeed returns the random_seed value or the default.
func (c *LocalizationConfig) GetRandomSeed() uint64 {
	if c.RandomSeed == nil {
		return 1
	}
	return *c.RandomSeed
}
