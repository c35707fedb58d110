// Package config loads and validates the episense daemon configuration
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/episense/episense/pkg/push"
	"github.com/episense/episense/pkg/telem"
)

// Default configuration values
const (
	DefaultLogLevel       = "info"
	DefaultDBPath         = "episense.db"
	DefaultMetricsAddr    = ":9090"
	DefaultRefreshMinutes = 5
	DefaultModelThreshold = 20
	DefaultRetrainEvery   = 5
	DefaultCooldownHours  = 6
)

// Config represents the episense daemon configuration
type Config struct {
	LogLevel string `json:"log_level"`
	DBPath   string `json:"db_path"`

	// Location for weather lookups
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// Weather provider
	WeatherBaseURL string `json:"weather_base_url,omitempty"`

	// Scoring cadence
	RefreshMinutes int `json:"refresh_minutes"`

	// Model lifecycle
	ModelThreshold     int `json:"model_threshold"`
	ModelRetrainEvery  int `json:"model_retrain_every"`
	ModelCooldownHours int `json:"model_cooldown_hours"`

	// Listeners and channels
	MetricsEnabled bool         `json:"metrics_enabled"`
	MetricsAddr    string       `json:"metrics_addr"`
	Push           *push.Config `json:"push,omitempty"`
	Telemetry      telem.Config `json:"telemetry"`
}

// Default returns a configuration populated with defaults.
func Default() *Config {
	return &Config{
		LogLevel:           DefaultLogLevel,
		DBPath:             DefaultDBPath,
		RefreshMinutes:     DefaultRefreshMinutes,
		ModelThreshold:     DefaultModelThreshold,
		ModelRetrainEvery:  DefaultRetrainEvery,
		ModelCooldownHours: DefaultCooldownHours,
		MetricsAddr:        DefaultMetricsAddr,
		Push:               push.DefaultConfig(),
	}
}

// Load reads the JSON config at path over the defaults and validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and fills omitted values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log_level %q", c.LogLevel)
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.DBPath == "" {
		c.DBPath = DefaultDBPath
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("config: latitude %.4f out of range", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("config: longitude %.4f out of range", c.Longitude)
	}
	if c.RefreshMinutes <= 0 {
		c.RefreshMinutes = DefaultRefreshMinutes
	}
	if c.ModelThreshold <= 0 {
		c.ModelThreshold = DefaultModelThreshold
	}
	if c.ModelRetrainEvery <= 0 {
		c.ModelRetrainEvery = DefaultRetrainEvery
	}
	if c.ModelCooldownHours <= 0 {
		c.ModelCooldownHours = DefaultCooldownHours
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = DefaultMetricsAddr
	}
	if c.Push == nil {
		c.Push = push.DefaultConfig()
	}
	return nil
}
