package console

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
)

// fileConfig is the YAML wire form of Config. Durations are strings in
// time.ParseDuration syntax ("60s", "5m").
type fileConfig struct {
	BaseURL          string `yaml:"base_url" validate:"required,url"`
	RefreshThreshold string `yaml:"refresh_threshold" validate:"omitempty"`
	CacheTTL         string `yaml:"cache_ttl" validate:"omitempty"`
	HTTPTimeout      string `yaml:"http_timeout" validate:"omitempty"`
	MetricsEnabled   bool   `yaml:"metrics_enabled"`
}

// LoadConfig reads and validates a YAML configuration file. Unset duration
// fields keep their zero value so NewClient applies the defaults.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("console: read config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return Config{}, fmt.Errorf("console: parse config: %w", err)
	}
	if err := validator.New().Struct(fc); err != nil {
		return Config{}, fmt.Errorf("console: invalid config: %w", err)
	}

	cfg := Config{
		BaseURL:        fc.BaseURL,
		MetricsEnabled: fc.MetricsEnabled,
	}
	if cfg.RefreshThreshold, err = parseDuration(fc.RefreshThreshold, "refresh_threshold"); err != nil {
		return Config{}, err
	}
	if cfg.CacheTTL, err = parseDuration(fc.CacheTTL, "cache_ttl"); err != nil {
		return Config{}, err
	}
	if cfg.HTTPTimeout, err = parseDuration(fc.HTTPTimeout, "http_timeout"); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseDuration(s, field string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("console: invalid config: %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("console: invalid config: %s must not be negative", field)
	}
	return d, nil
}
