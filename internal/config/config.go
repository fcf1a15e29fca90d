// Package config loads engine configuration from a YAML file with
// environment-variable overrides and validated defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Regions []string    `yaml:"regions"`
	Scan    ScanConfig  `yaml:"scan"`
	Cache   CacheConfig `yaml:"cache"`
	Store   StoreConfig `yaml:"store"`
	Alarms  AlarmConfig `yaml:"alarms"`
}

// ScanConfig tunes the fan-out engine.
type ScanConfig struct {
	RegionConcurrency  int           `yaml:"region_concurrency"`
	ServiceConcurrency int           `yaml:"service_concurrency"`
	CheckConcurrency   int           `yaml:"check_concurrency"`
	OperationTimeout   time.Duration `yaml:"operation_timeout"`
	RetryAttempts      int           `yaml:"retry_attempts"`
	RetryBaseDelay     time.Duration `yaml:"retry_base_delay"`
	BatchSize          int           `yaml:"batch_size"`
	RateLimit          float64       `yaml:"rate_limit"`
	RateBurst          int           `yaml:"rate_burst"`
}

// CacheConfig tunes the resource cache.
type CacheConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// StoreConfig selects and configures the finding store.
type StoreConfig struct {
	// Driver is "duckdb" or "postgres".
	Driver string `yaml:"driver"`
	// Path is the database file for duckdb.
	Path string `yaml:"path"`
	// DSN is the connection string for postgres.
	DSN string `yaml:"dsn"`
}

// AlarmConfig tunes the alarm evaluator thresholds.
type AlarmConfig struct {
	DegradationPercent  float64 `yaml:"degradation_percent"`
	ImprovementPercent  float64 `yaml:"improvement_percent"`
	UrgentCriticalCount int     `yaml:"urgent_critical_count"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Regions: []string{"us-east-1", "us-west-2", "eu-west-1"},
		Scan: ScanConfig{
			RegionConcurrency:  5,
			ServiceConcurrency: 10,
			CheckConcurrency:   20,
			OperationTimeout:   30 * time.Second,
			RetryAttempts:      3,
			RetryBaseDelay:     time.Second,
			BatchSize:          50,
			RateLimit:          50,
			RateBurst:          100,
		},
		Cache: CacheConfig{
			TTL:             5 * time.Minute,
			CleanupInterval: time.Minute,
		},
		Store: StoreConfig{
			Driver: "duckdb",
			Path:   "cloudvigil.duckdb",
		},
		Alarms: AlarmConfig{
			DegradationPercent:  20,
			ImprovementPercent:  -20,
			UrgentCriticalCount: 3,
		},
	}
}

// Load resolves configuration in priority order: explicit path, then
// CLOUDVIGIL_CONFIG_FILE, then standard file locations, then defaults;
// environment variables override whatever was loaded.
func Load(path string) (*Config, error) {
	cfg, err := loadFromFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if cfg == nil {
		cfg = Default()
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFromFile(path string) (*Config, error) {
	if path != "" {
		return loadConfigFile(path)
	}
	if envPath := os.Getenv("CLOUDVIGIL_CONFIG_FILE"); envPath != "" {
		return loadConfigFile(envPath)
	}

	locations := []string{
		"cloudvigil.yaml",
		"cloudvigil.yml",
		".cloudvigil.yaml",
		filepath.Join(os.Getenv("HOME"), ".cloudvigil", "config.yaml"),
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loadConfigFile(loc)
		}
	}
	return nil, os.ErrNotExist
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Start from defaults so a partial file only overrides what it names.
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if regions := os.Getenv("CLOUDVIGIL_REGIONS"); regions != "" {
		cfg.Regions = splitAndTrim(regions)
	}
	if v := os.Getenv("CLOUDVIGIL_REGION_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scan.RegionConcurrency = n
		}
	}
	if v := os.Getenv("CLOUDVIGIL_SERVICE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scan.ServiceConcurrency = n
		}
	}
	if v := os.Getenv("CLOUDVIGIL_CHECK_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scan.CheckConcurrency = n
		}
	}
	if v := os.Getenv("CLOUDVIGIL_OPERATION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scan.OperationTimeout = d
		}
	}
	if v := os.Getenv("CLOUDVIGIL_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}
	if v := os.Getenv("CLOUDVIGIL_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("CLOUDVIGIL_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("CLOUDVIGIL_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
}

func validate(cfg *Config) error {
	if len(cfg.Regions) == 0 {
		return fmt.Errorf("at least one region is required")
	}
	if cfg.Scan.RegionConcurrency <= 0 || cfg.Scan.ServiceConcurrency <= 0 || cfg.Scan.CheckConcurrency <= 0 {
		return fmt.Errorf("concurrency ceilings must be positive")
	}
	if cfg.Scan.OperationTimeout <= 0 {
		return fmt.Errorf("operation timeout must be positive")
	}
	if cfg.Scan.RetryAttempts <= 0 {
		return fmt.Errorf("retry attempts must be positive")
	}
	switch cfg.Store.Driver {
	case "duckdb", "postgres":
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	return nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
