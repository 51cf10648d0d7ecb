// Package config provides configuration management for the line-drive pipeline.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load reads and parses the configuration from file and environment variables.
// It expands environment variable placeholders in the YAML file (${VAR_NAME}),
// which is how credentials reach the config without ever living in the file.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found at %s: %w", configPath, err)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the configuration (${VAR} syntax)
	expanded := os.ExpandEnv(string(data))

	v := viper.New()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(bytes.NewBuffer([]byte(expanded))); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	v.SetEnvPrefix("LINE_DRIVE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	return cfg, nil
}

// LoadWithDefaults loads configuration with default values for optional
// fields, so a minimal file (database plus collectors) is runnable.
func LoadWithDefaults(configPath string) (*Config, error) {
	v := viper.New()

	if configPath == "" {
		configPath = "config/config.yaml"
	}

	v.SetConfigType("yaml")
	v.SetEnvPrefix("LINE_DRIVE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	// Read and expand the configuration file if it exists
	if data, err := os.ReadFile(configPath); err == nil {
		expanded := os.ExpandEnv(string(data))
		if err := v.ReadConfig(bytes.NewBuffer([]byte(expanded))); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	// If file doesn't exist, continue with defaults and environment variables

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults registers the documented default for every tunable knob
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "line-drive")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.max_overflow", 5)
	v.SetDefault("database.pool_timeout_s", 10)
	v.SetDefault("database.pool_recycle_s", 1800)

	v.SetDefault("pipeline.raw_enabled", true)
	v.SetDefault("pipeline.staging_enabled", true)
	v.SetDefault("pipeline.curated_enabled", true)
	v.SetDefault("pipeline.zone_worker_pool_size", 4)
	v.SetDefault("pipeline.queue_capacity", 256)
	v.SetDefault("pipeline.batch_size", 500)
	v.SetDefault("pipeline.error_rate_thresholds.raw", 0.01)
	v.SetDefault("pipeline.error_rate_thresholds.staging", 0.05)
	v.SetDefault("pipeline.error_rate_thresholds.curated", 0.01)
	v.SetDefault("pipeline.staging_grace_period_s", 0)
	v.SetDefault("pipeline.clock_skew_tolerance_s", 60)
	v.SetDefault("pipeline.backpressure_watermark", 0.8)
	v.SetDefault("pipeline.sharp.divergence_threshold", 15.0)
	v.SetDefault("pipeline.sharp.public_fade_bets_pct", 75.0)
	v.SetDefault("pipeline.sharp.public_fade_money_pct", 60.0)
	v.SetDefault("pipeline.sharp.rlm_window_s", 3600)
	v.SetDefault("pipeline.sharp.steam_window_s", 300)
	v.SetDefault("pipeline.sharp.steam_book_ratio", 0.70)
	v.SetDefault("pipeline.sharp.moneyline_tick", 5)
	v.SetDefault("pipeline.sharp.line_tick", 0.5)

	v.SetDefault("health.ring_buffer_size", 1000)
	v.SetDefault("health.pattern_interval_s", 900)
	v.SetDefault("health.prediction_interval_s", 600)
	v.SetDefault("health.baseline_interval_s", 3600)
	v.SetDefault("health.degradation_success_ratio", 0.7)
	v.SetDefault("health.degradation_latency_ratio", 4.0)
	v.SetDefault("health.pattern_confidence", 0.70)
	v.SetDefault("health.prediction_alert_threshold", 0.8)
	v.SetDefault("health.listen_port", 8090)

	v.SetDefault("alerting.throttle_by_severity.info", 900)
	v.SetDefault("alerting.throttle_by_severity.warning", 600)
	v.SetDefault("alerting.throttle_by_severity.critical", 300)

	v.SetDefault("identity.mapping_cache_size", 4096)
	v.SetDefault("identity.fuzzy_match_enabled", true)
	v.SetDefault("identity.cache_ttl_s", 900)

	v.SetDefault("retention.raw_days", 30)
	v.SetDefault("retention.attempts_days", 7)

	v.SetDefault("scheduler.sweep_interval_s", 120)
	v.SetDefault("scheduler.outcome_resolution_cron", "15 8 * * *")
	v.SetDefault("scheduler.retention_cron", "45 9 * * *")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// ReloadFromEnv reloads the full configuration when LINE_DRIVE_CONFIG_PATH
// points somewhere new
func ReloadFromEnv(cfg *Config) error {
	if envPath := os.Getenv("LINE_DRIVE_CONFIG_PATH"); envPath != "" {
		newCfg, err := Load(envPath)
		if err != nil {
			return err
		}
		*cfg = *newCfg
	}

	return nil
}
