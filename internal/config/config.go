// Package config provides configuration management for the line-drive pipeline.
package config

import (
	"fmt"
	"sort"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	App        AppConfig                  `mapstructure:"app" validate:"required"`
	Database   DatabaseConfig             `mapstructure:"database" validate:"required"`
	Collectors map[string]CollectorConfig `mapstructure:"collectors" validate:"required,min=1,dive"`
	Pipeline   PipelineConfig             `mapstructure:"pipeline" validate:"required"`
	Health     HealthConfig               `mapstructure:"health" validate:"required"`
	Alerting   AlertingConfig             `mapstructure:"alerting" validate:"required"`
	Identity   IdentityConfig             `mapstructure:"identity" validate:"required"`
	Retention  RetentionConfig            `mapstructure:"retention" validate:"required"`
	Scheduler  SchedulerConfig            `mapstructure:"scheduler" validate:"required"`
	Metrics    MetricsConfig              `mapstructure:"metrics"`
}

// AppConfig represents application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required,environment"`
	LogLevel    string `mapstructure:"log_level" validate:"required,loglevel"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host         string `mapstructure:"host" validate:"required"`
	Port         int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	Database     string `mapstructure:"database" validate:"required"`
	User         string `mapstructure:"user" validate:"required"`
	Password     string `mapstructure:"password" validate:"required"`
	SSLMode      string `mapstructure:"ssl_mode" validate:"required,oneof=disable require verify-full"`
	PoolSize     int    `mapstructure:"pool_size" validate:"required,gt=0"`
	MaxOverflow  int    `mapstructure:"max_overflow" validate:"gte=0"`
	PoolTimeoutS int    `mapstructure:"pool_timeout_s" validate:"required,gt=0"`
	PoolRecycleS int    `mapstructure:"pool_recycle_s" validate:"required,gt=0"`
}

// MaxConns returns the hard connection ceiling (base pool plus overflow)
func (d *DatabaseConfig) MaxConns() int32 {
	return int32(d.PoolSize + d.MaxOverflow)
}

// PoolTimeout is the max wait for a connection before resource_exhausted
func (d *DatabaseConfig) PoolTimeout() time.Duration {
	return time.Duration(d.PoolTimeoutS) * time.Second
}

// PoolRecycle is the max lifetime of a pooled connection
func (d *DatabaseConfig) PoolRecycle() time.Duration {
	return time.Duration(d.PoolRecycleS) * time.Second
}

// CollectorConfig represents one source collector's fetch budget and guards
type CollectorConfig struct {
	Enabled                 bool    `mapstructure:"enabled"`
	BaseURL                 string  `mapstructure:"base_url" validate:"required,url"`
	StreamURL               string  `mapstructure:"stream_url"`
	APIKey                  string  `mapstructure:"api_key"`
	RateLimitRPS            float64 `mapstructure:"rate_limit_rps" validate:"required,gt=0"`
	RateLimitRPH            int     `mapstructure:"rate_limit_rph" validate:"required,gt=0"`
	TimeoutS                int     `mapstructure:"timeout_s" validate:"required,gt=0"`
	RetryMaxAttempts        int     `mapstructure:"retry_max_attempts" validate:"required,gte=1"`
	RetryBackoffS           float64 `mapstructure:"retry_backoff_s" validate:"required,gt=0"`
	BreakerFailureThreshold int     `mapstructure:"circuit_breaker_failure_threshold" validate:"required,gt=0"`
	BreakerCooldownS        int     `mapstructure:"circuit_breaker_cooldown_s" validate:"required,gt=0"`
	Reliability             float64 `mapstructure:"reliability" validate:"gte=0,lte=1"`
	SweepIntervalS          int     `mapstructure:"sweep_interval_s" validate:"gte=0"`
}

// Timeout returns the per-request timeout
func (c *CollectorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutS) * time.Second
}

// RetryBackoff returns the base backoff between retry attempts
func (c *CollectorConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffS * float64(time.Second))
}

// BreakerCooldown returns the open-state cooldown before a half-open probe
func (c *CollectorConfig) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownS) * time.Second
}

// PipelineConfig represents zone execution configuration
type PipelineConfig struct {
	RawEnabled          bool                `mapstructure:"raw_enabled"`
	StagingEnabled      bool                `mapstructure:"staging_enabled"`
	CuratedEnabled      bool                `mapstructure:"curated_enabled"`
	ZoneWorkerPoolSize  int                 `mapstructure:"zone_worker_pool_size" validate:"required,gt=0"`
	QueueCapacity       int                 `mapstructure:"queue_capacity" validate:"required,gt=0"`
	BatchSize           int                 `mapstructure:"batch_size" validate:"required,gt=0"`
	ErrorRateThresholds ErrorRateThresholds `mapstructure:"error_rate_thresholds" validate:"required"`
	StagingGracePeriodS int                 `mapstructure:"staging_grace_period_s" validate:"gte=0"`
	ClockSkewToleranceS int                 `mapstructure:"clock_skew_tolerance_s" validate:"required,gt=0"`
	BackpressureHigh    float64             `mapstructure:"backpressure_watermark" validate:"gte=0,lte=1"`
	Sharp               SharpConfig         `mapstructure:"sharp" validate:"required"`
}

// ClockSkewTolerance is how far into the future an odds timestamp may sit
func (p *PipelineConfig) ClockSkewTolerance() time.Duration {
	return time.Duration(p.ClockSkewToleranceS) * time.Second
}

// StagingGracePeriod returns the optional timing filter window; zero disables
func (p *PipelineConfig) StagingGracePeriod() time.Duration {
	return time.Duration(p.StagingGracePeriodS) * time.Second
}

// ErrorRateThresholds bound per-zone error rates for run status
type ErrorRateThresholds struct {
	Raw     float64 `mapstructure:"raw" validate:"gte=0,lte=1"`
	Staging float64 `mapstructure:"staging" validate:"gte=0,lte=1"`
	Curated float64 `mapstructure:"curated" validate:"gte=0,lte=1"`
}

// SharpConfig tunes sharp-action, RLM and steam detection
type SharpConfig struct {
	DivergenceThreshold float64 `mapstructure:"divergence_threshold" validate:"required,gt=0"`
	PublicFadeBetsPct   float64 `mapstructure:"public_fade_bets_pct" validate:"required,gt=0,lte=100"`
	PublicFadeMoneyPct  float64 `mapstructure:"public_fade_money_pct" validate:"required,gt=0,lte=100"`
	RLMWindowS          int     `mapstructure:"rlm_window_s" validate:"required,gt=0"`
	SteamWindowS        int     `mapstructure:"steam_window_s" validate:"required,gt=0"`
	SteamBookRatio      float64 `mapstructure:"steam_book_ratio" validate:"required,gt=0,lte=1"`
	MoneylineTick       int     `mapstructure:"moneyline_tick" validate:"required,gt=0"`
	LineTick            float64 `mapstructure:"line_tick" validate:"required,gt=0"`
}

// RLMWindow returns the rolling window RLM transitions are scanned in
func (s *SharpConfig) RLMWindow() time.Duration {
	return time.Duration(s.RLMWindowS) * time.Second
}

// SteamWindow returns the window coordinated movement is scanned in
func (s *SharpConfig) SteamWindow() time.Duration {
	return time.Duration(s.SteamWindowS) * time.Second
}

// HealthConfig represents collection-health tracker configuration
type HealthConfig struct {
	RingBufferSize           int     `mapstructure:"ring_buffer_size" validate:"required,gt=0"`
	PatternIntervalS         int     `mapstructure:"pattern_interval_s" validate:"required,gt=0"`
	PredictionIntervalS      int     `mapstructure:"prediction_interval_s" validate:"required,gt=0"`
	BaselineIntervalS        int     `mapstructure:"baseline_interval_s" validate:"required,gt=0"`
	DegradationSuccessRatio  float64 `mapstructure:"degradation_success_ratio" validate:"required,gt=0,lte=1"`
	DegradationLatencyRatio  float64 `mapstructure:"degradation_latency_ratio" validate:"required,gt=1"`
	PatternConfidence        float64 `mapstructure:"pattern_confidence" validate:"required,gt=0,lte=1"`
	PredictionAlertThreshold float64 `mapstructure:"prediction_alert_threshold" validate:"required,gt=0,lte=1"`
	ListenPort               int     `mapstructure:"listen_port" validate:"required,min=1,max=65535"`
}

// PatternInterval returns the failure-pattern analysis cadence
func (h *HealthConfig) PatternInterval() time.Duration {
	return time.Duration(h.PatternIntervalS) * time.Second
}

// PredictionInterval returns the failure-prediction cadence
func (h *HealthConfig) PredictionInterval() time.Duration {
	return time.Duration(h.PredictionIntervalS) * time.Second
}

// BaselineInterval returns the baseline recomputation cadence
func (h *HealthConfig) BaselineInterval() time.Duration {
	return time.Duration(h.BaselineIntervalS) * time.Second
}

// AlertingConfig represents alert sink and throttle configuration
type AlertingConfig struct {
	Sinks              []SinkConfig   `mapstructure:"sinks" validate:"dive"`
	ThrottleBySeverity ThrottleConfig `mapstructure:"throttle_by_severity" validate:"required"`
}

// SinkConfig configures one alert destination
type SinkConfig struct {
	Type       string   `mapstructure:"type" validate:"required,oneof=console webhook email slack"`
	URL        string   `mapstructure:"url"`
	Channel    string   `mapstructure:"channel"`
	Recipients []string `mapstructure:"recipients"`
	From       string   `mapstructure:"from"`
	SMTPHost   string   `mapstructure:"smtp_host"`
	SMTPPort   int      `mapstructure:"smtp_port"`
}

// ThrottleConfig sets the per-severity window for identical alerts, seconds
type ThrottleConfig struct {
	Info     int `mapstructure:"info" validate:"required,gt=0"`
	Warning  int `mapstructure:"warning" validate:"required,gt=0"`
	Critical int `mapstructure:"critical" validate:"required,gt=0"`
}

// IdentityConfig represents resolver configuration
type IdentityConfig struct {
	MappingCacheSize  int  `mapstructure:"mapping_cache_size" validate:"required,gt=0"`
	FuzzyMatchEnabled bool `mapstructure:"fuzzy_match_enabled"`
	CacheTTLS         int  `mapstructure:"cache_ttl_s" validate:"required,gt=0"`
}

// CacheTTL returns how long resolved mappings stay cached
func (i *IdentityConfig) CacheTTL() time.Duration {
	return time.Duration(i.CacheTTLS) * time.Second
}

// RetentionConfig bounds how long raw captures and attempts are kept
type RetentionConfig struct {
	RawDays      int `mapstructure:"raw_days" validate:"required,gt=0"`
	AttemptsDays int `mapstructure:"attempts_days" validate:"required,gt=0"`
}

// SchedulerConfig represents the 24/7 job schedule
type SchedulerConfig struct {
	SweepIntervalS        int    `mapstructure:"sweep_interval_s" validate:"required,gt=0"`
	RevivalIntervalS      int    `mapstructure:"revival_interval_s" validate:"required,gt=0"`
	RevivalBatchSize      int    `mapstructure:"revival_batch_size" validate:"required,gt=0"`
	OutcomeResolutionCron string `mapstructure:"outcome_resolution_cron" validate:"required"`
	RetentionCron         string `mapstructure:"retention_cron" validate:"required"`
}

// SweepInterval returns the collection sweep cadence
func (s *SchedulerConfig) SweepInterval() time.Duration {
	return time.Duration(s.SweepIntervalS) * time.Second
}

// RevivalInterval returns the quarantine revival cadence
func (s *SchedulerConfig) RevivalInterval() time.Duration {
	return time.Duration(s.RevivalIntervalS) * time.Second
}

// MetricsConfig represents metrics exposure configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// IsDevelopment checks if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsStaging checks if the application is running in staging mode
func (c *Config) IsStaging() bool {
	return c.App.Environment == "staging"
}

// IsProduction checks if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// GetDatabaseDSN returns a PostgreSQL DSN string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// Collector returns the configuration for one source by name
func (c *Config) Collector(name string) (CollectorConfig, bool) {
	cc, ok := c.Collectors[name]
	return cc, ok
}

// EnabledCollectors returns the enabled source names in stable order
func (c *Config) EnabledCollectors() []string {
	names := make([]string, 0, len(c.Collectors))
	for name, cc := range c.Collectors {
		if cc.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ReliabilityTable returns the per-source reliability scores used by staging
func (c *Config) ReliabilityTable() map[string]float64 {
	table := make(map[string]float64, len(c.Collectors))
	for name, cc := range c.Collectors {
		table[name] = cc.Reliability
	}
	return table
}
