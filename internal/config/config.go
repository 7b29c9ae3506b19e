package config

import (
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/insightsync/internal/foundation/errors"
)

// Config is the root configuration for one connector instance.
type Config struct {
	AccountIDs      []string       `yaml:"account_ids"`
	StartDate       string         `yaml:"start_date"`
	EndDate         string         `yaml:"end_date,omitempty"`
	LookbackWindow  *int           `yaml:"insights_lookback_window,omitempty"`
	RetentionMonths int            `yaml:"insights_retention_months,omitempty"`
	TimeIncrement   int            `yaml:"time_increment"`
	AdsInsights     StreamConfig   `yaml:"ads_insights"`
	CustomInsights  []StreamConfig `yaml:"custom_insights,omitempty"`
	API             APIConfig      `yaml:"api"`
	Jobs            JobsConfig     `yaml:"jobs"`
	Sync            SyncConfig     `yaml:"sync"`
	State           StateConfig    `yaml:"state"`
	Events          EventsConfig   `yaml:"events"`
	NATS            NATSConfig     `yaml:"nats,omitempty"`
	Output          OutputConfig   `yaml:"output"`
	Logging         LoggingConfig  `yaml:"logging"`
	Metrics         MetricsConfig  `yaml:"metrics"`
	Daemon          DaemonConfig   `yaml:"daemon"`
}

// StreamConfig describes one insights stream. The default stream lives under
// ads_insights; additional report shapes are listed under custom_insights.
type StreamConfig struct {
	Name             string   `yaml:"name,omitempty"`
	Enabled          *bool    `yaml:"enabled,omitempty"`
	Fields           []string `yaml:"fields,omitempty"`
	Breakdowns       []string `yaml:"breakdowns,omitempty"`
	ActionBreakdowns []string `yaml:"action_breakdowns,omitempty"`
	Level            string   `yaml:"level,omitempty"`
	FilterStatuses   []string `yaml:"filter_statuses,omitempty"`
	// Per-stream overrides; zero means inherit the top-level value.
	TimeIncrement  int    `yaml:"time_increment,omitempty"`
	LookbackWindow *int   `yaml:"insights_lookback_window,omitempty"`
	StartDate      string `yaml:"start_date,omitempty"`
	EndDate        string `yaml:"end_date,omitempty"`
}

// IsEnabled reports whether the stream should be synced.
func (s StreamConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Lookback returns the configured lookback window in days.
func (c *Config) Lookback() int {
	if c.LookbackWindow == nil {
		return DefaultLookbackWindow
	}
	return *c.LookbackWindow
}

// APIConfig configures the HTTP client for the insights platform.
type APIConfig struct {
	BaseURL           string           `yaml:"base_url"`
	Version           string           `yaml:"version"`
	AccessToken       string           `yaml:"access_token"`
	PageSize          int              `yaml:"page_size"`
	RequestTimeout    string           `yaml:"request_timeout"`
	MaxRetries        int              `yaml:"max_retries"`
	RetryBackoff      RetryBackoffMode `yaml:"retry_backoff"`
	RetryInitialDelay string           `yaml:"retry_initial_delay"`
	RetryMaxDelay     string           `yaml:"retry_max_delay"`
}

// JobsConfig bounds the async report job manager.
type JobsConfig struct {
	MaxConcurrent        int              `yaml:"max_concurrent"`
	CoolDown             string           `yaml:"cool_down"`
	MaxAttempts          int              `yaml:"max_attempts"`
	SplitStrategy        SplitStrategy    `yaml:"split_strategy"`
	JobTimeout           string           `yaml:"job_timeout"`
	ThrottleBackoff      RetryBackoffMode `yaml:"throttle_backoff"`
	ThrottleInitialDelay string           `yaml:"throttle_initial_delay"`
	ThrottleMaxDelay     string           `yaml:"throttle_max_delay"`
}

// SyncConfig controls run-level failure handling.
type SyncConfig struct {
	// FailFast aborts the whole run on the first terminal interval failure instead
	// of isolating the failing account.
	FailFast bool `yaml:"fail_fast"`
}

// StateConfig selects where stream checkpoints are stored.
type StateConfig struct {
	Backend StateBackend `yaml:"backend"`
	Path    string       `yaml:"path"`
	Bucket  string       `yaml:"bucket,omitempty"` // NATS KV bucket
}

// EventsConfig configures the job event log and optional event publishing.
type EventsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	StorePath     string `yaml:"store_path"`
	Publish       bool   `yaml:"publish"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`
}

// NATSConfig holds the shared NATS connection settings.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// OutputConfig selects the record sink.
type OutputConfig struct {
	Format      OutputFormat `yaml:"format"`
	Path        string       `yaml:"path"` // "-" for stdout
	PostgresDSN string       `yaml:"postgres_dsn,omitempty"`
	TablePrefix string       `yaml:"table_prefix,omitempty"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint (daemon mode).
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Path       string `yaml:"path"`
}

// DaemonConfig configures periodic syncs.
type DaemonConfig struct {
	Interval    string `yaml:"interval"`
	WatchConfig bool   `yaml:"watch_config"`
}

// Load loads, defaults and validates a configuration file.
func Load(configPath string) (*Config, error) {
	if loaded, err := loadEnvFiles(); err != nil {
		slog.Warn("Failed to load environment file", "error", err)
	} else if loaded != "" {
		slog.Debug("Loaded environment variables", "file", loaded)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.ConfigError("configuration file not found").
				WithContext("path", configPath).Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to read config file").
			WithContext("path", configPath).Build()
	}
	return Parse(data)
}

// Parse decodes YAML (after ${VAR} expansion), applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to unmarshal config").Fatal().Build()
	}
	if err := NewDefaultApplier().ApplyDefaults(&cfg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "invalid configuration").Fatal().Build()
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// duration parses a Go duration string, returning fallback for empty or invalid values.
// Validation rejects invalid values before callers get here.
func duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func (a APIConfig) RequestTimeoutDuration() time.Duration {
	return duration(a.RequestTimeout, 30*time.Second)
}

func (a APIConfig) RetryInitialDelayDuration() time.Duration {
	return duration(a.RetryInitialDelay, time.Second)
}

func (a APIConfig) RetryMaxDelayDuration() time.Duration {
	return duration(a.RetryMaxDelay, 30*time.Second)
}

func (j JobsConfig) CoolDownDuration() time.Duration {
	return duration(j.CoolDown, 5*time.Second)
}

func (j JobsConfig) JobTimeoutDuration() time.Duration {
	return duration(j.JobTimeout, time.Hour)
}

func (j JobsConfig) ThrottleInitialDelayDuration() time.Duration {
	return duration(j.ThrottleInitialDelay, 10*time.Second)
}

func (j JobsConfig) ThrottleMaxDelayDuration() time.Duration {
	return duration(j.ThrottleMaxDelay, 5*time.Minute)
}

func (d DaemonConfig) IntervalDuration() time.Duration {
	return duration(d.Interval, 6*time.Hour)
}
