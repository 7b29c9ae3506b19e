package config

import "fmt"

const (
	DefaultStreamName      = "ads_insights"
	DefaultLookbackWindow  = 28
	MaxLookbackWindow      = 28
	DefaultRetentionMonths = 37
	DefaultTimeIncrement   = 1
	MaxTimeIncrement       = 90
	DefaultNATSURL         = "nats://127.0.0.1:4222"
)

// DefaultActionBreakdowns is used when a stream leaves action_breakdowns unset.
// An explicit empty list disables action breakdowns.
var DefaultActionBreakdowns = []string{"action_type", "action_target_id", "action_destination"}

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

// CompositeDefaultApplier applies defaults across all configuration domains.
type CompositeDefaultApplier struct {
	appliers []DefaultApplier
}

// NewDefaultApplier creates a composite default applier with all domain appliers.
func NewDefaultApplier() *CompositeDefaultApplier {
	return &CompositeDefaultApplier{
		appliers: []DefaultApplier{
			&syncWindowDefaults{},
			&streamDefaults{},
			&apiDefaults{},
			&jobsDefaults{},
			&storageDefaults{},
			&runtimeDefaults{},
		},
	}
}

// ApplyDefaults applies defaults for all configuration domains.
func (c *CompositeDefaultApplier) ApplyDefaults(cfg *Config) error {
	for _, applier := range c.appliers {
		if err := applier.ApplyDefaults(cfg); err != nil {
			return fmt.Errorf("applying defaults for %s: %w", applier.Domain(), err)
		}
	}
	return nil
}

type syncWindowDefaults struct{}

func (syncWindowDefaults) Domain() string { return "sync_window" }

func (syncWindowDefaults) ApplyDefaults(cfg *Config) error {
	if cfg.TimeIncrement == 0 {
		cfg.TimeIncrement = DefaultTimeIncrement
	}
	if cfg.RetentionMonths == 0 {
		cfg.RetentionMonths = DefaultRetentionMonths
	}
	if cfg.LookbackWindow == nil {
		v := DefaultLookbackWindow
		cfg.LookbackWindow = &v
	}
	return nil
}

type streamDefaults struct{}

func (streamDefaults) Domain() string { return "streams" }

func (streamDefaults) ApplyDefaults(cfg *Config) error {
	if cfg.AdsInsights.Name == "" {
		cfg.AdsInsights.Name = DefaultStreamName
	}
	if err := applyStreamDefaults(&cfg.AdsInsights); err != nil {
		return err
	}
	for i := range cfg.CustomInsights {
		if err := applyStreamDefaults(&cfg.CustomInsights[i]); err != nil {
			return fmt.Errorf("custom_insights[%d]: %w", i, err)
		}
	}
	return nil
}

func applyStreamDefaults(s *StreamConfig) error {
	if s.ActionBreakdowns == nil {
		s.ActionBreakdowns = append([]string(nil), DefaultActionBreakdowns...)
	}
	level, err := reportLevelNormalizer.Parse(s.Level)
	if err != nil {
		return err
	}
	s.Level = string(level)
	return nil
}

type apiDefaults struct{}

func (apiDefaults) Domain() string { return "api" }

func (apiDefaults) ApplyDefaults(cfg *Config) error {
	a := &cfg.API
	if a.BaseURL == "" {
		a.BaseURL = "https://graph.facebook.com"
	}
	if a.Version == "" {
		a.Version = "v19.0"
	}
	if a.PageSize <= 0 {
		a.PageSize = 500
	}
	if a.MaxRetries == 0 {
		a.MaxRetries = 3
	}
	if a.RetryBackoff == "" {
		a.RetryBackoff = RetryBackoffExponential
	}
	mode, err := ParseRetryBackoff(string(a.RetryBackoff))
	if err != nil {
		return err
	}
	a.RetryBackoff = mode
	return nil
}

type jobsDefaults struct{}

func (jobsDefaults) Domain() string { return "jobs" }

func (jobsDefaults) ApplyDefaults(cfg *Config) error {
	j := &cfg.Jobs
	if j.MaxConcurrent <= 0 {
		j.MaxConcurrent = 10
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = 3
	}
	split, err := splitStrategyNormalizer.Parse(string(j.SplitStrategy))
	if err != nil {
		return err
	}
	j.SplitStrategy = split
	if j.ThrottleBackoff == "" {
		j.ThrottleBackoff = RetryBackoffExponential
	}
	mode, err := ParseRetryBackoff(string(j.ThrottleBackoff))
	if err != nil {
		return err
	}
	j.ThrottleBackoff = mode
	return nil
}

type storageDefaults struct{}

func (storageDefaults) Domain() string { return "storage" }

func (storageDefaults) ApplyDefaults(cfg *Config) error {
	backend, err := stateBackendNormalizer.Parse(string(cfg.State.Backend))
	if err != nil {
		return err
	}
	cfg.State.Backend = backend
	if cfg.State.Path == "" {
		switch backend {
		case StateBackendSQLite:
			cfg.State.Path = "./insightsync-state.db"
		default:
			cfg.State.Path = "./insightsync-state.json"
		}
	}
	if cfg.State.Bucket == "" {
		cfg.State.Bucket = "insightsync_state"
	}
	if cfg.Events.StorePath == "" {
		cfg.Events.StorePath = "./insightsync-events.db"
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "insightsync.events"
	}
	if cfg.NATS.URL == "" && (backend == StateBackendNATS || cfg.Events.Publish) {
		cfg.NATS.URL = DefaultNATSURL
	}

	format, err := outputFormatNormalizer.Parse(string(cfg.Output.Format))
	if err != nil {
		return err
	}
	cfg.Output.Format = format
	if cfg.Output.Path == "" {
		cfg.Output.Path = "-"
	}
	return nil
}

type runtimeDefaults struct{}

func (runtimeDefaults) Domain() string { return "runtime" }

func (runtimeDefaults) ApplyDefaults(cfg *Config) error {
	cfg.Logging.Level = NormalizeLogLevel(string(cfg.Logging.Level))
	cfg.Logging.Format = NormalizeLogFormat(string(cfg.Logging.Format))
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9464"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Daemon.Interval == "" {
		cfg.Daemon.Interval = "6h"
	}
	return nil
}
