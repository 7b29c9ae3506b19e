package config

import (
	"fmt"
	"slices"
	"time"

	ferrors "git.home.luguber.info/inful/insightsync/internal/foundation/errors"
	"git.home.luguber.info/inful/insightsync/internal/model"
)

// ValidateConfig validates a defaulted configuration. The first problem found is
// returned as a classified config error.
func ValidateConfig(cfg *Config) error {
	v := &configurationValidator{config: cfg}
	for _, check := range []func() error{
		v.validateAccounts,
		v.validateWindow,
		v.validateStreams,
		v.validateDurations,
		v.validateJobs,
		v.validateOutputs,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

type configurationValidator struct {
	config *Config
}

func invalid(field, format string, args ...any) error {
	return ferrors.ConfigError(fmt.Sprintf(format, args...)).WithContext("field", field).Build()
}

func (cv *configurationValidator) validateAccounts() error {
	if len(cv.config.AccountIDs) == 0 {
		return invalid("account_ids", "account_ids must list at least one account")
	}
	seen := make(map[string]struct{}, len(cv.config.AccountIDs))
	for _, id := range cv.config.AccountIDs {
		if id == "" {
			return invalid("account_ids", "account_ids must not contain empty values")
		}
		if id == model.LegacyAccountKey {
			return invalid("account_ids", "%q is a reserved state key", id)
		}
		if _, dup := seen[id]; dup {
			return invalid("account_ids", "duplicate account id %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func (cv *configurationValidator) validateWindow() error {
	cfg := cv.config
	if err := validateDates("", cfg.StartDate, cfg.EndDate, true); err != nil {
		return err
	}
	if cfg.TimeIncrement < 1 || cfg.TimeIncrement > MaxTimeIncrement {
		return invalid("time_increment", "time_increment must be between 1 and %d, got %d", MaxTimeIncrement, cfg.TimeIncrement)
	}
	if l := cfg.Lookback(); l < 0 || l > MaxLookbackWindow {
		return invalid("insights_lookback_window", "insights_lookback_window must be between 0 and %d, got %d", MaxLookbackWindow, l)
	}
	if cfg.RetentionMonths < 1 {
		return invalid("insights_retention_months", "insights_retention_months must be positive")
	}
	return nil
}

func validateDates(prefix, start, end string, required bool) error {
	var s, e model.Date
	var err error
	if start == "" {
		if required {
			return invalid(prefix+"start_date", "start_date is required")
		}
	} else if s, err = model.ParseDate(start); err != nil {
		return invalid(prefix+"start_date", "start_date: %v", err)
	}
	if end != "" {
		if e, err = model.ParseDate(end); err != nil {
			return invalid(prefix+"end_date", "end_date: %v", err)
		}
		if !s.IsZero() && e.Before(s) {
			return invalid(prefix+"end_date", "end_date %s is before start_date %s", e, s)
		}
	}
	return nil
}

func (cv *configurationValidator) validateStreams() error {
	var names []string
	streams := append([]StreamConfig{cv.config.AdsInsights}, cv.config.CustomInsights...)
	for i, s := range streams {
		prefix := "ads_insights."
		if i > 0 {
			prefix = fmt.Sprintf("custom_insights[%d].", i-1)
			if s.Name == "" {
				return invalid(prefix+"name", "custom insights streams need a name")
			}
		}
		if slices.Contains(names, s.Name) {
			return invalid(prefix+"name", "duplicate stream name %q", s.Name)
		}
		names = append(names, s.Name)
		if s.TimeIncrement < 0 || s.TimeIncrement > MaxTimeIncrement {
			return invalid(prefix+"time_increment", "time_increment must be between 1 and %d", MaxTimeIncrement)
		}
		if s.LookbackWindow != nil && (*s.LookbackWindow < 0 || *s.LookbackWindow > MaxLookbackWindow) {
			return invalid(prefix+"insights_lookback_window", "insights_lookback_window must be between 0 and %d", MaxLookbackWindow)
		}
		if err := validateDates(prefix, s.StartDate, s.EndDate, false); err != nil {
			return err
		}
	}
	return nil
}

func (cv *configurationValidator) validateDurations() error {
	cfg := cv.config
	fields := map[string]string{
		"api.request_timeout":         cfg.API.RequestTimeout,
		"api.retry_initial_delay":     cfg.API.RetryInitialDelay,
		"api.retry_max_delay":         cfg.API.RetryMaxDelay,
		"jobs.cool_down":              cfg.Jobs.CoolDown,
		"jobs.job_timeout":            cfg.Jobs.JobTimeout,
		"jobs.throttle_initial_delay": cfg.Jobs.ThrottleInitialDelay,
		"jobs.throttle_max_delay":     cfg.Jobs.ThrottleMaxDelay,
		"daemon.interval":             cfg.Daemon.Interval,
	}
	for field, raw := range fields {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return invalid(field, "%s: invalid duration %q", field, raw)
		}
		if d < 0 {
			return invalid(field, "%s must not be negative", field)
		}
	}
	return nil
}

func (cv *configurationValidator) validateJobs() error {
	if cv.config.API.MaxRetries < 0 {
		return invalid("api.max_retries", "api.max_retries must not be negative")
	}
	return nil
}

func (cv *configurationValidator) validateOutputs() error {
	cfg := cv.config
	if cfg.Output.Format == OutputPostgres && cfg.Output.PostgresDSN == "" {
		return invalid("output.postgres_dsn", "output.postgres_dsn is required for the postgres sink")
	}
	if cfg.Metrics.Path[0] != '/' {
		return invalid("metrics.path", "metrics.path must start with /")
	}
	return nil
}
