// Package retry computes backoff delays for transient failures: HTTP retries in the
// platform client and throttle waits in the job manager.
package retry

import (
	"context"
	"time"

	"git.home.luguber.info/inful/insightsync/internal/config"
)

// Policy encapsulates retry/backoff settings for transient failures.
// It is immutable after construction.
type Policy struct {
	Mode       config.RetryBackoffMode // fixed|linear|exponential
	Initial    time.Duration           // base delay
	Max        time.Duration           // cap for growth
	MaxRetries int                     // maximum retry attempts after the first failure
}

// DefaultPolicy returns a sensible default policy (linear, 1s initial, 30s cap, 2 retries).
func DefaultPolicy() Policy {
	return Policy{Mode: config.RetryBackoffLinear, Initial: time.Second, Max: 30 * time.Second, MaxRetries: 2}
}

// NewPolicy builds a policy from raw config fields; zero/invalid values fall back to defaults.
func NewPolicy(mode config.RetryBackoffMode, initial, maxDuration time.Duration, maxRetries int) Policy {
	p := DefaultPolicy()
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDuration > 0 {
		p.Max = maxDuration
	}
	switch mode {
	case config.RetryBackoffFixed, config.RetryBackoffLinear, config.RetryBackoffExponential:
		p.Mode = mode
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// APIPolicy builds the HTTP retry policy from the api config section.
func APIPolicy(cfg config.APIConfig) Policy {
	return NewPolicy(cfg.RetryBackoff, cfg.RetryInitialDelayDuration(), cfg.RetryMaxDelayDuration(), cfg.MaxRetries)
}

// ThrottlePolicy builds the throttle wait policy from the jobs config section.
// MaxRetries is unused for throttling; waits continue until the platform recovers.
func ThrottlePolicy(cfg config.JobsConfig) Policy {
	return NewPolicy(cfg.ThrottleBackoff, cfg.ThrottleInitialDelayDuration(), cfg.ThrottleMaxDelayDuration(), 0)
}

// Delay returns the backoff delay for the given retry attempt number (1-based: first retry => 1).
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	switch p.Mode {
	case config.RetryBackoffFixed:
		return p.Initial
	case config.RetryBackoffExponential:
		d := p.Initial
		for i := 1; i < retryCount; i++ {
			d *= 2
			if d >= p.Max || d <= 0 {
				return p.Max
			}
		}
		return min(d, p.Max)
	default: // linear
		d := time.Duration(retryCount) * p.Initial
		if d > p.Max || d <= 0 {
			return p.Max
		}
		return d
	}
}

// Exhausted reports whether retryCount retries have used up the budget.
func (p Policy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxRetries
}

// Wait sleeps for Delay(retryCount) or until ctx is done.
func (p Policy) Wait(ctx context.Context, retryCount int) error {
	d := p.Delay(retryCount)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
