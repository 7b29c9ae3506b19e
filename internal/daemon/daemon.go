// Package daemon runs periodic sync runs, reloads configuration on change and
// serves metrics and run status over HTTP.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/insightsync/internal/config"
	"git.home.luguber.info/inful/insightsync/internal/eventstore"
	ferrors "git.home.luguber.info/inful/insightsync/internal/foundation/errors"
	"git.home.luguber.info/inful/insightsync/internal/logfields"
	"git.home.luguber.info/inful/insightsync/internal/runner"
)

const syncJobName = "insights-sync"

// Status represents the current state of the daemon.
type Status string

const (
	StatusStarting Status = "starting"
	StatusIdle     Status = "idle"
	StatusSyncing  Status = "syncing"
	StatusStopping Status = "stopping"
)

// SyncRunner executes one sync run.
type SyncRunner interface {
	Run(ctx context.Context, req runner.Request) (*runner.Result, error)
}

// Daemon serializes sync runs triggered by the schedule and config reloads.
type Daemon struct {
	configPath string
	runner     SyncRunner
	registry   *prom.Registry
	projection *eventstore.RunHistoryProjection

	mu        sync.RWMutex
	cfg       *config.Config
	scheduler *Scheduler

	triggers  chan runner.Trigger
	status    atomic.Value // Status
	runs      atomic.Int64
	lastRun   atomic.Pointer[runner.Result]
	lastErr   atomic.Pointer[string]
	startTime time.Time
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithRegistry serves the given registry on the metrics endpoint.
func WithRegistry(reg *prom.Registry) Option {
	return func(d *Daemon) { d.registry = reg }
}

// WithProjection exposes run history on the status endpoint.
func WithProjection(p *eventstore.RunHistoryProjection) Option {
	return func(d *Daemon) { d.projection = p }
}

// New creates a daemon. configPath may be empty, which disables config watching.
func New(cfg *config.Config, configPath string, r SyncRunner, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, ferrors.DaemonError("configuration is required").Build()
	}
	if r == nil {
		return nil, ferrors.DaemonError("sync runner is required").Build()
	}
	d := &Daemon{
		configPath: configPath,
		runner:     r,
		cfg:        cfg,
		triggers:   make(chan runner.Trigger, 1),
		startTime:  time.Now(),
	}
	d.status.Store(StatusStarting)
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Config returns the active configuration.
func (d *Daemon) Config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// GetStatus returns the current daemon status.
func (d *Daemon) GetStatus() Status {
	return d.status.Load().(Status)
}

// Runs returns the number of finished sync runs.
func (d *Daemon) Runs() int64 { return d.runs.Load() }

// LastResult returns the most recent run result, or nil.
func (d *Daemon) LastResult() *runner.Result { return d.lastRun.Load() }

// Trigger requests a sync run. Requests arriving while one is already queued are
// coalesced.
func (d *Daemon) Trigger(t runner.Trigger) bool {
	select {
	case d.triggers <- t:
		return true
	default:
		slog.Debug("Sync already queued, coalescing trigger", slog.String("trigger", string(t)))
		return false
	}
}

// Run blocks until ctx is canceled or a component fails. The first scheduled
// tick starts a sync immediately.
func (d *Daemon) Run(ctx context.Context) error {
	sched, err := NewScheduler()
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryDaemon, "failed to create scheduler").Build()
	}
	cfg := d.Config()
	if _, err := sched.ScheduleEvery(syncJobName, cfg.Daemon.IntervalDuration(), d.scheduledTick); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryDaemon, "failed to schedule sync").Build()
	}

	d.mu.Lock()
	d.scheduler = sched
	d.mu.Unlock()

	var watcher *ConfigWatcher
	if d.configPath != "" && cfg.Daemon.WatchConfig {
		w, err := NewConfigWatcher(d.configPath, d.ReloadConfig)
		if err != nil {
			_ = sched.Stop()
			return ferrors.WrapError(err, ferrors.CategoryDaemon, "failed to create config watcher").Build()
		}
		watcher = w
		defer func() { _ = watcher.Stop() }()
	}

	g, gctx := errgroup.WithContext(ctx)
	if watcher != nil {
		if err := watcher.Start(gctx); err != nil {
			_ = sched.Stop()
			return ferrors.WrapError(err, ferrors.CategoryDaemon, "failed to start config watcher").Build()
		}
	}

	g.Go(func() error { return d.loop(gctx) })
	if cfg.Metrics.Enabled {
		srv := d.newHTTPServer(cfg.Metrics)
		g.Go(func() error { return serveHTTP(gctx, srv) })
	}

	sched.Start()
	d.status.Store(StatusIdle)
	slog.Info("Daemon started",
		slog.Duration("interval", cfg.Daemon.IntervalDuration()),
		slog.Bool("metrics", cfg.Metrics.Enabled),
		slog.Bool("watch_config", cfg.Daemon.WatchConfig))

	err = g.Wait()
	d.status.Store(StatusStopping)
	if serr := sched.Stop(); serr != nil {
		slog.Warn("Failed to stop scheduler", logfields.Error(serr))
	}
	slog.Info("Daemon stopped", slog.Int64("runs", d.runs.Load()))

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (d *Daemon) scheduledTick() {
	d.Trigger(runner.TriggerSchedule)
}

func (d *Daemon) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-d.triggers:
			d.runOnce(ctx, t)
		}
	}
}

// runOnce performs one sync. Failed runs are logged and recorded; the daemon
// keeps going.
func (d *Daemon) runOnce(ctx context.Context, t runner.Trigger) {
	d.status.Store(StatusSyncing)
	defer d.status.Store(StatusIdle)

	res, err := d.runner.Run(ctx, runner.Request{Config: d.Config(), Trigger: t})
	d.runs.Add(1)
	if res != nil {
		d.lastRun.Store(res)
	}
	if err != nil {
		msg := err.Error()
		d.lastErr.Store(&msg)
		slog.Warn("Scheduled sync did not succeed", slog.String("trigger", string(t)), logfields.Error(err))
		return
	}
	d.lastErr.Store(nil)
}

// ReloadConfig swaps the active configuration, reschedules when the interval
// changed and queues a sync with the new settings.
func (d *Daemon) ReloadConfig(_ context.Context, newCfg *config.Config) error {
	if newCfg == nil {
		return ferrors.ConfigError("reloaded configuration is empty").Build()
	}

	d.mu.Lock()
	oldInterval := d.cfg.Daemon.IntervalDuration()
	d.cfg = newCfg
	sched := d.scheduler
	d.mu.Unlock()

	newInterval := newCfg.Daemon.IntervalDuration()
	if sched != nil && newInterval != oldInterval {
		// Rescheduling starts immediately, which already queues a sync.
		if _, err := sched.ScheduleEvery(syncJobName, newInterval, d.scheduledTick); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryDaemon, "failed to reschedule sync").Build()
		}
		slog.Info("Sync interval changed", slog.Duration("old", oldInterval), slog.Duration("new", newInterval))
	}
	if d.Trigger(runner.TriggerReload) {
		slog.Info("Queued sync after configuration reload")
	}
	return nil
}
