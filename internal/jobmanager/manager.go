// Package jobmanager drives many asynchronous report jobs against the platform
// quota: it starts jobs as capacity allows, polls them, retries and splits failures,
// and yields jobs in completion order.
package jobmanager

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/insightsync/internal/asyncjob"
	"git.home.luguber.info/inful/insightsync/internal/logfields"
	"git.home.luguber.info/inful/insightsync/internal/metrics"
	"git.home.luguber.info/inful/insightsync/internal/quota"
)

// DefaultMaxAttempts bounds failures per job before it is split or given up.
const DefaultMaxAttempts = 3

// QuotaSource reports the platform's latest throttle signal.
type QuotaSource interface {
	Throttle() quota.Signal
}

// EventEmitter abstracts event emission for job lifecycle events.
type EventEmitter interface {
	EmitJobSubmitted(ctx context.Context, stream string, job *asyncjob.Job) error
	EmitJobCompleted(ctx context.Context, stream string, job *asyncjob.Job) error
	EmitJobFailed(ctx context.Context, stream string, job *asyncjob.Job, terminal bool) error
	EmitJobSplit(ctx context.Context, stream string, parent *asyncjob.Job, children []*asyncjob.Job) error
}

// TerminalError reports a job that exhausted its attempts and could not be split.
type TerminalError struct {
	Job *asyncjob.Job
	Err error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("report job for account %s interval %s failed after %d attempts: %v",
		e.Job.Account(), e.Job.Interval(), e.Job.Attempts(), e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
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

// Manager schedules jobs against a quota tracker. One manager may serve several
// streams of a run in sequence; it keeps no state between CompletedJobs calls
// other than the tracker.
type Manager struct {
	tracker     *quota.Tracker
	source      QuotaSource
	maxAttempts int
	sleep       SleepFunc
	recorder    metrics.Recorder
	emitter     EventEmitter
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxAttempts sets the failure bound before splitting.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithQuotaSource sets where throttle signals are read from each round.
func WithQuotaSource(src QuotaSource) Option {
	return func(m *Manager) { m.source = src }
}

// WithSleep replaces the wait between rounds (tests use a no-op).
func WithSleep(fn SleepFunc) Option {
	return func(m *Manager) { m.sleep = fn }
}

// WithRecorder injects a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithEmitter injects a lifecycle event emitter.
func WithEmitter(e EventEmitter) Option {
	return func(m *Manager) { m.emitter = e }
}

// New creates a manager.
func New(tracker *quota.Tracker, opts ...Option) *Manager {
	if tracker == nil {
		panic("jobmanager.New: tracker is required")
	}
	m := &Manager{
		tracker:     tracker,
		maxAttempts: DefaultMaxAttempts,
		sleep:       sleepContext,
		recorder:    metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunOption configures one CompletedJobs call.
type RunOption func(*runConfig)

type runConfig struct {
	stream string
	skip   func(*asyncjob.Job) bool
}

// ForStream labels logs, metrics and events with the stream name.
func ForStream(name string) RunOption {
	return func(c *runConfig) { c.stream = name }
}

// SkipWhen drops jobs for which pred returns true, both before submission and
// while in flight. The predicate is evaluated on the consumer's goroutine between
// yields, so it may depend on state the consumer updates.
func SkipWhen(pred func(*asyncjob.Job) bool) RunOption {
	return func(c *runConfig) { c.skip = pred }
}

// run holds the per-call scheduling state.
type run struct {
	*Manager
	cfg      runConfig
	pending  []*asyncjob.Job // retries and split children, served before new input
	running  []*asyncjob.Job
	deferred []*asyncjob.Job // failures of this round, queued at the end of it
}

func (r *run) skipped(job *asyncjob.Job) bool {
	return r.cfg.skip != nil && r.cfg.skip(job)
}

func (r *run) pushFront(jobs ...*asyncjob.Job) {
	r.pending = append(append([]*asyncjob.Job(nil), jobs...), r.pending...)
}

// CompletedJobs pulls jobs lazily from jobs and yields each one as soon as it
// completes. A job that cannot be completed is yielded with a *TerminalError.
// Context cancellation is yielded once as an error; remote runs already submitted
// are abandoned. Iteration stops early when the consumer stops.
func (m *Manager) CompletedJobs(ctx context.Context, jobs iter.Seq[*asyncjob.Job], opts ...RunOption) iter.Seq2[*asyncjob.Job, error] {
	return func(yield func(*asyncjob.Job, error) bool) {
		r := &run{Manager: m}
		for _, opt := range opts {
			opt(&r.cfg)
		}
		next, stop := iter.Pull(jobs)
		defer stop()
		defer r.abandon()

		exhausted := false
		take := func() *asyncjob.Job {
			if len(r.pending) > 0 {
				job := r.pending[0]
				r.pending = r.pending[1:]
				return job
			}
			if exhausted {
				return nil
			}
			job, ok := next()
			if !ok {
				exhausted = true
				return nil
			}
			return job
		}

		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			r.observeThrottle()
			r.dropSkippedRunning()

			for r.tracker.Available() > 0 {
				job := take()
				if job == nil {
					break
				}
				if r.skipped(job) {
					continue
				}
				if !r.start(ctx, job, yield) {
					return
				}
			}

			if !r.pollRunning(ctx, yield) {
				return
			}
			r.recorder.SetJobsInFlight(len(r.running))
			r.pushFront(r.deferred...)
			r.deferred = nil

			if len(r.running) == 0 && len(r.pending) == 0 && exhausted {
				return
			}
			if err := r.sleep(ctx, r.tracker.NextWait()); err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

func (r *run) observeThrottle() {
	if r.source == nil {
		return
	}
	sig := r.source.Throttle()
	r.tracker.Observe(sig)
	r.recorder.SetThrottleUtilization(sig.Utilization)
}

func (r *run) dropSkippedRunning() {
	kept := r.running[:0]
	for _, job := range r.running {
		if r.skipped(job) {
			r.tracker.Release()
			continue
		}
		kept = append(kept, job)
	}
	r.running = kept
}

// start submits one job. It returns false when iteration must stop.
func (r *run) start(ctx context.Context, job *asyncjob.Job, yield func(*asyncjob.Job, error) bool) bool {
	if err := r.tracker.Acquire(); err != nil {
		r.pushFront(job)
		return true
	}
	if err := job.Start(ctx); err != nil {
		r.tracker.Release()
		if ctxErr := ctx.Err(); ctxErr != nil {
			yield(nil, ctxErr)
			return false
		}
		slog.Warn("Report job submission failed",
			logfields.Stream(r.cfg.stream),
			logfields.JobID(job.ID()),
			logfields.AccountID(job.Account().Key()),
			logfields.Interval(job.Interval()),
			logfields.Attempt(job.Attempts()),
			logfields.Error(err))
		return r.handleFailure(ctx, job, yield)
	}

	r.running = append(r.running, job)
	r.recorder.IncJobSubmitted(r.cfg.stream)
	r.emit(ctx, "submitted", func(e EventEmitter) error { return e.EmitJobSubmitted(ctx, r.cfg.stream, job) })
	slog.Debug("Report job started",
		logfields.Stream(r.cfg.stream),
		logfields.JobID(job.ID()),
		logfields.AccountID(job.Account().Key()),
		logfields.Interval(job.Interval()))
	return true
}

// pollRunning polls every running job once. It returns false when iteration must stop.
func (r *run) pollRunning(ctx context.Context, yield func(*asyncjob.Job, error) bool) bool {
	current := r.running
	r.running = nil
	for i, job := range current {
		status, err := job.Poll(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				r.running = append(r.running, current[i:]...)
				yield(nil, ctxErr)
				return false
			}
			slog.Warn("Report job status check failed; will poll again",
				logfields.Stream(r.cfg.stream),
				logfields.JobID(job.ID()),
				logfields.Error(err))
			r.running = append(r.running, job)
			continue
		}

		switch status {
		case asyncjob.StatusCompleted:
			r.tracker.Release()
			r.recorder.IncJobOutcome(r.cfg.stream, metrics.JobCompleted)
			r.recorder.ObserveJobDuration(r.cfg.stream, job.CompletedAt().Sub(job.SubmittedAt()))
			r.emit(ctx, "completed", func(e EventEmitter) error { return e.EmitJobCompleted(ctx, r.cfg.stream, job) })
			if !yield(job, nil) {
				r.running = append(r.running, current[i+1:]...)
				return false
			}
		case asyncjob.StatusFailed:
			r.tracker.Release()
			if !r.handleFailure(ctx, job, yield) {
				r.running = append(r.running, current[i+1:]...)
				return false
			}
		default:
			r.running = append(r.running, job)
		}
	}
	return true
}

// handleFailure retries, splits or surfaces a failed job.
func (r *run) handleFailure(ctx context.Context, job *asyncjob.Job, yield func(*asyncjob.Job, error) bool) bool {
	attrs := []any{
		logfields.Stream(r.cfg.stream),
		logfields.JobID(job.ID()),
		logfields.AccountID(job.Account().Key()),
		logfields.Interval(job.Interval()),
		logfields.Attempt(job.Attempts()),
		logfields.Error(job.LastError()),
	}

	if job.Attempts() < r.maxAttempts {
		slog.Warn("Report job failed; retrying", attrs...)
		r.recorder.IncJobOutcome(r.cfg.stream, metrics.JobRetried)
		r.emit(ctx, "failed", func(e EventEmitter) error { return e.EmitJobFailed(ctx, r.cfg.stream, job, false) })
		r.deferred = append(r.deferred, job)
		return true
	}

	if job.CanSplit() {
		children, err := job.Split()
		if err == nil {
			slog.Warn("Report job failed too often; splitting", append(attrs, slog.Int("children", len(children)))...)
			r.recorder.IncJobOutcome(r.cfg.stream, metrics.JobSplit)
			r.emit(ctx, "split", func(e EventEmitter) error { return e.EmitJobSplit(ctx, r.cfg.stream, job, children) })
			r.deferred = append(r.deferred, children...)
			return true
		}
	}

	slog.Error("Report job failed permanently", attrs...)
	r.recorder.IncJobOutcome(r.cfg.stream, metrics.JobTerminal)
	r.emit(ctx, "failed", func(e EventEmitter) error { return e.EmitJobFailed(ctx, r.cfg.stream, job, true) })
	return yield(job, &TerminalError{Job: job, Err: job.LastError()})
}

func (r *run) emit(ctx context.Context, what string, fn func(EventEmitter) error) {
	if r.emitter == nil || ctx.Err() != nil {
		return
	}
	if err := fn(r.emitter); err != nil {
		slog.Warn("Failed to emit job event", slog.String("event", what), logfields.Error(err))
	}
}

// abandon releases quota held by jobs still running when iteration ends.
func (r *run) abandon() {
	for _, job := range r.running {
		r.tracker.Release()
		slog.Debug("Abandoning running report job", logfields.JobID(job.ID()), logfields.Interval(job.Interval()))
	}
	r.running = nil
}
