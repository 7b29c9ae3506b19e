package runner

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/insightsync/internal/asyncjob"
	"git.home.luguber.info/inful/insightsync/internal/checkpoint"
	"git.home.luguber.info/inful/insightsync/internal/config"
	"git.home.luguber.info/inful/insightsync/internal/eventstore"
	ferrors "git.home.luguber.info/inful/insightsync/internal/foundation/errors"
	"git.home.luguber.info/inful/insightsync/internal/graphapi"
	"git.home.luguber.info/inful/insightsync/internal/jobmanager"
	"git.home.luguber.info/inful/insightsync/internal/logfields"
	"git.home.luguber.info/inful/insightsync/internal/metrics"
	"git.home.luguber.info/inful/insightsync/internal/quota"
	"git.home.luguber.info/inful/insightsync/internal/retry"
	"git.home.luguber.info/inful/insightsync/internal/sink"
	"git.home.luguber.info/inful/insightsync/internal/stream"
)

// Platform is the remote insights service together with its throttle reports.
type Platform interface {
	asyncjob.Client
	Throttle() quota.Signal
}

// Service runs syncs. The zero value is not usable; use New.
type Service struct {
	newPlatform func(cfg *config.Config) (Platform, error)
	openStore   func(ctx context.Context, cfg *config.Config) (checkpoint.Store, error)
	openSink    func(ctx context.Context, cfg *config.Config) (sink.Sink, error)
	events      eventstore.Store
	projection  *eventstore.RunHistoryProjection
	publisher   eventstore.Publisher
	recorder    metrics.Recorder
	sleep       jobmanager.SleepFunc
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPlatform replaces the HTTP platform client factory.
func WithPlatform(fn func(cfg *config.Config) (Platform, error)) Option {
	return func(s *Service) { s.newPlatform = fn }
}

// WithCheckpointStore replaces the checkpoint store factory.
func WithCheckpointStore(fn func(ctx context.Context, cfg *config.Config) (checkpoint.Store, error)) Option {
	return func(s *Service) { s.openStore = fn }
}

// WithSink replaces the record sink factory.
func WithSink(fn func(ctx context.Context, cfg *config.Config) (sink.Sink, error)) Option {
	return func(s *Service) { s.openSink = fn }
}

// WithEventStore records run and job events.
func WithEventStore(store eventstore.Store) Option {
	return func(s *Service) { s.events = store }
}

// WithProjection keeps p current with every emitted event.
func WithProjection(p *eventstore.RunHistoryProjection) Option {
	return func(s *Service) { s.projection = p }
}

// WithPublisher forwards run and job events to a message bus.
func WithPublisher(p eventstore.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithSleep overrides the job manager's wait between rounds.
func WithSleep(fn jobmanager.SleepFunc) Option {
	return func(s *Service) { s.sleep = fn }
}

// WithNow overrides the clock used for planning.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service wired to the HTTP platform client, the configured
// checkpoint store and the configured sink.
func New(opts ...Option) *Service {
	s := &Service{
		newPlatform: func(cfg *config.Config) (Platform, error) { return graphapi.New(cfg.API) },
		openStore:   checkpoint.Open,
		openSink:    func(ctx context.Context, cfg *config.Config) (sink.Sink, error) { return sink.Open(ctx, cfg.Output) },
		recorder:    metrics.NoopRecorder{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes one sync. A partial run returns its result together with the
// joined account failures.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), StartTime: time.Now()}
	log := slog.With(logfields.RunID(res.RunID))

	emitterOpts := []eventstore.EmitterOption{}
	if s.projection != nil {
		emitterOpts = append(emitterOpts, eventstore.WithProjection(s.projection))
	}
	if s.publisher != nil {
		emitterOpts = append(emitterOpts, eventstore.WithPublisher(s.publisher))
	}
	emitter := eventstore.NewEmitter(s.events, res.RunID, emitterOpts...)

	err := s.run(ctx, req, res, emitter, log)
	res.EndTime = time.Now()
	res.Duration = res.EndTime.Sub(res.StartTime)

	switch {
	case ctx.Err() != nil:
		res.Status = StatusCanceled
	case err != nil && res.Status != StatusPartial:
		res.Status = StatusFailed
	case res.Status == "":
		res.Status = StatusSucceeded
	}

	s.recorder.ObserveRunDuration(res.Duration)
	s.recorder.IncRunOutcome(res.Status.outcome())

	// Run events are recorded even when ctx was canceled.
	evCtx := context.WithoutCancel(ctx)
	if res.Status == StatusFailed || res.Status == StatusCanceled {
		cause := err
		if cause == nil {
			cause = ctx.Err()
		}
		if eerr := emitter.RunFailed(evCtx, cause); eerr != nil {
			log.Warn("Failed to record run event", logfields.Error(eerr))
		}
	} else {
		if eerr := emitter.RunCompleted(evCtx, eventstore.RunCompletedPayload{
			Status:         string(res.Status),
			Records:        res.Records(),
			Slices:         res.Slices(),
			FailedAccounts: res.FailedAccounts(),
		}); eerr != nil {
			log.Warn("Failed to record run event", logfields.Error(eerr))
		}
	}

	attrs := []any{
		slog.String("status", string(res.Status)),
		logfields.Records(res.Records()),
		slog.Int("slices", res.Slices()),
		logfields.DurationMS(float64(res.Duration.Milliseconds())),
	}
	if err != nil {
		log.Error("Sync run finished", append(attrs, logfields.Error(err))...)
	} else {
		log.Info("Sync run finished", attrs...)
	}
	return res, err
}

func (s *Service) run(ctx context.Context, req Request, res *Result, emitter *eventstore.Emitter, log *slog.Logger) error {
	cfg := req.Config
	if cfg == nil {
		return ferrors.ConfigError("no configuration").Build()
	}

	defs, err := stream.Definitions(cfg)
	if err != nil {
		return err
	}
	if defs, err = stream.Select(defs, req.Streams); err != nil {
		return err
	}

	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	trigger := cmp.Or(req.Trigger, TriggerCLI)
	if err := emitter.RunStarted(ctx, string(trigger), names); err != nil {
		log.Warn("Failed to record run event", logfields.Error(err))
	}
	log.Info("Sync run started", slog.String("trigger", string(trigger)), slog.Any("streams", names))

	platform, err := s.newPlatform(cfg)
	if err != nil {
		return err
	}
	store, err := s.openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	out, err := s.openSink(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			log.Warn("Failed to close sink", logfields.Error(cerr))
		}
	}()

	tracker := quota.NewTracker(quota.Descriptor{
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		CoolDown:      cfg.Jobs.CoolDownDuration(),
	}, retry.ThrottlePolicy(cfg.Jobs))
	managerOpts := []jobmanager.Option{
		jobmanager.WithMaxAttempts(cfg.Jobs.MaxAttempts),
		jobmanager.WithQuotaSource(platform),
		jobmanager.WithRecorder(s.recorder),
		jobmanager.WithEmitter(emitter),
	}
	if s.sleep != nil {
		managerOpts = append(managerOpts, jobmanager.WithSleep(s.sleep))
	}
	manager := jobmanager.New(tracker, managerOpts...)

	var partial []error
	for _, def := range defs {
		sr, err := s.syncStream(ctx, def, platform, manager, store, out, emitter, log)
		res.Streams = append(res.Streams, sr)
		if err == nil {
			continue
		}
		var terminal *jobmanager.TerminalError
		if !def.FailFast && len(sr.FailedAccounts) > 0 && errors.As(err, &terminal) {
			partial = append(partial, fmt.Errorf("stream %s: %w", def.Name, err))
			continue
		}
		return fmt.Errorf("stream %s: %w", def.Name, err)
	}
	if len(partial) > 0 {
		res.Status = StatusPartial
		return errors.Join(partial...)
	}
	return nil
}

// syncStream drains one stream, checkpointing after every slice.
func (s *Service) syncStream(
	ctx context.Context,
	def stream.Definition,
	platform Platform,
	manager *jobmanager.Manager,
	store checkpoint.Store,
	out sink.Sink,
	emitter *eventstore.Emitter,
	log *slog.Logger,
) (StreamResult, error) {
	sr := StreamResult{Name: def.Name}
	log = log.With(logfields.Stream(def.Name))

	st, err := stream.NewInsights(def, platform, manager, stream.WithRecorder(s.recorder), stream.WithNow(s.now))
	if err != nil {
		sr.Err = err
		return sr, err
	}

	raw, err := store.Load(ctx, def.Name)
	if err != nil {
		sr.Err = err
		return sr, err
	}
	st.LoadState(raw)

	schemaDoc, err := st.JSONSchema().MarshalJSON()
	if err != nil {
		sr.Err = err
		return sr, err
	}
	if err := out.Prepare(ctx, sink.StreamInfo{Name: def.Name, PrimaryKey: st.PrimaryKey(), Schema: schemaDoc}); err != nil {
		sr.Err = err
		return sr, err
	}

	fail := func(err error) (StreamResult, error) {
		sr.Err = err
		for _, a := range st.FailedAccounts() {
			sr.FailedAccounts = append(sr.FailedAccounts, a.Key())
		}
		return sr, err
	}

	for slice, err := range st.Slices(ctx) {
		if err != nil {
			return fail(err)
		}
		n := 0
		for rec, err := range st.ReadRecords(ctx, slice) {
			if err != nil {
				return fail(err)
			}
			if err := out.WriteRecord(ctx, def.Name, rec); err != nil {
				return fail(err)
			}
			n++
		}
		if err := s.checkpoint(ctx, st, store, out); err != nil {
			return fail(err)
		}
		sr.Slices++
		sr.Records += n
		if err := emitter.SliceCheckpointed(ctx, def.Name, slice.Account, slice.Job.Interval(), n); err != nil {
			log.Warn("Failed to record run event", logfields.Error(err))
		}
	}
	return sr, nil
}

// checkpoint commits the sink before persisting the state that covers its records.
func (s *Service) checkpoint(ctx context.Context, st *stream.Insights, store checkpoint.Store, out sink.Sink) error {
	if err := out.Commit(ctx); err != nil {
		return err
	}
	doc, err := json.Marshal(st.State())
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryState, "failed to encode stream state").Build()
	}
	if err := store.Save(ctx, st.Name(), doc); err != nil {
		return err
	}
	return out.WriteState(ctx, st.Name(), doc)
}
