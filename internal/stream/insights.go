// Package stream exposes an insights report as a resumable stream: it plans the
// intervals to fetch, hands them to the job manager, and turns completed jobs into
// records while keeping the per-account sync state.
package stream

import (
	"cmp"
	"context"
	"errors"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"time"

	"git.home.luguber.info/inful/insightsync/internal/asyncjob"
	"git.home.luguber.info/inful/insightsync/internal/jobmanager"
	"git.home.luguber.info/inful/insightsync/internal/logfields"
	"git.home.luguber.info/inful/insightsync/internal/metrics"
	"git.home.luguber.info/inful/insightsync/internal/model"
	"git.home.luguber.info/inful/insightsync/internal/planner"
	"git.home.luguber.info/inful/insightsync/internal/schema"
	"git.home.luguber.info/inful/insightsync/internal/syncstate"
	"git.home.luguber.info/inful/insightsync/internal/transform"
)

// Scheduler runs jobs to completion. *jobmanager.Manager implements it.
type Scheduler interface {
	CompletedJobs(ctx context.Context, jobs iter.Seq[*asyncjob.Job], opts ...jobmanager.RunOption) iter.Seq2[*asyncjob.Job, error]
}

// Slice is one completed job ready to be read. Slices must be read fully, one at a
// time, before the next one is requested.
type Slice struct {
	Account model.Account
	Job     *asyncjob.Job
}

// Option configures an Insights stream.
type Option func(*Insights)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Insights) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithNow overrides the planner clock.
func WithNow(now func() time.Time) Option {
	return func(s *Insights) { s.now = now }
}

// Insights is one insights stream.
type Insights struct {
	def         Definition
	client      asyncjob.Client
	scheduler   Scheduler
	catalog     *schema.Catalog
	recorder    metrics.Recorder
	now         func() time.Time
	planner     *planner.Planner
	breakdowns  transform.Breakdowns
	transformer *transform.Transformer
	state       *syncstate.State
	failed      map[model.Account]error
}

// NewInsights builds the stream for def.
func NewInsights(def Definition, client asyncjob.Client, scheduler Scheduler, opts ...Option) (*Insights, error) {
	s := &Insights{
		def:       def,
		client:    client,
		scheduler: scheduler,
		recorder:  metrics.NoopRecorder{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	c, err := schema.Default()
	if err != nil {
		return nil, err
	}
	s.catalog = c
	s.planner = planner.New(def.Window, planner.WithNow(s.now))
	s.breakdowns = transform.NewBreakdowns(def.Breakdowns...)
	s.transformer = transform.NewTransformer(def.Name, s.breakdowns)
	s.state = syncstate.New(s.timeIncrement(), def.Accounts)
	return s, nil
}

func (s *Insights) timeIncrement() int { return max(s.def.Window.TimeIncrement, 1) }

func (s *Insights) Name() string { return s.def.Name }

// PrimaryKey is [date_start, account_id, ad_id] plus one column per breakdown.
func (s *Insights) PrimaryKey() []string { return s.breakdowns.PrimaryKey() }

// CursorField is the record field the incremental cursor follows.
func (s *Insights) CursorField() string { return "date_start" }

// Fields returns the requested report fields.
func (s *Insights) Fields() []string {
	if len(s.def.Fields) > 0 {
		return slices.Clone(s.def.Fields)
	}
	return s.catalog.Fields()
}

// JSONSchema assembles the record schema for the configured fields and breakdowns.
func (s *Insights) JSONSchema() *schema.Schema {
	return s.catalog.Assemble(s.def.Fields, s.breakdowns)
}

// RequestParams is the report shape submitted for every interval.
func (s *Insights) RequestParams() asyncjob.Params {
	p := asyncjob.Params{
		Level:            s.def.Level,
		Fields:           s.Fields(),
		Breakdowns:       s.breakdowns.Names(),
		ActionBreakdowns: slices.Clone(s.def.ActionBreakdowns),
		TimeIncrement:    s.timeIncrement(),
	}
	if len(s.def.FilterStatuses) > 0 {
		p.Filtering = []asyncjob.Filter{{
			Field:    EffectiveStatusField,
			Operator: "IN",
			Value:    slices.Clone(s.def.FilterStatuses),
		}}
	}
	return p
}

// State returns the live sync state. It reflects only fully read slices.
func (s *Insights) State() *syncstate.State { return s.state }

// LoadState restores the state from a persisted document, reading legacy
// layouts. Problems are logged and returned as warnings.
func (s *Insights) LoadState(raw []byte) []error {
	st, warnings := syncstate.Load(raw, s.timeIncrement(), s.def.Accounts)
	for _, w := range warnings {
		slog.Warn("Ignoring unusable stream state", logfields.Stream(s.def.Name), logfields.Error(w))
	}
	s.state = st
	return warnings
}

// StartDates returns the effective start date of every configured account.
func (s *Insights) StartDates() map[model.Account]model.Date {
	return s.planner.StartDates(s.state, s.def.Accounts)
}

// Plans returns the per-account plans for the current state.
func (s *Insights) Plans() []planner.Plan {
	plans := make([]planner.Plan, 0, len(s.def.Accounts))
	for _, a := range s.def.Accounts {
		plans = append(plans, s.planner.Plan(s.state, a))
	}
	return plans
}

// FailedAccounts returns the accounts isolated after a terminal failure during
// the last Slices call.
func (s *Insights) FailedAccounts() []model.Account {
	return slices.SortedFunc(maps.Keys(s.failed), func(a, b model.Account) int {
		return cmp.Compare(a.Key(), b.Key())
	})
}

// Slices plans every account, submits the intervals through the scheduler and
// yields completed jobs in completion order.
//
// By default a terminal failure isolates its account: the account's remaining
// jobs are skipped, other accounts continue, and a joined error is yielded once
// everything else is done. With FailFast the first terminal failure ends the
// sequence.
func (s *Insights) Slices(ctx context.Context) iter.Seq2[Slice, error] {
	return func(yield func(Slice, error) bool) {
		s.failed = make(map[model.Account]error)
		plans := s.Plans()
		total := 0
		for _, plan := range plans {
			s.state.Begin(plan.Account, plan.EffectiveStart)
			total += len(plan.Intervals)
			slog.Info("Planned insights intervals",
				logfields.Stream(s.def.Name),
				logfields.AccountID(plan.Account.Key()),
				slog.String("start", plan.EffectiveStart.String()),
				slog.String("end", plan.End.String()),
				slog.Int("intervals", len(plan.Intervals)))
		}
		if total == 0 {
			return
		}

		params := s.RequestParams()
		jobs := func(yield func(*asyncjob.Job) bool) {
			for _, plan := range plans {
				for _, iv := range plan.Intervals {
					if !yield(asyncjob.New(s.client, plan.Account, iv, params.Clone(), s.def.Job)) {
						return
					}
				}
			}
		}

		opts := []jobmanager.RunOption{jobmanager.ForStream(s.def.Name)}
		if !s.def.FailFast {
			opts = append(opts, jobmanager.SkipWhen(func(job *asyncjob.Job) bool {
				_, failed := s.failed[job.Account()]
				return failed
			}))
		}

		for job, err := range s.scheduler.CompletedJobs(ctx, jobs, opts...) {
			if err != nil {
				var terminal *jobmanager.TerminalError
				if !errors.As(err, &terminal) || s.def.FailFast {
					yield(Slice{}, err)
					return
				}
				account := terminal.Job.Account()
				if _, seen := s.failed[account]; !seen {
					slog.Error("Isolating account after terminal report failure",
						logfields.Stream(s.def.Name),
						logfields.AccountID(account.Key()),
						logfields.Interval(terminal.Job.Interval()),
						logfields.Error(err))
					s.failed[account] = err
				}
				continue
			}
			if _, failed := s.failed[job.Account()]; failed {
				continue
			}
			if !yield(Slice{Account: job.Account(), Job: job}, nil) {
				return
			}
		}

		if len(s.failed) > 0 {
			errs := make([]error, 0, len(s.failed))
			for _, a := range s.FailedAccounts() {
				errs = append(errs, s.failed[a])
			}
			yield(Slice{}, errors.Join(errs...))
		}
	}
}

// ReadRecords yields the transformed records of a completed slice. The slice's
// interval is folded into the state only after the last row has been read, so an
// interrupted read never advances the cursor.
func (s *Insights) ReadRecords(ctx context.Context, slice Slice) iter.Seq2[model.Record, error] {
	return func(yield func(model.Record, error) bool) {
		rows, err := slice.Job.Result(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		emitted := 0
		for row, err := range rows {
			if err != nil {
				yield(nil, err)
				return
			}
			rec, ok := s.transformer.Transform(row, slice.Account)
			if !ok {
				s.recorder.IncRecordsDropped(s.def.Name)
				continue
			}
			emitted++
			if !yield(rec, nil) {
				return
			}
		}
		s.state.Fold(slice.Account, slice.Job.Interval())
		s.recorder.AddRecords(s.def.Name, emitted)
		slog.Debug("Read insights slice",
			logfields.Stream(s.def.Name),
			logfields.AccountID(slice.Account.Key()),
			logfields.Interval(slice.Job.Interval()),
			logfields.Records(emitted))
	}
}
