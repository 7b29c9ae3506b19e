package jobmanager

import (
	"context"
	"errors"
	"iter"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/insightsync/internal/asyncjob"
	"git.home.luguber.info/inful/insightsync/internal/config"
	"git.home.luguber.info/inful/insightsync/internal/model"
	"git.home.luguber.info/inful/insightsync/internal/quota"
	"git.home.luguber.info/inful/insightsync/internal/retry"
	"git.home.luguber.info/inful/insightsync/internal/testapi"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTracker(maxConcurrent int) *quota.Tracker {
	return quota.NewTracker(quota.Descriptor{MaxConcurrent: maxConcurrent}, retry.NewPolicy(config.RetryBackoffExponential, time.Second, time.Minute, 0))
}

// peakClient wraps a client and records the peak number of unfinished report runs.
type peakClient struct {
	asyncjob.Client
	mu       sync.Mutex
	inFlight int
	peak     int
}

func (p *peakClient) Submit(ctx context.Context, req asyncjob.Request) (asyncjob.Handle, error) {
	h, err := p.Client.Submit(ctx, req)
	if err == nil {
		p.mu.Lock()
		p.inFlight++
		p.peak = max(p.peak, p.inFlight)
		p.mu.Unlock()
	}
	return h, err
}

func (p *peakClient) Poll(ctx context.Context, h asyncjob.Handle) (asyncjob.RemoteStatus, error) {
	st, err := p.Client.Poll(ctx, h)
	if err == nil && st.State != asyncjob.RemoteRunning && st.State != asyncjob.RemotePending {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}
	return st, err
}

func dailyJobs(client asyncjob.Client, account string, start string, days int) iter.Seq[*asyncjob.Job] {
	return func(yield func(*asyncjob.Job) bool) {
		d := model.MustParseDate(start)
		for i := range days {
			job := asyncjob.New(client, model.Known(account), model.Day(d.AddDays(i)), asyncjob.Params{TimeIncrement: 1}, asyncjob.Options{})
			if !yield(job) {
				return
			}
		}
	}
}

func jobsOf(client asyncjob.Client, account string, ivs ...model.Interval) iter.Seq[*asyncjob.Job] {
	return func(yield func(*asyncjob.Job) bool) {
		for _, iv := range ivs {
			if !yield(asyncjob.New(client, model.Known(account), iv, asyncjob.Params{}, asyncjob.Options{})) {
				return
			}
		}
	}
}

func collect(t *testing.T, seq iter.Seq2[*asyncjob.Job, error]) ([]*asyncjob.Job, []error) {
	t.Helper()
	var jobs []*asyncjob.Job
	var errs []error
	for job, err := range seq {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, errs
}

func TestCompletedJobs_RespectsConcurrency(t *testing.T) {
	fake := testapi.NewFake().WithScript(func(asyncjob.Request, int) testapi.Outcome {
		return testapi.Outcome{PendingPolls: 2}
	})
	p := &peakClient{Client: fake}
	tracker := newTracker(3)
	m := New(tracker, WithSleep(noSleep))

	jobs, errs := collect(t, m.CompletedJobs(t.Context(), dailyJobs(p, "a", "2024-01-01", 10)))

	require.Empty(t, errs)
	assert.Len(t, jobs, 10)
	assert.LessOrEqual(t, p.peak, 3)
	assert.Equal(t, 3, p.peak)
	assert.Zero(t, tracker.Usage().InFlight)
	for _, job := range jobs {
		assert.Equal(t, asyncjob.StatusCompleted, job.Status())
	}
}

func TestCompletedJobs_YieldsInCompletionOrder(t *testing.T) {
	slow := model.MustParseDate("2024-01-01")
	fake := testapi.NewFake().WithScript(func(req asyncjob.Request, _ int) testapi.Outcome {
		if req.Interval.Contains(slow) {
			return testapi.Outcome{PendingPolls: 3}
		}
		return testapi.Outcome{}
	})
	m := New(newTracker(5), WithSleep(noSleep))

	jobs, errs := collect(t, m.CompletedJobs(t.Context(), dailyJobs(fake, "a", "2024-01-01", 3)))
	require.Empty(t, errs)
	require.Len(t, jobs, 3)
	assert.Equal(t, "2024-01-02", jobs[0].Interval().Start.String())
	assert.Equal(t, "2024-01-01", jobs[2].Interval().Start.String())
}

func TestCompletedJobs_RetriesFailedJobs(t *testing.T) {
	day := model.MustParseDate("2024-01-02")
	fake := testapi.NewFake().WithScript(testapi.FailFor(testapi.FailModeRemote, 2, testapi.Covering(day)))
	m := New(newTracker(2), WithSleep(noSleep), WithMaxAttempts(3))

	jobs, errs := collect(t, m.CompletedJobs(t.Context(), dailyJobs(fake, "a", "2024-01-01", 3)))
	require.Empty(t, errs)
	require.Len(t, jobs, 3)

	var submissionsForDay int
	for _, req := range fake.Submissions() {
		if req.Interval.Contains(day) {
			submissionsForDay++
		}
	}
	assert.Equal(t, 3, submissionsForDay)
}

func TestCompletedJobs_RetriesSubmissionErrors(t *testing.T) {
	fake := testapi.NewFake().WithScript(testapi.FailFor(testapi.FailModeSubmit, 1, func(asyncjob.Request) bool { return true }))
	m := New(newTracker(1), WithSleep(noSleep))

	jobs, errs := collect(t, m.CompletedJobs(t.Context(), dailyJobs(fake, "a", "2024-01-01", 2)))
	require.Empty(t, errs)
	assert.Len(t, jobs, 2)
	assert.Len(t, fake.Submissions(), 4)
}

func TestCompletedJobs_SplitsAfterMaxAttempts(t *testing.T) {
	week, err := model.NewInterval(model.MustParseDate("2024-01-01"), model.MustParseDate("2024-01-07"))
	require.NoError(t, err)
	fake := testapi.NewFake().WithScript(testapi.FailFor(testapi.FailModeRemote, -1, func(req asyncjob.Request) bool {
		return req.Interval.Days() == 7
	}))
	m := New(newTracker(4), WithSleep(noSleep), WithMaxAttempts(2))

	jobs, errs := collect(t, m.CompletedJobs(t.Context(), jobsOf(fake, "a", week)))
	require.Empty(t, errs)
	require.Len(t, jobs, 2)

	var covered int
	for _, job := range jobs {
		assert.NotEmpty(t, job.ParentID())
		covered += job.Interval().Days()
	}
	assert.Equal(t, 7, covered)
}

func TestCompletedJobs_TerminalErrorAtOneDay(t *testing.T) {
	bad := model.MustParseDate("2024-01-02")
	fake := testapi.NewFake().WithScript(testapi.FailFor(testapi.FailModeRemote, -1, testapi.Covering(bad)))
	m := New(newTracker(2), WithSleep(noSleep), WithMaxAttempts(2))

	var completed []*asyncjob.Job
	var terminal *TerminalError
	for job, err := range m.CompletedJobs(t.Context(), dailyJobs(fake, "a", "2024-01-01", 3)) {
		if err != nil {
			require.ErrorAs(t, err, &terminal)
			assert.Same(t, job, terminal.Job)
			continue
		}
		completed = append(completed, job)
	}
	require.NotNil(t, terminal)
	assert.Equal(t, "2024-01-02", terminal.Job.Interval().Start.String())
	assert.Equal(t, 2, terminal.Job.Attempts())
	assert.Contains(t, terminal.Error(), "failed after 2 attempts")
	assert.Len(t, completed, 2)
}

func TestCompletedJobs_SkipWhen(t *testing.T) {
	fake := testapi.NewFake()
	m := New(newTracker(2), WithSleep(noSleep))

	both := func(yield func(*asyncjob.Job) bool) {
		for job := range dailyJobs(fake, "keep", "2024-01-01", 2) {
			if !yield(job) {
				return
			}
		}
		for job := range dailyJobs(fake, "drop", "2024-01-01", 2) {
			if !yield(job) {
				return
			}
		}
	}
	skip := SkipWhen(func(job *asyncjob.Job) bool { return job.Account().ID() == "drop" })

	jobs, errs := collect(t, m.CompletedJobs(t.Context(), both, skip, ForStream("ads_insights")))
	require.Empty(t, errs)
	assert.Len(t, jobs, 2)
	for _, req := range fake.Submissions() {
		assert.Equal(t, "keep", req.AccountID)
	}
}

func TestCompletedJobs_ConsumerStopReleasesQuota(t *testing.T) {
	fake := testapi.NewFake().WithScript(func(req asyncjob.Request, _ int) testapi.Outcome {
		if req.Interval.Start.Day() == 1 {
			return testapi.Outcome{}
		}
		return testapi.Outcome{PendingPolls: 10}
	})
	tracker := newTracker(4)
	m := New(tracker, WithSleep(noSleep))

	for range m.CompletedJobs(t.Context(), dailyJobs(fake, "a", "2024-01-01", 8)) {
		break
	}
	assert.Zero(t, tracker.Usage().InFlight)
}

func TestCompletedJobs_ContextCancellation(t *testing.T) {
	fake := testapi.NewFake().WithScript(testapi.FailFor(testapi.FailModeNeverFinish, -1, func(asyncjob.Request) bool { return true }))
	ctx, cancel := context.WithCancel(t.Context())
	rounds := 0
	sleep := func(ctx context.Context, _ time.Duration) error {
		rounds++
		if rounds == 3 {
			cancel()
		}
		return ctx.Err()
	}
	m := New(newTracker(2), WithSleep(sleep))

	jobs, errs := collect(t, m.CompletedJobs(ctx, dailyJobs(fake, "a", "2024-01-01", 5)))
	assert.Empty(t, jobs)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], context.Canceled)
	// Only the first two were ever submitted.
	assert.Len(t, fake.Submissions(), 2)
}

func TestCompletedJobs_ThrottleLimitsStarts(t *testing.T) {
	fake := testapi.NewFake().WithScript(func(asyncjob.Request, int) testapi.Outcome { return testapi.Outcome{PendingPolls: 1} })
	fake.SetThrottle(quota.Signal{Utilization: 95})
	p := &peakClient{Client: fake}
	var waits []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	m := New(newTracker(5), WithSleep(sleep), WithQuotaSource(fake))

	jobs, errs := collect(t, m.CompletedJobs(t.Context(), dailyJobs(p, "a", "2024-01-01", 3)))
	require.Empty(t, errs)
	assert.Len(t, jobs, 3)
	assert.Equal(t, 1, p.peak)
	require.GreaterOrEqual(t, len(waits), 2)
	assert.Greater(t, waits[1], waits[0])
}

type recordingEmitter struct {
	events []string
}

func (r *recordingEmitter) EmitJobSubmitted(_ context.Context, _ string, _ *asyncjob.Job) error {
	r.events = append(r.events, "submitted")
	return nil
}

func (r *recordingEmitter) EmitJobCompleted(_ context.Context, _ string, _ *asyncjob.Job) error {
	r.events = append(r.events, "completed")
	return nil
}

func (r *recordingEmitter) EmitJobFailed(_ context.Context, _ string, _ *asyncjob.Job, terminal bool) error {
	if terminal {
		r.events = append(r.events, "terminal")
	} else {
		r.events = append(r.events, "failed")
	}
	return errors.New("emitter errors are logged, not fatal")
}

func (r *recordingEmitter) EmitJobSplit(_ context.Context, _ string, _ *asyncjob.Job, _ []*asyncjob.Job) error {
	r.events = append(r.events, "split")
	return nil
}

func TestCompletedJobs_EmitsLifecycleEvents(t *testing.T) {
	twoDays, err := model.NewInterval(model.MustParseDate("2024-01-01"), model.MustParseDate("2024-01-02"))
	require.NoError(t, err)
	fake := testapi.NewFake().WithScript(testapi.FailFor(testapi.FailModeRemote, -1, testapi.Covering(model.MustParseDate("2024-01-01"))))
	em := &recordingEmitter{}
	m := New(newTracker(1), WithSleep(noSleep), WithMaxAttempts(1), WithEmitter(em))

	_, errs := collect(t, m.CompletedJobs(t.Context(), jobsOf(fake, "a", twoDays)))
	require.Len(t, errs, 1)

	assert.Equal(t, []string{"submitted", "split", "submitted", "terminal", "submitted", "completed"}, em.events)
	assert.True(t, slices.Contains(em.events, "terminal"))
}
