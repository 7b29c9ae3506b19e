package asyncjob

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"

	ferrors "git.home.luguber.info/inful/insightsync/internal/foundation/errors"
	"git.home.luguber.info/inful/insightsync/internal/model"
)

// SplitStrategy selects how Split partitions a failed job's interval.
type SplitStrategy string

const (
	// SplitHalve produces two children covering the first and second half.
	SplitHalve SplitStrategy = "halve"
	// SplitDays produces one child per day.
	SplitDays SplitStrategy = "days"
)

// Options tune job behaviour. The zero value means no timeout, halving splits and
// the wall clock.
type Options struct {
	Timeout time.Duration
	Split   SplitStrategy
	Now     func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Job is one asynchronous report request for an account and interval.
type Job struct {
	id       string
	parentID string
	account  model.Account
	interval model.Interval
	params   Params
	client   Client
	opts     Options

	status      Status
	attempts    int
	handle      Handle
	startedAt   time.Time
	submittedAt time.Time
	completedAt time.Time
	lastErr     error
	consumed    bool
}

// New creates a job in the created state.
func New(client Client, account model.Account, interval model.Interval, params Params, opts Options) *Job {
	return &Job{
		id:       uuid.NewString(),
		account:  account,
		interval: interval,
		params:   params,
		client:   client,
		opts:     opts,
		status:   StatusCreated,
	}
}

func (j *Job) ID() string               { return j.id }
func (j *Job) ParentID() string         { return j.parentID }
func (j *Job) Account() model.Account   { return j.account }
func (j *Job) Interval() model.Interval { return j.interval }
func (j *Job) Params() Params           { return j.params }
func (j *Job) Status() Status           { return j.status }
func (j *Job) Handle() Handle           { return j.handle }

// Attempts counts failures: rejected submissions, failed remote runs and timeouts.
func (j *Job) Attempts() int { return j.attempts }

// LastError returns the cause of the most recent failure.
func (j *Job) LastError() error { return j.lastErr }

// SubmittedAt is the time of the first successful submission.
func (j *Job) SubmittedAt() time.Time { return j.submittedAt }

// CompletedAt is the time completion was observed.
func (j *Job) CompletedAt() time.Time { return j.completedAt }

func (j *Job) String() string {
	return fmt.Sprintf("job %s [%s %s %s]", j.id, j.account, j.interval, j.status)
}

func (j *Job) request() Request {
	return Request{AccountID: j.account.ID(), Interval: j.interval, Params: j.params}
}

// Start submits the job. It is a no-op for a started job and restarts a failed
// one. A rejected submission marks the job failed and counts an attempt.
func (j *Job) Start(ctx context.Context) error {
	switch j.status {
	case StatusStarted:
		return nil
	case StatusCompleted:
		return ErrAlreadyCompleted
	}

	handle, err := j.client.Submit(ctx, j.request())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		j.fail(err)
		return fmt.Errorf("submit %s: %w", j, err)
	}

	now := j.opts.now()
	j.handle = handle
	j.status = StatusStarted
	j.startedAt = now
	j.lastErr = nil
	if j.submittedAt.IsZero() {
		j.submittedAt = now
	}
	return nil
}

func (j *Job) fail(err error) {
	j.status = StatusFailed
	j.attempts++
	j.lastErr = err
	j.handle = ""
}

// Poll refreshes the status of a started job. Jobs in any other state are
// returned unchanged. A transport error leaves the job started and is returned.
func (j *Job) Poll(ctx context.Context) (Status, error) {
	if j.status != StatusStarted {
		return j.status, nil
	}

	remote, err := j.client.Poll(ctx, j.handle)
	if err != nil {
		if j.timedOut() {
			j.fail(ErrJobTimeout)
			return j.status, nil
		}
		return j.status, fmt.Errorf("poll %s: %w", j, err)
	}

	switch remote.State {
	case RemoteCompleted:
		j.status = StatusCompleted
		j.completedAt = j.opts.now()
	case RemoteFailed, RemoteSkipped:
		j.fail(ferrors.RemoteJobError("report run "+string(remote.State)).
			WithContext("report_run_id", string(j.handle)).
			WithContext("message", remote.Message).
			Build())
	default:
		if j.timedOut() {
			j.fail(ErrJobTimeout)
		}
	}
	return j.status, nil
}

func (j *Job) timedOut() bool {
	return j.opts.Timeout > 0 && j.opts.now().Sub(j.startedAt) > j.opts.Timeout
}

// Result returns the rows of a completed job. The sequence is lazy; rows are
// downloaded as they are consumed. It may be obtained exactly once.
func (j *Job) Result(ctx context.Context) (iter.Seq2[model.Record, error], error) {
	if j.status != StatusCompleted {
		return nil, ErrNotCompleted
	}
	if j.consumed {
		return nil, ErrResultConsumed
	}
	j.consumed = true
	return j.client.FetchRows(ctx, j.handle), nil
}

// CanSplit reports whether the interval spans more than one day.
func (j *Job) CanSplit() bool {
	return j.interval.Days() > 1
}

// Split returns children whose intervals partition this job's interval. Each
// child is strictly smaller than the parent and starts in the created state.
func (j *Job) Split() ([]*Job, error) {
	if !j.CanSplit() {
		return nil, ErrNotSplittable
	}
	var parts []model.Interval
	switch j.opts.Split {
	case SplitDays:
		for d := j.interval.Start; !d.After(j.interval.End); d = d.AddDays(1) {
			parts = append(parts, model.Day(d))
		}
	default:
		firstLen := j.interval.Days() / 2
		mid := j.interval.Start.AddDays(firstLen - 1)
		parts = []model.Interval{
			{Start: j.interval.Start, End: mid},
			{Start: mid.AddDays(1), End: j.interval.End},
		}
	}

	children := make([]*Job, 0, len(parts))
	for _, iv := range parts {
		child := New(j.client, j.account, iv, j.params.Clone(), j.opts)
		child.parentID = j.id
		children = append(children, child)
	}
	return children, nil
}

// IsTimeout reports whether err records a job timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrJobTimeout)
}
