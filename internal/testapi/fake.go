// Package testapi provides a scripted in-memory insights platform for tests.
package testapi

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"git.home.luguber.info/inful/insightsync/internal/asyncjob"
	ferrors "git.home.luguber.info/inful/insightsync/internal/foundation/errors"
	"git.home.luguber.info/inful/insightsync/internal/model"
	"git.home.luguber.info/inful/insightsync/internal/quota"
)

// FailMode defines how a submission or report run should misbehave.
type FailMode int

const (
	FailModeNone FailMode = iota
	// FailModeSubmit rejects the submission.
	FailModeSubmit
	// FailModeRemote lets the run start and then report failure.
	FailModeRemote
	// FailModeSkip lets the run start and then report it skipped.
	FailModeSkip
	// FailModePollError returns a transport error on the first poll.
	FailModePollError
	// FailModeNeverFinish keeps the run in the running state.
	FailModeNeverFinish
)

// Outcome scripts one submission.
type Outcome struct {
	Fail FailMode
	// PendingPolls is the number of polls answered "running" before the final state.
	PendingPolls int
}

// Script decides the outcome of a submission. attempt counts prior submissions
// for the same account and interval, starting at 0.
type Script func(req asyncjob.Request, attempt int) Outcome

// RowsFunc produces the rows of a completed run.
type RowsFunc func(req asyncjob.Request) []model.Record

// ErrSubmitRejected is the error returned for FailModeSubmit.
var ErrSubmitRejected = ferrors.NetworkError("submission rejected").Build()

// ErrTransport is the error returned for FailModePollError.
var ErrTransport = ferrors.NetworkError("transport failure").Build()

type run struct {
	req      asyncjob.Request
	outcome  Outcome
	polls    int
	pollErrs int
}

// Fake implements asyncjob.Client and the job manager's quota source.
type Fake struct {
	mu          sync.Mutex
	script      Script
	rows        RowsFunc
	rowErr      error
	throttle    quota.Signal
	runs        map[asyncjob.Handle]*run
	submissions []asyncjob.Request
	attempts    map[string]int
	polls       int
	next        int
}

// NewFake returns a platform that completes every run on its first poll with no rows.
func NewFake() *Fake {
	return &Fake{
		runs:     make(map[asyncjob.Handle]*run),
		attempts: make(map[string]int),
		throttle: quota.Unreported,
	}
}

// WithScript sets the per-submission behaviour.
func (f *Fake) WithScript(s Script) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = s
	return f
}

// WithRows sets the rows returned for completed runs.
func (f *Fake) WithRows(rows RowsFunc) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = rows
	return f
}

// WithRowError makes every row download fail after yielding the scripted rows.
func (f *Fake) WithRowError(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rowErr = err
	return f
}

// SetThrottle sets the signal reported by Throttle.
func (f *Fake) SetThrottle(s quota.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.throttle = s
}

// Throttle returns the last configured quota signal.
func (f *Fake) Throttle() quota.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.throttle
}

func key(req asyncjob.Request) string {
	return req.AccountID + "/" + req.Interval.String()
}

// Submit implements asyncjob.Client.
func (f *Fake) Submit(ctx context.Context, req asyncjob.Request) (asyncjob.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.submissions = append(f.submissions, req)
	k := key(req)
	attempt := f.attempts[k]
	f.attempts[k] = attempt + 1

	var outcome Outcome
	if f.script != nil {
		outcome = f.script(req, attempt)
	}
	if outcome.Fail == FailModeSubmit {
		return "", ErrSubmitRejected
	}

	f.next++
	h := asyncjob.Handle(fmt.Sprintf("run-%d", f.next))
	f.runs[h] = &run{req: req, outcome: outcome}
	return h, nil
}

// Poll implements asyncjob.Client.
func (f *Fake) Poll(ctx context.Context, h asyncjob.Handle) (asyncjob.RemoteStatus, error) {
	if err := ctx.Err(); err != nil {
		return asyncjob.RemoteStatus{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.polls++
	r, ok := f.runs[h]
	if !ok {
		return asyncjob.RemoteStatus{}, ferrors.NewError(ferrors.CategoryNotFound, "unknown report run").Build()
	}
	if r.outcome.Fail == FailModePollError && r.pollErrs == 0 {
		r.pollErrs++
		return asyncjob.RemoteStatus{}, ErrTransport
	}
	r.polls++
	if r.outcome.Fail == FailModeNeverFinish || r.polls <= r.outcome.PendingPolls {
		return asyncjob.RemoteStatus{State: asyncjob.RemoteRunning, PercentComplete: 50}, nil
	}
	switch r.outcome.Fail {
	case FailModeRemote:
		return asyncjob.RemoteStatus{State: asyncjob.RemoteFailed, Message: "scripted failure"}, nil
	case FailModeSkip:
		return asyncjob.RemoteStatus{State: asyncjob.RemoteSkipped, Message: "scripted skip"}, nil
	}
	return asyncjob.RemoteStatus{State: asyncjob.RemoteCompleted, PercentComplete: 100}, nil
}

// FetchRows implements asyncjob.Client.
func (f *Fake) FetchRows(ctx context.Context, h asyncjob.Handle) iter.Seq2[model.Record, error] {
	return func(yield func(model.Record, error) bool) {
		f.mu.Lock()
		r, ok := f.runs[h]
		rowsFn, rowErr := f.rows, f.rowErr
		f.mu.Unlock()

		if !ok {
			yield(nil, errors.New("testapi: unknown report run "+string(h)))
			return
		}
		if rowsFn != nil {
			for _, row := range rowsFn(r.req) {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return
				}
				if !yield(row.Clone(), nil) {
					return
				}
			}
		}
		if rowErr != nil {
			yield(nil, rowErr)
		}
	}
}

// Submissions returns every request submitted so far, in order.
func (f *Fake) Submissions() []asyncjob.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]asyncjob.Request(nil), f.submissions...)
}

// Polls returns the total number of status queries.
func (f *Fake) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

// FailFor returns a script that applies mode to every submission for which match
// returns true and whose attempt is below times (times < 0 means always).
func FailFor(mode FailMode, times int, match func(asyncjob.Request) bool) Script {
	return func(req asyncjob.Request, attempt int) Outcome {
		if match(req) && (times < 0 || attempt < times) {
			return Outcome{Fail: mode}
		}
		return Outcome{}
	}
}

// Account matches requests for one account id.
func Account(id string) func(asyncjob.Request) bool {
	return func(req asyncjob.Request) bool { return req.AccountID == id }
}

// Covering matches requests whose interval contains d.
func Covering(d model.Date) func(asyncjob.Request) bool {
	return func(req asyncjob.Request) bool { return req.Interval.Contains(d) }
}
