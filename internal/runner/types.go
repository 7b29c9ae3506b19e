// Package runner executes sync runs: it restores stream checkpoints, drives every
// stream's slices through the job manager, writes records to the sink and saves
// state after each fully read slice. CLI and daemon both go through Service.
package runner

import (
	"time"

	"git.home.luguber.info/inful/insightsync/internal/config"
	"git.home.luguber.info/inful/insightsync/internal/metrics"
)

// Trigger names what started a run.
type Trigger string

const (
	TriggerCLI      Trigger = "cli"
	TriggerSchedule Trigger = "schedule"
	TriggerReload   Trigger = "reload"
)

// Request contains the inputs of one sync run.
type Request struct {
	Config  *config.Config
	Trigger Trigger
	// Streams limits the run to the named streams; empty means all enabled streams.
	Streams []string
}

// Status is the outcome of a run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	// StatusPartial means some accounts were isolated after terminal failures.
	StatusPartial  Status = "partial"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// IsSuccess reports whether every planned interval was synced.
func (s Status) IsSuccess() bool { return s == StatusSucceeded }

func (s Status) outcome() metrics.RunOutcome {
	switch s {
	case StatusSucceeded:
		return metrics.RunSucceeded
	case StatusPartial:
		return metrics.RunPartial
	case StatusCanceled:
		return metrics.RunCanceled
	default:
		return metrics.RunFailed
	}
}

// StreamResult is the outcome of one stream.
type StreamResult struct {
	Name           string
	Slices         int
	Records        int
	FailedAccounts []string
	Err            error
}

// Result contains the outcome of a run.
type Result struct {
	RunID     string
	Status    Status
	Streams   []StreamResult
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

// Records returns the number of records written across streams.
func (r *Result) Records() int {
	n := 0
	for _, s := range r.Streams {
		n += s.Records
	}
	return n
}

// Slices returns the number of checkpointed slices across streams.
func (r *Result) Slices() int {
	n := 0
	for _, s := range r.Streams {
		n += s.Slices
	}
	return n
}

// FailedAccounts returns the isolated accounts across streams, prefixed by stream.
func (r *Result) FailedAccounts() []string {
	var out []string
	for _, s := range r.Streams {
		for _, a := range s.FailedAccounts {
			out = append(out, s.Name+"/"+a)
		}
	}
	return out
}
