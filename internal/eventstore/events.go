package eventstore

import (
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/insightsync/internal/asyncjob"
	"git.home.luguber.info/inful/insightsync/internal/foundation/errors"
	"git.home.luguber.info/inful/insightsync/internal/model"
)

// Event type names.
const (
	TypeRunStarted        = "RunStarted"
	TypeJobSubmitted      = "JobSubmitted"
	TypeJobCompleted      = "JobCompleted"
	TypeJobFailed         = "JobFailed"
	TypeJobSplit          = "JobSplit"
	TypeSliceCheckpointed = "SliceCheckpointed"
	TypeRunCompleted      = "RunCompleted"
	TypeRunFailed         = "RunFailed"
)

// JobRef identifies a report job inside an event payload.
type JobRef struct {
	Stream   string `json:"stream"`
	JobID    string `json:"job_id"`
	ParentID string `json:"parent_id,omitempty"`
	Account  string `json:"account_id"`
	Interval string `json:"interval"`
	Attempts int    `json:"attempts"`
}

// RefOf describes job as seen by stream.
func RefOf(stream string, job *asyncjob.Job) JobRef {
	return JobRef{
		Stream:   stream,
		JobID:    job.ID(),
		ParentID: job.ParentID(),
		Account:  job.Account().Key(),
		Interval: job.Interval().String(),
		Attempts: job.Attempts(),
	}
}

// RunStartedPayload is recorded when a sync run begins.
type RunStartedPayload struct {
	Trigger string   `json:"trigger"` // "cli", "schedule", "reload"
	Streams []string `json:"streams"`
}

// JobCompletedPayload is recorded when a report run finishes remotely.
type JobCompletedPayload struct {
	JobRef
	WaitMS int64 `json:"wait_ms"`
}

// JobFailedPayload is recorded for every failed attempt.
type JobFailedPayload struct {
	JobRef
	Terminal bool   `json:"terminal"`
	TimedOut bool   `json:"timed_out,omitempty"`
	Error    string `json:"error,omitempty"`
}

// JobSplitPayload is recorded when a job is replaced by its children.
type JobSplitPayload struct {
	JobRef
	Children []JobRef `json:"children"`
}

// SliceCheckpointedPayload is recorded after a slice was emitted and its state saved.
type SliceCheckpointedPayload struct {
	Stream   string `json:"stream"`
	Account  string `json:"account_id"`
	Interval string `json:"interval"`
	Records  int    `json:"records"`
}

// RunCompletedPayload closes a run that produced a result, possibly partial.
type RunCompletedPayload struct {
	Status         string   `json:"status"`
	Records        int      `json:"records"`
	Slices         int      `json:"slices"`
	FailedAccounts []string `json:"failed_accounts,omitempty"`
}

// RunFailedPayload closes a run that aborted.
type RunFailedPayload struct {
	Error string `json:"error"`
}

func newEvent(runID, stream, eventType string, payload any) (*BaseEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.EventStoreError("failed to marshal " + eventType + " payload").
			WithCause(err).
			WithContext("run_id", runID).
			Build()
	}
	return &BaseEvent{Run: runID, StreamName: stream, Kind: eventType, At: time.Now(), Data: data}, nil
}

// NewRunStarted creates a RunStarted event.
func NewRunStarted(runID string, p RunStartedPayload) (*BaseEvent, error) {
	return newEvent(runID, "", TypeRunStarted, p)
}

// NewJobSubmitted creates a JobSubmitted event.
func NewJobSubmitted(runID, stream string, job *asyncjob.Job) (*BaseEvent, error) {
	return newEvent(runID, stream, TypeJobSubmitted, RefOf(stream, job))
}

// NewJobCompleted creates a JobCompleted event carrying the time spent waiting on the platform.
func NewJobCompleted(runID, stream string, job *asyncjob.Job) (*BaseEvent, error) {
	p := JobCompletedPayload{JobRef: RefOf(stream, job)}
	if !job.SubmittedAt().IsZero() && !job.CompletedAt().IsZero() {
		p.WaitMS = job.CompletedAt().Sub(job.SubmittedAt()).Milliseconds()
	}
	return newEvent(runID, stream, TypeJobCompleted, p)
}

// NewJobFailed creates a JobFailed event.
func NewJobFailed(runID, stream string, job *asyncjob.Job, terminal bool) (*BaseEvent, error) {
	p := JobFailedPayload{JobRef: RefOf(stream, job), Terminal: terminal}
	if err := job.LastError(); err != nil {
		p.Error = err.Error()
		p.TimedOut = asyncjob.IsTimeout(err)
	}
	return newEvent(runID, stream, TypeJobFailed, p)
}

// NewJobSplit creates a JobSplit event.
func NewJobSplit(runID, stream string, parent *asyncjob.Job, children []*asyncjob.Job) (*BaseEvent, error) {
	p := JobSplitPayload{JobRef: RefOf(stream, parent), Children: make([]JobRef, 0, len(children))}
	for _, c := range children {
		p.Children = append(p.Children, RefOf(stream, c))
	}
	return newEvent(runID, stream, TypeJobSplit, p)
}

// NewSliceCheckpointed creates a SliceCheckpointed event.
func NewSliceCheckpointed(runID, stream string, account model.Account, iv model.Interval, records int) (*BaseEvent, error) {
	return newEvent(runID, stream, TypeSliceCheckpointed, SliceCheckpointedPayload{
		Stream:   stream,
		Account:  account.Key(),
		Interval: iv.String(),
		Records:  records,
	})
}

// NewRunCompleted creates a RunCompleted event.
func NewRunCompleted(runID string, p RunCompletedPayload) (*BaseEvent, error) {
	return newEvent(runID, "", TypeRunCompleted, p)
}

// NewRunFailed creates a RunFailed event.
func NewRunFailed(runID string, cause error) (*BaseEvent, error) {
	p := RunFailedPayload{}
	if cause != nil {
		p.Error = cause.Error()
	}
	return newEvent(runID, "", TypeRunFailed, p)
}
