package asyncjob

import (
	"context"
	"iter"
	"slices"

	"git.home.luguber.info/inful/insightsync/internal/model"
)

// Status is the local lifecycle state of a job.
type Status string

const (
	StatusCreated   Status = "created"
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Filter is one report filter clause.
type Filter struct {
	Field    string   `json:"field"`
	Operator string   `json:"operator"`
	Value    []string `json:"value"`
}

// Params is the report shape shared by every job of a stream.
type Params struct {
	Level            string
	Fields           []string
	Breakdowns       []string
	ActionBreakdowns []string
	Filtering        []Filter
	TimeIncrement    int
}

// Clone returns a deep copy so children never alias their parent's slices.
func (p Params) Clone() Params {
	out := p
	out.Fields = slices.Clone(p.Fields)
	out.Breakdowns = slices.Clone(p.Breakdowns)
	out.ActionBreakdowns = slices.Clone(p.ActionBreakdowns)
	out.Filtering = make([]Filter, len(p.Filtering))
	for i, f := range p.Filtering {
		out.Filtering[i] = Filter{Field: f.Field, Operator: f.Operator, Value: slices.Clone(f.Value)}
	}
	if p.Filtering == nil {
		out.Filtering = nil
	}
	return out
}

// Request is what gets submitted to the platform.
type Request struct {
	AccountID string
	Interval  model.Interval
	Params    Params
}

// Handle identifies a submitted report run on the platform.
type Handle string

// RemoteState is the platform's view of a report run.
type RemoteState string

const (
	RemotePending   RemoteState = "pending"
	RemoteRunning   RemoteState = "running"
	RemoteCompleted RemoteState = "completed"
	RemoteFailed    RemoteState = "failed"
	RemoteSkipped   RemoteState = "skipped"
)

// RemoteStatus is the result of one status query.
type RemoteStatus struct {
	State           RemoteState
	PercentComplete int
	Message         string
}

// Client is the remote insights service.
type Client interface {
	// Submit starts a report run and returns its handle.
	Submit(ctx context.Context, req Request) (Handle, error)
	// Poll queries the status of a report run.
	Poll(ctx context.Context, h Handle) (RemoteStatus, error)
	// FetchRows returns the rows of a completed report run, following pagination lazily.
	FetchRows(ctx context.Context, h Handle) iter.Seq2[model.Record, error]
}
