package eventstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/insightsync/internal/asyncjob"
	"git.home.luguber.info/inful/insightsync/internal/logfields"
	"git.home.luguber.info/inful/insightsync/internal/model"
)

// Publisher forwards events to a message bus.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data []byte) error
}

// Envelope is the bus representation of an event.
type Envelope struct {
	RunID     string          `json:"run_id"`
	Stream    string          `json:"stream,omitempty"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Emitter records the events of one sync run. It satisfies the job manager's
// event hook; the zero Store is allowed and only feeds the projection and publisher.
type Emitter struct {
	runID      string
	store      Store
	projection *RunHistoryProjection
	publisher  Publisher
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithProjection applies every emitted event to p.
func WithProjection(p *RunHistoryProjection) EmitterOption {
	return func(e *Emitter) { e.projection = p }
}

// WithPublisher forwards every emitted event to pub.
func WithPublisher(pub Publisher) EmitterOption {
	return func(e *Emitter) { e.publisher = pub }
}

// NewEmitter binds an emitter to runID.
func NewEmitter(store Store, runID string, opts ...EmitterOption) *Emitter {
	e := &Emitter{runID: runID, store: store}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunID returns the run the emitter is bound to.
func (e *Emitter) RunID() string { return e.runID }

func (e *Emitter) record(ctx context.Context, event *BaseEvent, err error) error {
	if err != nil {
		return err
	}
	if e.store != nil {
		if err := e.store.Append(ctx, event); err != nil {
			return err
		}
	}
	if e.projection != nil {
		e.projection.Apply(event)
	}
	if e.publisher != nil {
		data, err := json.Marshal(Envelope{
			RunID:     event.RunID(),
			Stream:    event.Stream(),
			Type:      event.Type(),
			Timestamp: event.Timestamp(),
			Payload:   event.Payload(),
		})
		if err == nil {
			err = e.publisher.Publish(ctx, event.Type(), data)
		}
		if err != nil {
			// The bus is best effort; the store is the record.
			slog.Warn("Failed to publish run event",
				logfields.RunID(e.runID),
				slog.String("event_type", event.Type()),
				logfields.Error(err))
		}
	}
	return nil
}

func (e *Emitter) EmitJobSubmitted(ctx context.Context, stream string, job *asyncjob.Job) error {
	ev, err := NewJobSubmitted(e.runID, stream, job)
	return e.record(ctx, ev, err)
}

func (e *Emitter) EmitJobCompleted(ctx context.Context, stream string, job *asyncjob.Job) error {
	ev, err := NewJobCompleted(e.runID, stream, job)
	return e.record(ctx, ev, err)
}

func (e *Emitter) EmitJobFailed(ctx context.Context, stream string, job *asyncjob.Job, terminal bool) error {
	ev, err := NewJobFailed(e.runID, stream, job, terminal)
	return e.record(ctx, ev, err)
}

func (e *Emitter) EmitJobSplit(ctx context.Context, stream string, parent *asyncjob.Job, children []*asyncjob.Job) error {
	ev, err := NewJobSplit(e.runID, stream, parent, children)
	return e.record(ctx, ev, err)
}

// RunStarted records the start of the run.
func (e *Emitter) RunStarted(ctx context.Context, trigger string, streams []string) error {
	ev, err := NewRunStarted(e.runID, RunStartedPayload{Trigger: trigger, Streams: streams})
	return e.record(ctx, ev, err)
}

// SliceCheckpointed records a slice whose state was persisted.
func (e *Emitter) SliceCheckpointed(ctx context.Context, stream string, account model.Account, iv model.Interval, records int) error {
	ev, err := NewSliceCheckpointed(e.runID, stream, account, iv, records)
	return e.record(ctx, ev, err)
}

// RunCompleted records the end of a run that produced a result.
func (e *Emitter) RunCompleted(ctx context.Context, p RunCompletedPayload) error {
	ev, err := NewRunCompleted(e.runID, p)
	return e.record(ctx, ev, err)
}

// RunFailed records the end of an aborted run.
func (e *Emitter) RunFailed(ctx context.Context, cause error) error {
	ev, err := NewRunFailed(e.runID, cause)
	return e.record(ctx, ev, err)
}
