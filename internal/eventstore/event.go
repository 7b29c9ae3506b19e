package eventstore

import "time"

// Event is one recorded fact about a sync run.
type Event interface {
	// ID returns the store-assigned sequence number (0 before it is stored).
	ID() int64
	RunID() string
	// Stream returns the stream the event concerns, or "" for run-wide events.
	Stream() string
	Type() string
	Timestamp() time.Time
	// Payload returns the event data as JSON.
	Payload() []byte
	Metadata() map[string]string
}

// BaseEvent is the concrete Event produced by the constructors and the stores.
type BaseEvent struct {
	Seq        int64
	Run        string
	StreamName string
	Kind       string
	At         time.Time
	Data       []byte
	Meta       map[string]string
}

func (e *BaseEvent) ID() int64                   { return e.Seq }
func (e *BaseEvent) RunID() string               { return e.Run }
func (e *BaseEvent) Stream() string              { return e.StreamName }
func (e *BaseEvent) Type() string                { return e.Kind }
func (e *BaseEvent) Timestamp() time.Time        { return e.At }
func (e *BaseEvent) Payload() []byte             { return e.Data }
func (e *BaseEvent) Metadata() map[string]string { return e.Meta }
