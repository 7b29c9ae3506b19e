// Package sink delivers extracted records and checkpoints to their destination.
package sink

import (
	"context"
	"encoding/json"

	"git.home.luguber.info/inful/insightsync/internal/model"
)

// StreamInfo describes a stream to a sink before any record is written.
type StreamInfo struct {
	Name       string
	PrimaryKey []string
	Schema     json.RawMessage
}

// Sink receives the records of one run. Records written between two Commit calls
// belong to one slice; Commit makes them durable before the slice is checkpointed.
type Sink interface {
	// Prepare announces a stream. It is called once per stream before its records.
	Prepare(ctx context.Context, info StreamInfo) error
	// WriteRecord buffers one record.
	WriteRecord(ctx context.Context, stream string, rec model.Record) error
	// Commit flushes buffered records.
	Commit(ctx context.Context) error
	// WriteState emits a checkpoint after the slice it covers was committed.
	WriteState(ctx context.Context, stream string, state json.RawMessage) error
	Close() error
}
