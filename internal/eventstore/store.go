package eventstore

import (
	"context"
	"time"
)

// Store is the append-only run log.
type Store interface {
	// Append records ev. Its sequence number is assigned by the store.
	Append(ctx context.Context, ev Event) error

	// GetByRunID returns the events of one run, oldest first.
	GetByRunID(ctx context.Context, runID string) ([]Event, error)

	// GetByStream returns the events that concern stream, oldest first.
	GetByStream(ctx context.Context, stream string) ([]Event, error)

	// GetRange returns the events that occurred within [start, end], oldest first.
	GetRange(ctx context.Context, start, end time.Time) ([]Event, error)

	Close() error
}

// RunIDsOf returns the distinct run ids in events, most recent run first.
func RunIDsOf(events []Event) []string {
	seen := make(map[string]bool)
	var ids []string
	for i := len(events) - 1; i >= 0; i-- {
		id := events[i].RunID()
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
