// Package checkpoint persists stream state documents between sync runs.
package checkpoint

import (
	"context"
	"errors"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("checkpoint store closed")

// Store saves one opaque state document per stream.
type Store interface {
	// Load returns the document for stream, or nil when none was saved.
	Load(ctx context.Context, stream string) ([]byte, error)
	// Save replaces the document for stream.
	Save(ctx context.Context, stream string, doc []byte) error
	// Close releases resources.
	Close() error
}
