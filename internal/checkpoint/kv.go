package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// KeyValue is the part of a JetStream key-value bucket the store needs.
type KeyValue interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
}

// KVStore keeps state documents in a NATS JetStream key-value bucket, one key
// per stream.
type KVStore struct {
	kv    KeyValue
	close func() error
}

// NewKVStore wraps kv. closeFn, if not nil, runs on Close.
func NewKVStore(kv KeyValue, closeFn func() error) *KVStore {
	return &KVStore{kv: kv, close: closeFn}
}

func (s *KVStore) Load(ctx context.Context, stream string) ([]byte, error) {
	entry, err := s.kv.Get(ctx, stream)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get checkpoint %s: %w", stream, err)
	}
	return entry.Value(), nil
}

func (s *KVStore) Save(ctx context.Context, stream string, doc []byte) error {
	if _, err := s.kv.Put(ctx, stream, doc); err != nil {
		return fmt.Errorf("put checkpoint %s: %w", stream, err)
	}
	return nil
}

func (s *KVStore) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
