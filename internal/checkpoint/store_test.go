package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/insightsync/internal/config"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := t.Context()

	doc, err := s.Load(ctx, "ads_insights")
	require.NoError(t, err)
	assert.Nil(t, doc)

	require.NoError(t, s.Save(ctx, "ads_insights", []byte(`{"time_increment":1}`)))
	require.NoError(t, s.Save(ctx, "custom_name", []byte(`{"time_increment":7}`)))
	require.NoError(t, s.Save(ctx, "ads_insights", []byte(`{"time_increment":1,"111":{"slices":[]}}`)))

	doc, err = s.Load(ctx, "ads_insights")
	require.NoError(t, err)
	assert.JSONEq(t, `{"time_increment":1,"111":{"slices":[]}}`, string(doc))

	doc, err = s.Load(ctx, "custom_name")
	require.NoError(t, err)
	assert.JSONEq(t, `{"time_increment":7}`, string(doc))
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)

	exerciseStore(t, s)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file must be renamed away")

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	doc, err := reopened.Load(t.Context(), "custom_name")
	require.NoError(t, err)
	assert.JSONEq(t, `{"time_increment":7}`, string(doc))
}

func TestFileStore_RejectsInvalidJSON(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	assert.Error(t, s.Save(t.Context(), "ads_insights", []byte(`{not json`)))
}

func TestFileStore_Closed(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Load(t.Context(), "ads_insights")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Save(t.Context(), "ads_insights", []byte(`{}`)), ErrClosed)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

type fakeEntry struct {
	jetstream.KeyValueEntry
	value []byte
}

func (e fakeEntry) Value() []byte { return e.value }

type fakeKV struct {
	mu   sync.Mutex
	data map[string][]byte
	rev  uint64
}

func (f *fakeKV) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return fakeEntry{value: v}, nil
}

func (f *fakeKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rev++
	f.data[key] = append([]byte(nil), value...)
	return f.rev, nil
}

func TestKVStore(t *testing.T) {
	closed := false
	s := NewKVStore(&fakeKV{data: map[string][]byte{}}, func() error { closed = true; return nil })

	exerciseStore(t, s)

	require.NoError(t, s.Close())
	assert.True(t, closed)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		backend string
		path    string
		want    any
	}{
		{"file", "file", filepath.Join(dir, "state.json"), &FileStore{}},
		{"sqlite", "sqlite", filepath.Join(dir, "state.db"), &SQLiteStore{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{State: config.StateConfig{Backend: config.StateBackend(tt.backend), Path: tt.path}}
			s, err := Open(t.Context(), cfg)
			require.NoError(t, err)
			defer s.Close()
			assert.IsType(t, tt.want, s)
			exerciseStore(t, s)
		})
	}
}
