package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/insightsync/internal/config"
)

const watchedConfig = `
account_ids: ["1"]
start_date: "2024-01-01"
api:
  access_token: token
daemon:
  interval: %s
`

func writeConfig(t *testing.T, path, interval string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(watchedConfig, interval)), 0o600))
}

func TestConfigWatcher_ReloadsOnWrite(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "insightsync.yaml")
	writeConfig(t, path, "1h")

	reloaded := make(chan *config.Config, 4)
	w, err := NewConfigWatcher(path, func(_ context.Context, cfg *config.Config) error {
		reloaded <- cfg
		return nil
	})
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)
	require.NoError(t, w.Start(t.Context()))
	t.Cleanup(func() { _ = w.Stop() })

	writeConfig(t, path, "30m")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 30*time.Minute, cfg.Daemon.IntervalDuration())
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestConfigWatcher_IgnoresOtherFiles(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "insightsync.yaml")
	writeConfig(t, path, "1h")

	reloaded := make(chan struct{}, 1)
	w, err := NewConfigWatcher(path, func(context.Context, *config.Config) error {
		reloaded <- struct{}{}
		return nil
	})
	require.NoError(t, err)
	w.SetDebounce(10 * time.Millisecond)
	require.NoError(t, w.Start(t.Context()))
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1"), 0o600))

	select {
	case <-reloaded:
		t.Fatal("unexpected reload")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestConfigWatcher_InvalidConfigIsNotApplied(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "insightsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("account_ids: []\n"), 0o600))

	called := false
	w, err := NewConfigWatcher(path, func(context.Context, *config.Config) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	require.Error(t, w.performReload(t.Context()))
	assert.False(t, called)
}

func TestConfigWatcher_StopIsIdempotent(t *testing.T) {
	w, err := NewConfigWatcher(filepath.Join(t.TempDir(), "c.yaml"), func(context.Context, *config.Config) error { return nil })
	require.NoError(t, err)
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
