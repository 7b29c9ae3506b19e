package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/insightsync/internal/checkpoint"
	"git.home.luguber.info/inful/insightsync/internal/config"
	"git.home.luguber.info/inful/insightsync/internal/eventstore"
	ferrors "git.home.luguber.info/inful/insightsync/internal/foundation/errors"
	"git.home.luguber.info/inful/insightsync/internal/model"
)

type testEnv struct {
	dir       string
	cli       *CLI
	statePath string
	eventPath string
	today     model.Date
}

// newTestEnv writes a config syncing account "1" from ten to six days ago.
func newTestEnv(t *testing.T, extra string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil))) })

	env := &testEnv{
		dir:       dir,
		statePath: filepath.Join(dir, "state.json"),
		eventPath: filepath.Join(dir, "events.db"),
		today:     model.DateOf(time.Now().UTC()),
	}
	cfg := fmt.Sprintf(`
account_ids: ["1"]
start_date: %q
end_date: %q
insights_lookback_window: 0
api:
  access_token: token
state:
  path: %q
events:
  store_path: %q
logging:
  level: error
custom_insights:
  - name: by_age
    breakdowns: [age]
%s`, env.today.AddDays(-10), env.today.AddDays(-6), env.statePath, env.eventPath, extra)

	path := filepath.Join(dir, "insightsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	env.cli = &CLI{Config: path}
	return env
}

func (e *testEnv) saveState(t *testing.T, stream, doc string) {
	t.Helper()
	store, err := checkpoint.NewFileStore(e.statePath)
	require.NoError(t, err)
	require.NoError(t, store.Save(t.Context(), stream, []byte(doc)))
	require.NoError(t, store.Close())
}

func TestPlanCmd_JSON(t *testing.T) {
	env := newTestEnv(t, "")
	cursor := env.today.AddDays(-8)
	env.saveState(t, "ads_insights", fmt.Sprintf(`{"1": {"date_start": %q, "slices": []}, "time_increment": 1}`, cursor))

	var out bytes.Buffer
	cmd := &PlanCmd{JSON: true}
	require.NoError(t, cmd.Run(&Global{Out: &out}, env.cli))

	var entries []PlanEntry
	require.NoError(t, json.Unmarshal(out.Bytes(), &entries))
	require.Len(t, entries, 2)

	ads := entries[0]
	assert.Equal(t, "ads_insights", ads.Stream)
	assert.Equal(t, "1", ads.Account)
	assert.Equal(t, cursor.String(), ads.Cursor)
	assert.Equal(t, cursor.String(), ads.EffectiveStart.String())
	assert.Equal(t, env.today.AddDays(-6).String(), ads.End.String())
	assert.Len(t, ads.Intervals, 3)

	byAge := entries[1]
	assert.Equal(t, "by_age", byAge.Stream)
	assert.Empty(t, byAge.Cursor)
	assert.Len(t, byAge.Intervals, 5)
}

func TestPlanCmd_Table(t *testing.T) {
	env := newTestEnv(t, "")

	var out bytes.Buffer
	require.NoError(t, (&PlanCmd{Streams: []string{"by_age"}}).Run(&Global{Out: &out}, env.cli))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "STREAM"))
	assert.Contains(t, lines[1], "by_age")
	assert.Contains(t, lines[1], env.today.AddDays(-10).String())
}

func TestPlanCmd_UnknownStream(t *testing.T) {
	env := newTestEnv(t, "")
	err := (&PlanCmd{Streams: []string{"nope"}}).Run(&Global{Out: &bytes.Buffer{}}, env.cli)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
}

func TestSchemaCmd(t *testing.T) {
	env := newTestEnv(t, "")

	var out bytes.Buffer
	require.NoError(t, (&SchemaCmd{Streams: []string{"by_age"}}).Run(&Global{Out: &out}, env.cli))

	var catalog struct {
		Streams []struct {
			Name        string         `json:"name"`
			PrimaryKey  []string       `json:"primary_key"`
			CursorField string         `json:"cursor_field"`
			JSONSchema  map[string]any `json:"json_schema"`
		} `json:"streams"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &catalog))
	require.Len(t, catalog.Streams, 1)
	s := catalog.Streams[0]
	assert.Equal(t, "by_age", s.Name)
	assert.Equal(t, "date_start", s.CursorField)
	assert.Contains(t, s.PrimaryKey, "age")
	props, ok := s.JSONSchema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "age")
}

func TestStateShowCmd(t *testing.T) {
	env := newTestEnv(t, "")
	// Legacy single-account layout.
	env.saveState(t, "ads_insights", fmt.Sprintf(`{"date_start": %q, "slices": []}`, env.today.AddDays(-9)))

	var raw bytes.Buffer
	require.NoError(t, (&StateShowCmd{}).Run(&Global{Out: &raw}, env.cli))
	var docs map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw.Bytes(), &docs))
	assert.JSONEq(t, fmt.Sprintf(`{"date_start": %q, "slices": []}`, env.today.AddDays(-9)), string(docs["ads_insights"]))
	assert.Equal(t, "null", string(docs["by_age"]))

	var decoded bytes.Buffer
	require.NoError(t, (&StateShowCmd{Decoded: true, Streams: []string{"ads_insights"}}).Run(&Global{Out: &decoded}, env.cli))
	require.NoError(t, json.Unmarshal(decoded.Bytes(), &docs))
	assert.JSONEq(t,
		fmt.Sprintf(`{"1": {"slices": []}, "unknown_account": {"date_start": %q, "slices": []}, "time_increment": 1}`, env.today.AddDays(-9)),
		string(docs["ads_insights"]))
}

func TestHistoryCmd_RequiresEvents(t *testing.T) {
	env := newTestEnv(t, "")
	err := (&HistoryCmd{}).Run(&Global{Out: &bytes.Buffer{}}, env.cli)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestHistoryCmd(t *testing.T) {
	env := newTestEnv(t, "")
	enableEvents(t, env)

	store, err := eventstore.NewSQLiteStore(env.eventPath)
	require.NoError(t, err)
	ctx := context.Background()
	for _, id := range []string{"run-1", "run-2"} {
		em := eventstore.NewEmitter(store, id)
		require.NoError(t, em.RunStarted(ctx, "cli", []string{"ads_insights"}))
		require.NoError(t, em.RunCompleted(ctx, eventstore.RunCompletedPayload{Status: "succeeded", Records: 3, Slices: 1}))
	}
	require.NoError(t, store.Close())

	var out bytes.Buffer
	require.NoError(t, (&HistoryCmd{Limit: 1, JSON: true}).Run(&Global{Out: &out}, env.cli))
	var runs []eventstore.RunSummary
	require.NoError(t, json.Unmarshal(out.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "succeeded", runs[0].Status)

	out.Reset()
	require.NoError(t, (&HistoryCmd{RunID: "run-1"}).Run(&Global{Out: &out}, env.cli))
	assert.Contains(t, out.String(), "run-1")
	assert.Contains(t, out.String(), "cli")

	err = (&HistoryCmd{RunID: "missing"}).Run(&Global{Out: &out}, env.cli)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))
}

func TestHistoryCmd_FiltersByStream(t *testing.T) {
	env := newTestEnv(t, "")
	enableEvents(t, env)

	store, err := eventstore.NewSQLiteStore(env.eventPath)
	require.NoError(t, err)
	ctx := context.Background()
	day := model.Day(env.today.AddDays(-1))
	for id, stream := range map[string]string{"run-age": "by_age", "run-ads": "ads_insights"} {
		em := eventstore.NewEmitter(store, id)
		require.NoError(t, em.RunStarted(ctx, "cli", []string{stream}))
		require.NoError(t, em.SliceCheckpointed(ctx, stream, model.Known("1"), day, 2))
		require.NoError(t, em.RunCompleted(ctx, eventstore.RunCompletedPayload{Status: "succeeded", Records: 2, Slices: 1}))
	}
	require.NoError(t, store.Close())

	var out bytes.Buffer
	require.NoError(t, (&HistoryCmd{Stream: "by_age", JSON: true}).Run(&Global{Out: &out}, env.cli))
	var runs []eventstore.RunSummary
	require.NoError(t, json.Unmarshal(out.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-age", runs[0].RunID)

	out.Reset()
	require.NoError(t, (&HistoryCmd{Stream: "nothing", JSON: true}).Run(&Global{Out: &out}, env.cli))
	runs = nil
	require.NoError(t, json.Unmarshal(out.Bytes(), &runs))
	assert.Empty(t, runs)
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

// enableEvents turns on the event log in the env's config file.
func enableEvents(t *testing.T, env *testEnv) {
	t.Helper()
	data := strings.Replace(string(mustRead(t, env.cli.Config)), "events:\n", "events:\n  enabled: true\n", 1)
	require.NoError(t, os.WriteFile(env.cli.Config, []byte(data), 0o600))
}

func TestNewLogHandler(t *testing.T) {
	var buf bytes.Buffer
	h := newLogHandler(&buf, config.LoggingConfig{Level: config.LogLevelWarn, Format: config.LogFormatJSON}, false)
	logger := slog.New(h)
	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "v", rec["k"])

	buf.Reset()
	verbose := slog.New(newLogHandler(&buf, config.LoggingConfig{Level: config.LogLevelError}, true))
	verbose.Debug("debug line")
	assert.Contains(t, buf.String(), "debug line")
}
