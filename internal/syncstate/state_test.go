package syncstate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/insightsync/internal/foundation/errors"
	"git.home.luguber.info/inful/insightsync/internal/model"
)

var (
	acctA = model.Known("111")
	acctB = model.Known("222")
)

func day(s string) model.Interval { return model.Day(model.MustParseDate(s)) }

func span(a, b string) model.Interval {
	return model.Interval{Start: model.MustParseDate(a), End: model.MustParseDate(b)}
}

func cursorOf(t *testing.T, s *State, a model.Account) string {
	t.Helper()
	c, ok := s.Cursor(a)
	if !ok {
		return ""
	}
	return c.String()
}

func TestFold_ContiguousAdvancesCursor(t *testing.T) {
	s := New(1, []model.Account{acctA})
	s.Begin(acctA, model.MustParseDate("2024-01-01"))

	s.Fold(acctA, day("2024-01-01"))
	s.Fold(acctA, day("2024-01-02"))

	assert.Equal(t, "2024-01-02", cursorOf(t, s, acctA))
	assert.Empty(t, s.Pending(acctA))
}

func TestFold_OutOfOrderFillsGap(t *testing.T) {
	s := New(1, []model.Account{acctA})
	s.Begin(acctA, model.MustParseDate("2024-01-01"))

	s.Fold(acctA, day("2024-01-02"))
	s.Fold(acctA, day("2024-01-03"))
	assert.Empty(t, cursorOf(t, s, acctA), "cursor must not move past the missing first day")
	assert.Len(t, s.Pending(acctA), 2)

	s.Fold(acctA, day("2024-01-01"))
	assert.Equal(t, "2024-01-03", cursorOf(t, s, acctA))
	assert.Empty(t, s.Pending(acctA))
}

func TestFold_BehindCursorIsNoop(t *testing.T) {
	s := New(1, []model.Account{acctA})
	s.Begin(acctA, model.MustParseDate("2024-01-01"))
	s.Fold(acctA, span("2024-01-01", "2024-01-10"))

	s.Fold(acctA, day("2024-01-05"))

	assert.Equal(t, "2024-01-10", cursorOf(t, s, acctA))
	assert.Empty(t, s.Pending(acctA))
}

func TestFold_OverlappingIntervalExtendsCursor(t *testing.T) {
	s := New(7, []model.Account{acctA})
	s.Begin(acctA, model.MustParseDate("2024-01-01"))
	s.Fold(acctA, span("2024-01-01", "2024-01-07"))

	// Lookback re-fetch overlapping the cursor.
	s.Fold(acctA, span("2024-01-05", "2024-01-11"))

	assert.Equal(t, "2024-01-11", cursorOf(t, s, acctA))
}

func TestFold_AccountsAreIndependent(t *testing.T) {
	s := New(1, []model.Account{acctA, acctB})
	s.Begin(acctA, model.MustParseDate("2024-01-01"))
	s.Begin(acctB, model.MustParseDate("2024-01-01"))

	s.Fold(acctA, day("2024-01-01"))
	s.Fold(acctB, day("2024-01-02"))

	assert.Equal(t, "2024-01-01", cursorOf(t, s, acctA))
	assert.Empty(t, cursorOf(t, s, acctB))
	assert.Equal(t, []model.Interval{day("2024-01-02")}, s.Pending(acctB))
}

func TestFold_WithoutBeginAnchorsOnFirstInterval(t *testing.T) {
	s := New(1, []model.Account{acctA})

	s.Fold(acctA, day("2024-05-01"))

	assert.Equal(t, "2024-05-01", cursorOf(t, s, acctA))
}

func TestBegin_StaleCursorJumpsToWindow(t *testing.T) {
	s := New(1, []model.Account{acctA})
	s.Fold(acctA, day("2020-02-29"))

	s.Begin(acctA, model.MustParseDate("2021-02-01"))
	assert.Equal(t, "2021-01-31", cursorOf(t, s, acctA))

	s.Fold(acctA, day("2021-02-01"))
	assert.Equal(t, "2021-02-01", cursorOf(t, s, acctA))
}

func TestBegin_RecentCursorIsKept(t *testing.T) {
	s := New(1, []model.Account{acctA})
	s.Fold(acctA, day("2024-02-29"))

	s.Begin(acctA, model.MustParseDate("2024-02-19"))

	assert.Equal(t, "2024-02-29", cursorOf(t, s, acctA))
}

func TestMarshalJSON_EmptyState(t *testing.T) {
	s := New(1, []model.Account{model.LegacyUnscoped()})

	raw, err := json.Marshal(s)
	require.NoError(t, err)

	assert.JSONEq(t, `{"time_increment":1,"unknown_account":{"slices":[]}}`, string(raw))
}

func TestMarshalJSON_CursorAndSlices(t *testing.T) {
	s := New(1, []model.Account{acctA})
	s.Begin(acctA, model.MustParseDate("2024-01-01"))
	s.Fold(acctA, day("2024-01-01"))
	s.Fold(acctA, day("2024-01-04"))
	s.Fold(acctA, day("2024-01-03"))

	raw, err := json.Marshal(s)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"time_increment": 1,
		"111": {"date_start": "2024-01-01", "slices": ["2024-01-03", "2024-01-04"]}
	}`, string(raw))
}

func TestLoad_RoundTrip(t *testing.T) {
	s := New(1, []model.Account{acctA, acctB})
	s.Begin(acctA, model.MustParseDate("2024-01-01"))
	s.Fold(acctA, span("2024-01-01", "2024-01-05"))
	s.Fold(acctA, day("2024-01-08"))
	s.Fold(acctB, day("2023-12-31"))

	raw, err := json.Marshal(s)
	require.NoError(t, err)

	loaded, warnings := Load(raw, 1, []model.Account{acctA, acctB})
	require.Empty(t, warnings)
	assert.Equal(t, "2024-01-05", cursorOf(t, loaded, acctA))
	assert.Equal(t, []model.Interval{day("2024-01-08")}, loaded.Pending(acctA))
	assert.Equal(t, "2023-12-31", cursorOf(t, loaded, acctB))

	again, err := json.Marshal(loaded)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(again))
}

func TestLoad_LegacySingleAccountStaysUnscoped(t *testing.T) {
	raw := []byte(`{"date_start": "2010-10-03", "slices": ["2010-01-02", "2010-01-01"], "time_increment": 1}`)

	s, warnings := Load(raw, 1, []model.Account{model.Known("123")})

	require.Empty(t, warnings)
	assert.Empty(t, cursorOf(t, s, model.Known("123")))
	assert.Equal(t, "2010-10-03", cursorOf(t, s, model.LegacyUnscoped()))

	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"123": {"slices": []},
		"unknown_account": {"date_start": "2010-10-03", "slices": ["2010-01-01", "2010-01-02"]},
		"time_increment": 1
	}`, string(out))
}

func TestLoad_LegacyMultiAccountStaysUnscoped(t *testing.T) {
	raw := []byte(`{"date_start": "2021-02-15T00:00:00+00:00", "slices": [], "time_increment": 1}`)

	s, warnings := Load(raw, 1, []model.Account{acctA, acctB})

	require.Empty(t, warnings)
	assert.Equal(t, "2021-02-15", cursorOf(t, s, model.LegacyUnscoped()))
	assert.Empty(t, cursorOf(t, s, acctA))
	assert.Empty(t, cursorOf(t, s, acctB))
	assert.ElementsMatch(t, []string{"111", "222", model.LegacyAccountKey, "time_increment"}, keysOf(t, s))
}

func TestLoad_PerAccountDocumentRoundTripsUnchanged(t *testing.T) {
	raw := `{
		"111": {"date_start": "2022-06-30", "slices": ["2022-07-04"]},
		"unknown_account": {"date_start": "2021-01-10", "slices": ["2020-12-01"]},
		"time_increment": 1
	}`

	s, warnings := Load([]byte(raw), 1, []model.Account{acctA})

	require.Empty(t, warnings)
	assert.Equal(t, "2022-06-30", cursorOf(t, s, acctA))
	assert.Equal(t, "2021-01-10", cursorOf(t, s, model.LegacyUnscoped()))

	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestLoad_UnconfiguredAccountsAreKept(t *testing.T) {
	raw := []byte(`{"999": {"date_start": "2022-06-30", "slices": []}, "time_increment": 1}`)

	s, warnings := Load(raw, 1, []model.Account{acctA})

	require.Empty(t, warnings)
	assert.Equal(t, "2022-06-30", cursorOf(t, s, model.Known("999")))
	assert.Equal(t, []model.Account{acctA, model.Known("999")}, s.Accounts())
}

func TestLoad_TimeIncrementMismatchStartsEmpty(t *testing.T) {
	raw := []byte(`{"111": {"date_start": "2022-06-30", "slices": []}, "time_increment": 7}`)

	s, warnings := Load(raw, 1, []model.Account{acctA})

	require.Len(t, warnings, 1)
	assert.True(t, ferrors.HasCategory(warnings[0], ferrors.CategoryState))
	assert.Empty(t, cursorOf(t, s, acctA))
}

func TestLoad_MalformedDocuments(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		warnings int
	}{
		{"empty", "", 0},
		{"null", "null", 0},
		{"not an object", `[1,2]`, 1},
		{"bad account entry", `{"111": {"date_start": "yesterday"}, "time_increment": 1}`, 1},
		{"bad time increment", `{"time_increment": "one"}`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, warnings := Load([]byte(tt.raw), 1, []model.Account{acctA})
			require.NotNil(t, s)
			assert.Len(t, warnings, tt.warnings)
			assert.Empty(t, cursorOf(t, s, acctA))
		})
	}
}

func TestLoad_SlicesBehindCursorAreDropped(t *testing.T) {
	raw := []byte(`{"111": {"date_start": "2024-01-05", "slices": ["2024-01-03", "2024-01-06", "2024-01-09"]}, "time_increment": 1}`)

	s, _ := Load(raw, 1, []model.Account{acctA})

	assert.Equal(t, "2024-01-06", cursorOf(t, s, acctA))
	assert.Equal(t, []model.Interval{day("2024-01-09")}, s.Pending(acctA))
}

func keysOf(t *testing.T, s *State) []string {
	t.Helper()
	raw, err := json.Marshal(s)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	return keys
}
