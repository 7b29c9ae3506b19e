package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, NewDate(2024, time.February, 29), d)

	d, err = ParseDate("2019-10-05T23:15:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, "2019-10-05", d.String())

	_, err = ParseDate("yesterday")
	require.Error(t, err)
}

func TestDateAddMonthsClampsToMonthEnd(t *testing.T) {
	tests := []struct {
		from   string
		months int
		want   string
	}{
		{"2024-03-31", -1, "2024-02-29"},
		{"2023-03-31", -1, "2023-02-28"},
		{"2024-03-01", -37, "2021-02-01"},
		{"2024-01-31", 1, "2024-02-29"},
		{"2024-12-15", 1, "2025-01-15"},
	}
	for _, tt := range tests {
		got := MustParseDate(tt.from).AddMonths(tt.months)
		assert.Equal(t, tt.want, got.String(), "%s %+d months", tt.from, tt.months)
	}
}

func TestDateHelpers(t *testing.T) {
	a := MustParseDate("2024-02-28")
	b := a.AddDays(2)
	assert.Equal(t, "2024-03-01", b.String())
	assert.Equal(t, 2, a.DaysUntil(b))
	assert.Equal(t, -2, b.DaysUntil(a))
	assert.Equal(t, b, MaxDate(a, Date{}, b))
	assert.Equal(t, a, MinDate(Date{}, b, a))
	assert.True(t, MaxDate().IsZero())
}

func TestDateJSON(t *testing.T) {
	type doc struct {
		Start Date `json:"start"`
	}
	raw, err := json.Marshal(doc{Start: MustParseDate("2010-01-01")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"2010-01-01"}`, string(raw))

	var back doc
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, "2010-01-01", back.Start.String())

	require.Error(t, json.Unmarshal([]byte(`{"start":"not-a-date"}`), &back))
}

func TestInterval(t *testing.T) {
	_, err := NewInterval(MustParseDate("2024-01-02"), MustParseDate("2024-01-01"))
	require.Error(t, err)

	iv, err := NewInterval(MustParseDate("2010-01-01"), MustParseDate("2011-01-01"))
	require.NoError(t, err)
	assert.Equal(t, 366, iv.Days())
	assert.True(t, iv.Contains(MustParseDate("2010-06-15")))
	assert.False(t, iv.Contains(MustParseDate("2011-01-02")))
	assert.Equal(t, 1, Day(MustParseDate("2010-01-01")).Days())
	assert.Equal(t, "2010-01-01..2011-01-01", iv.String())
}

func TestAccountKeys(t *testing.T) {
	assert.Equal(t, "123", Known("123").Key())
	assert.Equal(t, LegacyAccountKey, LegacyUnscoped().Key())
	assert.True(t, AccountFromKey("unknown_account").IsLegacy())
	assert.Equal(t, Known("42"), AccountFromKey("42"))
	assert.Empty(t, LegacyUnscoped().ID())
}
