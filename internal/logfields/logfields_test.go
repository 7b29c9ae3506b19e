package logfields

import (
	"errors"
	"log/slog"
	"testing"

	"git.home.luguber.info/inful/insightsync/internal/model"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	iv := model.Day(model.MustParseDate("2024-02-29"))
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"RunID", KeyRunID, "r1", RunID("r1")},
		{"Stream", KeyStream, "ads_insights", Stream("ads_insights")},
		{"AccountID", KeyAccountID, "act_1", AccountID("act_1")},
		{"JobID", KeyJobID, "123", JobID("123")},
		{"JobStatus", KeyJobStatus, "started", JobStatus("started")},
		{"Interval", KeyInterval, "2024-02-29..2024-02-29", Interval(iv)},
	}

	for _, tc := range cases {
		if tc.attr.Key != tc.attrKey {
			// Key drift would break log ingestion schemas.
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, tc.attr.Key)
		}
		if got := tc.attr.Value.String(); got != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %v", tc.name, tc.attrVal, got)
		}
	}
}

// TestNumericHelpers verifies keys for numeric & float helpers.
func TestNumericHelpers(t *testing.T) {
	if v := Attempt(2); v.Key != KeyAttempt || v.Value.Int64() != 2 {
		t.Fatalf("Attempt mismatch: %v", v)
	}
	if v := Records(42); v.Key != KeyRecords {
		t.Fatalf("Records key mismatch: %s", v.Key)
	}
	if v := DurationMS(12.5); v.Key != KeyDurationMS {
		t.Fatalf("DurationMS key mismatch: %s", v.Key)
	}
}

// TestErrorHelper ensures Error() handles nil and non-nil errors predictably.
func TestErrorHelper(t *testing.T) {
	attr := Error(nil)
	if attr.Key != KeyError || attr.Value.String() != "" {
		t.Fatalf("unexpected nil error attr %v", attr)
	}
	if attr = Error(errors.New("err-test")); attr.Value.String() != "err-test" {
		t.Fatalf("Expected 'err-test', got %s", attr.Value.String())
	}
}
