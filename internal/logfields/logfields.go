package logfields

import (
	"log/slog"

	"git.home.luguber.info/inful/insightsync/internal/model"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyStream     = "stream"
	KeyAccountID  = "account_id"
	KeyJobID      = "job_id"
	KeyJobStatus  = "job_status"
	KeyInterval   = "interval"
	KeyAttempt    = "attempt"
	KeyRecords    = "records"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr            { return slog.String(KeyRunID, id) }
func Stream(name string) slog.Attr         { return slog.String(KeyStream, name) }
func AccountID(id string) slog.Attr        { return slog.String(KeyAccountID, id) }
func JobID(id string) slog.Attr            { return slog.String(KeyJobID, id) }
func JobStatus(s string) slog.Attr         { return slog.String(KeyJobStatus, s) }
func Interval(iv model.Interval) slog.Attr { return slog.String(KeyInterval, iv.String()) }
func Attempt(n int) slog.Attr              { return slog.Int(KeyAttempt, n) }
func Records(n int) slog.Attr              { return slog.Int(KeyRecords, n) }
func DurationMS(ms float64) slog.Attr      { return slog.Float64(KeyDurationMS, ms) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
