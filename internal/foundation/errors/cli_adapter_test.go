package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestCLIErrorAdapter_ExitCodeFor(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, slog.Default())

	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "nil error", err: nil, expected: 0},
		{name: "validation", err: ValidationError("invalid input").Build(), expected: 2},
		{name: "auth", err: AuthError("token expired").Build(), expected: 5},
		{name: "config", err: ConfigError("bad config").Build(), expected: 7},
		{name: "throttle", err: ThrottleError("slow down").Build(), expected: 8},
		{name: "remote job", err: RemoteJobError("job failed").Build(), expected: 9},
		{name: "wrapped sink", err: fmt.Errorf("write: %w", SinkError("disk full").Build()), expected: 11},
		{name: "unclassified", err: errors.New("unknown error"), expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := adapter.ExitCodeFor(tt.err); got != tt.expected {
				t.Errorf("ExitCodeFor() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCLIErrorAdapter_FormatError(t *testing.T) {
	quiet := NewCLIErrorAdapter(false, nil)
	verbose := NewCLIErrorAdapter(true, nil)

	cfgErr := ConfigError("account_ids must not be empty").Build()
	if got := quiet.FormatError(cfgErr); got != "Error: account_ids must not be empty" {
		t.Errorf("unexpected config format: %q", got)
	}

	netErr := NetworkError("poll failed").WithCause(errors.New("EOF")).Build()
	if got := quiet.FormatError(netErr); !strings.Contains(got, "use -v") {
		t.Errorf("expected hint in quiet mode, got %q", got)
	}
	if got := verbose.FormatError(netErr); !strings.Contains(got, "EOF") {
		t.Errorf("expected cause in verbose mode, got %q", got)
	}
	if got := quiet.FormatError(nil); got != "" {
		t.Errorf("expected empty string for nil, got %q", got)
	}
}
