package quota

import (
	"errors"
	"testing"
	"time"

	"git.home.luguber.info/inful/insightsync/internal/config"
	"git.home.luguber.info/inful/insightsync/internal/retry"
)

func newTestTracker(maxConcurrent int) *Tracker {
	backoff := retry.NewPolicy(config.RetryBackoffExponential, 10*time.Second, 80*time.Second, 0)
	return NewTracker(Descriptor{MaxConcurrent: maxConcurrent, CoolDown: time.Second}, backoff)
}

func TestAcquireRespectsMaxConcurrent(t *testing.T) {
	tr := newTestTracker(2)
	if tr.Available() != 2 {
		t.Fatalf("expected 2 available, got %d", tr.Available())
	}
	for range 2 {
		if err := tr.Acquire(); err != nil {
			t.Fatalf("unexpected acquire error: %v", err)
		}
	}
	err := tr.Acquire()
	var qerr *QuotaLimitError
	if !errors.As(err, &qerr) {
		t.Fatalf("expected QuotaLimitError, got %v", err)
	}
	if qerr.Limit != "concurrent jobs" || qerr.Current != 2 || qerr.Maximum != 2 {
		t.Errorf("unexpected error fields: %+v", qerr)
	}
	tr.Release()
	if tr.Available() != 1 {
		t.Errorf("expected 1 available after release, got %d", tr.Available())
	}
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	tr := newTestTracker(1)
	tr.Release()
	if u := tr.Usage(); u.InFlight != 0 {
		t.Fatalf("expected 0 in flight, got %d", u.InFlight)
	}
}

func TestThrottleBlocksStartsAndBacksOff(t *testing.T) {
	tr := newTestTracker(5)
	_ = tr.Acquire()

	tr.Observe(Signal{Utilization: 85})
	if !tr.Throttled() {
		t.Fatal("expected throttled at 85%")
	}
	if tr.Available() != 0 {
		t.Errorf("expected no starts while throttled with jobs in flight")
	}
	if got := tr.NextWait(); got != 10*time.Second {
		t.Errorf("first throttled wait = %v, want 10s", got)
	}
	tr.Observe(Signal{Utilization: 90})
	if got := tr.NextWait(); got != 20*time.Second {
		t.Errorf("second throttled wait = %v, want 20s", got)
	}

	err := tr.Acquire()
	var qerr *QuotaLimitError
	if !errors.As(err, &qerr) || qerr.Limit != "insights throttle" || qerr.RetryAfter != 20*time.Second {
		t.Fatalf("unexpected acquire error: %v", err)
	}

	tr.Release()
	if tr.Available() != 1 {
		t.Errorf("expected a single trial slot when idle and throttled, got %d", tr.Available())
	}

	tr.Observe(Signal{Utilization: 12})
	if tr.Throttled() || tr.NextWait() != time.Second || tr.Usage().Streak != 0 {
		t.Errorf("expected recovery, usage=%+v wait=%v", tr.Usage(), tr.NextWait())
	}
}

func TestExplicitCoolDownSignal(t *testing.T) {
	tr := newTestTracker(3)
	tr.Observe(Signal{Utilization: -1, CoolDown: 2 * time.Minute})
	if !tr.Throttled() {
		t.Fatal("explicit cool-down should throttle")
	}
	if got := tr.NextWait(); got != 2*time.Minute {
		t.Errorf("expected platform cool-down to win, got %v", got)
	}
	if Unreported.Reported() {
		t.Error("Unreported must not be reported")
	}
}
