// Package quota tracks how much of the platform's async report capacity a sync
// run may use: a local bound on concurrently running jobs plus the utilization
// the platform reports back on every insights response.
package quota

import (
	"sync"
	"time"

	"git.home.luguber.info/inful/insightsync/internal/retry"
)

// DefaultThrottleLimit is the reported utilization (percent) at which no new jobs
// are started.
const DefaultThrottleLimit = 70.0

// QuotaLimitError indicates a quota limit has been exceeded
type QuotaLimitError struct {
	Limit      string
	Current    int64
	Maximum    int64
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *QuotaLimitError) Error() string {
	return "quota limit exceeded: " + e.Limit
}

// Descriptor is the static quota of a run.
type Descriptor struct {
	MaxConcurrent int           // jobs allowed in flight at once
	CoolDown      time.Duration // wait between manager rounds when not throttled
	ThrottleLimit float64       // utilization percent at which starts pause; 0 means DefaultThrottleLimit
}

// Signal is the platform's latest quota report.
type Signal struct {
	// Utilization is the highest reported usage percentage across the account and
	// application budgets. Negative means the platform has not reported one.
	Utilization float64
	// CoolDown is an explicit wait the platform asked for, if any.
	CoolDown time.Duration
}

// Unreported is the signal before any response carried throttle information.
var Unreported = Signal{Utilization: -1}

// Reported reports whether the platform sent a utilization figure.
func (s Signal) Reported() bool { return s.Utilization >= 0 }

// Usage is a point-in-time snapshot of the tracker.
type Usage struct {
	InFlight      int
	MaxConcurrent int
	Utilization   float64
	Throttled     bool
	Streak        int
}

// Tracker enforces a Descriptor against the latest Signal. It is safe for
// concurrent use, though the job manager is its only writer.
type Tracker struct {
	mu       sync.Mutex
	desc     Descriptor
	backoff  retry.Policy
	inFlight int
	last     Signal
	streak   int
}

// NewTracker creates a tracker. backoff grows the wait while throttling persists.
func NewTracker(desc Descriptor, backoff retry.Policy) *Tracker {
	if desc.MaxConcurrent <= 0 {
		desc.MaxConcurrent = 1
	}
	if desc.ThrottleLimit <= 0 {
		desc.ThrottleLimit = DefaultThrottleLimit
	}
	return &Tracker{desc: desc, backoff: backoff, last: Unreported}
}

// Observe records the latest platform signal.
func (t *Tracker) Observe(s Signal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = s
	if t.throttledLocked() {
		t.streak++
	} else {
		t.streak = 0
	}
}

func (t *Tracker) throttledLocked() bool {
	return t.last.CoolDown > 0 || (t.last.Reported() && t.last.Utilization >= t.desc.ThrottleLimit)
}

// Throttled reports whether the platform asked us to slow down.
func (t *Tracker) Throttled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.throttledLocked()
}

// Available returns how many jobs may be started now. While throttled a single
// trial job is allowed when nothing is in flight, so that a fresh signal can arrive.
func (t *Tracker) Available() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.availableLocked()
}

func (t *Tracker) availableLocked() int {
	if t.throttledLocked() {
		if t.inFlight == 0 {
			return 1
		}
		return 0
	}
	return max(0, t.desc.MaxConcurrent-t.inFlight)
}

// Acquire reserves one in-flight slot.
func (t *Tracker) Acquire() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.availableLocked() == 0 {
		limit := "concurrent jobs"
		if t.throttledLocked() {
			limit = "insights throttle"
		}
		return &QuotaLimitError{
			Limit:      limit,
			Current:    int64(t.inFlight),
			Maximum:    int64(t.desc.MaxConcurrent),
			RetryAfter: t.nextWaitLocked(),
		}
	}
	t.inFlight++
	return nil
}

// Release frees one in-flight slot.
func (t *Tracker) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inFlight > 0 {
		t.inFlight--
	}
}

// NextWait returns how long to wait before the next manager round.
func (t *Tracker) NextWait() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextWaitLocked()
}

func (t *Tracker) nextWaitLocked() time.Duration {
	if !t.throttledLocked() {
		return t.desc.CoolDown
	}
	return max(t.desc.CoolDown, t.last.CoolDown, t.backoff.Delay(t.streak))
}

// Usage returns a snapshot for logging and metrics.
func (t *Tracker) Usage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Usage{
		InFlight:      t.inFlight,
		MaxConcurrent: t.desc.MaxConcurrent,
		Utilization:   t.last.Utilization,
		Throttled:     t.throttledLocked(),
		Streak:        t.streak,
	}
}
