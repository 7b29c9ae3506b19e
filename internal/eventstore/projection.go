// Package eventstore records sync run history as an append-only event log.
package eventstore

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"
)

const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusPartial   = "partial"
	RunStatusFailed    = "failed"
)

// RunSummary is a read model of one sync run.
type RunSummary struct {
	RunID          string        `json:"run_id"`
	Trigger        string        `json:"trigger,omitempty"`
	Status         string        `json:"status"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	Duration       time.Duration `json:"duration,omitempty"`
	Streams        []string      `json:"streams,omitempty"`
	JobsSubmitted  int           `json:"jobs_submitted"`
	JobsCompleted  int           `json:"jobs_completed"`
	JobsFailed     int           `json:"jobs_failed"`
	JobsSplit      int           `json:"jobs_split"`
	Slices         int           `json:"slices"`
	Records        int           `json:"records"`
	FailedAccounts []string      `json:"failed_accounts,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
}

// RunHistoryProjection maintains an in-memory view of run history,
// reconstructed from events stored in the event store.
type RunHistoryProjection struct {
	mu       sync.RWMutex
	store    Store
	runs     map[string]*RunSummary
	history  []*RunSummary // finished runs, newest first
	maxSize  int
	lastSync time.Time
}

// NewRunHistoryProjection creates a new projection backed by the given store.
func NewRunHistoryProjection(store Store, maxHistorySize int) *RunHistoryProjection {
	if maxHistorySize <= 0 {
		maxHistorySize = 100
	}
	return &RunHistoryProjection{
		store:   store,
		runs:    make(map[string]*RunSummary),
		history: make([]*RunSummary, 0, maxHistorySize),
		maxSize: maxHistorySize,
	}
}

// Rebuild reconstructs the projection from all events in the store.
func (p *RunHistoryProjection) Rebuild(ctx context.Context) error {
	events, err := p.store.GetRange(ctx, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.runs = make(map[string]*RunSummary)
	p.history = make([]*RunSummary, 0, p.maxSize)
	for _, event := range events {
		p.applyEventLocked(event)
	}

	slices.SortStableFunc(p.history, func(a, b *RunSummary) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if len(p.history) > p.maxSize {
		p.history = p.history[:p.maxSize]
	}
	p.pruneRunsLocked()

	p.lastSync = time.Now()
	return nil
}

// Apply processes a single event as it is emitted.
func (p *RunHistoryProjection) Apply(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyEventLocked(event)
}

func (p *RunHistoryProjection) applyEventLocked(event Event) {
	runID := event.RunID()
	if runID == "" {
		return
	}

	summary, exists := p.runs[runID]
	if !exists {
		summary = &RunSummary{RunID: runID, Status: RunStatusRunning, StartedAt: event.Timestamp()}
		p.runs[runID] = summary
	}

	switch event.Type() {
	case TypeRunStarted:
		summary.StartedAt = event.Timestamp()
		var payload RunStartedPayload
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.Trigger = payload.Trigger
			summary.Streams = payload.Streams
		}

	case TypeJobSubmitted:
		summary.JobsSubmitted++

	case TypeJobCompleted:
		summary.JobsCompleted++

	case TypeJobFailed:
		summary.JobsFailed++

	case TypeJobSplit:
		summary.JobsSplit++

	case TypeSliceCheckpointed:
		var payload SliceCheckpointedPayload
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.Slices++
			summary.Records += payload.Records
		}

	case TypeRunCompleted:
		p.finishLocked(summary, event.Timestamp())
		var payload RunCompletedPayload
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.Status = payload.Status
			summary.FailedAccounts = payload.FailedAccounts
			summary.Records = max(summary.Records, payload.Records)
			summary.Slices = max(summary.Slices, payload.Slices)
		}
		if summary.Status == "" || summary.Status == RunStatusRunning {
			summary.Status = RunStatusSucceeded
		}

	case TypeRunFailed:
		p.finishLocked(summary, event.Timestamp())
		summary.Status = RunStatusFailed
		var payload RunFailedPayload
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.ErrorMessage = payload.Error
		}
	}
}

func (p *RunHistoryProjection) finishLocked(summary *RunSummary, at time.Time) {
	summary.CompletedAt = &at
	summary.Duration = at.Sub(summary.StartedAt)
	if slices.Contains(p.history, summary) {
		return
	}
	p.history = append([]*RunSummary{summary}, p.history...)
	if len(p.history) > p.maxSize {
		p.history = p.history[:p.maxSize]
	}
	p.pruneRunsLocked()
}

// pruneRunsLocked drops finished runs that fell out of the bounded history.
func (p *RunHistoryProjection) pruneRunsLocked() {
	keep := make(map[string]struct{}, len(p.history))
	for _, h := range p.history {
		keep[h.RunID] = struct{}{}
	}
	for id, summary := range p.runs {
		if summary.Status == RunStatusRunning {
			continue
		}
		if _, ok := keep[id]; !ok {
			delete(p.runs, id)
		}
	}
}

// History returns finished runs, newest first.
func (p *RunHistoryProjection) History() []RunSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]RunSummary, 0, len(p.history))
	for _, h := range p.history {
		out = append(out, *h)
	}
	return out
}

// Run returns the summary for a specific run.
func (p *RunHistoryProjection) Run(runID string) (RunSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	summary, ok := p.runs[runID]
	if !ok {
		return RunSummary{}, false
	}
	return *summary, true
}

// Active returns the runs that have not finished yet.
func (p *RunHistoryProjection) Active() []RunSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []RunSummary
	for _, s := range p.runs {
		if s.Status == RunStatusRunning {
			out = append(out, *s)
		}
	}
	slices.SortFunc(out, func(a, b RunSummary) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// LastSyncTime returns when the projection was last rebuilt.
func (p *RunHistoryProjection) LastSyncTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSync
}
