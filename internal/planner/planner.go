// Package planner decides which date intervals a sync run must fetch for each
// account, given the persisted cursor, the attribution lookback window and the
// platform's retention horizon.
package planner

import (
	"slices"
	"time"

	"git.home.luguber.info/inful/insightsync/internal/model"
	"git.home.luguber.info/inful/insightsync/internal/syncstate"
)

const (
	DefaultRetentionMonths = 37
	DefaultLookbackDays    = 28
)

// Window is the configured sync window of one stream.
type Window struct {
	StartDate       model.Date
	EndDate         model.Date // zero means today
	LookbackDays    int
	RetentionMonths int
	TimeIncrement   int
}

// Plan is the work for one account in one run.
type Plan struct {
	Account        model.Account
	EffectiveStart model.Date
	End            model.Date
	Intervals      []model.Interval
}

// Empty reports whether nothing needs fetching.
func (p Plan) Empty() bool { return len(p.Intervals) == 0 }

// Planner computes per-account plans. It never mutates the state.
type Planner struct {
	window Window
	now    func() time.Time
}

// Option configures a Planner.
type Option func(*Planner)

// WithNow overrides the clock used to determine today.
func WithNow(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

// New returns a planner for w. Non-positive retention and increment values fall
// back to the platform defaults.
func New(w Window, opts ...Option) *Planner {
	if w.RetentionMonths <= 0 {
		w.RetentionMonths = DefaultRetentionMonths
	}
	if w.TimeIncrement <= 0 {
		w.TimeIncrement = 1
	}
	if w.LookbackDays < 0 {
		w.LookbackDays = 0
	}
	p := &Planner{window: w, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Today is the current UTC calendar date.
func (p *Planner) Today() model.Date { return model.DateOf(p.now().UTC()) }

// Floor is the oldest date the platform still serves insights for.
func (p *Planner) Floor() model.Date {
	return p.Today().AddMonths(-p.window.RetentionMonths)
}

// End is the last date to fetch: end_date capped at today.
func (p *Planner) End() model.Date {
	today := p.Today()
	if p.window.EndDate.IsZero() {
		return today
	}
	return model.MinDate(p.window.EndDate, today)
}

// EffectiveStart is max(cursor - lookback or start_date, floor, start_date).
func (p *Planner) EffectiveStart(state *syncstate.State, account model.Account) model.Date {
	lookbackStart := p.window.StartDate
	if cursor, ok := state.Cursor(account); ok {
		lookbackStart = cursor.AddDays(-p.window.LookbackDays)
	}
	return model.MaxDate(lookbackStart, p.Floor(), p.window.StartDate)
}

// Plan returns the intervals to fetch for account, sorted by start date.
func (p *Planner) Plan(state *syncstate.State, account model.Account) Plan {
	start := p.EffectiveStart(state, account)
	end := p.End()
	floor := p.Floor()
	plan := Plan{Account: account, EffectiveStart: start, End: end}

	for _, pending := range state.Pending(account) {
		if pending.Start.Before(start) && !pending.Start.Before(floor) {
			plan.Intervals = append(plan.Intervals, model.Interval{
				Start: pending.Start,
				End:   model.MinDate(pending.End, start.AddDays(-1)),
			})
		}
	}

	step := p.window.TimeIncrement
	for from := start; !from.After(end); from = from.AddDays(step) {
		plan.Intervals = append(plan.Intervals, model.Interval{
			Start: from,
			End:   model.MinDate(from.AddDays(step-1), end),
		})
	}

	slices.SortFunc(plan.Intervals, func(a, b model.Interval) int { return a.Start.Compare(b.Start) })
	return plan
}

// StartDates returns the effective start of every account, for diagnostics.
func (p *Planner) StartDates(state *syncstate.State, accounts []model.Account) map[model.Account]model.Date {
	out := make(map[model.Account]model.Date, len(accounts))
	for _, a := range accounts {
		out[a] = p.EffectiveStart(state, a)
	}
	return out
}
