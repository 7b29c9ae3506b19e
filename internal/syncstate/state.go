// Package syncstate tracks, per account, how far insights data has been fetched
// without gaps. A cursor marks the last day up to which every day is done; days
// completed after a gap are buffered as pending slices until the gap closes.
package syncstate

import (
	"maps"
	"slices"

	"git.home.luguber.info/inful/insightsync/internal/model"
)

type accountState struct {
	cursor  model.Date                // zero when nothing contiguous is done yet
	origin  model.Date                // first day of the current run window
	pending map[model.Date]model.Date // slice start -> slice end, all starts after cursor+1
}

func newAccountState() *accountState {
	return &accountState{pending: make(map[model.Date]model.Date)}
}

// expectedNext is the first day that would extend the cursor.
func (a *accountState) expectedNext() model.Date {
	if !a.cursor.IsZero() {
		return a.cursor.AddDays(1)
	}
	return a.origin
}

// absorb folds pending slices that became contiguous into the cursor and drops
// slices the cursor already covers.
func (a *accountState) absorb() {
	for changed := true; changed; {
		changed = false
		for start, end := range a.pending {
			if a.cursor.IsZero() || start.After(a.cursor.AddDays(1)) {
				continue
			}
			if end.After(a.cursor) {
				a.cursor = end
			}
			delete(a.pending, start)
			changed = true
		}
	}
}

// State is the checkpoint of one stream. It is not safe for concurrent use.
type State struct {
	timeIncrement int
	accounts      map[string]*accountState
	configured    []model.Account
}

// New returns an empty state for the configured accounts.
func New(timeIncrement int, accounts []model.Account) *State {
	s := &State{
		timeIncrement: max(timeIncrement, 1),
		accounts:      make(map[string]*accountState, len(accounts)),
		configured:    slices.Clone(accounts),
	}
	for _, a := range accounts {
		s.accounts[a.Key()] = newAccountState()
	}
	return s
}

func (s *State) account(a model.Account) *accountState {
	st, ok := s.accounts[a.Key()]
	if !ok {
		st = newAccountState()
		s.accounts[a.Key()] = st
	}
	return st
}

// TimeIncrement returns the slice width the cursor semantics are based on.
func (s *State) TimeIncrement() int { return s.timeIncrement }

// Accounts returns every account present in the state, configured ones first.
func (s *State) Accounts() []model.Account {
	out := slices.Clone(s.configured)
	var extra []string
	for key := range s.accounts {
		if !slices.ContainsFunc(out, func(a model.Account) bool { return a.Key() == key }) {
			extra = append(extra, key)
		}
	}
	slices.Sort(extra)
	for _, key := range extra {
		out = append(out, model.AccountFromKey(key))
	}
	return out
}

// Cursor returns the last contiguously completed day for the account.
func (s *State) Cursor(a model.Account) (model.Date, bool) {
	st, ok := s.accounts[a.Key()]
	if !ok || st.cursor.IsZero() {
		return model.Date{}, false
	}
	return st.cursor, true
}

// Pending returns the buffered out-of-order slices of the account, sorted by start.
func (s *State) Pending(a model.Account) []model.Interval {
	st, ok := s.accounts[a.Key()]
	if !ok {
		return nil
	}
	out := make([]model.Interval, 0, len(st.pending))
	for _, start := range slices.SortedFunc(maps.Keys(st.pending), model.Date.Compare) {
		out = append(out, model.Interval{Start: start, End: st.pending[start]})
	}
	return out
}

// Begin records the start of a run window for the account. When the cursor is so
// old that the window starts after cursor+1, the days in between can no longer be
// fetched and the cursor moves to effectiveStart-1.
func (s *State) Begin(a model.Account, effectiveStart model.Date) {
	st := s.account(a)
	st.origin = effectiveStart
	if !st.cursor.IsZero() && st.cursor.AddDays(1).Before(effectiveStart) {
		st.cursor = effectiveStart.AddDays(-1)
		st.absorb()
	}
}

// Fold records that every row of iv has been emitted. Intervals already behind
// the cursor are no-ops; intervals after a gap are buffered.
func (s *State) Fold(a model.Account, iv model.Interval) {
	st := s.account(a)
	if end, ok := st.pending[iv.Start]; ok && !end.After(iv.End) {
		delete(st.pending, iv.Start)
	}
	if !st.cursor.IsZero() && !iv.End.After(st.cursor) {
		return
	}

	expected := st.expectedNext()
	switch {
	case expected.IsZero() || !iv.Start.After(expected):
		if st.cursor.IsZero() && !st.origin.IsZero() && iv.End.Before(st.origin.AddDays(-1)) {
			// Entirely before the run window; nothing to anchor to.
			return
		}
		st.cursor = model.MaxDate(st.cursor, iv.End)
		st.absorb()
	default:
		if prev, ok := st.pending[iv.Start]; !ok || iv.End.After(prev) {
			st.pending[iv.Start] = iv.End
		}
	}
}
