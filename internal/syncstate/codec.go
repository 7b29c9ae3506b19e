package syncstate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	ferrors "git.home.luguber.info/inful/insightsync/internal/foundation/errors"
	"git.home.luguber.info/inful/insightsync/internal/model"
)

const (
	keyTimeIncrement = "time_increment"
	keyDateStart     = "date_start"
	keySlices        = "slices"
)

// accountDoc is the persisted form of one account's state.
type accountDoc struct {
	DateStart *model.Date  `json:"date_start,omitempty"`
	Slices    []model.Date `json:"slices"`
}

// MarshalJSON writes {"<account>": {"date_start": ..., "slices": [...]}, "time_increment": n}.
func (s *State) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(s.accounts)+1)
	for key, st := range s.accounts {
		ad := accountDoc{Slices: slices.SortedFunc(maps.Keys(st.pending), model.Date.Compare)}
		if ad.Slices == nil {
			ad.Slices = []model.Date{}
		}
		if !st.cursor.IsZero() {
			c := st.cursor
			ad.DateStart = &c
		}
		doc[key] = ad
	}
	doc[keyTimeIncrement] = s.timeIncrement
	return json.Marshal(doc)
}

// Load rebuilds the state from a persisted document. It never fails: problems
// are returned as warnings and the affected part of the state starts empty.
//
// Documents written before accounts were tracked separately carry date_start and
// slices at the top level. They are kept whole under the legacy pseudo-account.
// Documents that already have per-account keys are loaded as they are.
func Load(raw []byte, timeIncrement int, accounts []model.Account) (*State, []error) {
	s := New(timeIncrement, accounts)
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return s, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return s, []error{stateWarning("state document is not a JSON object", "", err)}
	}

	if rawTI, ok := doc[keyTimeIncrement]; ok {
		var ti int
		if err := json.Unmarshal(rawTI, &ti); err != nil {
			return s, []error{stateWarning("invalid time_increment in state", "", err)}
		}
		if ti != s.timeIncrement {
			return s, []error{stateWarning(
				fmt.Sprintf("state time_increment %d differs from configured %d; starting from scratch", ti, s.timeIncrement), "", nil)}
		}
	}
	delete(doc, keyTimeIncrement)

	if isLegacy(doc, accounts) {
		target := model.LegacyUnscoped()
		legacy, err := json.Marshal(doc)
		if err != nil {
			return s, []error{stateWarning("cannot re-encode legacy state", target.Key(), err)}
		}
		slog.Info("Keeping legacy insights state under pseudo-account", slog.String("account_id", target.Key()))
		if err := s.loadAccount(target, legacy); err != nil {
			return s, []error{err}
		}
		return s, nil
	}

	var warnings []error
	for _, key := range slices.Sorted(maps.Keys(doc)) {
		if err := s.loadAccount(model.AccountFromKey(key), doc[key]); err != nil {
			warnings = append(warnings, err)
		}
	}
	return s, warnings
}

func isLegacy(doc map[string]json.RawMessage, accounts []model.Account) bool {
	_, hasStart := doc[keyDateStart]
	_, hasSlices := doc[keySlices]
	if !hasStart && !hasSlices {
		return false
	}
	for _, a := range accounts {
		if _, ok := doc[a.Key()]; ok {
			return false
		}
	}
	_, hasLegacyKey := doc[model.LegacyAccountKey]
	return !hasLegacyKey
}

func (s *State) loadAccount(a model.Account, raw json.RawMessage) error {
	var ad accountDoc
	if err := json.Unmarshal(raw, &ad); err != nil {
		s.accounts[a.Key()] = newAccountState()
		return stateWarning("unreadable account state; starting from scratch", a.Key(), err)
	}
	st := newAccountState()
	if ad.DateStart != nil {
		st.cursor = *ad.DateStart
	}
	for _, start := range ad.Slices {
		st.pending[start] = start.AddDays(s.timeIncrement - 1)
	}
	// The pseudo-account is never synced; its document is carried through as stored.
	if a.IsLegacy() {
		s.accounts[a.Key()] = st
		return nil
	}
	st.absorb()
	for start := range st.pending {
		if !st.cursor.IsZero() && !start.After(st.cursor) {
			delete(st.pending, start)
		}
	}
	s.accounts[a.Key()] = st
	return nil
}

func stateWarning(msg, account string, cause error) error {
	b := ferrors.StateError(msg).WithCause(cause)
	if account != "" {
		b = b.WithContext("account_id", account)
	}
	return b.Build()
}
