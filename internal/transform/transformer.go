package transform

import (
	"log/slog"

	"git.home.luguber.info/inful/insightsync/internal/logfields"
	"git.home.luguber.info/inful/insightsync/internal/model"
)

// Transformer validates and enriches rows of one stream. It is used from a single
// goroutine.
type Transformer struct {
	stream     string
	breakdowns Breakdowns
	dropped    int
}

func NewTransformer(stream string, breakdowns Breakdowns) *Transformer {
	return &Transformer{stream: stream, breakdowns: breakdowns}
}

// Valid reports whether every configured breakdown is present in row.
func (t *Transformer) Valid(row model.Record) bool {
	for _, name := range t.breakdowns.names {
		if _, ok := row[name]; !ok {
			return false
		}
	}
	return true
}

// Transform returns the output record for row, or false when the row is dropped.
// The input row is not modified.
func (t *Transformer) Transform(row model.Record, account model.Account) (model.Record, bool) {
	if !t.Valid(row) {
		t.dropped++
		slog.Debug("Dropping insights row without breakdown values",
			logfields.Stream(t.stream),
			logfields.AccountID(account.Key()))
		return nil, false
	}

	out := row.Clone()
	if _, ok := out["account_id"]; !ok && account.ID() != "" {
		out["account_id"] = account.ID()
	}
	for _, name := range t.breakdowns.names {
		if !IsObjectBreakdown(name) {
			continue
		}
		obj, ok := out[name].(map[string]any)
		if !ok {
			continue
		}
		if id, ok := obj["id"]; ok && id != nil {
			out[IDField(name)] = id
		}
	}
	return out, true
}

// Dropped returns how many rows failed validation so far.
func (t *Transformer) Dropped() int { return t.dropped }
