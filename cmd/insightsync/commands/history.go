package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/insightsync/internal/eventstore"
	ferrors "git.home.luguber.info/inful/insightsync/internal/foundation/errors"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Limit  int    `short:"n" help:"Maximum number of runs to list" default:"20"`
	RunID  string `name:"run" help:"Show a single run by id"`
	Stream string `help:"Only list runs that touched this stream"`
	JSON   bool   `help:"Print runs as JSON"`
}

func (c *HistoryCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Events.Enabled {
		return ferrors.ConfigError("run history requires events.enabled").Build()
	}

	ctx := context.Background()
	store, projection, err := openEventStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var runs []eventstore.RunSummary
	switch {
	case c.RunID != "":
		run, ok := projection.Run(c.RunID)
		if !ok {
			return ferrors.NewError(ferrors.CategoryNotFound, "run not found").
				WithContext("run_id", c.RunID).
				Build()
		}
		runs = []eventstore.RunSummary{run}
	case c.Stream != "":
		events, err := store.GetByStream(ctx, c.Stream)
		if err != nil {
			return ferrors.WrapError(err, ferrors.CategoryEventStore, "cannot read stream history").
				WithContext("stream", c.Stream).
				Build()
		}
		for _, id := range eventstore.RunIDsOf(events) {
			if run, ok := projection.Run(id); ok {
				runs = append(runs, run)
			}
		}
	default:
		runs = append(projection.Active(), projection.History()...)
	}
	if c.RunID == "" && c.Limit > 0 && len(runs) > c.Limit {
		runs = runs[:c.Limit]
	}

	if c.JSON {
		enc := json.NewEncoder(g.out())
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	return writeHistoryTable(g.out(), runs)
}

func writeHistoryTable(w io.Writer, runs []eventstore.RunSummary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RUN\tSTATUS\tTRIGGER\tSTARTED\tDURATION\tSLICES\tRECORDS\tFAILED")
	for _, r := range runs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.RunID, r.Status, orDash(r.Trigger),
			r.StartedAt.UTC().Format(time.RFC3339),
			r.Duration.Round(time.Millisecond),
			r.Slices, r.Records,
			orDash(strings.Join(r.FailedAccounts, ",")))
	}
	return tw.Flush()
}
