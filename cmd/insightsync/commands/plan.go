package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"git.home.luguber.info/inful/insightsync/internal/config"
	"git.home.luguber.info/inful/insightsync/internal/model"
)

// PlanCmd implements the 'plan' command.
type PlanCmd struct {
	Streams []string `short:"s" name:"stream" help:"Only plan the named streams (repeatable)"`
	JSON    bool     `help:"Print the plan as JSON"`
}

// PlanEntry is the plan of one account of one stream.
type PlanEntry struct {
	Stream         string     `json:"stream"`
	Account        string     `json:"account"`
	Cursor         string     `json:"cursor,omitempty"`
	EffectiveStart model.Date `json:"effective_start"`
	End            model.Date `json:"end"`
	Intervals      []string   `json:"intervals"`
}

func (c *PlanCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	entries, err := buildPlan(context.Background(), cfg, c.Streams)
	if err != nil {
		return err
	}
	if c.JSON {
		enc := json.NewEncoder(g.out())
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	return writePlanTable(g.out(), entries)
}

func buildPlan(ctx context.Context, cfg *config.Config, names []string) ([]PlanEntry, error) {
	streams, err := loadStreams(ctx, cfg, names)
	if err != nil {
		return nil, err
	}
	var entries []PlanEntry
	for _, ls := range streams {
		st := ls.insights
		for _, p := range st.Plans() {
			e := PlanEntry{
				Stream:         st.Name(),
				Account:        p.Account.Key(),
				EffectiveStart: p.EffectiveStart,
				End:            p.End,
				Intervals:      make([]string, 0, len(p.Intervals)),
			}
			if cur, ok := st.State().Cursor(p.Account); ok {
				e.Cursor = cur.String()
			}
			for _, iv := range p.Intervals {
				e.Intervals = append(e.Intervals, iv.String())
			}
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func writePlanTable(w io.Writer, entries []PlanEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "STREAM\tACCOUNT\tCURSOR\tSTART\tEND\tJOBS\tFIRST\tLAST")
	for _, e := range entries {
		first, last := "-", "-"
		if n := len(e.Intervals); n > 0 {
			first, last = e.Intervals[0], e.Intervals[n-1]
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.Stream, e.Account, orDash(e.Cursor), e.EffectiveStart, e.End, len(e.Intervals), first, last)
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
