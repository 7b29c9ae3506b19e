package commands

import (
	"context"
	"encoding/json"
)

// StateCmd groups state inspection subcommands.
type StateCmd struct {
	Show StateShowCmd `cmd:"" help:"Print the stored state document of each stream"`
}

// StateShowCmd implements 'state show'.
type StateShowCmd struct {
	Streams []string `short:"s" name:"stream" help:"Only show the named streams (repeatable)"`
	Decoded bool     `help:"Print the state as it will be used, with legacy state under its pseudo-account"`
}

func (c *StateShowCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	streams, err := loadStreams(context.Background(), cfg, c.Streams)
	if err != nil {
		return err
	}

	docs := make(map[string]json.RawMessage, len(streams))
	for _, ls := range streams {
		switch {
		case c.Decoded:
			doc, err := json.Marshal(ls.insights.State())
			if err != nil {
				return err
			}
			docs[ls.insights.Name()] = doc
		case ls.raw == nil:
			docs[ls.insights.Name()] = json.RawMessage("null")
		default:
			docs[ls.insights.Name()] = ls.raw
		}
	}

	enc := json.NewEncoder(g.out())
	enc.SetIndent("", "  ")
	return enc.Encode(docs)
}
