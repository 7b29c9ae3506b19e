package commands

import (
	"encoding/json"

	"git.home.luguber.info/inful/insightsync/internal/stream"
)

// SchemaCmd implements the 'schema' command.
type SchemaCmd struct {
	Streams []string `short:"s" name:"stream" help:"Only print the named streams (repeatable)"`
}

// CatalogEntry describes one stream the way the JSON lines sink announces it.
type CatalogEntry struct {
	Name        string          `json:"name"`
	PrimaryKey  []string        `json:"primary_key"`
	CursorField string          `json:"cursor_field"`
	JSONSchema  json.RawMessage `json:"json_schema"`
}

func (c *SchemaCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	defs, err := stream.Definitions(cfg)
	if err != nil {
		return err
	}
	if defs, err = stream.Select(defs, c.Streams); err != nil {
		return err
	}

	catalog := make([]CatalogEntry, 0, len(defs))
	for _, def := range defs {
		st, err := stream.NewInsights(def, nil, nil)
		if err != nil {
			return err
		}
		doc, err := st.JSONSchema().MarshalJSON()
		if err != nil {
			return err
		}
		catalog = append(catalog, CatalogEntry{
			Name:        st.Name(),
			PrimaryKey:  st.PrimaryKey(),
			CursorField: st.CursorField(),
			JSONSchema:  doc,
		})
	}

	enc := json.NewEncoder(g.out())
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"streams": catalog})
}
