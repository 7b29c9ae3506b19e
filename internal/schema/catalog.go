// Package schema assembles the JSON schema of an insights stream from the
// embedded base field schema and the breakdown schema.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"git.home.luguber.info/inful/insightsync/internal/transform"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	baseSchemaFile       = "schemas/ads_insights.json"
	breakdownsSchemaFile = "schemas/ads_insights_breakdowns.json"
	draft07              = "http://json-schema.org/draft-07/schema#"
)

// RequiredFields are always part of a custom field selection.
var RequiredFields = []string{"date_start", "date_stop", "ad_id", "account_id"}

// Catalog holds the parsed embedded schemas. It is read-only after loading.
type Catalog struct {
	base       map[string]any
	breakdowns map[string]any
}

var (
	defaultCatalog     *Catalog
	defaultCatalogErr  error
	defaultCatalogOnce sync.Once
)

// Default returns the catalog built from the embedded schema files.
func Default() (*Catalog, error) {
	defaultCatalogOnce.Do(func() {
		defaultCatalog, defaultCatalogErr = load()
	})
	return defaultCatalog, defaultCatalogErr
}

func load() (*Catalog, error) {
	base, err := readProperties(baseSchemaFile)
	if err != nil {
		return nil, err
	}
	breakdowns, err := readProperties(breakdownsSchemaFile)
	if err != nil {
		return nil, err
	}
	return &Catalog{base: base, breakdowns: breakdowns}, nil
}

func readProperties(name string) (map[string]any, error) {
	raw, err := schemaFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	var doc struct {
		Properties map[string]any `json:"properties"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	if len(doc.Properties) == 0 {
		return nil, fmt.Errorf("%s has no properties", name)
	}
	return doc.Properties, nil
}

// Fields returns every base field name, sorted. This is the default field
// selection of a stream.
func (c *Catalog) Fields() []string {
	return slices.Sorted(maps.Keys(c.base))
}

// HasField reports whether name is a known base field.
func (c *Catalog) HasField(name string) bool {
	_, ok := c.base[name]
	return ok
}

// HasBreakdown reports whether the breakdown schema describes name.
func (c *Catalog) HasBreakdown(name string) bool {
	_, ok := c.breakdowns[name]
	return ok
}

func nullableString() map[string]any {
	return map[string]any{"type": []any{"null", "string"}}
}

// Assemble builds the stream schema. An empty field list selects every base
// field; a custom list is extended with RequiredFields. Selected breakdowns add
// their own properties and, for object breakdowns, the derived <name>_id.
func (c *Catalog) Assemble(fields []string, breakdowns transform.Breakdowns) *Schema {
	props := make(map[string]any)
	if len(fields) == 0 {
		maps.Copy(props, c.base)
	} else {
		for _, f := range fields {
			if p, ok := c.base[f]; ok {
				props[f] = p
				continue
			}
			slog.Warn("Field not in insights schema, typing it as string", slog.String("field", f))
			props[f] = nullableString()
		}
		for _, f := range RequiredFields {
			props[f] = c.base[f]
		}
	}

	for _, name := range breakdowns.Names() {
		if p, ok := c.breakdowns[name]; ok {
			props[name] = p
		} else {
			props[name] = nullableString()
		}
		if transform.IsObjectBreakdown(name) {
			props[transform.IDField(name)] = nullableString()
		}
	}
	return &Schema{properties: props}
}

// Schema is an assembled stream schema.
type Schema struct {
	properties map[string]any
}

// PropertyNames returns the sorted property names.
func (s *Schema) PropertyNames() []string {
	return slices.Sorted(maps.Keys(s.properties))
}

// Has reports whether the schema declares name.
func (s *Schema) Has(name string) bool {
	_, ok := s.properties[name]
	return ok
}

// Document returns the schema as a JSON-compatible value.
func (s *Schema) Document() map[string]any {
	return map[string]any{
		"$schema":              draft07,
		"type":                 []any{"null", "object"},
		"additionalProperties": true,
		"properties":           s.properties,
	}
}

func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Document())
}

// Indented renders the schema with two-space indentation and a trailing newline.
func (s *Schema) Indented() ([]byte, error) {
	out, err := json.MarshalIndent(s.Document(), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}
