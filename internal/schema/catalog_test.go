package schema

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/insightsync/internal/transform"
)

func catalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Default()
	require.NoError(t, err)
	return c
}

func TestAssemble_Golden(t *testing.T) {
	tests := []struct {
		name       string
		fields     []string
		breakdowns []string
	}{
		{"custom_fields_object_breakdowns", []string{"account_id", "account_currency", "spend"}, []string{"video_asset", "gender"}},
		{"custom_fields_scalar_breakdowns", []string{"impressions", "clicks"}, []string{"device_platform", "country"}},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := catalog(t).Assemble(tt.fields, transform.NewBreakdowns(tt.breakdowns...))
			out, err := s.Indented()
			require.NoError(t, err)
			g.Assert(t, tt.name, out)
		})
	}
}

func TestAssemble_DefaultFields(t *testing.T) {
	c := catalog(t)
	s := c.Assemble(nil, transform.NewBreakdowns())

	assert.Equal(t, c.Fields(), s.PropertyNames())
	for _, f := range []string{"account_id", "account_currency", "actions", "date_start", "spend"} {
		assert.True(t, s.Has(f), f)
	}
	assert.False(t, s.Has("device_platform"))
	assert.False(t, s.Has("country"))
}

func TestAssemble_CustomFieldsAddRequired(t *testing.T) {
	s := catalog(t).Assemble([]string{"account_id", "account_currency"}, transform.NewBreakdowns())

	assert.ElementsMatch(t,
		[]string{"account_currency", "account_id", "date_start", "date_stop", "ad_id"},
		s.PropertyNames())
}

func TestAssemble_PrimaryKeyIsDeclared(t *testing.T) {
	b := transform.NewBreakdowns("video_asset", "link_url_asset", "skan_conversion_id", "place_page_id", "gender")
	s := catalog(t).Assemble(nil, b)

	for _, pk := range b.PrimaryKey() {
		assert.True(t, s.Has(pk), pk)
	}
}

func TestAssemble_UnknownFieldIsString(t *testing.T) {
	s := catalog(t).Assemble([]string{"brand_new_metric"}, transform.NewBreakdowns("not_a_breakdown"))

	doc := s.Document()["properties"].(map[string]any)
	assert.Equal(t, nullableString(), doc["brand_new_metric"])
	assert.Equal(t, nullableString(), doc["not_a_breakdown"])
}

func TestCatalog_EveryValidBreakdownHasSchema(t *testing.T) {
	c := catalog(t)
	for _, name := range transform.ValidBreakdowns {
		assert.True(t, c.HasBreakdown(name), name)
	}
}
