package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/insightsync/internal/model"
)

func TestPrimaryKey(t *testing.T) {
	tests := []struct {
		name       string
		breakdowns []string
		want       []string
	}{
		{"none", nil, []string{"date_start", "account_id", "ad_id"}},
		{"body asset", []string{"body_asset"}, []string{"date_start", "account_id", "ad_id", "body_asset_id"}},
		{"image asset", []string{"image_asset"}, []string{"date_start", "account_id", "ad_id", "image_asset_id"}},
		{
			"object and scalar",
			[]string{"video_asset", "skan_conversion_id", "place_page_id"},
			[]string{"date_start", "account_id", "ad_id", "video_asset_id", "skan_conversion_id", "place_page_id"},
		},
		{
			"mixed order kept",
			[]string{"video_asset", "link_url_asset", "skan_conversion_id", "place_page_id", "gender"},
			[]string{
				"date_start", "account_id", "ad_id",
				"video_asset_id", "link_url_asset_id", "skan_conversion_id", "place_page_id", "gender",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewBreakdowns(tt.breakdowns...).PrimaryKey())
		})
	}
}

func TestPrimaryKey_DoesNotAliasBaseKey(t *testing.T) {
	b := NewBreakdowns("gender")
	pk := b.PrimaryKey()
	pk[0] = "mutated"

	assert.Equal(t, "date_start", BaseKey[0])
	assert.Equal(t, "date_start", b.PrimaryKey()[0])
}

func TestTransform_ObjectBreakdownIDs(t *testing.T) {
	tests := []struct {
		name       string
		breakdowns []string
		row        model.Record
		want       model.Record
	}{
		{
			"body asset",
			[]string{"body_asset"},
			model.Record{"account_id": "1", "body_asset": map[string]any{"id": "871246182", "text": "Some text"}},
			model.Record{
				"account_id":    "1",
				"body_asset":    map[string]any{"id": "871246182", "text": "Some text"},
				"body_asset_id": "871246182",
			},
		},
		{
			"video asset keeps nested object",
			[]string{"video_asset"},
			model.Record{"account_id": "1", "video_asset": map[string]any{
				"id": "871246182", "video_id": "video_id", "url": "url",
			}},
			model.Record{
				"account_id":     "1",
				"video_asset":    map[string]any{"id": "871246182", "video_id": "video_id", "url": "url"},
				"video_asset_id": "871246182",
			},
		},
		{
			"id copied as received",
			[]string{"image_asset"},
			model.Record{"account_id": "1", "image_asset": map[string]any{"id": float64(871246182)}},
			model.Record{
				"account_id":     "1",
				"image_asset":    map[string]any{"id": float64(871246182)},
				"image_asset_id": float64(871246182),
			},
		},
		{
			"scalar breakdowns untouched",
			[]string{"body_asset", "country"},
			model.Record{"account_id": "1", "body_asset": map[string]any{"id": "7"}, "country": "NO", "dma": "dma"},
			model.Record{
				"account_id":    "1",
				"body_asset":    map[string]any{"id": "7"},
				"country":       "NO",
				"dma":           "dma",
				"body_asset_id": "7",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTransformer("ads_insights", NewBreakdowns(tt.breakdowns...))
			got, ok := tr.Transform(tt.row, model.Known("1"))
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransform_InjectsAccountID(t *testing.T) {
	tr := NewTransformer("ads_insights", NewBreakdowns())
	row := model.Record{"ad_id": "9"}

	got, ok := tr.Transform(row, model.Known("act_42"))

	require.True(t, ok)
	assert.Equal(t, "act_42", got["account_id"])
	assert.NotContains(t, row, "account_id", "input row must not be modified")

	got, _ = tr.Transform(model.Record{"account_id": "from_row"}, model.Known("act_42"))
	assert.Equal(t, "from_row", got["account_id"])

	got, _ = tr.Transform(model.Record{"ad_id": "9"}, model.LegacyUnscoped())
	assert.NotContains(t, got, "account_id")
}

func TestTransform_DropsRowsWithoutBreakdowns(t *testing.T) {
	tr := NewTransformer("ads_insights", NewBreakdowns("age", "gender"))

	assert.True(t, tr.Valid(model.Record{"age": "0-100", "gender": "male"}))
	assert.False(t, tr.Valid(model.Record{"id": "0000001", "name": "Pipenpodl Absakopalis"}))

	_, ok := tr.Transform(model.Record{"age": "18-24"}, model.Known("1"))
	assert.False(t, ok)
	assert.Equal(t, 1, tr.Dropped())
}

func TestBreakdownCatalogues(t *testing.T) {
	for _, name := range objectBreakdowns {
		assert.True(t, IsValidBreakdown(name), name)
	}
	assert.False(t, IsObjectBreakdown("gender"))
	assert.Equal(t, []string{"video_asset_id", "title_asset_id"},
		NewBreakdowns("video_asset", "age", "title_asset").DerivedFields())
}
