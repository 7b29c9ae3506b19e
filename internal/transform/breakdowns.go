// Package transform turns raw insights rows into output records and derives the
// primary key of a stream from its breakdown dimensions.
package transform

import (
	"slices"
)

// BaseKey is the primary key of every insights stream before breakdowns.
var BaseKey = []string{"date_start", "account_id", "ad_id"}

// objectBreakdowns are dimensions whose value is an object carrying an "id". Rows
// get a flat <name>_id field for them.
var objectBreakdowns = []string{
	"body_asset",
	"call_to_action_asset",
	"description_asset",
	"image_asset",
	"link_url_asset",
	"title_asset",
	"video_asset",
}

// ValidBreakdowns lists the breakdown dimensions the platform accepts.
var ValidBreakdowns = []string{
	"ad_format_asset",
	"age",
	"app_id",
	"body_asset",
	"call_to_action_asset",
	"coarse_conversion_value",
	"country",
	"description_asset",
	"device_platform",
	"dma",
	"fidelity_type",
	"frequency_value",
	"gender",
	"hourly_stats_aggregated_by_advertiser_time_zone",
	"hourly_stats_aggregated_by_audience_time_zone",
	"hsid",
	"image_asset",
	"impression_device",
	"is_conversion_id_modeled",
	"landing_destination",
	"link_url_asset",
	"media_asset_url",
	"media_creator",
	"media_destination_url",
	"media_format",
	"media_origin_url",
	"media_text_content",
	"mmm",
	"place_page_id",
	"platform_position",
	"postback_sequence_index",
	"product_id",
	"publisher_platform",
	"redownload",
	"region",
	"signal_source_bucket",
	"skan_campaign_id",
	"skan_conversion_id",
	"standard_event_content_type",
	"title_asset",
	"user_persona_id",
	"user_persona_name",
	"video_asset",
}

// IsObjectBreakdown reports whether name is an object-valued breakdown.
func IsObjectBreakdown(name string) bool {
	return slices.Contains(objectBreakdowns, name)
}

// IsValidBreakdown reports whether the platform knows the dimension.
func IsValidBreakdown(name string) bool {
	return slices.Contains(ValidBreakdowns, name)
}

// IDField is the derived flat field of an object breakdown.
func IDField(name string) string { return name + "_id" }

// Breakdowns is an ordered, immutable list of breakdown dimensions.
type Breakdowns struct {
	names []string
}

// NewBreakdowns keeps the given order.
func NewBreakdowns(names ...string) Breakdowns {
	return Breakdowns{names: slices.Clone(names)}
}

func (b Breakdowns) Names() []string { return slices.Clone(b.names) }
func (b Breakdowns) Len() int        { return len(b.names) }

// PrimaryKey is BaseKey followed, per breakdown in order, by <b>_id for object
// breakdowns or the breakdown itself.
func (b Breakdowns) PrimaryKey() []string {
	key := slices.Clone(BaseKey)
	for _, name := range b.names {
		if IsObjectBreakdown(name) {
			key = append(key, IDField(name))
			continue
		}
		key = append(key, name)
	}
	return key
}

// DerivedFields are the <b>_id fields added to records, in breakdown order.
func (b Breakdowns) DerivedFields() []string {
	var out []string
	for _, name := range b.names {
		if IsObjectBreakdown(name) {
			out = append(out, IDField(name))
		}
	}
	return out
}
