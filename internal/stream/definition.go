package stream

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"git.home.luguber.info/inful/insightsync/internal/asyncjob"
	"git.home.luguber.info/inful/insightsync/internal/config"
	ferrors "git.home.luguber.info/inful/insightsync/internal/foundation/errors"
	"git.home.luguber.info/inful/insightsync/internal/model"
	"git.home.luguber.info/inful/insightsync/internal/planner"
)

// EffectiveStatusField is the filter field used for filter_statuses.
const EffectiveStatusField = "ad.effective_status"

// Definition is the resolved configuration of one insights stream.
type Definition struct {
	Name             string
	Accounts         []model.Account
	Window           planner.Window
	Fields           []string // empty selects every schema field
	Breakdowns       []string
	ActionBreakdowns []string
	Level            string
	FilterStatuses   []string
	Job              asyncjob.Options
	FailFast         bool
}

// Definitions resolves the enabled streams of cfg: the default insights stream
// followed by custom_insights entries in file order.
func Definitions(cfg *config.Config) ([]Definition, error) {
	accounts := make([]model.Account, 0, len(cfg.AccountIDs))
	for _, id := range cfg.AccountIDs {
		accounts = append(accounts, model.Known(id))
	}

	var defs []Definition
	specs := append([]config.StreamConfig{cfg.AdsInsights}, cfg.CustomInsights...)
	for i, sc := range specs {
		if !sc.IsEnabled() {
			continue
		}
		def, err := definition(cfg, sc, accounts)
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "invalid stream configuration").
				WithContext("stream_index", i).
				WithContext("stream", sc.Name).
				Build()
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func definition(cfg *config.Config, sc config.StreamConfig, accounts []model.Account) (Definition, error) {
	startRaw := cmp.Or(sc.StartDate, cfg.StartDate)
	start, err := model.ParseDate(startRaw)
	if err != nil {
		return Definition{}, fmt.Errorf("start_date: %w", err)
	}
	var end model.Date
	if endRaw := cmp.Or(sc.EndDate, cfg.EndDate); endRaw != "" {
		if end, err = model.ParseDate(endRaw); err != nil {
			return Definition{}, fmt.Errorf("end_date: %w", err)
		}
	}
	lookback := cfg.Lookback()
	if sc.LookbackWindow != nil {
		lookback = *sc.LookbackWindow
	}
	increment := cfg.TimeIncrement
	if sc.TimeIncrement > 0 {
		increment = sc.TimeIncrement
	}

	return Definition{
		Name:     SnakeCase(cmp.Or(sc.Name, config.DefaultStreamName)),
		Accounts: slices.Clone(accounts),
		Window: planner.Window{
			StartDate:       start,
			EndDate:         end,
			LookbackDays:    lookback,
			RetentionMonths: cfg.RetentionMonths,
			TimeIncrement:   increment,
		},
		Fields:           slices.Clone(sc.Fields),
		Breakdowns:       slices.Clone(sc.Breakdowns),
		ActionBreakdowns: slices.Clone(sc.ActionBreakdowns),
		Level:            cmp.Or(sc.Level, string(config.LevelAd)),
		FilterStatuses:   slices.Clone(sc.FilterStatuses),
		Job: asyncjob.Options{
			Timeout: cfg.Jobs.JobTimeoutDuration(),
			Split:   asyncjob.SplitStrategy(cfg.Jobs.SplitStrategy),
		},
		FailFast: cfg.Sync.FailFast,
	}, nil
}

// SnakeCase converts a display name such as "CustomName" or "My Report" into a
// stream name ("custom_name", "my_report").
func SnakeCase(name string) string {
	runes := []rune(strings.TrimSpace(name))
	var b strings.Builder
	for i, r := range runes {
		switch {
		case r == ' ' || r == '-' || r == '.':
			r = '_'
		case unicode.IsUpper(r):
			if i > 0 && runes[i-1] != '_' && !isSeparator(runes[i-1]) &&
				(unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
					(i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		if r == '_' && strings.HasSuffix(b.String(), "_") {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Trim(b.String(), "_")
}

func isSeparator(r rune) bool { return r == ' ' || r == '-' || r == '.' }

// Select keeps the definitions whose name is listed. Empty names keeps all.
func Select(defs []Definition, names []string) ([]Definition, error) {
	if len(names) == 0 {
		return defs, nil
	}
	defs = slices.DeleteFunc(defs, func(d Definition) bool { return !slices.Contains(names, d.Name) })
	if len(defs) == 0 {
		return nil, ferrors.ValidationError("no enabled stream matches the requested names").
			WithContext("streams", names).
			Build()
	}
	return defs, nil
}
