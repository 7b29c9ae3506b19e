package commands

import (
	"context"

	"git.home.luguber.info/inful/insightsync/internal/checkpoint"
	"git.home.luguber.info/inful/insightsync/internal/config"
	"git.home.luguber.info/inful/insightsync/internal/stream"
)

// loadedStream is a stream restored from the checkpoint store without any
// platform access.
type loadedStream struct {
	insights *stream.Insights
	raw      []byte
}

// loadStreams builds the selected streams and restores their stored state.
func loadStreams(ctx context.Context, cfg *config.Config, names []string) ([]loadedStream, error) {
	defs, err := stream.Definitions(cfg)
	if err != nil {
		return nil, err
	}
	if defs, err = stream.Select(defs, names); err != nil {
		return nil, err
	}

	store, err := checkpoint.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	out := make([]loadedStream, 0, len(defs))
	for _, def := range defs {
		st, err := stream.NewInsights(def, nil, nil)
		if err != nil {
			return nil, err
		}
		raw, err := store.Load(ctx, def.Name)
		if err != nil {
			return nil, err
		}
		st.LoadState(raw)
		out = append(out, loadedStream{insights: st, raw: raw})
	}
	return out, nil
}
