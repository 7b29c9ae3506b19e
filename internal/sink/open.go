package sink

import (
	"context"

	"git.home.luguber.info/inful/insightsync/internal/config"
)

// Open builds the sink selected by cfg.
func Open(ctx context.Context, cfg config.OutputConfig) (Sink, error) {
	switch cfg.Format {
	case config.OutputPostgres:
		return OpenPostgres(ctx, cfg.PostgresDSN, cfg.TablePrefix)
	default:
		return OpenJSONLines(cfg.Path)
	}
}
