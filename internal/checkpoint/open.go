package checkpoint

import (
	"context"

	"git.home.luguber.info/inful/insightsync/internal/config"
	ferrors "git.home.luguber.info/inful/insightsync/internal/foundation/errors"
	"git.home.luguber.info/inful/insightsync/internal/natsbus"
)

// Open returns the store selected by state.backend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.State.Backend {
	case config.StateBackendSQLite:
		s, err := NewSQLiteStore(cfg.State.Path)
		if err != nil {
			return nil, storeError(err, cfg)
		}
		return s, nil
	case config.StateBackendNATS:
		client, err := natsbus.Connect(cfg.NATS.URL, cfg.Events.SubjectPrefix)
		if err != nil {
			return nil, storeError(err, cfg)
		}
		kv, err := client.KeyValue(ctx, cfg.State.Bucket)
		if err != nil {
			_ = client.Close()
			return nil, storeError(err, cfg)
		}
		return NewKVStore(kv, client.Close), nil
	default:
		s, err := NewFileStore(cfg.State.Path)
		if err != nil {
			return nil, storeError(err, cfg)
		}
		return s, nil
	}
}

func storeError(err error, cfg *config.Config) error {
	return ferrors.WrapError(err, ferrors.CategoryState, "cannot open checkpoint store").
		WithContext("backend", string(cfg.State.Backend)).
		WithContext("path", cfg.State.Path).
		Fatal().
		Build()
}
