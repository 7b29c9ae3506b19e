package commands

import (
	"context"
	"errors"
	"log/slog"

	"git.home.luguber.info/inful/insightsync/internal/config"
	"git.home.luguber.info/inful/insightsync/internal/eventstore"
	ferrors "git.home.luguber.info/inful/insightsync/internal/foundation/errors"
	"git.home.luguber.info/inful/insightsync/internal/logfields"
	"git.home.luguber.info/inful/insightsync/internal/metrics"
	"git.home.luguber.info/inful/insightsync/internal/natsbus"
	"git.home.luguber.info/inful/insightsync/internal/runner"
)

const historySize = 100

// services holds the long-lived collaborators of a sync service.
type services struct {
	runner     *runner.Service
	projection *eventstore.RunHistoryProjection
	closers    []func() error
}

func (s *services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// openEventStore opens the run event log and rebuilds its history projection.
func openEventStore(ctx context.Context, cfg *config.Config) (*eventstore.SQLiteStore, *eventstore.RunHistoryProjection, error) {
	store, err := eventstore.NewSQLiteStore(cfg.Events.StorePath)
	if err != nil {
		return nil, nil, ferrors.WrapError(err, ferrors.CategoryEventStore, "cannot open event store").
			WithContext("path", cfg.Events.StorePath).
			Build()
	}
	projection := eventstore.NewRunHistoryProjection(store, historySize)
	if err := projection.Rebuild(ctx); err != nil {
		_ = store.Close()
		return nil, nil, ferrors.WrapError(err, ferrors.CategoryEventStore, "cannot read run history").
			WithContext("path", cfg.Events.StorePath).
			Build()
	}
	return store, projection, nil
}

// newServices wires the sync service to the event log, the event bus and rec.
func newServices(ctx context.Context, cfg *config.Config, rec metrics.Recorder) (*services, error) {
	s := &services{}
	opts := []runner.Option{runner.WithRecorder(rec)}

	if cfg.Events.Enabled {
		store, projection, err := openEventStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, store.Close)
		s.projection = projection
		opts = append(opts, runner.WithEventStore(store))
	} else {
		// History of this process only.
		s.projection = eventstore.NewRunHistoryProjection(nil, historySize)
	}
	opts = append(opts, runner.WithProjection(s.projection))

	if cfg.Events.Publish {
		bus, err := natsbus.Connect(cfg.NATS.URL, cfg.Events.SubjectPrefix)
		if err != nil {
			_ = s.Close()
			return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "cannot connect to event bus").
				WithContext("url", cfg.NATS.URL).
				Build()
		}
		if err := bus.EnsureEventStream(ctx); err != nil {
			slog.Warn("Cannot ensure event stream, publishing anyway", logfields.Error(err))
		}
		s.closers = append(s.closers, bus.Close)
		opts = append(opts, runner.WithPublisher(bus))
	}

	s.runner = runner.New(opts...)
	return s, nil
}
