package commands

import (
	"log/slog"

	"git.home.luguber.info/inful/insightsync/internal/daemon"
	"git.home.luguber.info/inful/insightsync/internal/logfields"
	"git.home.luguber.info/inful/insightsync/internal/metrics"
)

// DaemonCmd implements the 'daemon' command.
type DaemonCmd struct{}

func (d *DaemonCmd) Run(_ *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	reg := metrics.NewRegistry()
	svc, err := newServices(ctx, cfg, metrics.NewPrometheusRecorder(reg))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil {
			slog.Warn("Failed to close services", logfields.Error(cerr))
		}
	}()

	dm, err := daemon.New(cfg, root.Config, svc.runner,
		daemon.WithRegistry(reg),
		daemon.WithProjection(svc.projection))
	if err != nil {
		return err
	}

	slog.Info("Starting daemon mode", slog.String("config", root.Config))
	return dm.Run(ctx)
}
