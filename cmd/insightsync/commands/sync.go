package commands

import (
	"log/slog"

	"git.home.luguber.info/inful/insightsync/internal/logfields"
	"git.home.luguber.info/inful/insightsync/internal/metrics"
	"git.home.luguber.info/inful/insightsync/internal/runner"
)

// SyncCmd implements the 'sync' command.
type SyncCmd struct {
	Streams []string `short:"s" name:"stream" help:"Only sync the named streams (repeatable)"`
}

func (c *SyncCmd) Run(_ *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	svc, err := newServices(ctx, cfg, metrics.NoopRecorder{})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil {
			slog.Warn("Failed to close services", logfields.Error(cerr))
		}
	}()

	res, err := svc.runner.Run(ctx, runner.Request{Config: cfg, Trigger: runner.TriggerCLI, Streams: c.Streams})
	if res != nil {
		for _, sr := range res.Streams {
			slog.Info("Stream synced",
				logfields.Stream(sr.Name),
				slog.Int("slices", sr.Slices),
				logfields.Records(sr.Records),
				slog.Any("failed_accounts", sr.FailedAccounts))
		}
	}
	return err
}
