// Package commands implements the insightsync command line.
package commands

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/insightsync/internal/config"
)

// Global is shared by every subcommand.
type Global struct {
	Out io.Writer
}

func (g *Global) out() io.Writer {
	if g == nil || g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"insightsync.yaml" type:"path"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Sync    SyncCmd    `cmd:"" help:"Run one incremental sync of every enabled stream"`
	Daemon  DaemonCmd  `cmd:"" help:"Sync periodically and serve metrics and run status"`
	Plan    PlanCmd    `cmd:"" help:"Show the intervals the next sync would request"`
	Schema  SchemaCmd  `cmd:"" help:"Print the record schema of each stream"`
	State   StateCmd   `cmd:"" help:"Inspect stored stream state"`
	History HistoryCmd `cmd:"" help:"List recorded sync runs"`
}

// AfterApply runs after flag parsing; sets up logging until the config file
// chooses level and format.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// loadConfig loads the configuration file and applies its logging section.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(newLogHandler(os.Stderr, cfg.Logging, c.Verbose)))
	return cfg, nil
}

// newLogHandler builds the slog handler for the logging section. Verbose forces
// debug level.
func newLogHandler(w io.Writer, lc config.LoggingConfig, verbose bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: lc.Level.SlogLevel()}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	if lc.Format == config.LogFormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
