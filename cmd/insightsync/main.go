package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/insightsync/cmd/insightsync/commands"
	ferrors "git.home.luguber.info/inful/insightsync/internal/foundation/errors"
	"git.home.luguber.info/inful/insightsync/internal/version"
)

func main() {
	var cli commands.CLI
	parser := kong.Parse(&cli,
		kong.Name("insightsync"),
		kong.Description("Incremental sync of ad insights reports through asynchronous report jobs."),
		kong.Vars{"version": version.String()},
		kong.Bind(&cli),
		kong.UsageOnError(),
	)

	err := parser.Run(&commands.Global{Out: os.Stdout})
	ferrors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).HandleError(err)
}
