// Package version holds build metadata injected via ldflags:
//
//	go build -ldflags "-X git.home.luguber.info/inful/insightsync/internal/version.Version=v1.2.0"
package version

import "fmt"

// Version is the release version.
var Version = "dev"

// Build metadata.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String renders the version line printed by --version.
func String() string {
	return fmt.Sprintf("insightsync %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
