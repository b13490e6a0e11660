// Package version holds build metadata injected at link time.
package version

import "fmt"

// Populated via -ldflags "-X gopilot/internal/version.Version=... etc."
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a single-line human-readable version string.
func Info() string {
	return fmt.Sprintf("gopilot %s (commit %s, built %s)", Version, Commit, Date)
}
