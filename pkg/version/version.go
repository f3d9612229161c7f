// Package version holds build information for chatagent, injected at link time.
package version

import "fmt"

// Example: go build -ldflags "-X chatagent/pkg/version.Version=v1.2.3".
//
//nolint:gochecknoglobals // These must be package-level vars for ldflags injection.
var (
	// Version is the semantic version, "dev" for local builds.
	Version = "dev"

	// Commit is the git commit SHA of the build.
	Commit = "none"

	// Date is the build date in ISO format.
	Date = "unknown"
)

// String formats the build information on one line.
func String() string {
	return fmt.Sprintf("chatagent %s (commit %s, built %s)", Version, Commit, Date)
}
