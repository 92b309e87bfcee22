// Package version provides build version information.
package version

import "runtime"

// Populated at build time via ldflags, for example:
//
//	-X github.com/codepulse/leaderboard-server/internal/version.Version=v1.2.3
var (
	// Version is the current version of the server
	Version = "dev"
	// Commit is the git commit the binary was built from
	Commit = "unknown"
	// BuildDate is the date the binary was built
	BuildDate = "unknown"
)

// Info bundles version metadata.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// Get returns the version information for this build.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
}
