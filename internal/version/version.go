// Package version carries build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/MeKo-Tech/vidocr/internal/version.Version=v1.2.0"
package version

import "fmt"

// Build-time variables set by ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns version information
func Info() (string, string, string) {
	return Version, GitCommit, BuildDate
}

// Short returns the version alone.
func Short() string { return Version }

// String renders all build metadata on one line.
func String() string {
	return fmt.Sprintf("vidocr %s (commit %s, built %s)", Version, GitCommit, BuildDate)
}
