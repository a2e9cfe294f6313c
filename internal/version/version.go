// Package version exposes build-time version information.
package version

import (
	"fmt"
	"runtime"
)

// Set via -ldflags at build time.
var (
	VersionTag = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
)

// Info bundles version details for display.
type Info struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the current build's version info.
func Get() Info {
	return Info{
		Version:   VersionTag,
		BuildTime: BuildTime,
		Commit:    CommitHash,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

func (i Info) String() string {
	return fmt.Sprintf("roster %s (%s, built %s)", i.Version, i.Commit, i.BuildTime)
}
