// Package version reports build metadata injected with -ldflags, e.g.
//
//	-X licensehub/internal/version.Version=v1.2.0
package version

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	// Version is the release tag, or "dev" for local builds.
	Version = "dev"

	// Commit is the git commit hash.
	Commit = "unknown"

	// BuildDate is the build timestamp.
	BuildDate = "unknown"

	// Dirty is "true" when the tree had uncommitted changes at build time.
	Dirty = ""
)

// Info returns the version string, marked -dirty when applicable.
func Info() string {
	v := Version
	if Dirty == "true" && !strings.HasSuffix(v, "-dirty") {
		v += "-dirty"
	}
	return v
}

// ShortCommit returns the first seven characters of the commit hash.
func ShortCommit() string {
	if len(Commit) > 7 {
		return Commit[:7]
	}
	return Commit
}

// Full returns the version with commit, build date and platform.
func Full() string {
	info := Info()
	if Commit != "" && Commit != "unknown" {
		info += fmt.Sprintf(" (%s)", ShortCommit())
	}
	return fmt.Sprintf("%s built %s %s %s/%s", info, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// BuildInfo is the JSON shape served by the health endpoint.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// Get returns the current build info.
func Get() BuildInfo {
	return BuildInfo{
		Version:   Info(),
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
}
