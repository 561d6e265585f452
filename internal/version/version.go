// Package version provides build information for the revsync binaries.
// Release builds stamp it with ldflags:
//
//	go build -ldflags "-X github.com/jmylchreest/revsync-api/internal/version.Version=1.0.0 ..."
//
// Builds without ldflags fall back to the VCS stamp the Go toolchain embeds.
package version

import (
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
)

// Build-time variables set via ldflags
var (
	Version = "0.0.0-dev"
	Commit  = "unknown"
	Date    = "unknown" // RFC3339
	Dirty   = "false"
)

// Info holds all version information
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Dirty     bool   `json:"dirty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the version info.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		Dirty:     Dirty == "true",
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if info.Commit == "unknown" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			fillFromVCS(&info, bi.Settings)
		}
	}
	return info
}

// fillFromVCS copies the vcs.* build settings into info.
func fillFromVCS(info *Info, settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if len(s.Value) > 12 {
				info.Commit = s.Value[:12]
			} else if s.Value != "" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if s.Value != "" {
				info.Date = s.Value
			}
		case "vcs.modified":
			info.Dirty = info.Dirty || s.Value == "true"
		}
	}
}

// String returns a human-readable version string
func (i Info) String() string {
	dirty := ""
	if i.Dirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s) built %s", i.Version, i.Commit, dirty, i.Date)
}

// Short returns the version with a -dirty suffix when applicable.
func (i Info) Short() string {
	if i.Dirty {
		return i.Version + "-dirty"
	}
	return i.Version
}

// UserAgent is sent on outbound platform API requests.
func (i Info) UserAgent() string {
	return "revsync/" + i.Short()
}

// LogValue groups the build fields under one log attribute.
func (i Info) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("version", i.Short()),
		slog.String("commit", i.Commit),
		slog.String("built", i.Date),
		slog.String("go_version", i.GoVersion),
		slog.String("platform", i.Platform),
	)
}
