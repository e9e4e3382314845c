// Package version reports how the binary was built and derives the build
// version key embedded in asset URLs.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// KeyLength is the number of hex characters in a build version key.
const KeyLength = 10

// Set at build time with -ldflags "-X".
var (
	Version   = "dev"
	GitCommit = "unknown"
	// BuildTime is RFC3339.
	BuildTime = "unknown"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime time.Time `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Platform  string    `json:"platform"`
}

// GetBuildInfo collects the build information.
func GetBuildInfo() *BuildInfo {
	return &BuildInfo{
		Version:   GetVersion(),
		GitCommit: GetGitCommit(),
		BuildTime: parseISOTime(BuildTime),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// GetVersion prefers the linker-set version, then the module version, then
// a dev-<rev> string from VCS stamping.
func GetVersion() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	if rev := vcsSetting("vcs.revision"); len(rev) >= 7 {
		return "dev-" + rev[:7]
	}
	return "dev"
}

// GetGitCommit returns the commit the binary was built from, or "unknown".
func GetGitCommit() string {
	if GitCommit != "" && GitCommit != "unknown" {
		return GitCommit
	}
	if rev := vcsSetting("vcs.revision"); rev != "" {
		return rev
	}
	return "unknown"
}

func vcsSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

// BuildVersionKey hashes the binary version together with seeds (usually
// the project directory and the server start time). Assets are served under
// the key, so a new key busts browser caches.
func BuildVersionKey(seeds ...string) string {
	d := xxhash.New()
	_, _ = d.WriteString(GetVersion())
	_, _ = d.WriteString(GetGitCommit())
	for _, seed := range seeds {
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(seed)
	}
	return fmt.Sprintf("%016x", d.Sum64())[:KeyLength]
}

// KeyLookup computes the build version key once and hands it out.
type KeyLookup struct {
	key string
}

// NewKeyLookup derives the key from seeds.
func NewKeyLookup(seeds ...string) KeyLookup {
	return KeyLookup{key: BuildVersionKey(seeds...)}
}

// BuildVersionKey returns the key.
func (k KeyLookup) BuildVersionKey() string {
	return k.key
}

// GetShortVersion is the one-line version shown in the serve banner.
func GetShortVersion() string {
	v, commit := GetVersion(), GetGitCommit()
	if commit == "unknown" || len(commit) < 7 {
		return v
	}
	if v == "dev" {
		return "dev-" + commit[:7]
	}
	return fmt.Sprintf("%s (%s)", v, commit[:7])
}

// GetDetailedVersion lists every known build field, one per line.
func GetDetailedVersion() string {
	info := GetBuildInfo()

	lines := []string{"Version: " + info.Version}
	if info.GitCommit != "unknown" {
		lines = append(lines, "Commit: "+info.GitCommit)
	}
	if !info.BuildTime.IsZero() {
		lines = append(lines, "Built: "+info.BuildTime.Format(time.RFC3339))
	}
	lines = append(lines, "Go: "+info.GoVersion, "Platform: "+info.Platform)
	return strings.Join(lines, "\n")
}

// IsRelease reports whether the version is a tagged release.
func IsRelease() bool {
	v := GetVersion()
	return v != "dev" && !strings.HasPrefix(v, "dev-")
}

// IsDirty reports whether VCS stamping saw uncommitted changes.
func IsDirty() bool {
	return vcsSetting("vcs.modified") == "true"
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseISOTime returns the zero time for anything it cannot parse.
func parseISOTime(s string) time.Time {
	if s == "" || s == "unknown" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
