package version

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/yaklabco/hotreload/pkg/ui"
)

// Version is the CLI version, set at release time via:
//
//	-ldflags "-X github.com/yaklabco/hotreload/cmd/hotreload/version.Version=v0.0.0"
//
// When left as "dev" the version is taken from Go build info.
var Version = "dev" //nolint:gochecknoglobals // Populated by goreleaser ldflags.

// Commit is the git commit hash, set via -ldflags like Version.
var Commit = "" //nolint:gochecknoglobals // Populated by goreleaser ldflags.

// BuildDate is the RFC3339 build timestamp, set via -ldflags like Version.
var BuildDate = "" //nolint:gochecknoglobals // Populated by goreleaser ldflags.

// buildSetting returns a vcs.* setting from the embedded build info.
func buildSetting(key string) string {
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}

// EffectiveVersion returns the best-effort version string for the binary:
// the ldflags Version, then the module version from `go install`, then the
// vcs revision (with "-dirty" for modified trees), and finally "dev".
func EffectiveVersion(_ context.Context) string {
	if v := strings.TrimSpace(Version); v != "" && v != "dev" {
		return v
	}

	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		// Builds from source report "(devel)".
		if mv := strings.TrimSpace(bi.Main.Version); mv != "" && mv != "(devel)" {
			return mv
		}
	}
	if rev := buildSetting("vcs.revision"); rev != "" {
		if buildSetting("vcs.modified") == "true" {
			rev += "-dirty"
		}
		return rev
	}

	return "dev"
}

// EffectiveCommit returns Commit, or the vcs revision from build info.
func EffectiveCommit(_ context.Context) string {
	if c := strings.TrimSpace(Commit); c != "" {
		return c
	}
	return buildSetting("vcs.revision")
}

// EffectiveBuildTime returns the build time, from BuildDate or the vcs
// commit time.
func EffectiveBuildTime() (time.Time, bool) {
	for _, raw := range []string{strings.TrimSpace(BuildDate), buildSetting("vcs.time")} {
		if raw == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// OverallVersionString renders version, commit and build time joined by "-".
func OverallVersionString(ctx context.Context) string {
	return strings.Join(versionParts(ctx), "-")
}

// OverallVersionStringColorized renders a version line with fang-consistent colors.
func OverallVersionStringColorized(ctx context.Context) string {
	cs := ui.GetFangScheme()
	styles := []lipgloss.Style{
		lipgloss.NewStyle().Foreground(cs.QuotedString),
		lipgloss.NewStyle().Foreground(cs.Program),
		lipgloss.NewStyle().Foreground(cs.Flag),
	}
	sepStyle := lipgloss.NewStyle().Foreground(cs.Base)

	parts := versionParts(ctx)
	for i := range parts {
		parts[i] = styles[min(i, len(styles)-1)].Render(parts[i])
	}
	return strings.Join(parts, sepStyle.Render("-"))
}

func versionParts(ctx context.Context) []string {
	parts := []string{EffectiveVersion(ctx)}
	if c := EffectiveCommit(ctx); c != "" {
		parts = append(parts, c)
	}
	if t, ok := EffectiveBuildTime(); ok {
		parts = append(parts, t.In(time.Local).Format(time.RFC3339))
	}
	return parts
}
