// Package version reports build information.
package version

// Version, GitCommit, and BuildDate are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/vlanhop/vlanhop/pkg/version.Version=v0.3.0 \
//	  -X github.com/vlanhop/vlanhop/pkg/version.GitCommit=abc1234 \
//	  -X github.com/vlanhop/vlanhop/pkg/version.BuildDate=2026-01-01T00:00:00Z" ./cmd/vlanhop
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns a formatted version string for display.
func Info() string {
	return Version + " (" + GitCommit + ") built " + BuildDate
}

// Fields returns the build information for structured output.
func Fields() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_date": BuildDate,
	}
}
