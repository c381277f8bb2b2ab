// Package version holds the build version of modelreg.
package version

import "runtime"

// Overridden at build time:
// go build -ldflags "-X modelreg/internal/version.Version=1.0.0 -X modelreg/internal/version.Commit=abc123"
var (
	Version   = "0.3.0"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Info returns the version with the short commit when known.
func Info() string {
	if Commit != "unknown" && len(Commit) > 7 {
		return Version + " (" + Commit[:7] + ")"
	}
	return Version
}

// Full returns complete version information
func Full() string {
	return "modelreg version " + Version + "\n" +
		"Commit: " + Commit + "\n" +
		"Built: " + BuildDate + "\n" +
		"Go: " + runtime.Version()
}
