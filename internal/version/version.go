// Package version provides version information for shelly.
// The Version variable is set at build time via ldflags.
package version

import "strings"

// Version is the current version of shelly.
// Set at build time via: -ldflags "-X github.com/xdg/shelly/internal/version.Version=v1.0.0"
// Defaults to "dev" for development builds.
var Version = "dev"

// IsDev reports whether this is a development build.
func IsDev() bool {
	return strings.Contains(Version, "dev")
}

// String returns the version line printed by --version.
func String() string {
	if IsDev() {
		return "shelly " + Version + " (development build)"
	}
	return "shelly " + Version
}
