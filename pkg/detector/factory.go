// Package detector picks the window.Platform for the running session.
package detector

import (
	"os"
)

// DetectDisplayServer inspects the session environment. Wayland sessions
// that still export DISPLAY are reported as "xwayland".
func DetectDisplayServer() string {
	sessionType := os.Getenv("XDG_SESSION_TYPE")
	waylandDisplay := os.Getenv("WAYLAND_DISPLAY")
	x11Display := os.Getenv("DISPLAY")

	if sessionType == "wayland" || waylandDisplay != "" {
		if x11Display != "" {
			return "xwayland"
		}
		return "wayland"
	}

	if sessionType == "x11" || x11Display != "" {
		return "x11"
	}

	return "unknown"
}
