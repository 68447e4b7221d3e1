//go:build linux

package detector

import (
	"github.com/pkg/errors"

	"github.com/snaptrail/snaptrail/pkg/integrations/null"
	"github.com/snaptrail/snaptrail/pkg/integrations/x11"
	"github.com/snaptrail/snaptrail/pkg/window"
)

// New returns the X11 platform when a display is reachable. Pure Wayland
// sessions get the null platform so the daemon still runs and records
// Inactive ticks.
func New() (window.Platform, error) {
	switch DetectDisplayServer() {
	case "x11", "xwayland":
		d, err := x11.NewDetector()
		if err != nil {
			return nil, errors.Wrap(err, "x11 platform unavailable")
		}
		return d, nil
	default:
		return null.New(), nil
	}
}
