//go:build !linux

package detector

import (
	"github.com/snaptrail/snaptrail/pkg/integrations/null"
	"github.com/snaptrail/snaptrail/pkg/window"
)

// New returns the null platform; only X11 is integrated.
func New() (window.Platform, error) {
	return null.New(), nil
}
