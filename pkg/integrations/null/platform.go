// Package null is the platform used where no display server integration
// exists. Every probe reports window.ErrUnsupported, which the tracker and
// workers treat as a transient miss.
package null

import (
	"image"

	"github.com/snaptrail/snaptrail/pkg/window"
)

type Platform struct{}

func New() *Platform { return &Platform{} }

func (Platform) Foreground() (window.Handle, error) { return 0, window.ErrUnsupported }

func (Platform) Describe(window.Handle) (*window.WindowInfo, error) {
	return nil, window.ErrUnsupported
}

func (Platform) IdleSeconds() (float64, error) { return 0, window.ErrUnsupported }

func (Platform) KeyboardActive() bool { return false }

func (Platform) PointerActive() bool { return false }

func (Platform) Capture(window.Handle) (image.Image, error) { return nil, window.ErrUnsupported }

func (Platform) IsAvailable() bool { return false }

func (Platform) GetDisplayServer() string { return "none" }

func (Platform) Close() error { return nil }
