package window

import (
	"context"
	"image"

	"github.com/pkg/errors"
)

// Handle identifies a top-level window on the display server.
// Zero means "no window".
type Handle uint64

// Rect is a window rectangle in screen coordinates.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Right returns the x coordinate one past the right edge.
func (r Rect) Right() int { return r.X + r.Width }

// Bottom returns the y coordinate one past the bottom edge.
func (r Rect) Bottom() int { return r.Y + r.Height }

// WindowInfo represents information about a window
type WindowInfo struct {
	Handle        Handle
	AppName       string
	WindowTitle   string
	ProcessName   string
	PID           int32
	Bounds        Rect
	Visible       bool
	Minimized     bool
	DisplayServer string // "x11" or "none"
}

var (
	ErrNoForegroundWindow = errors.New("no foreground window")
	ErrInvalidWindow      = errors.New("window handle is no longer valid")
	ErrMinimized          = errors.New("window is minimized or hidden")
	ErrOffScreen          = errors.New("window is off-screen")
	ErrOversized          = errors.New("window exceeds capture size bound")
	ErrUnsupported        = errors.New("platform not supported")
)

// MaxCaptureSide is the sanity bound, in pixels, for either side of a
// captured window.
const MaxCaptureSide = 10000

// WindowProbe answers which window has focus and describes windows.
type WindowProbe interface {
	// Foreground returns the handle of the window that currently has focus.
	Foreground() (Handle, error)

	// Describe returns owner, title, rectangle and visibility of h.
	Describe(h Handle) (*WindowInfo, error)
}

// IdleProbe reports seconds since the last system-wide input.
type IdleProbe interface {
	IdleSeconds() (float64, error)
}

// InteractionProbe samples whether any key or pointer button is held right now.
type InteractionProbe interface {
	KeyboardActive() bool
	PointerActive() bool
}

// Capturer grabs the pixels of a single window.
type Capturer interface {
	// Capture returns the bitmap of h, or one of ErrInvalidWindow,
	// ErrMinimized, ErrOffScreen, ErrOversized.
	Capture(h Handle) (image.Image, error)
}

// InputKind classifies a system-wide input event.
type InputKind int

const (
	ButtonDown InputKind = iota + 1
	ButtonUp
	PointerMove
	KeyDown
)

// Key codes normalized by InputSource implementations.
const (
	KeyOther = iota
	KeyEnter
)

// InputEvent is one system-wide pointer or keyboard event.
type InputEvent struct {
	Kind   InputKind
	Button int
	X      int
	Y      int
	Key    int
}

// InputSource streams system-wide pointer and key events. The channel is
// closed when ctx is done or the hook is removed.
type InputSource interface {
	Listen(ctx context.Context) (<-chan InputEvent, error)
}

// Platform bundles every probe a display server implementation offers.
type Platform interface {
	WindowProbe
	IdleProbe
	InteractionProbe
	Capturer

	// IsAvailable checks if this platform can run on the current system
	IsAvailable() bool

	// GetDisplayServer returns the display server type
	GetDisplayServer() string

	// Close cleans up any resources used by the platform
	Close() error
}

// ValidateBounds applies the capture validity checks shared by every
// Capturer: positive size, on-screen, within MaxCaptureSide.
func ValidateBounds(r Rect) error {
	if r.Width <= 0 || r.Height <= 0 {
		return errors.Wrapf(ErrInvalidWindow, "dimensions %dx%d", r.Width, r.Height)
	}
	if r.Width > MaxCaptureSide || r.Height > MaxCaptureSide {
		return errors.Wrapf(ErrOversized, "dimensions %dx%d", r.Width, r.Height)
	}
	if r.Right() < 0 || r.Bottom() < 0 {
		return errors.Wrapf(ErrOffScreen, "bottom-right at %d,%d", r.Right(), r.Bottom())
	}
	return nil
}

// IsCaptureMiss reports whether err is an expected capture rejection rather
// than a failure worth escalating.
func IsCaptureMiss(err error) bool {
	return errors.Is(err, ErrInvalidWindow) ||
		errors.Is(err, ErrMinimized) ||
		errors.Is(err, ErrOffScreen) ||
		errors.Is(err, ErrOversized) ||
		errors.Is(err, ErrNoForegroundWindow)
}
