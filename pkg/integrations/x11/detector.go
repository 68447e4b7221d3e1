package x11

import (
	"encoding/binary"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/screensaver"
	"github.com/jezek/xgb/xproto"
	"github.com/kbinani/screenshot"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/process"

	"github.com/snaptrail/snaptrail/pkg/window"
)

const displayServer = "x11"

var atomNames = []string{
	"_NET_ACTIVE_WINDOW",
	"_NET_WM_NAME",
	"_NET_WM_PID",
	"_NET_WM_STATE",
	"_NET_WM_STATE_HIDDEN",
	"WM_NAME",
	"WM_CLASS",
	"UTF8_STRING",
}

// Detector implements window.Platform for X11
type Detector struct {
	conn  *xgb.Conn
	root  xproto.Window
	atoms map[string]xproto.Atom

	hasScreenSaver bool

	closeOnce sync.Once
}

// NewDetector connects to the X server named by $DISPLAY.
func NewDetector() (*Detector, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to X server")
	}

	setup := xproto.Setup(conn)
	d := &Detector{
		conn:  conn,
		root:  setup.DefaultScreen(conn).Root,
		atoms: make(map[string]xproto.Atom, len(atomNames)),
	}

	for _, name := range atomNames {
		reply, err := xproto.InternAtom(conn, false, uint16(len(name)), name).Reply()
		if err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "failed to intern atom %s", name)
		}
		d.atoms[name] = reply.Atom
	}

	// MIT-SCREEN-SAVER is optional; without it idle time reads as zero.
	d.hasScreenSaver = screensaver.Init(conn) == nil

	return d, nil
}

// IsAvailable checks if X11 detection is available
func (d *Detector) IsAvailable() bool {
	return d.conn != nil
}

// GetDisplayServer returns "x11"
func (d *Detector) GetDisplayServer() string {
	return displayServer
}

// Foreground returns the focused top-level window.
func (d *Detector) Foreground() (window.Handle, error) {
	for i := 0; i < 3; i++ {
		if w := d.activeFromProperty(); w != 0 && d.hasValidName(w) {
			return window.Handle(w), nil
		}

		if w := d.activeFromInputFocus(); w != 0 && w != d.root {
			if top := d.topLevelParent(w); top != 0 && d.hasValidName(top) {
				return window.Handle(top), nil
			}
		}

		time.Sleep(20 * time.Millisecond)
	}

	return 0, window.ErrNoForegroundWindow
}

// Describe returns owner, title, geometry and visibility of h.
func (d *Detector) Describe(h window.Handle) (*window.WindowInfo, error) {
	w := xproto.Window(h)
	if w == 0 {
		return nil, window.ErrNoForegroundWindow
	}

	attrs, err := xproto.GetWindowAttributes(d.conn, w).Reply()
	if err != nil {
		return nil, errors.Wrapf(window.ErrInvalidWindow, "window 0x%x: %v", uint32(w), err)
	}

	bounds, err := d.bounds(w)
	if err != nil {
		return nil, err
	}

	info := &window.WindowInfo{
		Handle:        h,
		WindowTitle:   d.windowName(w),
		Bounds:        bounds,
		Visible:       attrs.MapState == xproto.MapStateViewable,
		Minimized:     d.isHidden(w),
		DisplayServer: displayServer,
	}

	_, class := parseWMClass(d.property(w, d.atoms["WM_CLASS"], xproto.AtomString, 256))
	info.PID = int32(d.windowPID(w))
	if info.PID > 0 {
		if p, err := process.NewProcess(info.PID); err == nil {
			if name, err := p.Name(); err == nil {
				info.ProcessName = name
			}
		}
	}

	info.AppName = info.ProcessName
	if info.AppName == "" {
		info.AppName = class
	}
	if info.AppName == "" {
		info.AppName = "Unknown"
	}

	return info, nil
}

// Capture grabs the on-screen pixels of h.
func (d *Detector) Capture(h window.Handle) (image.Image, error) {
	info, err := d.Describe(h)
	if err != nil {
		return nil, err
	}
	if !info.Visible || info.Minimized {
		return nil, errors.Wrapf(window.ErrMinimized, "window 0x%x", uint64(h))
	}
	if err := window.ValidateBounds(info.Bounds); err != nil {
		return nil, err
	}

	b := info.Bounds
	img, err := screenshot.CaptureRect(image.Rect(b.X, b.Y, b.Right(), b.Bottom()))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to capture window 0x%x", uint64(h))
	}
	return img, nil
}

// IdleSeconds returns seconds since the last keyboard or pointer input.
func (d *Detector) IdleSeconds() (float64, error) {
	if !d.hasScreenSaver {
		return 0, nil
	}

	reply, err := screensaver.QueryInfo(d.conn, xproto.Drawable(d.root)).Reply()
	if err != nil {
		return 0, errors.Wrap(err, "failed to query screensaver info")
	}

	return float64(reply.MsSinceUserInput) / 1000, nil
}

// KeyboardActive reports whether any key is held down right now.
func (d *Detector) KeyboardActive() bool {
	reply, err := xproto.QueryKeymap(d.conn).Reply()
	if err != nil {
		return false
	}
	return keymapActive(reply.Keys)
}

// PointerActive reports whether a pointer button is held down right now.
func (d *Detector) PointerActive() bool {
	reply, err := xproto.QueryPointer(d.conn, d.root).Reply()
	if err != nil {
		return false
	}
	return buttonsHeld(reply.Mask)
}

// Close cleans up resources
func (d *Detector) Close() error {
	d.closeOnce.Do(func() {
		if d.conn != nil {
			d.conn.Close()
		}
	})
	return nil
}

func (d *Detector) property(w xproto.Window, atom, atomType xproto.Atom, length uint32) []byte {
	reply, err := xproto.GetProperty(d.conn, false, w, atom, atomType, 0, length).Reply()
	if err != nil {
		return nil
	}
	return reply.Value
}

func (d *Detector) activeFromProperty() xproto.Window {
	data := d.property(d.root, d.atoms["_NET_ACTIVE_WINDOW"], xproto.AtomWindow, 1)
	if len(data) < 4 {
		return 0
	}
	return xproto.Window(binary.LittleEndian.Uint32(data))
}

func (d *Detector) activeFromInputFocus() xproto.Window {
	reply, err := xproto.GetInputFocus(d.conn).Reply()
	if err != nil {
		return 0
	}
	return reply.Focus
}

func (d *Detector) topLevelParent(w xproto.Window) xproto.Window {
	for {
		reply, err := xproto.QueryTree(d.conn, w).Reply()
		if err != nil || reply.Parent == d.root || reply.Parent == 0 {
			return w
		}
		w = reply.Parent
	}
}

func (d *Detector) hasValidName(w xproto.Window) bool {
	if len(d.property(w, d.atoms["_NET_WM_NAME"], d.atoms["UTF8_STRING"], 1)) > 0 {
		return true
	}
	return len(d.property(w, d.atoms["WM_NAME"], xproto.AtomString, 1)) > 0
}

func (d *Detector) windowName(w xproto.Window) string {
	if data := d.property(w, d.atoms["_NET_WM_NAME"], d.atoms["UTF8_STRING"], 256); len(data) > 0 {
		return strings.TrimRight(string(data), "\x00")
	}
	if data := d.property(w, d.atoms["WM_NAME"], xproto.AtomString, 256); len(data) > 0 {
		return strings.TrimRight(string(data), "\x00")
	}
	return ""
}

func (d *Detector) windowPID(w xproto.Window) uint32 {
	data := d.property(w, d.atoms["_NET_WM_PID"], xproto.AtomCardinal, 1)
	if len(data) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(data)
}

func (d *Detector) isHidden(w xproto.Window) bool {
	states := decodeAtoms(d.property(w, d.atoms["_NET_WM_STATE"], xproto.AtomAtom, 32))
	hidden := d.atoms["_NET_WM_STATE_HIDDEN"]
	for _, s := range states {
		if s == hidden {
			return true
		}
	}
	return false
}

// bounds returns the window rectangle in root coordinates. Reparenting
// window managers report geometry relative to the frame, hence the
// translation.
func (d *Detector) bounds(w xproto.Window) (window.Rect, error) {
	geom, err := xproto.GetGeometry(d.conn, xproto.Drawable(w)).Reply()
	if err != nil {
		return window.Rect{}, errors.Wrapf(window.ErrInvalidWindow, "geometry of 0x%x: %v", uint32(w), err)
	}

	pos, err := xproto.TranslateCoordinates(d.conn, w, d.root, 0, 0).Reply()
	if err != nil {
		return window.Rect{}, errors.Wrapf(window.ErrInvalidWindow, "translate 0x%x: %v", uint32(w), err)
	}

	return window.Rect{
		X:      int(pos.DstX),
		Y:      int(pos.DstY),
		Width:  int(geom.Width),
		Height: int(geom.Height),
	}, nil
}

// parseWMClass splits the NUL-separated WM_CLASS property into instance
// and class names.
func parseWMClass(data []byte) (instance, class string) {
	parts := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	if len(parts) >= 1 {
		instance = parts[0]
	}
	if len(parts) >= 2 {
		class = parts[1]
	}
	return instance, class
}

func decodeAtoms(data []byte) []xproto.Atom {
	atoms := make([]xproto.Atom, 0, len(data)/4)
	for i := 0; i+4 <= len(data); i += 4 {
		atoms = append(atoms, xproto.Atom(binary.LittleEndian.Uint32(data[i:])))
	}
	return atoms
}

func keymapActive(keys []byte) bool {
	for _, b := range keys {
		if b != 0 {
			return true
		}
	}
	return false
}

func buttonsHeld(mask uint16) bool {
	return mask&(xproto.KeyButMaskButton1|xproto.KeyButMaskButton2|xproto.KeyButMaskButton3) != 0
}
