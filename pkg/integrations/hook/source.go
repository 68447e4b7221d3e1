//go:build linux && cgo

// Package hook streams system-wide pointer and keyboard events through
// libuiohook.
package hook

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	gohook "github.com/robotn/gohook"

	"github.com/snaptrail/snaptrail/pkg/window"
)

// libuiohook virtual key codes for Return and keypad Enter.
const (
	vcEnter       = 0x001C
	vcKeypadEnter = 0x0E1C
)

// Source implements window.InputSource. libuiohook supports a single
// process-wide hook, so only one Listen may be active at a time.
type Source struct {
	mu     sync.Mutex
	active bool
}

// NewSource creates an input source backed by the global hook.
func NewSource() *Source {
	return &Source{}
}

// Listen installs the hook and translates its events until ctx is done.
func (s *Source) Listen(ctx context.Context) (<-chan window.InputEvent, error) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil, errors.New("input hook already installed")
	}
	s.active = true
	s.mu.Unlock()

	raw := gohook.Start()
	out := make(chan window.InputEvent, 64)

	go func() {
		defer func() {
			gohook.End()
			close(out)
			s.mu.Lock()
			s.active = false
			s.mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-raw:
				if !ok {
					return
				}
				translated, keep := translate(ev)
				if !keep {
					continue
				}
				select {
				case out <- translated:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// translate maps a libuiohook event onto window.InputEvent. gohook keeps
// libuiohook's numbering, where MouseHold is the press and MouseDown the
// release.
func translate(ev gohook.Event) (window.InputEvent, bool) {
	switch ev.Kind {
	case gohook.MouseHold:
		return window.InputEvent{Kind: window.ButtonDown, Button: int(ev.Button), X: int(ev.X), Y: int(ev.Y)}, true
	case gohook.MouseDown:
		return window.InputEvent{Kind: window.ButtonUp, Button: int(ev.Button), X: int(ev.X), Y: int(ev.Y)}, true
	case gohook.MouseMove, gohook.MouseDrag:
		return window.InputEvent{Kind: window.PointerMove, X: int(ev.X), Y: int(ev.Y)}, true
	case gohook.KeyHold:
		key := window.KeyOther
		if ev.Keycode == vcEnter || ev.Keycode == vcKeypadEnter {
			key = window.KeyEnter
		}
		return window.InputEvent{Kind: window.KeyDown, Key: key}, true
	}
	return window.InputEvent{}, false
}
