package action

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/snaptrail/snaptrail/internal/models"
	"github.com/snaptrail/snaptrail/pkg/window"
)

type dragPhase int

const (
	phaseIdle dragPhase = iota
	phaseButtonDown
	phaseDragging
)

// gesture is the drag state machine. It is touched only by the dispatch
// goroutine.
type gesture struct {
	phase  dragPhase
	button int
	startX int
	startY int
}

// next advances the machine with ev and returns the action it completes,
// if any.
func (g *gesture) next(ev window.InputEvent, threshold int) (models.Action, bool) {
	switch ev.Kind {
	case window.ButtonDown:
		if g.phase == phaseIdle {
			*g = gesture{phase: phaseButtonDown, button: ev.Button, startX: ev.X, startY: ev.Y}
		}
	case window.PointerMove:
		if g.phase == phaseButtonDown &&
			(abs(ev.X-g.startX) > threshold || abs(ev.Y-g.startY) > threshold) {
			g.phase = phaseDragging
			return models.ActionDrag, true
		}
	case window.ButtonUp:
		if g.phase == phaseIdle || ev.Button != g.button {
			return "", false
		}
		dragging := g.phase == phaseDragging
		*g = gesture{}
		if dragging {
			return models.ActionDrop, true
		}
		return models.ActionClick, true
	case window.KeyDown:
		if ev.Key == window.KeyEnter {
			return models.ActionEnter, true
		}
	}
	return "", false
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// dispatch feeds input events through the drag machine and triggers a
// capture of the current foreground window for every completed action.
func (w *Worker) dispatch(ctx context.Context, events <-chan window.InputEvent) {
	defer w.loops.Done()
	jobs := w.jobs
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			action, fire := w.drag.next(ev, w.cfg.DragThreshold)
			if !fire {
				continue
			}
			w.trigger(jobs, action, w.probe.Foreground)
		}
	}
}

// pollFocus samples the foreground handle every FocusPollInterval. The
// first sample is a baseline; every later change triggers a capture of the
// newly focused window.
func (w *Worker) pollFocus(ctx context.Context) {
	defer w.loops.Done()
	jobs := w.jobs
	ticker := time.NewTicker(w.cfg.FocusPollInterval)
	defer ticker.Stop()

	var last window.Handle
	for {
		h, err := w.probe.Foreground()
		if err != nil {
			w.logger.Debug("focus poll failed", zap.Error(err))
		} else if h != 0 && h != last {
			if last != 0 {
				current := h
				w.trigger(jobs, models.ActionFocus, func() (window.Handle, error) { return current, nil })
			}
			last = h
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
