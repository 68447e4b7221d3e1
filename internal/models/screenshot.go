package models

import (
	"context"
	"time"
)

// Action names a discrete user action that triggers an immediate capture.
type Action string

const (
	ActionClick Action = "click"
	ActionDrag  Action = "drag"
	ActionDrop  Action = "drop"
	ActionEnter Action = "enter"
	ActionFocus Action = "focus"
)

// ScreenshotRecord describes one persisted screenshot. FilePath always
// refers to an image in sync with the record. Action screenshots carry an
// empty Hash.
type ScreenshotRecord struct {
	CapturedAt  time.Time `json:"captured_at"`
	FilePath    string    `json:"file_path"`
	AppName     string    `json:"app_name"`
	WindowTitle string    `json:"window_title"`
	Hash        string    `json:"hash,omitempty"`
	Action      Action    `json:"action,omitempty"`
}

// ScreenshotSink receives metadata for each newly persisted screenshot.
type ScreenshotSink interface {
	SaveScreenshot(ctx context.Context, rec ScreenshotRecord) error
}

// EventSink receives closed activity events.
type EventSink interface {
	SaveEvent(ctx context.Context, ev ActivityEvent) error
}

// ResumptionSink receives idle resumptions.
type ResumptionSink interface {
	SaveResumption(ctx context.Context, r IdleResumption) error
}
