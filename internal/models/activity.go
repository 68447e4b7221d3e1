package models

import (
	"time"
)

// State classifies an ActivityEvent.
type State string

const (
	StateActive   State = "active"
	StateInactive State = "inactive"
)

// InteractionLevel grades how engaged the user was during an event.
type InteractionLevel string

const (
	InteractionIdle     InteractionLevel = "idle"
	InteractionPassive  InteractionLevel = "passive"
	InteractionClicking InteractionLevel = "clicking"
	InteractionTyping   InteractionLevel = "typing"
)

// Rank orders levels from least to most engaged.
func (l InteractionLevel) Rank() int {
	switch l {
	case InteractionPassive:
		return 1
	case InteractionClicking:
		return 2
	case InteractionTyping:
		return 3
	}
	return 0
}

// ActivityEvent is one contiguous span of focus on a single window with a
// single idle classification. EndTime is nil while the event is open.
type ActivityEvent struct {
	StartTime        time.Time        `json:"start_time"`
	EndTime          *time.Time       `json:"end_time,omitempty"`
	DurationSeconds  float64          `json:"duration_seconds"`
	AppName          string           `json:"app_name"`
	WindowTitle      string           `json:"window_title"`
	State            State            `json:"state"`
	InteractionLevel InteractionLevel `json:"interaction_level"`
}

// Close sets the end time, clamping it to StartTime, and recomputes the
// duration.
func (e *ActivityEvent) Close(end time.Time) {
	if end.Before(e.StartTime) {
		end = e.StartTime
	}
	e.EndTime = &end
	e.DurationSeconds = end.Sub(e.StartTime).Seconds()
}

// IsClosed reports whether an end time has been set.
func (e *ActivityEvent) IsClosed() bool {
	return e.EndTime != nil
}

// IdleResumption marks the user returning after a significant idle stretch.
type IdleResumption struct {
	ResumedAt   time.Time `json:"resumed_at"`
	IdleSeconds float64   `json:"idle_seconds"`
}
