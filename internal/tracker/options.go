package tracker

import (
	"time"

	"go.uber.org/zap"

	"github.com/snaptrail/snaptrail/internal/models"
	"github.com/snaptrail/snaptrail/internal/telemetry"
	"github.com/snaptrail/snaptrail/pkg/window"
)

// Submitter accepts periodic screenshot requests without blocking.
type Submitter interface {
	Submit(h window.Handle, ts time.Time, app, title string, idleSeconds float64)
}

// PollAdvisor stretches the wait between ticks when the host is busy or
// the user has been away for a long time.
type PollAdvisor interface {
	PollInterval(idleSeconds float64, base time.Duration) time.Duration
}

// Option configures a Loop.
type Option func(*Loop)

// WithScreenshots enables periodic screenshot requests.
func WithScreenshots(s Submitter) Option {
	return func(l *Loop) { l.shots = s }
}

// WithResumptionSink receives an IdleResumption when the user returns from
// a long enough idle stretch.
func WithResumptionSink(s models.ResumptionSink) Option {
	return func(l *Loop) { l.resumptions = s }
}

// WithInteractionProbe lets the loop grade events as typing or clicking.
func WithInteractionProbe(p window.InteractionProbe) Option {
	return func(l *Loop) { l.interaction = p }
}

// WithPollAdvisor lets the advisor choose each wait. Its answer is clamped to
// MinPollInterval and MaxPollInterval.
func WithPollAdvisor(a PollAdvisor) Option {
	return func(l *Loop) { l.advisor = a }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// WithClock replaces the wall clock, for tests.
func WithClock(c Clock) Option {
	return func(l *Loop) { l.clock = c }
}

// WithTelemetry records tick, probe and event counters on r.
func WithTelemetry(r *telemetry.Recorder) Option {
	return func(l *Loop) { l.metrics = r }
}
