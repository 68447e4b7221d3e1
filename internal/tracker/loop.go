// Package tracker turns periodic window and idle samples into a gap-free
// sequence of activity events.
package tracker

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/snaptrail/snaptrail/internal/config"
	"github.com/snaptrail/snaptrail/internal/models"
	"github.com/snaptrail/snaptrail/internal/telemetry"
	"github.com/snaptrail/snaptrail/pkg/window"
)

const (
	// interactionWindow is how long a held key or button keeps an event
	// graded as typing or clicking.
	interactionWindow = 5 * time.Second

	// resumptionCooldown is the minimum spacing between two reported
	// idle resumptions.
	resumptionCooldown = 60 * time.Second
)

// ErrProbeUnavailable ends a run when the loop has no window or idle probe.
var ErrProbeUnavailable = errors.New("window or idle probe unavailable")

// Stats is a snapshot of loop counters.
type Stats struct {
	Ticks              uint64
	EventsEmitted      uint64
	ProbeFailures      uint64
	ScreenshotRequests uint64
	Resumptions        uint64
}

// Loop is the idle/active state machine. Each range over Start runs one
// polling session in the ranging goroutine.
type Loop struct {
	cfg         config.TrackerConfig
	probe       window.WindowProbe
	idle        window.IdleProbe
	interaction window.InteractionProbe
	shots       Submitter
	resumptions models.ResumptionSink
	advisor     PollAdvisor
	clock       Clock
	logger      *zap.Logger
	metrics     *telemetry.Recorder

	mu      sync.Mutex
	stop    context.CancelFunc
	stopped bool
	err     error

	ticks         atomic.Uint64
	emitted       atomic.Uint64
	probeFailures atomic.Uint64
	requests      atomic.Uint64
	resumed       atomic.Uint64
}

// New creates a Loop.
func New(cfg config.TrackerConfig, probe window.WindowProbe, idle window.IdleProbe, opts ...Option) *Loop {
	l := &Loop{
		cfg:    cfg,
		probe:  probe,
		idle:   idle,
		clock:  realClock{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// observation is one tick's sample.
type observation struct {
	at          time.Time
	handle      window.Handle
	app         string
	title       string
	idleSeconds float64
	state       models.State
	level       models.InteractionLevel
	failed      bool
}

// session holds the state of one run; it is touched only by the ranging
// goroutine.
type session struct {
	open     *models.ActivityEvent
	lastSeen time.Time
	lastShot time.Time

	lastKey   time.Time
	lastClick time.Time

	inactive       bool
	peakIdle       float64
	lastResumption time.Time

	idleSeconds float64       // last successful idle sample
	wait        time.Duration // wait that preceded the current tick
}

// Start returns the event sequence. Closed events are yielded in order;
// the open event is closed and yielded when the run ends through Stop or
// ctx cancellation.
func (l *Loop) Start(ctx context.Context) iter.Seq[models.ActivityEvent] {
	return func(yield func(models.ActivityEvent) bool) {
		if l.probe == nil || l.idle == nil {
			l.setErr(ErrProbeUnavailable)
			return
		}

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		l.mu.Lock()
		if l.stop != nil {
			l.mu.Unlock()
			l.logger.Warn("tracker already running")
			return
		}
		l.stop = cancel
		l.stopped = false
		l.err = nil
		l.mu.Unlock()

		defer func() {
			l.mu.Lock()
			l.stop = nil
			l.mu.Unlock()
		}()

		l.logger.Info("tracker started",
			zap.Duration("poll_interval", l.cfg.PollInterval),
			zap.Duration("idle_threshold", l.cfg.IdleThreshold),
			zap.Duration("merge_threshold", l.cfg.MergeThreshold))

		s := &session{wait: l.cfg.PollInterval}
		for {
			if l.isStopped() || runCtx.Err() != nil {
				break
			}

			if closed, ok := l.tick(runCtx, s); ok {
				if !l.emit(runCtx, closed, yield) {
					return
				}
			}

			if err := l.clock.Wait(runCtx, l.nextWait(s)); err != nil {
				break
			}
		}

		if s.open != nil {
			s.open.Close(s.lastSeen)
			ev := *s.open
			s.open = nil
			l.emit(ctx, ev, yield)
		}
		l.logger.Info("tracker stopped", zap.Uint64("events", l.emitted.Load()))
	}
}

// Run ranges over Start and hands every event to sink. Sink errors are
// logged and do not stop the loop. The event closed by cancellation is
// still saved.
func (l *Loop) Run(ctx context.Context, sink models.EventSink) error {
	saveCtx := context.WithoutCancel(ctx)
	for ev := range l.Start(ctx) {
		if err := sink.SaveEvent(saveCtx, ev); err != nil {
			l.logger.Error("failed to save activity event",
				zap.String("app", ev.AppName), zap.Error(err))
		}
	}
	return l.Err()
}

// Stop ends the current run after the tick in progress. It is idempotent.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	if l.stop != nil {
		l.stop()
	}
}

// Err returns the error that ended the last run, if any.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Ticks:              l.ticks.Load(),
		EventsEmitted:      l.emitted.Load(),
		ProbeFailures:      l.probeFailures.Load(),
		ScreenshotRequests: l.requests.Load(),
		Resumptions:        l.resumed.Load(),
	}
}

func (l *Loop) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

func (l *Loop) setErr(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

func (l *Loop) emit(ctx context.Context, ev models.ActivityEvent, yield func(models.ActivityEvent) bool) bool {
	l.emitted.Add(1)
	l.metrics.EventClosed(ctx, string(ev.State))
	l.logger.Debug("activity event closed",
		zap.String("app", ev.AppName),
		zap.String("state", string(ev.State)),
		zap.Float64("duration_seconds", ev.DurationSeconds))
	return yield(ev)
}

// tick samples the probes and advances the state machine. It returns the
// event closed by this tick, if any.
func (l *Loop) tick(ctx context.Context, s *session) (models.ActivityEvent, bool) {
	l.ticks.Add(1)
	l.metrics.Tick(ctx)

	obs := l.observe(ctx, s)

	var (
		closed    models.ActivityEvent
		hasClosed bool
		extended  bool
	)

	// A stretched wait widens the merge gap by the same amount, so slower
	// polling never splits an unchanged event.
	allowance := l.cfg.MergeThreshold + max(0, s.wait-l.cfg.PollInterval)
	if s.open != nil && sameTuple(s.open, obs) && obs.at.Sub(s.lastSeen) <= allowance {
		if obs.level.Rank() > s.open.InteractionLevel.Rank() {
			s.open.InteractionLevel = obs.level
		}
		extended = true
	} else {
		if s.open != nil {
			// A changed tuple ends the event now; an exceeded gap ends it
			// at the last observation that still belonged to it.
			end := obs.at
			if sameTuple(s.open, obs) {
				end = s.lastSeen
			}
			s.open.Close(end)
			closed, hasClosed = *s.open, true
		}
		s.open = &models.ActivityEvent{
			StartTime:        obs.at,
			AppName:          obs.app,
			WindowTitle:      obs.title,
			State:            obs.state,
			InteractionLevel: obs.level,
		}
	}
	s.lastSeen = obs.at

	if extended && obs.state == models.StateActive && l.shots != nil &&
		obs.at.Sub(s.lastShot) >= l.cfg.ScreenshotInterval {
		s.lastShot = obs.at
		l.requests.Add(1)
		l.metrics.ScreenshotRequested(ctx)
		l.shots.Submit(obs.handle, obs.at, obs.app, obs.title, obs.idleSeconds)
	}

	return closed, hasClosed
}

// nextWait returns how long to sleep before the next tick.
func (l *Loop) nextWait(s *session) time.Duration {
	d := l.cfg.PollInterval
	if l.advisor != nil {
		d = l.advisor.PollInterval(s.idleSeconds, d)
		if l.cfg.MinPollInterval > 0 {
			d = max(d, l.cfg.MinPollInterval)
		}
		if l.cfg.MaxPollInterval > 0 {
			d = min(d, l.cfg.MaxPollInterval)
		}
	}
	if d != s.wait {
		l.logger.Debug("poll interval changed",
			zap.Duration("from", s.wait), zap.Duration("to", d),
			zap.Float64("idle_seconds", s.idleSeconds))
	}
	s.wait = d
	return d
}

// observe samples idle time and the foreground window. Any probe failure
// yields an Inactive observation with empty app and title.
func (l *Loop) observe(ctx context.Context, s *session) observation {
	obs := observation{at: l.clock.Now()}

	idle, err := l.idle.IdleSeconds()
	if err != nil {
		return l.failed(ctx, obs, "idle", err)
	}
	obs.idleSeconds = idle
	s.idleSeconds = idle
	l.trackResumption(ctx, s, obs.at, idle)

	h, err := l.probe.Foreground()
	if err != nil {
		return l.failed(ctx, obs, "foreground", err)
	}
	info, err := l.probe.Describe(h)
	if err != nil {
		return l.failed(ctx, obs, "describe", err)
	}
	obs.handle = h
	obs.app = info.AppName
	obs.title = info.WindowTitle

	if idle >= l.cfg.IdleThreshold.Seconds() {
		obs.state = models.StateInactive
		obs.level = models.InteractionIdle
		return obs
	}
	obs.state = models.StateActive
	obs.level = l.interactionLevel(s, obs.at)
	return obs
}

func (l *Loop) failed(ctx context.Context, obs observation, probe string, err error) observation {
	l.probeFailures.Add(1)
	l.metrics.ProbeFailure(ctx)
	l.logger.Debug("probe failed", zap.String("probe", probe), zap.Error(err))
	obs.failed = true
	obs.state = models.StateInactive
	obs.level = models.InteractionIdle
	return obs
}

func (l *Loop) interactionLevel(s *session, now time.Time) models.InteractionLevel {
	if l.interaction == nil {
		return models.InteractionPassive
	}
	if l.interaction.KeyboardActive() {
		s.lastKey = now
	}
	if l.interaction.PointerActive() {
		s.lastClick = now
	}
	switch {
	case !s.lastKey.IsZero() && now.Sub(s.lastKey) < interactionWindow:
		return models.InteractionTyping
	case !s.lastClick.IsZero() && now.Sub(s.lastClick) < interactionWindow:
		return models.InteractionClicking
	}
	return models.InteractionPassive
}

// trackResumption follows the idle counter. While idle time is at or
// above IdleThreshold the user is Inactive and the peak is recorded; the
// first tick below it ends the stretch, which is reported if the peak
// reached MinimumIdleDuration, rate-limited by resumptionCooldown.
func (l *Loop) trackResumption(ctx context.Context, s *session, now time.Time, idle float64) {
	if idle >= l.cfg.IdleThreshold.Seconds() {
		s.inactive = true
		s.peakIdle = max(s.peakIdle, idle)
		return
	}
	if !s.inactive {
		return
	}

	peak := s.peakIdle
	s.inactive = false
	s.peakIdle = 0
	if peak < l.cfg.MinimumIdleDuration.Seconds() {
		return
	}
	if !s.lastResumption.IsZero() && now.Sub(s.lastResumption) < resumptionCooldown {
		return
	}
	s.lastResumption = now
	l.resumed.Add(1)

	l.logger.Info("user resumed after idle", zap.Float64("idle_seconds", peak))
	if l.resumptions == nil {
		return
	}
	r := models.IdleResumption{ResumedAt: now, IdleSeconds: peak}
	if err := l.resumptions.SaveResumption(ctx, r); err != nil {
		l.logger.Error("failed to save idle resumption", zap.Error(err))
	}
}

func sameTuple(ev *models.ActivityEvent, obs observation) bool {
	return ev.AppName == obs.app && ev.WindowTitle == obs.title && ev.State == obs.state
}
