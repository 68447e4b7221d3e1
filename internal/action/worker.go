// Package action captures a screenshot for each discrete user action:
// click, drag start, drop, Enter and foreground focus change.
package action

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/snaptrail/snaptrail/internal/config"
	"github.com/snaptrail/snaptrail/internal/imaging"
	"github.com/snaptrail/snaptrail/internal/models"
	"github.com/snaptrail/snaptrail/internal/telemetry"
	"github.com/snaptrail/snaptrail/pkg/window"
)

// ErrAlreadyStarted is returned by Start on a running worker.
var ErrAlreadyStarted = errors.New("action worker already started")

// Stats is a snapshot of worker counters.
type Stats struct {
	Triggered uint64
	Throttled uint64
	Saved     uint64
	Skipped   uint64
	Dropped   uint64
	ByAction  map[models.Action]uint64
}

type job struct {
	action models.Action
	handle window.Handle
	at     time.Time
}

// Worker listens for user actions and captures the window each one
// happened in.
type Worker struct {
	cfg      config.ActionConfig
	probe    window.WindowProbe
	capturer window.Capturer
	input    window.InputSource
	sink     models.ScreenshotSink
	deny     *window.DenyList
	logger   *zap.Logger
	metrics  *telemetry.Recorder
	now      func() time.Time

	// throttleMu serializes capture decisions across the dispatch and
	// focus goroutines.
	throttleMu  sync.Mutex
	lastCapture time.Time

	drag gesture

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	jobs      chan job
	pool      sync.WaitGroup
	loops     sync.WaitGroup
	abort     chan struct{}
	halt      *sync.Once

	triggered atomic.Uint64
	throttled atomic.Uint64
	saved     atomic.Uint64
	skipped   atomic.Uint64
	dropped   atomic.Uint64

	byActionMu sync.Mutex
	byAction   map[models.Action]uint64
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithTelemetry records action outcomes on r.
func WithTelemetry(r *telemetry.Recorder) Option {
	return func(w *Worker) { w.metrics = r }
}

// WithNow replaces the time source used for throttling and file names.
func WithNow(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// New creates a Worker. input may be nil, leaving focus changes as the
// only trigger. sink may be nil.
func New(cfg config.ActionConfig, probe window.WindowProbe, capturer window.Capturer, input window.InputSource, sink models.ScreenshotSink, opts ...Option) *Worker {
	w := &Worker{
		cfg:      cfg,
		probe:    probe,
		capturer: capturer,
		input:    input,
		sink:     sink,
		deny:     window.NewDenyList(cfg.DenyList...),
		logger:   zap.NewNop(),
		now:      time.Now,
		byAction: make(map[models.Action]uint64),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the capture pool, the input dispatcher and the focus
// poller. They run until Stop, Shutdown or ctx cancellation.
func (w *Worker) Start(ctx context.Context) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	if w.cancel != nil {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)

	var events <-chan window.InputEvent
	if w.input != nil {
		ch, err := w.input.Listen(runCtx)
		switch {
		case err == nil:
			events = ch
		case errors.Is(err, window.ErrUnsupported):
			w.logger.Warn("input hook unavailable, capturing focus changes only")
		default:
			cancel()
			return errors.Wrap(err, "failed to listen for input")
		}
	}

	workers := max(2, w.cfg.Workers)
	queue := max(1, w.cfg.QueueSize)
	w.cancel = cancel
	w.jobs = make(chan job, queue)
	w.abort = make(chan struct{})
	w.halt = &sync.Once{}

	for i := 0; i < workers; i++ {
		w.pool.Add(1)
		go w.work(w.jobs, w.abort)
	}

	if events != nil {
		w.loops.Add(1)
		go w.dispatch(runCtx, events)
	}
	w.loops.Add(1)
	go w.pollFocus(runCtx)

	w.logger.Info("action capture started",
		zap.Int("workers", workers),
		zap.Duration("throttle", w.cfg.Throttle),
		zap.Bool("input_hook", events != nil))
	return nil
}

// Stop ends the triggers and lets queued captures finish in the background.
func (w *Worker) Stop() {
	w.stop(true)
}

// Shutdown ends the triggers and waits up to timeout for the pool. With
// wait unset queued captures are discarded. It returns false on timeout.
func (w *Worker) Shutdown(wait bool, timeout time.Duration) bool {
	w.stop(wait)

	done := make(chan struct{})
	go func() {
		w.loops.Wait()
		w.pool.Wait()
		close(done)
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		w.lifecycle.Lock()
		w.abortPending()
		w.lifecycle.Unlock()
		return false
	}
}

func (w *Worker) stop(wait bool) {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	if w.cancel == nil {
		return
	}
	w.cancel()
	if !wait {
		w.abortPending()
	}
	// Triggers send on jobs, so it is closed once they have exited.
	jobs := w.jobs
	loops := &w.loops
	go func() {
		loops.Wait()
		close(jobs)
	}()
	w.cancel = nil
}

func (w *Worker) abortPending() {
	if w.abort == nil || w.halt == nil {
		return
	}
	abort := w.abort
	w.halt.Do(func() { close(abort) })
}

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() Stats {
	w.byActionMu.Lock()
	by := make(map[models.Action]uint64, len(w.byAction))
	for k, v := range w.byAction {
		by[k] = v
	}
	w.byActionMu.Unlock()

	return Stats{
		Triggered: w.triggered.Load(),
		Throttled: w.throttled.Load(),
		Saved:     w.saved.Load(),
		Skipped:   w.skipped.Load(),
		Dropped:   w.dropped.Load(),
		ByAction:  by,
	}
}

// trigger makes the capture decision for one action. resolve runs under the
// throttle lock, in the goroutine that observed the action, so the handle
// is the one in focus when the action happened.
func (w *Worker) trigger(jobs chan<- job, action models.Action, resolve func() (window.Handle, error)) bool {
	w.triggered.Add(1)

	w.throttleMu.Lock()
	now := w.now()
	if !w.lastCapture.IsZero() && now.Sub(w.lastCapture) < w.cfg.Throttle {
		w.throttleMu.Unlock()
		w.throttled.Add(1)
		w.metrics.ActionOutcome(context.Background(), string(action), "throttled")
		return false
	}
	h, err := resolve()
	if err != nil || h == 0 {
		w.throttleMu.Unlock()
		w.skip(action, "no foreground window", zap.Error(err))
		return false
	}
	w.lastCapture = now
	w.throttleMu.Unlock()

	select {
	case jobs <- job{action: action, handle: h, at: now}:
		w.logger.Debug("action detected", zap.String("action", string(action)), zap.Uint64("window", uint64(h)))
		return true
	default:
		w.dropped.Add(1)
		w.metrics.ActionOutcome(context.Background(), string(action), "dropped")
		return false
	}
}

func (w *Worker) skip(action models.Action, reason string, fields ...zap.Field) {
	w.skipped.Add(1)
	w.metrics.ActionOutcome(context.Background(), string(action), "skipped")
	w.logger.Debug("action capture skipped",
		append(fields, zap.String("action", string(action)), zap.String("reason", reason))...)
}

func (w *Worker) work(jobs <-chan job, abort <-chan struct{}) {
	defer w.pool.Done()
	for j := range jobs {
		select {
		case <-abort:
			w.dropped.Add(1)
			continue
		default:
		}
		w.capture(j)
	}
}

func (w *Worker) capture(j job) {
	defer func() {
		if r := recover(); r != nil {
			w.skip(j.action, "panic", zap.Any("panic", r))
		}
	}()

	info, err := w.probe.Describe(j.handle)
	if err != nil {
		w.skip(j.action, "window gone", zap.Error(err))
		return
	}
	if w.deny.Contains(info.AppName) || w.deny.Contains(info.ProcessName) {
		w.skip(j.action, "deny-listed", zap.String("app", info.AppName))
		return
	}

	img, err := w.capturer.Capture(j.handle)
	if err != nil {
		w.skip(j.action, "capture failed", zap.String("app", info.AppName), zap.Error(err))
		return
	}
	img = imaging.Downscale(img, w.cfg.MaxDimension)

	path, err := imaging.Save(w.cfg.Dir, j.at, string(j.action), img, w.cfg.Quality)
	if err != nil {
		w.skipped.Add(1)
		w.metrics.ActionOutcome(context.Background(), string(j.action), "skipped")
		w.logger.Error("failed to save action screenshot", zap.Error(err))
		return
	}

	w.saved.Add(1)
	w.byActionMu.Lock()
	w.byAction[j.action]++
	w.byActionMu.Unlock()
	w.metrics.ActionOutcome(context.Background(), string(j.action), "saved")
	w.logger.Info("action screenshot saved",
		zap.String("action", string(j.action)), zap.String("path", path), zap.String("app", info.AppName))

	if w.sink == nil {
		return
	}
	rec := models.ScreenshotRecord{
		CapturedAt:  j.at,
		FilePath:    path,
		AppName:     info.AppName,
		WindowTitle: info.WindowTitle,
		Action:      j.action,
	}
	if err := w.sink.SaveScreenshot(context.Background(), rec); err != nil {
		w.logger.Error("failed to record action screenshot", zap.String("path", path), zap.Error(err))
	}
}
