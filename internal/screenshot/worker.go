// Package screenshot runs the periodic, deduplicating capture pipeline.
package screenshot

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/snaptrail/snaptrail/internal/config"
	"github.com/snaptrail/snaptrail/internal/imaging"
	"github.com/snaptrail/snaptrail/internal/models"
	"github.com/snaptrail/snaptrail/internal/phash"
	"github.com/snaptrail/snaptrail/internal/telemetry"
	"github.com/snaptrail/snaptrail/pkg/window"
)

// Decision is the outcome of comparing a capture with the previous one.
type Decision int

const (
	DecisionNew Decision = iota
	DecisionOverwrite
)

func (d Decision) String() string {
	if d == DecisionOverwrite {
		return "overwrite"
	}
	return "new"
}

// Stats is a snapshot of worker counters.
type Stats struct {
	Submitted   uint64
	Captured    uint64
	Saved       uint64
	Overwritten uint64
	Skipped     uint64
	Dropped     uint64
}

type request struct {
	handle      window.Handle
	ts          time.Time
	app         string
	title       string
	idleSeconds float64
}

// lastCapture is the most recent persisted screenshot. It is owned by the
// worker goroutine.
type lastCapture struct {
	record  models.ScreenshotRecord
	hash    phash.Hash
	image   image.Image
	savedAt time.Time // request time of the last new file, not of overwrites
}

// Worker decides, one request at a time, whether a capture overwrites the
// previous file or becomes a new one.
type Worker struct {
	cfg      config.ScreenshotConfig
	capturer window.Capturer
	sink     models.ScreenshotSink
	deny     *window.DenyList
	gate     SkipCheck
	logger   *zap.Logger
	metrics  *telemetry.Recorder

	mu     sync.RWMutex
	closed bool
	queue  chan request
	abort  chan struct{}
	done   chan struct{}
	once   sync.Once
	halt   sync.Once

	last *lastCapture

	submitted   atomic.Uint64
	captured    atomic.Uint64
	saved       atomic.Uint64
	overwritten atomic.Uint64
	skipped     atomic.Uint64
	dropped     atomic.Uint64
}

// SkipCheck vetoes captures while the machine is under load. It returns a
// short reason when the capture should be skipped.
type SkipCheck interface {
	ShouldSkipScreenshot() (reason string, skip bool)
}

// Option configures a Worker.
type Option func(*Worker)

// WithSkipCheck consults c before every capture.
func WithSkipCheck(c SkipCheck) Option {
	return func(w *Worker) { w.gate = c }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithTelemetry records screenshot outcomes on r.
func WithTelemetry(r *telemetry.Recorder) Option {
	return func(w *Worker) { w.metrics = r }
}

// New creates a Worker and starts its goroutine. sink may be nil.
func New(cfg config.ScreenshotConfig, capturer window.Capturer, sink models.ScreenshotSink, opts ...Option) *Worker {
	size := cfg.QueueSize
	if size < 1 {
		size = 1
	}
	w := &Worker{
		cfg:      cfg,
		capturer: capturer,
		sink:     sink,
		deny:     window.NewDenyList(cfg.DenyList...),
		logger:   zap.NewNop(),
		queue:    make(chan request, size),
		abort:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.run()
	return w
}

// Submit queues a capture request without blocking. A full queue or a shut
// down worker drops the request.
func (w *Worker) Submit(h window.Handle, ts time.Time, app, title string, idleSeconds float64) {
	w.submitted.Add(1)

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.drop("worker shut down")
		return
	}

	select {
	case w.queue <- request{handle: h, ts: ts, app: app, title: title, idleSeconds: idleSeconds}:
	default:
		w.drop("queue full")
	}
}

func (w *Worker) drop(reason string) {
	w.dropped.Add(1)
	w.metrics.ScreenshotOutcome(context.Background(), "dropped")
	w.logger.Debug("screenshot request dropped", zap.String("reason", reason))
}

// Shutdown stops intake. With wait set, queued requests are processed until
// timeout elapses; otherwise they are discarded. It returns false if the
// worker goroutine did not finish within timeout.
func (w *Worker) Shutdown(wait bool, timeout time.Duration) bool {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.queue)
		w.mu.Unlock()

		if !wait {
			w.abortPending()
		}
	})

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-w.done:
		return true
	case <-t.C:
		w.abortPending()
		return false
	}
}

func (w *Worker) abortPending() {
	w.halt.Do(func() { close(w.abort) })
}

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Submitted:   w.submitted.Load(),
		Captured:    w.captured.Load(),
		Saved:       w.saved.Load(),
		Overwritten: w.overwritten.Load(),
		Skipped:     w.skipped.Load(),
		Dropped:     w.dropped.Load(),
	}
}

func (w *Worker) run() {
	defer close(w.done)
	for req := range w.queue {
		select {
		case <-w.abort:
			w.drop("shutdown without wait")
			continue
		default:
		}
		w.process(req)
	}
}

func (w *Worker) skip(reason string, fields ...zap.Field) {
	w.skipped.Add(1)
	w.metrics.ScreenshotOutcome(context.Background(), "skipped")
	w.logger.Debug("screenshot skipped", append(fields, zap.String("reason", reason))...)
}

func (w *Worker) process(req request) {
	defer func() {
		if r := recover(); r != nil {
			w.skip("panic", zap.Any("panic", r))
		}
	}()

	if req.idleSeconds > w.cfg.IdleSkipSeconds {
		w.skip("idle", zap.Float64("idle_seconds", req.idleSeconds))
		return
	}
	if w.deny.Contains(req.app) {
		w.skip("deny-listed", zap.String("app", req.app))
		return
	}
	if w.gate != nil {
		if reason, skip := w.gate.ShouldSkipScreenshot(); skip {
			w.skip("resources", zap.String("detail", reason))
			return
		}
	}

	img, err := w.capturer.Capture(req.handle)
	if err != nil {
		if window.IsCaptureMiss(err) {
			w.skip("capture miss", zap.String("app", req.app), zap.Error(err))
		} else {
			w.skipped.Add(1)
			w.metrics.ScreenshotOutcome(context.Background(), "skipped")
			w.logger.Warn("screenshot capture failed", zap.String("app", req.app), zap.Error(err))
		}
		return
	}
	w.captured.Add(1)

	img = imaging.Downscale(img, w.cfg.MaxDimension)

	var hash phash.Hash
	decision := DecisionNew
	if w.last != nil && phash.SamplesMatch(w.last.image, img, phash.DefaultTolerance) {
		hash = w.last.hash
		decision = DecisionOverwrite
	} else {
		hash = phash.DHash(img)
		if w.last != nil {
			decision = w.decide(phash.Similarity(hash, w.last.hash), req.app != w.last.record.AppName, req.ts.Sub(w.last.savedAt))
		}
	}

	if decision == DecisionOverwrite {
		w.overwrite(req, img, hash)
		return
	}
	w.saveNew(req, img, hash)
}

// decide applies the similarity thresholds. appChanged selects the stricter
// threshold; sinceSave is measured from the last new file.
func (w *Worker) decide(similarity float64, appChanged bool, sinceSave time.Duration) Decision {
	threshold := w.cfg.ThresholdIdentical
	if w.cfg.ContextAwareThresholds {
		threshold = w.cfg.ThresholdSameWindow
		if appChanged {
			threshold = w.cfg.ThresholdDifferentWindow
		}
	}

	if similarity >= threshold {
		return DecisionOverwrite
	}
	if similarity >= w.cfg.ThresholdSignificant && sinceSave < w.cfg.ResaveWindow {
		return DecisionOverwrite
	}
	return DecisionNew
}

func (w *Worker) overwrite(req request, img image.Image, hash phash.Hash) {
	path := w.last.record.FilePath
	if err := imaging.WriteJPEG(path, img, w.cfg.Quality); err != nil {
		w.skipped.Add(1)
		w.metrics.ScreenshotOutcome(context.Background(), "skipped")
		w.logger.Error("failed to overwrite screenshot", zap.String("path", path), zap.Error(err))
		return
	}

	w.last.image = img
	w.last.hash = hash
	w.last.record.Hash = hash.String()
	w.last.record.CapturedAt = req.ts

	w.overwritten.Add(1)
	w.metrics.ScreenshotOutcome(context.Background(), "overwritten")
	w.logger.Debug("screenshot overwritten", zap.String("path", path))
}

func (w *Worker) saveNew(req request, img image.Image, hash phash.Hash) {
	path, err := imaging.Save(w.cfg.Dir, req.ts, req.app, img, w.cfg.Quality)
	if err != nil {
		w.skipped.Add(1)
		w.metrics.ScreenshotOutcome(context.Background(), "skipped")
		w.logger.Error("failed to save screenshot", zap.String("app", req.app), zap.Error(err))
		return
	}

	rec := models.ScreenshotRecord{
		CapturedAt:  req.ts,
		FilePath:    path,
		AppName:     req.app,
		WindowTitle: req.title,
		Hash:        hash.String(),
	}
	w.last = &lastCapture{record: rec, hash: hash, image: img, savedAt: req.ts}

	w.saved.Add(1)
	w.metrics.ScreenshotOutcome(context.Background(), "saved")
	w.logger.Info("screenshot saved", zap.String("path", path), zap.String("app", req.app))

	if w.sink == nil {
		return
	}
	if err := w.sink.SaveScreenshot(context.Background(), rec); err != nil {
		w.logger.Error("failed to record screenshot", zap.String("path", path), zap.Error(err))
	}
}
