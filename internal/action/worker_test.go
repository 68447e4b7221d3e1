package action

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/snaptrail/snaptrail/internal/config"
	"github.com/snaptrail/snaptrail/internal/models"
	"github.com/snaptrail/snaptrail/pkg/window"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeProbe struct {
	mu    sync.Mutex
	fg    window.Handle
	infos map[window.Handle]*window.WindowInfo
}

func newProbe(fg window.Handle, apps map[window.Handle]string) *fakeProbe {
	p := &fakeProbe{fg: fg, infos: make(map[window.Handle]*window.WindowInfo)}
	for h, app := range apps {
		p.infos[h] = &window.WindowInfo{Handle: h, AppName: app, ProcessName: app, WindowTitle: app + " window"}
	}
	return p
}

func (p *fakeProbe) Foreground() (window.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fg == 0 {
		return 0, window.ErrNoForegroundWindow
	}
	return p.fg, nil
}

func (p *fakeProbe) Describe(h window.Handle) (*window.WindowInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.infos[h]
	if !ok {
		return nil, window.ErrInvalidWindow
	}
	return info, nil
}

func (p *fakeProbe) focus(h window.Handle) {
	p.mu.Lock()
	p.fg = h
	p.mu.Unlock()
}

type fakeCapturer struct {
	mu      sync.Mutex
	handles []window.Handle
	img     image.Image // returned instead of the default bitmap when set
}

func (c *fakeCapturer) Capture(h window.Handle) (image.Image, error) {
	c.mu.Lock()
	c.handles = append(c.handles, h)
	c.mu.Unlock()
	if c.img != nil {
		return c.img, nil
	}
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for x := 0; x < 40; x++ {
		img.SetRGBA(x, 0, color.RGBA{uint8(x * 6), 0, 0, 255})
	}
	return img, nil
}

type fakeInput struct {
	events chan window.InputEvent
	err    error
}

func (f *fakeInput) Listen(ctx context.Context) (<-chan window.InputEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

type memorySink struct {
	mu   sync.Mutex
	recs []models.ScreenshotRecord
}

func (s *memorySink) SaveScreenshot(ctx context.Context, rec models.ScreenshotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memorySink) records() []models.ScreenshotRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ScreenshotRecord(nil), s.recs...)
}

func testConfig(t *testing.T) config.ActionConfig {
	cfg := config.Default().Action
	cfg.Dir = t.TempDir()
	cfg.FocusPollInterval = 10 * time.Millisecond
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGesture(t *testing.T) {
	down := func(b, x, y int) window.InputEvent {
		return window.InputEvent{Kind: window.ButtonDown, Button: b, X: x, Y: y}
	}
	up := func(b, x, y int) window.InputEvent {
		return window.InputEvent{Kind: window.ButtonUp, Button: b, X: x, Y: y}
	}
	move := func(x, y int) window.InputEvent {
		return window.InputEvent{Kind: window.PointerMove, X: x, Y: y}
	}

	tests := []struct {
		name   string
		events []window.InputEvent
		want   []models.Action
	}{
		{"Click", []window.InputEvent{down(1, 100, 100), up(1, 100, 100)}, []models.Action{models.ActionClick}},
		{"Jitter below threshold is a click", []window.InputEvent{down(1, 100, 100), move(110, 90), up(1, 110, 90)}, []models.Action{models.ActionClick}},
		{"Drag then drop", []window.InputEvent{down(1, 100, 100), move(111, 100), move(200, 200), up(1, 200, 200)}, []models.Action{models.ActionDrag, models.ActionDrop}},
		{"Vertical drag", []window.InputEvent{down(1, 0, 0), move(0, -11), up(1, 0, -11)}, []models.Action{models.ActionDrag, models.ActionDrop}},
		{"Release without press", []window.InputEvent{up(1, 0, 0)}, nil},
		{"Other button release ignored", []window.InputEvent{down(1, 0, 0), up(3, 0, 0), up(1, 0, 0)}, []models.Action{models.ActionClick}},
		{"Move without press", []window.InputEvent{move(500, 500)}, nil},
		{"Enter", []window.InputEvent{{Kind: window.KeyDown, Key: window.KeyEnter}}, []models.Action{models.ActionEnter}},
		{"Other key", []window.InputEvent{{Kind: window.KeyDown, Key: window.KeyOther}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var g gesture
			var got []models.Action
			for _, ev := range tt.events {
				if a, ok := g.next(ev, 10); ok {
					got = append(got, a)
				}
			}
			if len(got) != len(tt.want) {
				t.Fatalf("actions = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("actions = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestTriggerThrottle(t *testing.T) {
	now := t0
	probe := newProbe(1, map[window.Handle]string{1: "code"})
	w := New(testConfig(t), probe, &fakeCapturer{}, nil, nil, WithNow(func() time.Time { return now }))
	jobs := make(chan job, 8)

	steps := []struct {
		at   time.Duration
		want bool
	}{
		{0, true},
		{200 * time.Millisecond, false},
		{499 * time.Millisecond, false},
		{500 * time.Millisecond, true},
		{2 * time.Second, true},
	}
	for _, s := range steps {
		now = t0.Add(s.at)
		if got := w.trigger(jobs, models.ActionClick, probe.Foreground); got != s.want {
			t.Errorf("trigger at +%v = %v, want %v", s.at, got, s.want)
		}
	}

	stats := w.Stats()
	if stats.Triggered != 5 || stats.Throttled != 2 || len(jobs) != 3 {
		t.Errorf("stats = %+v with %d queued, want 5 triggered, 2 throttled, 3 queued", stats, len(jobs))
	}
}

func TestTriggerUsesHandleAtActionTime(t *testing.T) {
	probe := newProbe(1, map[window.Handle]string{1: "code", 2: "firefox"})
	w := New(testConfig(t), probe, &fakeCapturer{}, nil, nil)
	jobs := make(chan job, 1)

	w.trigger(jobs, models.ActionEnter, probe.Foreground)
	probe.focus(2)

	j := <-jobs
	if j.handle != 1 {
		t.Errorf("job handle = %d, want the window focused when the action happened", j.handle)
	}
}

func TestTriggerWithoutWindowSkips(t *testing.T) {
	probe := newProbe(0, nil)
	w := New(testConfig(t), probe, &fakeCapturer{}, nil, nil)
	jobs := make(chan job, 1)

	if w.trigger(jobs, models.ActionClick, probe.Foreground) {
		t.Fatal("trigger succeeded without a foreground window")
	}
	if stats := w.Stats(); stats.Skipped != 1 {
		t.Errorf("stats = %+v, want one skip", stats)
	}
	// A skipped action does not consume the throttle.
	probe.focus(3)
	if !w.trigger(jobs, models.ActionClick, probe.Foreground) {
		t.Error("trigger right after a skip was throttled")
	}
}

func TestTriggerQueueFullDrops(t *testing.T) {
	now := t0
	probe := newProbe(1, map[window.Handle]string{1: "code"})
	w := New(testConfig(t), probe, &fakeCapturer{}, nil, nil, WithNow(func() time.Time { return now }))
	jobs := make(chan job, 1)

	w.trigger(jobs, models.ActionClick, probe.Foreground)
	now = now.Add(time.Second)
	if w.trigger(jobs, models.ActionClick, probe.Foreground) {
		t.Fatal("trigger succeeded on a full queue")
	}
	if stats := w.Stats(); stats.Dropped != 1 {
		t.Errorf("stats = %+v, want one drop", stats)
	}
}

func TestCaptureWritesActionFile(t *testing.T) {
	cfg := testConfig(t)
	probe := newProbe(1, map[window.Handle]string{1: "code"})
	sink := &memorySink{}
	w := New(cfg, probe, &fakeCapturer{}, nil, sink)

	w.capture(job{action: models.ActionDrop, handle: 1, at: t0})

	recs := sink.records()
	if len(recs) != 1 {
		t.Fatalf("sink got %d records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Action != models.ActionDrop || rec.Hash != "" || rec.AppName != "code" {
		t.Errorf("record = %+v", rec)
	}
	if !filepath.IsAbs(rec.FilePath) || filepath.Dir(filepath.Dir(rec.FilePath)) != cfg.Dir {
		t.Errorf("file %q not under a date directory of %q", rec.FilePath, cfg.Dir)
	}
	if _, err := os.Stat(rec.FilePath); err != nil {
		t.Errorf("action file missing: %v", err)
	}
	if stats := w.Stats(); stats.Saved != 1 || stats.ByAction[models.ActionDrop] != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCaptureWriteFailureLeavesNoFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxDimension = 100000
	probe := newProbe(1, map[window.Handle]string{1: "code"})
	sink := &memorySink{}
	// Too wide for JPEG, so the encoder rejects it after the path is taken.
	capt := &fakeCapturer{img: image.NewRGBA(image.Rect(0, 0, 70000, 1))}
	w := New(cfg, probe, capt, nil, sink)

	w.capture(job{action: models.ActionClick, handle: 1, at: t0})

	if stats := w.Stats(); stats.Skipped != 1 || stats.Saved != 0 {
		t.Errorf("stats = %+v, want one skip", stats)
	}
	if len(sink.records()) != 0 {
		t.Error("failed write was recorded")
	}
	jpgs, _ := filepath.Glob(filepath.Join(cfg.Dir, "*", "*.jpg"))
	if len(jpgs) != 0 {
		t.Errorf("failed write left %v behind", jpgs)
	}
}

func TestCaptureSkips(t *testing.T) {
	tests := []struct {
		name   string
		handle window.Handle
		app    string
	}{
		{"Deny-listed locker", 1, "i3lock"},
		{"Window gone", 9, "code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := newProbe(1, map[window.Handle]string{1: tt.app})
			capt := &fakeCapturer{}
			sink := &memorySink{}
			w := New(testConfig(t), probe, capt, nil, sink)

			w.capture(job{action: models.ActionClick, handle: tt.handle, at: t0})

			if stats := w.Stats(); stats.Skipped != 1 || stats.Saved != 0 {
				t.Errorf("stats = %+v, want one skip", stats)
			}
			if len(capt.handles) != 0 || len(sink.records()) != 0 {
				t.Error("skipped action was captured")
			}
		})
	}
}

func TestClickCaptured(t *testing.T) {
	probe := newProbe(1, map[window.Handle]string{1: "code"})
	input := &fakeInput{events: make(chan window.InputEvent, 4)}
	sink := &memorySink{}
	w := New(testConfig(t), probe, &fakeCapturer{}, input, sink)

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	input.events <- window.InputEvent{Kind: window.ButtonDown, Button: 1, X: 5, Y: 5}
	input.events <- window.InputEvent{Kind: window.ButtonUp, Button: 1, X: 5, Y: 5}

	waitFor(t, "click capture", func() bool { return w.Stats().Saved == 1 })
	if !w.Shutdown(true, 5*time.Second) {
		t.Fatal("Shutdown timed out")
	}

	stats := w.Stats()
	if stats.ByAction[models.ActionClick] != 1 || stats.ByAction[models.ActionFocus] != 0 {
		t.Errorf("by action = %v, want one click and no focus capture for the baseline", stats.ByAction)
	}
}

func TestFocusChangeCaptured(t *testing.T) {
	probe := newProbe(1, map[window.Handle]string{1: "code", 2: "firefox"})
	sink := &memorySink{}
	w := New(testConfig(t), probe, &fakeCapturer{}, nil, sink)

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	probe.focus(2)

	waitFor(t, "focus capture", func() bool { return w.Stats().Saved == 1 })
	w.Shutdown(true, 5*time.Second)

	recs := sink.records()
	if len(recs) != 1 || recs[0].Action != models.ActionFocus || recs[0].AppName != "firefox" {
		t.Errorf("records = %+v, want one focus capture of firefox", recs)
	}
}

func TestStartTwice(t *testing.T) {
	w := New(testConfig(t), newProbe(1, nil), &fakeCapturer{}, nil, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Shutdown(false, time.Second)

	if err := w.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
}

func TestStartWithoutInputHook(t *testing.T) {
	input := &fakeInput{err: window.ErrUnsupported}
	w := New(testConfig(t), newProbe(1, nil), &fakeCapturer{}, input, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start = %v, want focus-only fallback", err)
	}
	if !w.Shutdown(true, 5*time.Second) {
		t.Error("Shutdown timed out")
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	w := New(testConfig(t), newProbe(1, nil), &fakeCapturer{}, nil, nil)
	if !w.Shutdown(true, time.Second) {
		t.Error("Shutdown of an idle worker timed out")
	}
}
