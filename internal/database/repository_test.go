package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/snaptrail/snaptrail/internal/models"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := Connect(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return NewRepository(db)
}

func event(app string, start time.Time, d time.Duration, state models.State) models.ActivityEvent {
	ev := models.ActivityEvent{
		StartTime:        start,
		AppName:          app,
		WindowTitle:      app + " title",
		State:            state,
		InteractionLevel: models.InteractionPassive,
	}
	ev.Close(start.Add(d))
	return ev
}

func TestSaveEvent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveEvent(ctx, event("code", t0, 10*time.Second, models.StateActive)); err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}

	events, err := repo.GetEventsSince(t0.Add(-time.Minute))
	if err != nil {
		t.Fatalf("GetEventsSince: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	got := events[0]
	if got.AppName != "code" || got.DurationSeconds != 10 || got.State != models.StateActive {
		t.Errorf("event = %+v", got)
	}
	if !got.IsClosed() || !got.EndTime.Equal(t0.Add(10*time.Second)) {
		t.Errorf("end time = %v", got.EndTime)
	}
}

func TestSaveOpenEventRejected(t *testing.T) {
	repo := newTestRepo(t)
	ev := models.ActivityEvent{StartTime: t0, AppName: "code"}
	if err := repo.SaveEvent(context.Background(), ev); err == nil {
		t.Error("SaveEvent accepted an open event")
	}
}

func TestGetAppSummarySince(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, ev := range []models.ActivityEvent{
		event("code", t0, 30*time.Second, models.StateActive),
		event("firefox", t0.Add(time.Minute), 10*time.Second, models.StateActive),
		event("code", t0.Add(2*time.Minute), 15*time.Second, models.StateActive),
		event("code", t0.Add(3*time.Minute), 300*time.Second, models.StateInactive),
		event("old", t0.Add(-time.Hour), time.Hour, models.StateActive),
	} {
		if err := repo.SaveEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	summary, err := repo.GetAppSummarySince(t0)
	if err != nil {
		t.Fatalf("GetAppSummarySince: %v", err)
	}
	if len(summary) != 2 {
		t.Fatalf("summary = %+v, want 2 apps", summary)
	}
	if summary[0].AppName != "code" || summary[0].TotalSeconds != 45 || summary[0].EventCount != 2 {
		t.Errorf("first = %+v, want code with 45s over 2 events", summary[0])
	}
	if summary[1].AppName != "firefox" {
		t.Errorf("second = %+v, want firefox", summary[1])
	}
}

func TestScreenshots(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	latest, err := repo.GetLatestScreenshot()
	if err != nil || latest != nil {
		t.Fatalf("GetLatestScreenshot on empty db = %v, %v", latest, err)
	}

	recs := []models.ScreenshotRecord{
		{CapturedAt: t0, FilePath: "/s/a.jpg", AppName: "code", Hash: "00ff"},
		{CapturedAt: t0.Add(time.Second), FilePath: "/a/b.jpg", AppName: "code", Action: models.ActionClick},
		{CapturedAt: t0.Add(2 * time.Second), FilePath: "/a/c.jpg", AppName: "firefox", Action: models.ActionFocus},
	}
	for _, rec := range recs {
		if err := repo.SaveScreenshot(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	latest, err = repo.GetLatestScreenshot()
	if err != nil {
		t.Fatal(err)
	}
	if latest.FilePath != "/a/c.jpg" || latest.Action != models.ActionFocus {
		t.Errorf("latest = %+v", latest)
	}

	periodic, actions, err := repo.CountScreenshotsSince(t0)
	if err != nil {
		t.Fatal(err)
	}
	if periodic != 1 || actions != 2 {
		t.Errorf("counts = %d periodic, %d actions; want 1 and 2", periodic, actions)
	}
}

func TestDuplicateScreenshotPath(t *testing.T) {
	repo := newTestRepo(t)
	rec := models.ScreenshotRecord{CapturedAt: t0, FilePath: "/s/a.jpg", AppName: "code"}
	if err := repo.SaveScreenshot(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveScreenshot(context.Background(), rec); err == nil {
		t.Error("second record for the same file path was accepted")
	}
}

func TestSaveResumptionAndErrorLog(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.SaveResumption(context.Background(), models.IdleResumption{ResumedAt: t0, IdleSeconds: 240}); err != nil {
		t.Fatalf("SaveResumption: %v", err)
	}
	var n int64
	repo.db.Model(&IdleResumptionRow{}).Count(&n)
	if n != 1 {
		t.Errorf("resumption rows = %d, want 1", n)
	}

	if err := repo.CreateErrorLog("tracker", errors.New("xgb: connection lost")); err != nil {
		t.Fatalf("CreateErrorLog: %v", err)
	}
	var entry ErrorLog
	if err := repo.db.First(&entry).Error; err != nil {
		t.Fatal(err)
	}
	if entry.Component != "tracker" || entry.ErrorMsg != "xgb: connection lost" {
		t.Errorf("error log = %+v", entry)
	}
}

func TestDeleteOldEvents(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	repo.SaveEvent(ctx, event("a", t0.Add(-48*time.Hour), time.Minute, models.StateActive))
	repo.SaveEvent(ctx, event("b", t0, time.Minute, models.StateActive))

	n, err := repo.DeleteOldEvents(t0.Add(-24 * time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("DeleteOldEvents = %d, %v; want 1", n, err)
	}
	events, _ := repo.GetEventsSince(time.Time{})
	if len(events) != 1 || events[0].AppName != "b" {
		t.Errorf("remaining events = %+v", events)
	}
}
