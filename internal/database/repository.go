package database

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/snaptrail/snaptrail/internal/models"
)

// Repository persists activity events, screenshot metadata and idle
// resumptions. It implements models.EventSink, models.ScreenshotSink and
// models.ResumptionSink.
type Repository struct {
	db *DB
}

var (
	_ models.EventSink      = (*Repository)(nil)
	_ models.ScreenshotSink = (*Repository)(nil)
	_ models.ResumptionSink = (*Repository)(nil)
)

// NewRepository creates a new repository instance
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SaveEvent inserts a closed activity event.
func (r *Repository) SaveEvent(ctx context.Context, ev models.ActivityEvent) error {
	if !ev.IsClosed() {
		return errors.Errorf("activity event for %q is still open", ev.AppName)
	}
	row := ActivityEventRow{
		StartTime:        ev.StartTime,
		EndTime:          *ev.EndTime,
		DurationSeconds:  ev.DurationSeconds,
		AppName:          ev.AppName,
		WindowTitle:      ev.WindowTitle,
		State:            string(ev.State),
		InteractionLevel: string(ev.InteractionLevel),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.Wrap(err, "failed to insert activity event")
	}
	return nil
}

// SaveScreenshot inserts screenshot metadata.
func (r *Repository) SaveScreenshot(ctx context.Context, rec models.ScreenshotRecord) error {
	row := ScreenshotRow{
		CapturedAt:  rec.CapturedAt,
		FilePath:    rec.FilePath,
		AppName:     rec.AppName,
		WindowTitle: rec.WindowTitle,
		Hash:        rec.Hash,
		Action:      string(rec.Action),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.Wrap(err, "failed to insert screenshot")
	}
	return nil
}

// SaveResumption inserts an idle resumption.
func (r *Repository) SaveResumption(ctx context.Context, res models.IdleResumption) error {
	row := IdleResumptionRow{ResumedAt: res.ResumedAt, IdleSeconds: res.IdleSeconds}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.Wrap(err, "failed to insert idle resumption")
	}
	return nil
}

// GetEventsSince retrieves all activity events that started at or after since
func (r *Repository) GetEventsSince(since time.Time) ([]models.ActivityEvent, error) {
	var rows []ActivityEventRow
	result := r.db.Where("start_time >= ?", since).Order("start_time ASC").Find(&rows)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query activity events")
	}

	events := make([]models.ActivityEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toModel())
	}
	return events, nil
}

// GetAppSummarySince returns active time per app since a given time
func (r *Repository) GetAppSummarySince(since time.Time) ([]AppSummary, error) {
	var summaries []AppSummary

	result := r.db.Model(&ActivityEventRow{}).
		Select("app_name, SUM(duration_seconds) as total_seconds, COUNT(*) as event_count").
		Where("start_time >= ? AND state = ?", since, string(models.StateActive)).
		Group("app_name").
		Order("total_seconds DESC").
		Scan(&summaries)

	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query app summary")
	}

	return summaries, nil
}

// GetLatestScreenshot retrieves the most recent screenshot, or nil when
// none has been recorded.
func (r *Repository) GetLatestScreenshot() (*models.ScreenshotRecord, error) {
	var row ScreenshotRow
	result := r.db.Order("captured_at DESC").First(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(result.Error, "failed to get latest screenshot")
	}
	rec := row.toModel()
	return &rec, nil
}

// CountScreenshotsSince counts periodic and action screenshots separately.
func (r *Repository) CountScreenshotsSince(since time.Time) (periodic, actions int64, err error) {
	if err := r.db.Model(&ScreenshotRow{}).
		Where("captured_at >= ? AND action = ?", since, "").
		Count(&periodic).Error; err != nil {
		return 0, 0, errors.Wrap(err, "failed to count screenshots")
	}
	if err := r.db.Model(&ScreenshotRow{}).
		Where("captured_at >= ? AND action <> ?", since, "").
		Count(&actions).Error; err != nil {
		return 0, 0, errors.Wrap(err, "failed to count action screenshots")
	}
	return periodic, actions, nil
}

// DeleteOldEvents deletes events older than a specified date (soft delete)
func (r *Repository) DeleteOldEvents(before time.Time) (int64, error) {
	result := r.db.Where("start_time < ?", before).Delete(&ActivityEventRow{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to delete old events")
	}
	return result.RowsAffected, nil
}

// CreateErrorLog inserts a new error log into the database
func (r *Repository) CreateErrorLog(component string, err error) error {
	entry := ErrorLog{Timestamp: time.Now(), Component: component, ErrorMsg: err.Error()}
	if result := r.db.Create(&entry); result.Error != nil {
		return errors.Wrap(result.Error, "failed to insert error log")
	}
	return nil
}
