package database

import (
	"time"

	"gorm.io/gorm"

	"github.com/snaptrail/snaptrail/internal/models"
)

type ActivityEventRow struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	StartTime        time.Time      `gorm:"not null;index" json:"start_time"`
	EndTime          time.Time      `gorm:"not null" json:"end_time"`
	DurationSeconds  float64        `gorm:"not null;default:0" json:"duration_seconds"`
	AppName          string         `gorm:"not null;index" json:"app_name"`
	WindowTitle      string         `gorm:"not null" json:"window_title"`
	State            string         `gorm:"not null" json:"state"` // "active" or "inactive"
	InteractionLevel string         `gorm:"not null" json:"interaction_level"`
	CreatedAt        time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

func (ActivityEventRow) TableName() string { return "activity_events" }

func (r ActivityEventRow) toModel() models.ActivityEvent {
	end := r.EndTime
	return models.ActivityEvent{
		StartTime:        r.StartTime,
		EndTime:          &end,
		DurationSeconds:  r.DurationSeconds,
		AppName:          r.AppName,
		WindowTitle:      r.WindowTitle,
		State:            models.State(r.State),
		InteractionLevel: models.InteractionLevel(r.InteractionLevel),
	}
}

type ScreenshotRow struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CapturedAt  time.Time `gorm:"not null;index" json:"captured_at"`
	FilePath    string    `gorm:"not null;uniqueIndex" json:"file_path"`
	AppName     string    `gorm:"not null;index" json:"app_name"`
	WindowTitle string    `gorm:"not null" json:"window_title"`
	Hash        string    `json:"hash"`
	Action      string    `gorm:"index" json:"action"` // empty for periodic screenshots
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ScreenshotRow) TableName() string { return "screenshots" }

func (r ScreenshotRow) toModel() models.ScreenshotRecord {
	return models.ScreenshotRecord{
		CapturedAt:  r.CapturedAt,
		FilePath:    r.FilePath,
		AppName:     r.AppName,
		WindowTitle: r.WindowTitle,
		Hash:        r.Hash,
		Action:      models.Action(r.Action),
	}
}

type IdleResumptionRow struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ResumedAt   time.Time `gorm:"not null;index" json:"resumed_at"`
	IdleSeconds float64   `gorm:"not null" json:"idle_seconds"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (IdleResumptionRow) TableName() string { return "idle_resumptions" }

type ErrorLog struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Timestamp time.Time      `gorm:"not null;index" json:"timestamp"`
	Component string         `gorm:"not null;index" json:"component"`
	ErrorMsg  string         `gorm:"not null" json:"error_msg"`
	CreatedAt time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// AppSummary aggregates active time per application.
type AppSummary struct {
	AppName      string  `json:"app_name"`
	TotalSeconds float64 `json:"total_seconds"`
	EventCount   int     `json:"event_count"`
}
