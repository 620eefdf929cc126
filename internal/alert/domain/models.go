// Package domain contains operational alert rules and the counters they watch.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// AlertRule fires when an event counter reaches a threshold within a window.
type AlertRule struct {
	ID              snowflake.ID  `gorm:"primaryKey"`
	Name            string        `gorm:"type:text;not null"`
	EventType       string        `gorm:"type:text;not null;index"`
	OrgID           *snowflake.ID `gorm:"index"`
	ProductSlug     *string       `gorm:"type:text"`
	ThresholdCount  int64         `gorm:"not null"`
	WindowMinutes   int           `gorm:"not null"`
	CooldownMinutes int           `gorm:"not null;default:0"`
	Recipients      string        `gorm:"type:text;not null;default:''"`
	Enabled         bool          `gorm:"not null;index"`
	LastAlertedAt   *time.Time    `gorm:""`
	CreatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AlertRule) TableName() string { return "alert_rules" }

// Cooldown returns the configured cooldown as a duration.
func (r AlertRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// InCooldown reports whether the rule fired too recently to fire again at now.
func (r AlertRule) InCooldown(now time.Time) bool {
	if r.LastAlertedAt == nil || r.CooldownMinutes <= 0 {
		return false
	}
	return now.Sub(*r.LastAlertedAt) < r.Cooldown()
}

// Window returns the first and last day counted for an evaluation at now.
func (r AlertRule) Window(now time.Time) (time.Time, time.Time) {
	from := now.Add(-time.Duration(r.WindowMinutes) * time.Minute)
	return TruncateDay(from), TruncateDay(now)
}

// EventMetric is a daily event counter maintained by business code.
type EventMetric struct {
	ID          snowflake.ID  `gorm:"primaryKey"`
	Date        time.Time     `gorm:"not null;uniqueIndex:ux_event_metric_key,priority:1"`
	OrgID       *snowflake.ID `gorm:"uniqueIndex:ux_event_metric_key,priority:2"`
	ProductSlug string        `gorm:"type:text;not null;default:'';uniqueIndex:ux_event_metric_key,priority:3"`
	EventType   string        `gorm:"type:text;not null;uniqueIndex:ux_event_metric_key,priority:4"`
	Count       int64         `gorm:"not null;default:0"`
}

// TableName sets the database table name.
func (EventMetric) TableName() string { return "event_metrics" }

// MonitoringSettings is the singleton switch for the alerting pass.
type MonitoringSettings struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	AlertsEnabled     bool         `gorm:"not null"`
	DefaultRecipients string       `gorm:"type:text;not null;default:''"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (MonitoringSettings) TableName() string { return "monitoring_settings" }

// TruncateDay returns midnight UTC of t's day.
func TruncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
