// Package domain contains tenant data-retention models and policy rules.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is a tenant's position in the retention lifecycle.
type Status string

const (
	StatusActive        Status = "active"
	StatusGraceReadonly Status = "grace_readonly"
	StatusArchived      Status = "archived"
	StatusPendingDelete Status = "pending_delete"
	StatusDeleted       Status = "deleted"
)

// ActionList is a JSON array of action names. A nil list is stored as NULL.
type ActionList []string

func (a ActionList) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *ActionList) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan action list: unsupported type %T", value)
	}
	if len(raw) == 0 || string(raw) == "null" {
		*a = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	if out == nil {
		out = []string{}
	}
	*a = out
	return nil
}

// GlobalRetentionPolicy is the platform-wide singleton policy.
type GlobalRetentionPolicy struct {
	ID                        snowflake.ID `gorm:"primaryKey"`
	GraceDays                 int          `gorm:"not null;default:30"`
	ArchiveDays               int          `gorm:"not null;default:60"`
	HardDeleteDays            int          `gorm:"not null;default:0"`
	AllowedActionsDuringGrace ActionList   `gorm:"type:jsonb"`
	CreatedAt                 time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt                 time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (GlobalRetentionPolicy) TableName() string { return "global_retention_policies" }

// Policy returns the row as an effective policy.
func (g GlobalRetentionPolicy) Policy() Policy {
	return Policy{
		GraceDays:                 g.GraceDays,
		ArchiveDays:               g.ArchiveDays,
		HardDeleteDays:            g.HardDeleteDays,
		AllowedActionsDuringGrace: cloneActions(g.AllowedActionsDuringGrace),
	}
}

// TenantRetentionOverride replaces individual global policy fields for one tenant.
// A nil field falls back to the global value.
type TenantRetentionOverride struct {
	ID                        snowflake.ID `gorm:"primaryKey"`
	OrgID                     snowflake.ID `gorm:"not null;uniqueIndex:ux_retention_override_org"`
	GraceDays                 *int         `gorm:""`
	ArchiveDays               *int         `gorm:""`
	HardDeleteDays            *int         `gorm:""`
	AllowedActionsDuringGrace ActionList   `gorm:"type:jsonb"`
	CreatedAt                 time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt                 time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TenantRetentionOverride) TableName() string { return "tenant_retention_overrides" }

// TenantRetentionStatus is the persisted retention state of one tenant.
type TenantRetentionStatus struct {
	ID                    snowflake.ID `gorm:"primaryKey"`
	OrgID                 snowflake.ID `gorm:"not null;uniqueIndex:ux_retention_status_org"`
	Status                Status       `gorm:"type:text;not null;index"`
	SubscriptionExpiresAt *time.Time   `gorm:""`
	GraceUntil            *time.Time   `gorm:""`
	ArchiveUntil          *time.Time   `gorm:""`
	DeletedAt             *time.Time   `gorm:""`
	LastEvaluatedAt       *time.Time   `gorm:""`
	CreatedAt             time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt             time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TenantRetentionStatus) TableName() string { return "tenant_retention_statuses" }
