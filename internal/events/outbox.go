// Package events records lifecycle facts in an append-only event table written
// in the same transaction as the state change. Readers consume rows by id.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lifecycle/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	TypeSubscriptionExpired         = "subscription.expired"
	TypeSubscriptionRenewalReminder = "subscription.renewal_reminder"
	TypeRetentionTransitioned       = "retention.transitioned"
	TypeReferralEarningCreated      = "referral.earning_created"
)

var ErrInvalidEvent = errors.New("invalid_event")

// LifecycleEvent is an immutable event row. DedupeKey is unique per organization.
type LifecycleEvent struct {
	ID        snowflake.ID   `gorm:"primaryKey"`
	OrgID     snowflake.ID   `gorm:"not null;index;uniqueIndex:ux_lifecycle_event_dedupe,priority:1"`
	EventType string         `gorm:"type:text;not null;index"`
	Payload   datatypes.JSON `gorm:"type:jsonb;not null"`
	DedupeKey string         `gorm:"type:text;not null;uniqueIndex:ux_lifecycle_event_dedupe,priority:2"`
	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LifecycleEvent) TableName() string { return "lifecycle_events" }

type Event struct {
	OrgID     snowflake.ID
	Type      string
	DedupeKey string
	Payload   map[string]any
}

type Outbox struct {
	genID *snowflake.Node
}

func NewOutbox(genID *snowflake.Node) *Outbox {
	return &Outbox{genID: genID}
}

// PublishTx stores the event on tx. A repeated dedupe key is ignored and reported as false.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, now time.Time, event Event) (bool, error) {
	eventType := strings.TrimSpace(event.Type)
	dedupeKey := strings.TrimSpace(event.DedupeKey)
	if eventType == "" || dedupeKey == "" {
		return false, ErrInvalidEvent
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return false, err
	}

	result := tx.WithContext(ctx).Exec(
		db.InsertIgnore(tx, `INSERT INTO lifecycle_events (id, org_id, event_type, payload, dedupe_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		o.genID.Generate(),
		event.OrgID,
		eventType,
		datatypes.JSON(payload),
		dedupeKey,
		now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
