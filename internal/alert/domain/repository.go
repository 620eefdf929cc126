package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// ListEnabledAfter pages enabled rules in id order.
	ListEnabledAfter(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]AlertRule, error)
	// SumEvents totals the rule's counters over the inclusive day range.
	SumEvents(ctx context.Context, db *gorm.DB, rule AlertRule, fromDay, toDay time.Time) (int64, error)
	// StampAlerted sets last_alerted_at unless the rule fired after notBefore.
	StampAlerted(ctx context.Context, db *gorm.DB, id snowflake.ID, now, notBefore time.Time) (bool, error)
}
