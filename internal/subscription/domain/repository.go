package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// ListActiveAfter pages active subscriptions in id order.
	ListActiveAfter(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]Subscription, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	// FindAuthoritativeByOrg returns the most recently started non-pending subscription.
	FindAuthoritativeByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*Subscription, error)
	FindPlan(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	MarkExpired(ctx context.Context, db *gorm.DB, id snowflake.ID, endDate, now time.Time) (bool, error)
	SetEndDate(ctx context.Context, db *gorm.DB, id snowflake.ID, endDate, now time.Time) (bool, error)
	StampReminder(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
}
