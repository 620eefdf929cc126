package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/lifecycle/internal/subscription/domain"
	"gorm.io/gorm"
)

const subscriptionColumns = `id, org_id, plan_id, status, start_date, end_date, trial_end, billing_cycle,
	last_renewal_reminder_at, created_at, updated_at`

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) ListActiveAfter(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]subscriptiondomain.Subscription, error) {
	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE status = ? AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		subscriptiondomain.StatusActive,
		afterID,
		limit,
	).Scan(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ? FOR UPDATE`,
		id,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) FindAuthoritativeByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE org_id = ? AND status <> ?
		 ORDER BY start_date DESC, id DESC
		 LIMIT 1`,
		orgID,
		subscriptiondomain.StatusPending,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) FindPlan(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Plan, error) {
	var plan subscriptiondomain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT id, product_id, name, price_monthly, price_yearly, currency, limits, allow_addons,
		 trial_days, created_at, updated_at
		 FROM plans WHERE id = ?`,
		id,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) MarkExpired(ctx context.Context, db *gorm.DB, id snowflake.ID, endDate, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, end_date = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		subscriptiondomain.StatusExpired,
		endDate,
		now,
		id,
		subscriptiondomain.StatusActive,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) SetEndDate(ctx context.Context, db *gorm.DB, id snowflake.ID, endDate, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET end_date = ?, updated_at = ?
		 WHERE id = ? AND end_date IS NULL`,
		endDate,
		now,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// StampReminder sets the reminder stamp unless another run stamped within the interval.
func (r *repo) StampReminder(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET last_renewal_reminder_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?
		 AND (last_renewal_reminder_at IS NULL OR last_renewal_reminder_at <= ?)`,
		now,
		now,
		id,
		subscriptiondomain.StatusActive,
		now.Add(-subscriptiondomain.ReminderInterval),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
