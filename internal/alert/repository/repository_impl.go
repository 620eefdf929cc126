package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/smallbiznis/lifecycle/internal/alert/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() alertdomain.Repository {
	return &repo{}
}

func (r *repo) ListEnabledAfter(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]alertdomain.AlertRule, error) {
	var rules []alertdomain.AlertRule
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, event_type, org_id, product_slug, threshold_count, window_minutes,
		 cooldown_minutes, recipients, enabled, last_alerted_at, created_at, updated_at
		 FROM alert_rules
		 WHERE enabled = ? AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		true,
		afterID,
		limit,
	).Scan(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *repo) SumEvents(ctx context.Context, db *gorm.DB, rule alertdomain.AlertRule, fromDay, toDay time.Time) (int64, error) {
	var (
		query strings.Builder
		total int64
	)
	query.WriteString(`SELECT COALESCE(SUM(count), 0) FROM event_metrics
		 WHERE event_type = ? AND date >= ? AND date <= ?`)
	args := []any{rule.EventType, fromDay, toDay}
	if rule.OrgID != nil {
		query.WriteString(` AND org_id = ?`)
		args = append(args, *rule.OrgID)
	}
	if rule.ProductSlug != nil && strings.TrimSpace(*rule.ProductSlug) != "" {
		query.WriteString(` AND product_slug = ?`)
		args = append(args, strings.TrimSpace(*rule.ProductSlug))
	}

	if err := db.WithContext(ctx).Raw(query.String(), args...).Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repo) StampAlerted(ctx context.Context, db *gorm.DB, id snowflake.ID, now, notBefore time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE alert_rules
		 SET last_alerted_at = ?, updated_at = ?
		 WHERE id = ? AND enabled = ?
		 AND (last_alerted_at IS NULL OR last_alerted_at <= ?)`,
		now,
		now,
		id,
		true,
		notBefore,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
