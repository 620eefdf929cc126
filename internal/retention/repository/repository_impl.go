package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	retentiondomain "github.com/smallbiznis/lifecycle/internal/retention/domain"
	"github.com/smallbiznis/lifecycle/pkg/db"
	"gorm.io/gorm"
)

const statusColumns = `id, org_id, status, subscription_expires_at, grace_until, archive_until,
	deleted_at, last_evaluated_at, created_at, updated_at`

type repo struct{}

func Provide() retentiondomain.Repository {
	return &repo{}
}

func (r *repo) FindOverride(ctx context.Context, conn *gorm.DB, orgID snowflake.ID) (*retentiondomain.TenantRetentionOverride, error) {
	var override retentiondomain.TenantRetentionOverride
	err := conn.WithContext(ctx).Raw(
		`SELECT id, org_id, grace_days, archive_days, hard_delete_days, allowed_actions_during_grace,
		 created_at, updated_at
		 FROM tenant_retention_overrides
		 WHERE org_id = ?`,
		orgID,
	).Scan(&override).Error
	if err != nil {
		return nil, err
	}
	if override.ID == 0 {
		return nil, nil
	}
	return &override, nil
}

func (r *repo) FindStatus(ctx context.Context, conn *gorm.DB, orgID snowflake.ID) (*retentiondomain.TenantRetentionStatus, error) {
	return r.findStatus(ctx, conn, `SELECT `+statusColumns+` FROM tenant_retention_statuses WHERE org_id = ?`, orgID)
}

func (r *repo) FindStatusForUpdate(ctx context.Context, conn *gorm.DB, orgID snowflake.ID) (*retentiondomain.TenantRetentionStatus, error) {
	return r.findStatus(ctx, conn, `SELECT `+statusColumns+` FROM tenant_retention_statuses WHERE org_id = ? FOR UPDATE`, orgID)
}

func (r *repo) findStatus(ctx context.Context, conn *gorm.DB, query string, orgID snowflake.ID) (*retentiondomain.TenantRetentionStatus, error) {
	var status retentiondomain.TenantRetentionStatus
	if err := conn.WithContext(ctx).Raw(query, orgID).Scan(&status).Error; err != nil {
		return nil, err
	}
	if status.ID == 0 {
		return nil, nil
	}
	return &status, nil
}

func (r *repo) InsertStatus(ctx context.Context, conn *gorm.DB, status retentiondomain.TenantRetentionStatus) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		db.InsertIgnore(conn, `INSERT INTO tenant_retention_statuses (
			id, org_id, status, subscription_expires_at, grace_until, archive_until,
			deleted_at, last_evaluated_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		status.ID,
		status.OrgID,
		status.Status,
		status.SubscriptionExpiresAt,
		status.GraceUntil,
		status.ArchiveUntil,
		status.DeletedAt,
		status.LastEvaluatedAt,
		status.CreatedAt,
		status.UpdatedAt,
	)
	if result.Error != nil {
		if db.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, status retentiondomain.TenantRetentionStatus, expected retentiondomain.Status) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE tenant_retention_statuses
		 SET status = ?, subscription_expires_at = ?, grace_until = ?, archive_until = ?,
		 deleted_at = ?, last_evaluated_at = ?, updated_at = ?
		 WHERE org_id = ? AND status = ?`,
		status.Status,
		status.SubscriptionExpiresAt,
		status.GraceUntil,
		status.ArchiveUntil,
		status.DeletedAt,
		status.LastEvaluatedAt,
		status.UpdatedAt,
		status.OrgID,
		expected,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
