package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrOrganizationNotFound = errors.New("organization_not_found")
	ErrStatusConflict       = errors.New("retention_status_conflict")
)

type Repository interface {
	FindOverride(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*TenantRetentionOverride, error)
	FindStatus(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*TenantRetentionStatus, error)
	FindStatusForUpdate(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*TenantRetentionStatus, error)
	// InsertStatus reports false when a row for the organization already exists.
	InsertStatus(ctx context.Context, db *gorm.DB, status TenantRetentionStatus) (bool, error)
	// UpdateStatus writes status only while the stored status still equals expected.
	UpdateStatus(ctx context.Context, db *gorm.DB, status TenantRetentionStatus, expected Status) (bool, error)
}
