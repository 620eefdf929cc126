package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindTransfer(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PendingTransfer, error)
	// HasEarlierPaidTransfer reports whether another approved new or renew transfer
	// for the organization orders before transfer by (updated_at, id).
	HasEarlierPaidTransfer(ctx context.Context, db *gorm.DB, orgID snowflake.ID, transfer PendingTransfer) (bool, error)

	FindDealer(ctx context.Context, db *gorm.DB, id snowflake.ID) (*DealerAccount, error)
	FindDealerForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*DealerAccount, error)

	HasOrgEarning(ctx context.Context, db *gorm.DB, referredOrgID snowflake.ID) (bool, error)
	HasDealerOrgEarning(ctx context.Context, db *gorm.DB, referredOrgID snowflake.ID) (bool, error)
	HasDealerFlatEarning(ctx context.Context, db *gorm.DB, referredDealerID snowflake.ID) (bool, error)

	// Insert methods report false when the unique key already holds an earning.
	InsertOrgEarning(ctx context.Context, db *gorm.DB, earning ReferralEarning) (bool, error)
	InsertDealerEarning(ctx context.Context, db *gorm.DB, earning DealerReferralEarning) (bool, error)

	ListUnrewardedTransfers(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error)
	ListUnrewardedDealers(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error)
}
