package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	referraldomain "github.com/smallbiznis/lifecycle/internal/referral/domain"
	"github.com/smallbiznis/lifecycle/pkg/db"
	"gorm.io/gorm"
)

const (
	transferColumns = `id, request_type, status, amount, currency, org_id, dealer_id, created_at, updated_at, approved_at`
	dealerColumns   = `id, name, owner_email, referred_by_dealer_id, subscription_status, subscription_end, created_at, updated_at`
)

var paidRequestTypes = []referraldomain.RequestType{referraldomain.RequestTypeNew, referraldomain.RequestTypeRenew}

type repo struct{}

func Provide() referraldomain.Repository {
	return &repo{}
}

func (r *repo) FindTransfer(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*referraldomain.PendingTransfer, error) {
	var transfer referraldomain.PendingTransfer
	err := conn.WithContext(ctx).Raw(
		`SELECT `+transferColumns+` FROM pending_transfers WHERE id = ?`,
		id,
	).Scan(&transfer).Error
	if err != nil {
		return nil, err
	}
	if transfer.ID == 0 {
		return nil, nil
	}
	return &transfer, nil
}

func (r *repo) HasEarlierPaidTransfer(ctx context.Context, conn *gorm.DB, orgID snowflake.ID, transfer referraldomain.PendingTransfer) (bool, error) {
	var count int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM pending_transfers
		 WHERE org_id = ? AND id <> ? AND status = ? AND request_type IN ?
		 AND (updated_at < ? OR (updated_at = ? AND id < ?))`,
		orgID,
		transfer.ID,
		referraldomain.TransferStatusApproved,
		paidRequestTypes,
		transfer.UpdatedAt,
		transfer.UpdatedAt,
		transfer.ID,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) FindDealer(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*referraldomain.DealerAccount, error) {
	return r.findDealer(ctx, conn, `SELECT `+dealerColumns+` FROM dealer_accounts WHERE id = ?`, id)
}

func (r *repo) FindDealerForUpdate(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*referraldomain.DealerAccount, error) {
	return r.findDealer(ctx, conn, `SELECT `+dealerColumns+` FROM dealer_accounts WHERE id = ? FOR UPDATE`, id)
}

func (r *repo) findDealer(ctx context.Context, conn *gorm.DB, query string, id snowflake.ID) (*referraldomain.DealerAccount, error) {
	var dealer referraldomain.DealerAccount
	if err := conn.WithContext(ctx).Raw(query, id).Scan(&dealer).Error; err != nil {
		return nil, err
	}
	if dealer.ID == 0 {
		return nil, nil
	}
	return &dealer, nil
}

func (r *repo) HasOrgEarning(ctx context.Context, conn *gorm.DB, referredOrgID snowflake.ID) (bool, error) {
	return r.exists(ctx, conn, `SELECT COUNT(1) FROM referral_earnings WHERE referred_org_id = ?`, referredOrgID)
}

func (r *repo) HasDealerOrgEarning(ctx context.Context, conn *gorm.DB, referredOrgID snowflake.ID) (bool, error) {
	return r.exists(ctx, conn, `SELECT COUNT(1) FROM dealer_referral_earnings WHERE referred_org_id = ?`, referredOrgID)
}

func (r *repo) HasDealerFlatEarning(ctx context.Context, conn *gorm.DB, referredDealerID snowflake.ID) (bool, error) {
	return r.exists(ctx, conn, `SELECT COUNT(1) FROM dealer_referral_earnings WHERE referred_dealer_id = ?`, referredDealerID)
}

func (r *repo) exists(ctx context.Context, conn *gorm.DB, query string, args ...any) (bool, error) {
	var count int64
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) InsertOrgEarning(ctx context.Context, conn *gorm.DB, earning referraldomain.ReferralEarning) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		db.InsertIgnore(conn, `INSERT INTO referral_earnings (
			id, referrer_org_id, referred_org_id, transfer_id, base_amount, commission_rate,
			commission_amount, currency, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		earning.ID,
		earning.ReferrerOrgID,
		earning.ReferredOrgID,
		earning.TransferID,
		earning.BaseAmount,
		earning.CommissionRate,
		earning.CommissionAmount,
		earning.Currency,
		earning.Status,
		earning.CreatedAt,
		earning.UpdatedAt,
	)
	return insertResult(result)
}

func (r *repo) InsertDealerEarning(ctx context.Context, conn *gorm.DB, earning referraldomain.DealerReferralEarning) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		db.InsertIgnore(conn, `INSERT INTO dealer_referral_earnings (
			id, dealer_id, kind, referred_org_id, referred_dealer_id, transfer_id, base_amount,
			commission_rate, commission_amount, currency, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		earning.ID,
		earning.DealerID,
		earning.Kind,
		earning.ReferredOrgID,
		earning.ReferredDealerID,
		earning.TransferID,
		earning.BaseAmount,
		earning.CommissionRate,
		earning.CommissionAmount,
		earning.Currency,
		earning.Status,
		earning.CreatedAt,
		earning.UpdatedAt,
	)
	return insertResult(result)
}

func insertResult(result *gorm.DB) (bool, error) {
	if result.Error != nil {
		if db.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListUnrewardedTransfers pages approved paid transfers of referred organizations
// that do not hold an earning for their referrer yet.
func (r *repo) ListUnrewardedTransfers(ctx context.Context, conn *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := conn.WithContext(ctx).Raw(
		`SELECT t.id FROM pending_transfers t
		 JOIN organizations o ON o.id = t.org_id
		 WHERE t.status = ? AND t.request_type IN ? AND t.id > ?
		 AND (
			(o.referred_by_id IS NOT NULL
			 AND NOT EXISTS (SELECT 1 FROM referral_earnings e WHERE e.referred_org_id = o.id))
			OR (o.referred_by_dealer_id IS NOT NULL
			 AND NOT EXISTS (SELECT 1 FROM dealer_referral_earnings d WHERE d.referred_org_id = o.id))
		 )
		 ORDER BY t.id ASC
		 LIMIT ?`,
		referraldomain.TransferStatusApproved,
		paidRequestTypes,
		afterID,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListUnrewardedDealers pages active dealers referred by another dealer without a flat earning.
func (r *repo) ListUnrewardedDealers(ctx context.Context, conn *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := conn.WithContext(ctx).Raw(
		`SELECT a.id FROM dealer_accounts a
		 WHERE a.referred_by_dealer_id IS NOT NULL AND a.subscription_status = ? AND a.id > ?
		 AND NOT EXISTS (SELECT 1 FROM dealer_referral_earnings d WHERE d.referred_dealer_id = a.id)
		 ORDER BY a.id ASC
		 LIMIT ?`,
		referraldomain.DealerStatusActive,
		afterID,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
