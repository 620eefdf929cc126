// Package domain contains referral programme models and commission outcomes.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type RequestType string

const (
	RequestTypeNew    RequestType = "new"
	RequestTypeRenew  RequestType = "renew"
	RequestTypeAddon  RequestType = "addon"
	RequestTypeDealer RequestType = "dealer"
)

type TransferStatus string

const (
	TransferStatusPending  TransferStatus = "pending"
	TransferStatusApproved TransferStatus = "approved"
	TransferStatusRejected TransferStatus = "rejected"
)

// PendingTransfer is a billing request awaiting or holding manual approval.
type PendingTransfer struct {
	ID          snowflake.ID    `gorm:"primaryKey"`
	RequestType RequestType     `gorm:"type:text;not null;index"`
	Status      TransferStatus  `gorm:"type:text;not null;index"`
	Amount      decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Currency    string          `gorm:"type:text;not null"`
	OrgID       *snowflake.ID   `gorm:"index"`
	DealerID    *snowflake.ID   `gorm:"index"`
	CreatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	ApprovedAt  *time.Time      `gorm:""`
}

// TableName sets the database table name.
func (PendingTransfer) TableName() string { return "pending_transfers" }

// IsCommissionable reports whether the transfer can earn a referral commission.
func (t PendingTransfer) IsCommissionable() bool {
	if t.Status != TransferStatusApproved {
		return false
	}
	return t.RequestType == RequestTypeNew || t.RequestType == RequestTypeRenew
}

// ReferralSettings is the singleton commission configuration.
type ReferralSettings struct {
	ID                       snowflake.ID    `gorm:"primaryKey"`
	IsActive                 bool            `gorm:"not null"`
	CommissionRate           decimal.Decimal `gorm:"type:numeric(5,2);not null;default:0"`
	DealerCommissionRate     decimal.Decimal `gorm:"type:numeric(5,2);not null;default:0"`
	DealerReferralFlatAmount decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	Currency                 string          `gorm:"type:text;not null;default:'INR'"`
	CreatedAt                time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt                time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ReferralSettings) TableName() string { return "referral_settings" }

type DealerStatus string

const (
	DealerStatusActive   DealerStatus = "active"
	DealerStatusInactive DealerStatus = "inactive"
	DealerStatusExpired  DealerStatus = "expired"
)

// DealerAccount is a reseller that earns commission on referred tenants and dealers.
type DealerAccount struct {
	ID                 snowflake.ID  `gorm:"primaryKey"`
	Name               string        `gorm:"type:text;not null"`
	OwnerEmail         string        `gorm:"type:text"`
	ReferredByDealerID *snowflake.ID `gorm:"index"`
	SubscriptionStatus DealerStatus  `gorm:"type:text;not null;default:'inactive'"`
	SubscriptionEnd    *time.Time    `gorm:""`
	CreatedAt          time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (DealerAccount) TableName() string { return "dealer_accounts" }

// IsActiveAt reports whether the dealer holds a paid seat at now.
func (d DealerAccount) IsActiveAt(now time.Time) bool {
	if d.SubscriptionStatus != DealerStatusActive {
		return false
	}
	return d.SubscriptionEnd == nil || !d.SubscriptionEnd.Before(now)
}

type EarningStatus string

const (
	EarningStatusPending  EarningStatus = "pending"
	EarningStatusPaid     EarningStatus = "paid"
	EarningStatusRejected EarningStatus = "rejected"
)

// ReferralEarning is the one commission owed to a referring organization.
type ReferralEarning struct {
	ID               snowflake.ID    `gorm:"primaryKey"`
	ReferrerOrgID    snowflake.ID    `gorm:"not null;index"`
	ReferredOrgID    snowflake.ID    `gorm:"not null;uniqueIndex:ux_referral_earnings_referred_org"`
	TransferID       snowflake.ID    `gorm:"not null;index"`
	BaseAmount       decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	CommissionRate   decimal.Decimal `gorm:"type:numeric(5,2);not null"`
	CommissionAmount decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Currency         string          `gorm:"type:text;not null"`
	Status           EarningStatus   `gorm:"type:text;not null"`
	CreatedAt        time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ReferralEarning) TableName() string { return "referral_earnings" }

type EarningKind string

const (
	EarningKindOrgCommission       EarningKind = "org_commission"
	EarningKindDealerOrgCommission EarningKind = "dealer_org_commission"
	EarningKindDealerFlat          EarningKind = "dealer_flat"
)

// DealerReferralEarning is owed to a dealer for a referred organization or dealer.
type DealerReferralEarning struct {
	ID               snowflake.ID    `gorm:"primaryKey"`
	DealerID         snowflake.ID    `gorm:"not null;index"`
	Kind             EarningKind     `gorm:"type:text;not null"`
	ReferredOrgID    *snowflake.ID   `gorm:"uniqueIndex:ux_dealer_earnings_referred_org"`
	ReferredDealerID *snowflake.ID   `gorm:"uniqueIndex:ux_dealer_earnings_referred_dealer"`
	TransferID       *snowflake.ID   `gorm:"index"`
	BaseAmount       decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	CommissionRate   decimal.Decimal `gorm:"type:numeric(5,2);not null"`
	CommissionAmount decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Currency         string          `gorm:"type:text;not null"`
	Status           EarningStatus   `gorm:"type:text;not null"`
	CreatedAt        time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (DealerReferralEarning) TableName() string { return "dealer_referral_earnings" }
