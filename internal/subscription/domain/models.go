// Package domain contains persistence models and lifecycle rules for subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Status represents lifecycle states for a subscription.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusTrialing Status = "trialing"
	StatusExpired  Status = "expired"
)

// BillingCycle is the renewal period of a subscription.
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

// Plan is a purchasable tier of a product.
type Plan struct {
	ID           snowflake.ID      `gorm:"primaryKey"`
	ProductID    snowflake.ID      `gorm:"not null;index"`
	Name         string            `gorm:"type:text;not null"`
	PriceMonthly decimal.Decimal   `gorm:"type:numeric(12,2);not null;default:0"`
	PriceYearly  decimal.Decimal   `gorm:"type:numeric(12,2);not null;default:0"`
	Currency     string            `gorm:"type:text;not null"`
	Limits       datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	AllowAddons  bool              `gorm:"not null;default:false"`
	TrialDays    int               `gorm:"not null;default:0"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// HasTrial reports whether the plan grants a trial period.
func (p Plan) HasTrial() bool { return p.TrialDays > 0 }

// Subscription ties an organization to a plan for a billing period.
type Subscription struct {
	ID                    snowflake.ID `gorm:"primaryKey"`
	OrgID                 snowflake.ID `gorm:"not null;index"`
	PlanID                snowflake.ID `gorm:"not null;index"`
	Status                Status       `gorm:"type:text;not null;index"`
	StartDate             time.Time    `gorm:"not null"`
	EndDate               *time.Time   `gorm:""`
	TrialEnd              *time.Time   `gorm:""`
	BillingCycle          BillingCycle `gorm:"type:text;not null"`
	LastRenewalReminderAt *time.Time   `gorm:""`
	CreatedAt             time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt             time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }
