// Package domain holds the per-run configuration snapshot shared by every evaluator.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	alertdomain "github.com/smallbiznis/lifecycle/internal/alert/domain"
	referraldomain "github.com/smallbiznis/lifecycle/internal/referral/domain"
	retentiondomain "github.com/smallbiznis/lifecycle/internal/retention/domain"
	"gorm.io/gorm"
)

var (
	ErrConfigurationMissing = errors.New("configuration_missing")
	ErrDataStoreUnavailable = errors.New("data_store_unavailable")
)

// Snapshot is loaded once per run and passed to every component call.
type Snapshot struct {
	TakenAt                time.Time
	TaxRatePercent         decimal.Decimal
	ReminderDays           []int
	DefaultAlertRecipients []string
	Concurrency            int
	BatchSize              int

	// Referral is nil when no settings row exists.
	Referral *referraldomain.ReferralSettings

	RetentionPolicy       retentiondomain.Policy
	RetentionFromDefaults bool

	// Monitoring is nil when no settings row exists; alerting then stays on.
	Monitoring *alertdomain.MonitoringSettings
}

// AlertsEnabled reports whether the alert pass should run.
func (s Snapshot) AlertsEnabled() bool {
	return s.Monitoring == nil || s.Monitoring.AlertsEnabled
}

// ReferralRates returns the settings used for commission, or ErrConfigurationMissing.
// An inactive programme yields zero rates.
func (s Snapshot) ReferralRates() (referraldomain.ReferralSettings, error) {
	if s.Referral == nil {
		return referraldomain.ReferralSettings{}, ErrConfigurationMissing
	}
	if !s.Referral.IsActive {
		return referraldomain.ReferralSettings{Currency: s.Referral.Currency}, nil
	}
	return *s.Referral, nil
}

// Workers returns the bounded worker count for per-entity processing.
func (s Snapshot) Workers() int {
	if s.Concurrency <= 0 {
		return 1
	}
	return s.Concurrency
}

// PageSize returns the batch size used when paging entities.
func (s Snapshot) PageSize() int {
	if s.BatchSize <= 0 {
		return 100
	}
	return s.BatchSize
}

type Repository interface {
	LoadReferralSettings(ctx context.Context, db *gorm.DB) (*referraldomain.ReferralSettings, error)
	LoadGlobalRetentionPolicy(ctx context.Context, db *gorm.DB) (*retentiondomain.GlobalRetentionPolicy, error)
	LoadMonitoringSettings(ctx context.Context, db *gorm.DB) (*alertdomain.MonitoringSettings, error)
}

// Provider builds the snapshot for one run.
type Provider interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}
