// Package seed inserts the default singleton settings rows.
package seed

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	alertdomain "github.com/smallbiznis/lifecycle/internal/alert/domain"
	"github.com/smallbiznis/lifecycle/internal/clock"
	"github.com/smallbiznis/lifecycle/internal/config"
	referraldomain "github.com/smallbiznis/lifecycle/internal/referral/domain"
	retentiondomain "github.com/smallbiznis/lifecycle/internal/retention/domain"
	"github.com/smallbiznis/lifecycle/pkg/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultReferralCurrency = "INR"

// Result reports which singletons were created by this call.
type Result struct {
	RetentionPolicy  bool
	ReferralSettings bool
	Monitoring       bool
}

func (r Result) Created() int {
	n := 0
	for _, created := range []bool{r.RetentionPolicy, r.ReferralSettings, r.Monitoring} {
		if created {
			n++
		}
	}
	return n
}

// EnsureDefaults creates any missing singleton row. Existing rows are left untouched.
func EnsureDefaults(ctx context.Context, db *gorm.DB, node *snowflake.Node, c clock.Clock, runtime config.RuntimeConfig, log *zap.Logger) (Result, error) {
	if db == nil {
		return Result{}, errors.New("seed database handle is required")
	}
	if node == nil {
		return Result{}, errors.New("seed id generator is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	now := c.Now()

	var result Result
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result.RetentionPolicy, err = ensure(ctx, tx, &retentiondomain.GlobalRetentionPolicy{
			ID:                        node.Generate(),
			GraceDays:                 runtime.DefaultRetention.GraceDays,
			ArchiveDays:               runtime.DefaultRetention.ArchiveDays,
			HardDeleteDays:            runtime.DefaultRetention.HardDeleteDays,
			AllowedActionsDuringGrace: retentiondomain.ActionList{retentiondomain.ActionExport},
			CreatedAt:                 now,
			UpdatedAt:                 now,
		})
		if err != nil {
			return err
		}

		result.ReferralSettings, err = ensure(ctx, tx, &referraldomain.ReferralSettings{
			ID:                       node.Generate(),
			IsActive:                 false,
			CommissionRate:           decimal.Zero,
			DealerCommissionRate:     decimal.Zero,
			DealerReferralFlatAmount: decimal.Zero,
			Currency:                 defaultReferralCurrency,
			CreatedAt:                now,
			UpdatedAt:                now,
		})
		if err != nil {
			return err
		}

		result.Monitoring, err = ensure(ctx, tx, &alertdomain.MonitoringSettings{
			ID:                node.Generate(),
			AlertsEnabled:     true,
			DefaultRecipients: strings.Join(runtime.DefaultAlertRecipients, ","),
			CreatedAt:         now,
			UpdatedAt:         now,
		})
		return err
	})
	if err != nil {
		return Result{}, err
	}

	log.Info("seed completed",
		zap.Bool("retention_policy_created", result.RetentionPolicy),
		zap.Bool("referral_settings_created", result.ReferralSettings),
		zap.Bool("monitoring_settings_created", result.Monitoring),
	)
	return result, nil
}

func ensure[T any](ctx context.Context, tx *gorm.DB, row *T) (bool, error) {
	store := repository.ProvideStore[T](tx)
	count, err := store.Count(ctx, new(T))
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	if err := store.Create(ctx, row); err != nil {
		return false, err
	}
	return true, nil
}
