package repository

import (
	"context"

	alertdomain "github.com/smallbiznis/lifecycle/internal/alert/domain"
	referraldomain "github.com/smallbiznis/lifecycle/internal/referral/domain"
	retentiondomain "github.com/smallbiznis/lifecycle/internal/retention/domain"
	settingsdomain "github.com/smallbiznis/lifecycle/internal/settings/domain"
	"github.com/smallbiznis/lifecycle/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() settingsdomain.Repository {
	return &repo{}
}

// Singletons are read as the lowest id row.

// LoadReferralSettings prefers the lowest id active row and falls back to the
// lowest id row when none is active.
func (r *repo) LoadReferralSettings(ctx context.Context, db *gorm.DB) (*referraldomain.ReferralSettings, error) {
	return repository.ProvideStore[referraldomain.ReferralSettings](db).
		FindOne(ctx, &referraldomain.ReferralSettings{}, repository.OrderBy("is_active DESC, id ASC"))
}

func (r *repo) LoadGlobalRetentionPolicy(ctx context.Context, db *gorm.DB) (*retentiondomain.GlobalRetentionPolicy, error) {
	return repository.ProvideStore[retentiondomain.GlobalRetentionPolicy](db).
		FindOne(ctx, &retentiondomain.GlobalRetentionPolicy{}, repository.OrderBy("id ASC"))
}

func (r *repo) LoadMonitoringSettings(ctx context.Context, db *gorm.DB) (*alertdomain.MonitoringSettings, error) {
	return repository.ProvideStore[alertdomain.MonitoringSettings](db).
		FindOne(ctx, &alertdomain.MonitoringSettings{}, repository.OrderBy("id ASC"))
}
