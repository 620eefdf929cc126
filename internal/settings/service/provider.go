package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	alertdomain "github.com/smallbiznis/lifecycle/internal/alert/domain"
	"github.com/smallbiznis/lifecycle/internal/clock"
	"github.com/smallbiznis/lifecycle/internal/config"
	retentiondomain "github.com/smallbiznis/lifecycle/internal/retention/domain"
	settingsdomain "github.com/smallbiznis/lifecycle/internal/settings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    settingsdomain.Repository
	Runtime *config.RuntimeConfigHolder
}

type Provider struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    settingsdomain.Repository
	runtime *config.RuntimeConfigHolder
}

func NewProvider(p Params) settingsdomain.Provider {
	return &Provider{
		db:      p.DB,
		log:     p.Log.Named("settings.provider"),
		clock:   p.Clock,
		repo:    p.Repo,
		runtime: p.Runtime,
	}
}

// Snapshot combines the runtime file config with the singleton rows.
// Any read failure is reported as ErrDataStoreUnavailable.
func (p *Provider) Snapshot(ctx context.Context) (settingsdomain.Snapshot, error) {
	rc := p.runtime.Get()

	referral, err := p.repo.LoadReferralSettings(ctx, p.db)
	if err != nil {
		return settingsdomain.Snapshot{}, fmt.Errorf("%w: referral settings: %w", settingsdomain.ErrDataStoreUnavailable, err)
	}
	global, err := p.repo.LoadGlobalRetentionPolicy(ctx, p.db)
	if err != nil {
		return settingsdomain.Snapshot{}, fmt.Errorf("%w: retention policy: %w", settingsdomain.ErrDataStoreUnavailable, err)
	}
	monitoring, err := p.repo.LoadMonitoringSettings(ctx, p.db)
	if err != nil {
		return settingsdomain.Snapshot{}, fmt.Errorf("%w: monitoring settings: %w", settingsdomain.ErrDataStoreUnavailable, err)
	}

	snap := settingsdomain.Snapshot{
		TakenAt:        p.clock.Now(),
		TaxRatePercent: decimal.NewFromFloat(rc.TaxRatePercent),
		ReminderDays:   append([]int(nil), rc.ReminderDays...),
		Concurrency:    rc.Concurrency,
		BatchSize:      rc.BatchSize,
		Referral:       referral,
		Monitoring:     monitoring,
	}

	if global != nil {
		snap.RetentionPolicy = global.Policy()
	} else {
		snap.RetentionFromDefaults = true
		snap.RetentionPolicy = retentiondomain.Policy{
			GraceDays:                 rc.DefaultRetention.GraceDays,
			ArchiveDays:               rc.DefaultRetention.ArchiveDays,
			HardDeleteDays:            rc.DefaultRetention.HardDeleteDays,
			AllowedActionsDuringGrace: []string{retentiondomain.ActionExport},
		}
	}

	defaults := rc.DefaultAlertRecipients
	if monitoring != nil {
		defaults = append(append([]string(nil), defaults...), alertdomain.ParseRecipients(monitoring.DefaultRecipients)...)
	}
	snap.DefaultAlertRecipients = alertdomain.NormalizeRecipients(defaults)

	if referral == nil {
		p.log.Warn("referral settings missing, commission rates treated as zero",
			zap.Error(settingsdomain.ErrConfigurationMissing),
		)
	}
	if snap.RetentionFromDefaults {
		p.log.Info("global retention policy missing, using runtime defaults",
			zap.Int("grace_days", snap.RetentionPolicy.GraceDays),
			zap.Int("archive_days", snap.RetentionPolicy.ArchiveDays),
			zap.Int("hard_delete_days", snap.RetentionPolicy.HardDeleteDays),
		)
	}
	return snap, nil
}
