package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/lifecycle/internal/clock"
	"github.com/smallbiznis/lifecycle/internal/events"
	"github.com/smallbiznis/lifecycle/internal/money"
	obslogger "github.com/smallbiznis/lifecycle/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/lifecycle/internal/observability/metrics"
	organizationdomain "github.com/smallbiznis/lifecycle/internal/organization/domain"
	referraldomain "github.com/smallbiznis/lifecycle/internal/referral/domain"
	settingsdomain "github.com/smallbiznis/lifecycle/internal/settings/domain"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Engine records referral commissions exactly once per referred entity.
type Engine interface {
	RecordOrgReferralEarning(ctx context.Context, transferID snowflake.ID, snapshot settingsdomain.Snapshot, opts referraldomain.RecordOptions) (referraldomain.EarningResult, error)
	RecordDealerOrgReferralEarning(ctx context.Context, transferID snowflake.ID, snapshot settingsdomain.Snapshot, opts referraldomain.RecordOptions) (referraldomain.EarningResult, error)
	RecordDealerReferralFlatEarning(ctx context.Context, dealerID snowflake.ID, snapshot settingsdomain.Snapshot, opts referraldomain.RecordOptions) (referraldomain.EarningResult, error)
	ProcessPending(ctx context.Context, snapshot settingsdomain.Snapshot, opts referraldomain.RecordOptions) (referraldomain.ProcessSummary, error)
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	Repo       referraldomain.Repository
	OrgRepo    organizationdomain.Repository
	Outbox     *events.Outbox
	JobMetrics *obsmetrics.JobMetrics `optional:"true"`
	Metrics    *obsmetrics.Metrics    `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	genID      *snowflake.Node
	repo       referraldomain.Repository
	orgRepo    organizationdomain.Repository
	outbox     *events.Outbox
	jobMetrics *obsmetrics.JobMetrics
	metrics    *obsmetrics.Metrics
}

func NewService(p Params) Engine {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("referral.engine"),
		clock:      p.Clock,
		genID:      p.GenID,
		repo:       p.Repo,
		orgRepo:    p.OrgRepo,
		outbox:     p.Outbox,
		jobMetrics: p.JobMetrics,
		metrics:    p.Metrics,
	}
}

// orgPath captures what differs between the org and dealer commission paths.
type orgPath struct {
	kind       referraldomain.EarningKind
	referrer   func(org organizationdomain.Organization) *snowflake.ID
	rate       func(settings referraldomain.ReferralSettings) decimal.Decimal
	hasEarning func(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) (bool, error)
	// checkReferrer may reject the referrer after the duplicate checks pass.
	checkReferrer func(ctx context.Context, tx *gorm.DB, referrerID snowflake.ID, now time.Time) (referraldomain.Outcome, error)
	insert        func(ctx context.Context, tx *gorm.DB, result referraldomain.EarningResult, transfer referraldomain.PendingTransfer, now time.Time) (bool, error)
}

func (s *Service) RecordOrgReferralEarning(ctx context.Context, transferID snowflake.ID, snapshot settingsdomain.Snapshot, opts referraldomain.RecordOptions) (referraldomain.EarningResult, error) {
	return s.recordForTransfer(ctx, transferID, snapshot, opts, orgPath{
		kind:       referraldomain.EarningKindOrgCommission,
		referrer:   func(org organizationdomain.Organization) *snowflake.ID { return org.ReferredByID },
		rate:       func(settings referraldomain.ReferralSettings) decimal.Decimal { return settings.CommissionRate },
		hasEarning: s.repo.HasOrgEarning,
		insert: func(ctx context.Context, tx *gorm.DB, result referraldomain.EarningResult, transfer referraldomain.PendingTransfer, now time.Time) (bool, error) {
			return s.repo.InsertOrgEarning(ctx, tx, referraldomain.ReferralEarning{
				ID:               result.EarningID,
				ReferrerOrgID:    result.ReferrerID,
				ReferredOrgID:    *transfer.OrgID,
				TransferID:       transfer.ID,
				BaseAmount:       result.BaseAmount,
				CommissionRate:   result.CommissionRate,
				CommissionAmount: result.CommissionAmount,
				Currency:         result.Currency,
				Status:           referraldomain.EarningStatusPending,
				CreatedAt:        now,
				UpdatedAt:        now,
			})
		},
	})
}

func (s *Service) RecordDealerOrgReferralEarning(ctx context.Context, transferID snowflake.ID, snapshot settingsdomain.Snapshot, opts referraldomain.RecordOptions) (referraldomain.EarningResult, error) {
	return s.recordForTransfer(ctx, transferID, snapshot, opts, orgPath{
		kind:       referraldomain.EarningKindDealerOrgCommission,
		referrer:   func(org organizationdomain.Organization) *snowflake.ID { return org.ReferredByDealerID },
		rate:       func(settings referraldomain.ReferralSettings) decimal.Decimal { return settings.DealerCommissionRate },
		hasEarning: s.repo.HasDealerOrgEarning,
		checkReferrer: func(ctx context.Context, tx *gorm.DB, referrerID snowflake.ID, now time.Time) (referraldomain.Outcome, error) {
			dealer, err := s.repo.FindDealer(ctx, tx, referrerID)
			if err != nil {
				return "", err
			}
			if dealer == nil {
				return referraldomain.OutcomeNoReferrer, nil
			}
			if !dealer.IsActiveAt(now) {
				return referraldomain.OutcomeReferrerInactive, nil
			}
			return "", nil
		},
		insert: func(ctx context.Context, tx *gorm.DB, result referraldomain.EarningResult, transfer referraldomain.PendingTransfer, now time.Time) (bool, error) {
			transferID := transfer.ID
			return s.repo.InsertDealerEarning(ctx, tx, referraldomain.DealerReferralEarning{
				ID:               result.EarningID,
				DealerID:         result.ReferrerID,
				Kind:             referraldomain.EarningKindDealerOrgCommission,
				ReferredOrgID:    transfer.OrgID,
				TransferID:       &transferID,
				BaseAmount:       result.BaseAmount,
				CommissionRate:   result.CommissionRate,
				CommissionAmount: result.CommissionAmount,
				Currency:         result.Currency,
				Status:           referraldomain.EarningStatusPending,
				CreatedAt:        now,
				UpdatedAt:        now,
			})
		},
	})
}

func (s *Service) recordForTransfer(ctx context.Context, transferID snowflake.ID, snapshot settingsdomain.Snapshot, opts referraldomain.RecordOptions, path orgPath) (referraldomain.EarningResult, error) {
	result := referraldomain.EarningResult{Kind: path.kind}
	now := s.clock.Now()
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("transfer_id", transferID.String()),
		zap.String("kind", string(path.kind)),
	)

	var orgID snowflake.ID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		transfer, err := s.repo.FindTransfer(ctx, tx, transferID)
		if err != nil {
			return err
		}
		if transfer == nil {
			return referraldomain.ErrTransferNotFound
		}
		if !transfer.IsCommissionable() || transfer.OrgID == nil {
			result.Outcome = referraldomain.OutcomeNotEligible
			return nil
		}
		orgID = *transfer.OrgID

		org, err := s.orgRepo.FindByIDForUpdate(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if org == nil || path.referrer(*org) == nil {
			result.Outcome = referraldomain.OutcomeNoReferrer
			return nil
		}
		result.ReferrerID = *path.referrer(*org)

		exists, err := path.hasEarning(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if exists {
			result.Outcome = referraldomain.OutcomeDuplicate
			return nil
		}

		earlier, err := s.repo.HasEarlierPaidTransfer(ctx, tx, orgID, *transfer)
		if err != nil {
			return err
		}
		if earlier {
			result.Outcome = referraldomain.OutcomeNotFirstPayment
			return nil
		}

		if path.checkReferrer != nil {
			outcome, err := path.checkReferrer(ctx, tx, result.ReferrerID, now)
			if err != nil {
				return err
			}
			if outcome != "" {
				result.Outcome = outcome
				return nil
			}
		}

		rate := path.rate(referralRates(snapshot))
		if !rate.IsPositive() {
			result.Outcome = referraldomain.OutcomeZeroRate
			return nil
		}
		base := money.ExtractPreTax(transfer.Amount, transfer.Currency, snapshot.TaxRatePercent)
		if !base.IsPositive() {
			result.Outcome = referraldomain.OutcomeZeroBase
			return nil
		}

		result.BaseAmount = base
		result.CommissionRate = rate
		result.CommissionAmount = money.Percent(base, rate)
		result.Currency = transfer.Currency
		result.Outcome = referraldomain.OutcomeCreated
		if opts.DryRun {
			log.Info("referral.earning.dry_run", zap.String("commission", result.CommissionAmount.String()))
			return nil
		}

		result.EarningID = s.genID.Generate()
		inserted, err := path.insert(ctx, tx, result, *transfer, now)
		if err != nil {
			return err
		}
		if !inserted {
			result.Outcome = referraldomain.OutcomeDuplicate
			result.EarningID = 0
			return nil
		}
		return s.publish(ctx, tx, orgID, result, fmt.Sprintf("org:%s", orgID), now)
	})
	if err != nil {
		return referraldomain.EarningResult{Kind: path.kind}, err
	}

	s.finish(ctx, log, result, opts)
	return result, nil
}

func (s *Service) RecordDealerReferralFlatEarning(ctx context.Context, dealerID snowflake.ID, snapshot settingsdomain.Snapshot, opts referraldomain.RecordOptions) (referraldomain.EarningResult, error) {
	result := referraldomain.EarningResult{Kind: referraldomain.EarningKindDealerFlat}
	now := s.clock.Now()
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("dealer_id", dealerID.String()),
		zap.String("kind", string(result.Kind)),
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		referred, err := s.repo.FindDealerForUpdate(ctx, tx, dealerID)
		if err != nil {
			return err
		}
		if referred == nil {
			return referraldomain.ErrDealerNotFound
		}
		if referred.ReferredByDealerID == nil {
			result.Outcome = referraldomain.OutcomeNoReferrer
			return nil
		}
		if !referred.IsActiveAt(now) {
			result.Outcome = referraldomain.OutcomeNotEligible
			return nil
		}

		referrer, err := s.repo.FindDealer(ctx, tx, *referred.ReferredByDealerID)
		if err != nil {
			return err
		}
		if referrer == nil {
			result.Outcome = referraldomain.OutcomeNoReferrer
			return nil
		}
		result.ReferrerID = referrer.ID

		exists, err := s.repo.HasDealerFlatEarning(ctx, tx, referred.ID)
		if err != nil {
			return err
		}
		if exists {
			result.Outcome = referraldomain.OutcomeDuplicate
			return nil
		}
		if !referrer.IsActiveAt(now) {
			result.Outcome = referraldomain.OutcomeReferrerInactive
			return nil
		}

		settings := referralRates(snapshot)
		amount := money.Quantize(settings.DealerReferralFlatAmount)
		if !amount.IsPositive() {
			result.Outcome = referraldomain.OutcomeZeroRate
			return nil
		}

		result.BaseAmount = amount
		result.CommissionRate = decimal.Zero
		result.CommissionAmount = amount
		result.Currency = settings.Currency
		result.Outcome = referraldomain.OutcomeCreated
		if opts.DryRun {
			log.Info("referral.earning.dry_run", zap.String("commission", amount.String()))
			return nil
		}

		result.EarningID = s.genID.Generate()
		referredID := referred.ID
		inserted, err := s.repo.InsertDealerEarning(ctx, tx, referraldomain.DealerReferralEarning{
			ID:               result.EarningID,
			DealerID:         referrer.ID,
			Kind:             referraldomain.EarningKindDealerFlat,
			ReferredDealerID: &referredID,
			BaseAmount:       amount,
			CommissionRate:   decimal.Zero,
			CommissionAmount: amount,
			Currency:         settings.Currency,
			Status:           referraldomain.EarningStatusPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			result.Outcome = referraldomain.OutcomeDuplicate
			result.EarningID = 0
			return nil
		}
		return s.publish(ctx, tx, 0, result, fmt.Sprintf("dealer:%s", referredID), now)
	})
	if err != nil {
		return referraldomain.EarningResult{Kind: result.Kind}, err
	}

	s.finish(ctx, log, result, opts)
	return result, nil
}

// ProcessPending sweeps candidates that may still owe a commission and runs
// each through the matching record operation.
func (s *Service) ProcessPending(ctx context.Context, snapshot settingsdomain.Snapshot, opts referraldomain.RecordOptions) (referraldomain.ProcessSummary, error) {
	var (
		summary referraldomain.ProcessSummary
		mu      sync.Mutex
	)
	if _, err := snapshot.ReferralRates(); errors.Is(err, settingsdomain.ErrConfigurationMissing) {
		obslogger.WithContext(ctx, s.log).Warn("referral.settings.missing", zap.Error(err))
	}

	record := func(entity string, id snowflake.ID, calls ...func() (referraldomain.EarningResult, error)) {
		s.jobMetrics.IncEntityProcessed(obsmetrics.ComponentReferral)
		for _, call := range calls {
			result, err := call()

			mu.Lock()
			summary.Add(result, err)
			mu.Unlock()
			if err != nil {
				s.jobMetrics.IncEntityFailure(obsmetrics.ComponentReferral, err)
				obslogger.WithContext(ctx, s.log).Error("referral.record.failed",
					zap.String(entity, id.String()),
					zap.String("kind", string(result.Kind)),
					zap.String("error_type", obsmetrics.ClassifyJobReason(err)),
					zap.Bool("retryable", obsmetrics.IsRetryable(err)),
					zap.Error(err),
				)
			}
		}
		mu.Lock()
		summary.Evaluated++
		mu.Unlock()
	}

	err := s.sweep(ctx, snapshot, s.repo.ListUnrewardedTransfers, func(id snowflake.ID) {
		record("transfer_id", id,
			func() (referraldomain.EarningResult, error) {
				return s.RecordOrgReferralEarning(ctx, id, snapshot, opts)
			},
			func() (referraldomain.EarningResult, error) {
				return s.RecordDealerOrgReferralEarning(ctx, id, snapshot, opts)
			},
		)
	})
	if err != nil {
		return summary, err
	}

	err = s.sweep(ctx, snapshot, s.repo.ListUnrewardedDealers, func(id snowflake.ID) {
		record("dealer_id", id, func() (referraldomain.EarningResult, error) {
			return s.RecordDealerReferralFlatEarning(ctx, id, snapshot, opts)
		})
	})
	return summary, err
}

type lister func(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error)

func (s *Service) sweep(ctx context.Context, snapshot settingsdomain.Snapshot, list lister, handle func(id snowflake.ID)) error {
	var afterID snowflake.ID
	limit := snapshot.PageSize()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := list(ctx, s.db, afterID, limit)
		if err != nil {
			return fmt.Errorf("%w: list referral candidates: %w", settingsdomain.ErrDataStoreUnavailable, err)
		}
		if len(ids) == 0 {
			return nil
		}

		p := pool.New().WithMaxGoroutines(snapshot.Workers())
		for _, id := range ids {
			p.Go(func() { handle(id) })
		}
		p.Wait()

		afterID = ids[len(ids)-1]
		if len(ids) < limit {
			return nil
		}
	}
}

func (s *Service) publish(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, result referraldomain.EarningResult, subject string, now time.Time) error {
	_, err := s.outbox.PublishTx(ctx, tx, now, events.Event{
		OrgID:     orgID,
		Type:      events.TypeReferralEarningCreated,
		DedupeKey: fmt.Sprintf("%s:%s:%s", events.TypeReferralEarningCreated, result.Kind, subject),
		Payload: map[string]any{
			"earning_id":        result.EarningID.String(),
			"kind":              string(result.Kind),
			"referrer_id":       result.ReferrerID.String(),
			"base_amount":       result.BaseAmount.StringFixed(money.Scale),
			"commission_amount": result.CommissionAmount.StringFixed(money.Scale),
			"currency":          result.Currency,
		},
	})
	return err
}

func (s *Service) finish(ctx context.Context, log *zap.Logger, result referraldomain.EarningResult, opts referraldomain.RecordOptions) {
	switch {
	case result.Outcome == referraldomain.OutcomeDuplicate:
		log.Info("referral.earning.duplicate", zap.Error(referraldomain.ErrDuplicateEarning))
	case result.Created() && !opts.DryRun:
		s.jobMetrics.IncEarningCreated(string(result.Kind))
		s.metrics.RecordEarning(ctx, string(result.Kind), result.Currency)
		log.Info("referral.earning.created",
			zap.String("earning_id", result.EarningID.String()),
			zap.String("referrer_id", result.ReferrerID.String()),
			zap.String("commission", result.CommissionAmount.String()),
		)
	default:
		log.Debug("referral.earning.skipped", zap.String("outcome", string(result.Outcome)))
	}
}

// referralRates treats a missing settings row as zero rates.
func referralRates(snapshot settingsdomain.Snapshot) referraldomain.ReferralSettings {
	settings, err := snapshot.ReferralRates()
	if err != nil {
		return referraldomain.ReferralSettings{}
	}
	return settings
}
