package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lifecycle/internal/clock"
	"github.com/smallbiznis/lifecycle/internal/events"
	"github.com/smallbiznis/lifecycle/internal/notification"
	obscontext "github.com/smallbiznis/lifecycle/internal/observability/context"
	obslogger "github.com/smallbiznis/lifecycle/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/lifecycle/internal/observability/metrics"
	organizationdomain "github.com/smallbiznis/lifecycle/internal/organization/domain"
	settingsdomain "github.com/smallbiznis/lifecycle/internal/settings/domain"
	subscriptiondomain "github.com/smallbiznis/lifecycle/internal/subscription/domain"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type outcome int

const (
	outcomeNone outcome = iota
	outcomeExpired
	outcomeReminded
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       subscriptiondomain.Repository
	OrgRepo    organizationdomain.Repository
	Outbox     *events.Outbox
	Sender     notification.Sender
	JobMetrics *obsmetrics.JobMetrics `optional:"true"`
	Metrics    *obsmetrics.Metrics    `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       subscriptiondomain.Repository
	orgRepo    organizationdomain.Repository
	outbox     *events.Outbox
	sender     notification.Sender
	jobMetrics *obsmetrics.JobMetrics
	metrics    *obsmetrics.Metrics
}

func NewService(p Params) subscriptiondomain.Evaluator {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("subscription.evaluator"),
		clock:      p.Clock,
		repo:       p.Repo,
		orgRepo:    p.OrgRepo,
		outbox:     p.Outbox,
		sender:     p.Sender,
		jobMetrics: p.JobMetrics,
		metrics:    p.Metrics,
	}
}

// Evaluate walks every active subscription once. Per-subscription failures are
// counted in the summary; only a failed page read aborts the pass.
func (s *Service) Evaluate(ctx context.Context, snapshot settingsdomain.Snapshot, opts subscriptiondomain.EvaluateOptions) (subscriptiondomain.EvaluationSummary, error) {
	var (
		summary subscriptiondomain.EvaluationSummary
		mu      sync.Mutex
		afterID snowflake.ID
	)
	now := s.clock.Now()
	limit := snapshot.PageSize()

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		page, err := s.repo.ListActiveAfter(ctx, s.db, afterID, limit)
		if err != nil {
			return summary, fmt.Errorf("%w: list subscriptions: %w", settingsdomain.ErrDataStoreUnavailable, err)
		}
		if len(page) == 0 {
			return summary, nil
		}

		p := pool.New().WithMaxGoroutines(snapshot.Workers())
		for _, sub := range page {
			p.Go(func() {
				result, err := s.evaluateOne(ctx, sub, snapshot, opts, now)

				mu.Lock()
				defer mu.Unlock()
				summary.Evaluated++
				if err != nil {
					summary.Failed++
					s.logEntityError(ctx, sub, err)
					return
				}
				switch result {
				case outcomeExpired:
					summary.Expired++
				case outcomeReminded:
					summary.Reminders++
				}
			})
		}
		p.Wait()

		afterID = page[len(page)-1].ID
		if len(page) < limit {
			return summary, nil
		}
	}
}

func (s *Service) evaluateOne(ctx context.Context, candidate subscriptiondomain.Subscription, snapshot settingsdomain.Snapshot, opts subscriptiondomain.EvaluateOptions, now time.Time) (outcome, error) {
	ctx = obscontext.WithOrgID(ctx, candidate.OrgID.String())
	s.jobMetrics.IncEntityProcessed(obsmetrics.ComponentSubscription)

	result := outcomeNone
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByIDForUpdate(ctx, tx, candidate.ID)
		if err != nil {
			return err
		}
		if sub == nil || subscriptiondomain.ParseStatus(string(sub.Status)) != subscriptiondomain.StatusActive {
			return nil
		}

		end, endErr := sub.EffectiveEndDate()
		if endErr != nil {
			obslogger.WithContext(ctx, s.log).Warn("subscription.end_date.unresolved",
				zap.String("subscription_id", sub.ID.String()),
				zap.String("billing_cycle", string(sub.BillingCycle)),
				zap.Error(endErr),
			)
		}
		plan, err := s.repo.FindPlan(ctx, tx, sub.PlanID)
		if err != nil {
			return err
		}
		live, err := subscriptiondomain.IsLive(*sub, plan, now)
		if err != nil {
			return err
		}

		if !live {
			expired, err := s.expire(ctx, tx, *sub, end, now, opts.DryRun)
			if expired {
				result = outcomeExpired
			}
			return err
		}

		if sub.EndDate == nil && !opts.DryRun {
			if _, err := s.repo.SetEndDate(ctx, tx, sub.ID, end, now); err != nil {
				return err
			}
		}

		if !opts.SendReminders || !subscriptiondomain.ReminderDue(*sub, end, now, snapshot.ReminderDays) {
			return nil
		}
		reminded, err := s.remind(ctx, tx, *sub, plan, end, now, opts.DryRun)
		if reminded {
			result = outcomeReminded
		}
		return err
	})
	if err != nil {
		return outcomeNone, err
	}
	return result, nil
}

func (s *Service) expire(ctx context.Context, tx *gorm.DB, sub subscriptiondomain.Subscription, end, now time.Time, dryRun bool) (bool, error) {
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("subscription_id", sub.ID.String()),
		zap.Time("end_date", end),
	)
	if dryRun {
		log.Info("subscription.expire.dry_run")
		return true, nil
	}

	updated, err := s.repo.MarkExpired(ctx, tx, sub.ID, end, now)
	if err != nil || !updated {
		return false, err
	}

	if _, err := s.outbox.PublishTx(ctx, tx, now, events.Event{
		OrgID:     sub.OrgID,
		Type:      events.TypeSubscriptionExpired,
		DedupeKey: fmt.Sprintf("%s:%s", events.TypeSubscriptionExpired, sub.ID),
		Payload: map[string]any{
			"subscription_id": sub.ID.String(),
			"org_id":          sub.OrgID.String(),
			"plan_id":         sub.PlanID.String(),
			"billing_cycle":   string(sub.BillingCycle),
			"end_date":        end.Format(time.RFC3339),
		},
	}); err != nil {
		return false, err
	}

	from, to := string(subscriptiondomain.StatusActive), string(subscriptiondomain.StatusExpired)
	s.jobMetrics.IncTransition(obsmetrics.ComponentSubscription, from, to)
	s.metrics.RecordTransition(ctx, obsmetrics.ComponentSubscription, from, to)
	log.Info("subscription.expired")
	return true, nil
}

// remind stamps and sends inside tx so a failed send leaves the stamp unset.
func (s *Service) remind(ctx context.Context, tx *gorm.DB, sub subscriptiondomain.Subscription, plan *subscriptiondomain.Plan, end, now time.Time, dryRun bool) (bool, error) {
	daysLeft := subscriptiondomain.DaysLeft(end, now)
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("subscription_id", sub.ID.String()),
		zap.Int("days_left", daysLeft),
	)

	org, err := s.orgRepo.FindByID(ctx, tx, sub.OrgID)
	if err != nil {
		return false, err
	}
	if org == nil || org.OwnerEmail == "" {
		return false, subscriptiondomain.ErrMissingOwnerEmail
	}
	if dryRun {
		log.Info("subscription.reminder.dry_run", zap.String("recipient", org.OwnerEmail))
		return true, nil
	}

	stamped, err := s.repo.StampReminder(ctx, tx, sub.ID, now)
	if err != nil || !stamped {
		return false, err
	}

	if _, err := s.outbox.PublishTx(ctx, tx, now, events.Event{
		OrgID:     sub.OrgID,
		Type:      events.TypeSubscriptionRenewalReminder,
		DedupeKey: fmt.Sprintf("%s:%s:%s", events.TypeSubscriptionRenewalReminder, sub.ID, now.Format(time.DateOnly)),
		Payload: map[string]any{
			"subscription_id": sub.ID.String(),
			"days_left":       daysLeft,
			"end_date":        end.Format(time.RFC3339),
		},
	}); err != nil {
		return false, err
	}

	planName := ""
	if plan != nil {
		planName = plan.Name
	}
	err = s.sender.Send(ctx, []string{org.OwnerEmail},
		fmt.Sprintf("Your subscription ends in %d day(s)", daysLeft),
		notification.TemplateRenewalReminder,
		map[string]any{
			"org_name":  org.Name,
			"plan_name": planName,
			"days_left": daysLeft,
			"end_date":  end.Format(time.DateOnly),
		},
	)
	s.metrics.RecordNotification(ctx, notification.TemplateRenewalReminder, err == nil)
	if err != nil {
		s.jobMetrics.IncNotificationFailure(notification.TemplateRenewalReminder)
		return false, err
	}

	log.Info("subscription.reminder.sent")
	return true, nil
}

func (s *Service) logEntityError(ctx context.Context, sub subscriptiondomain.Subscription, err error) {
	s.jobMetrics.IncEntityFailure(obsmetrics.ComponentSubscription, err)
	obslogger.WithContext(ctx, s.log).Error("subscription.evaluate.failed",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("org_id", sub.OrgID.String()),
		zap.String("error_type", obsmetrics.ClassifyJobReason(err)),
		zap.Bool("retryable", obsmetrics.IsRetryable(err)),
		zap.Error(err),
	)
}
