package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/smallbiznis/lifecycle/internal/alert/domain"
	"github.com/smallbiznis/lifecycle/internal/clock"
	"github.com/smallbiznis/lifecycle/internal/notification"
	obslogger "github.com/smallbiznis/lifecycle/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/lifecycle/internal/observability/metrics"
	settingsdomain "github.com/smallbiznis/lifecycle/internal/settings/domain"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Evaluator fires alert rules whose event counters crossed their threshold.
type Evaluator interface {
	Evaluate(ctx context.Context, snapshot settingsdomain.Snapshot, opts alertdomain.EvaluateOptions) (alertdomain.EvaluationSummary, error)
}

type outcome int

const (
	outcomeQuiet outcome = iota
	outcomeFired
	outcomeSkipped
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       alertdomain.Repository
	Sender     notification.Sender
	JobMetrics *obsmetrics.JobMetrics `optional:"true"`
	Metrics    *obsmetrics.Metrics    `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       alertdomain.Repository
	sender     notification.Sender
	jobMetrics *obsmetrics.JobMetrics
	metrics    *obsmetrics.Metrics
}

func NewService(p Params) Evaluator {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("alert.evaluator"),
		clock:      p.Clock,
		repo:       p.Repo,
		sender:     p.Sender,
		jobMetrics: p.JobMetrics,
		metrics:    p.Metrics,
	}
}

func (s *Service) Evaluate(ctx context.Context, snapshot settingsdomain.Snapshot, opts alertdomain.EvaluateOptions) (alertdomain.EvaluationSummary, error) {
	var (
		summary alertdomain.EvaluationSummary
		mu      sync.Mutex
		afterID snowflake.ID
	)
	if !snapshot.AlertsEnabled() {
		obslogger.WithContext(ctx, s.log).Info("alert.pass.disabled")
		return summary, nil
	}

	now := s.clock.Now()
	limit := snapshot.PageSize()
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		rules, err := s.repo.ListEnabledAfter(ctx, s.db, afterID, limit)
		if err != nil {
			return summary, fmt.Errorf("%w: list alert rules: %w", settingsdomain.ErrDataStoreUnavailable, err)
		}
		if len(rules) == 0 {
			return summary, nil
		}

		p := pool.New().WithMaxGoroutines(snapshot.Workers())
		for _, rule := range rules {
			p.Go(func() {
				result, err := s.evaluateRule(ctx, rule, snapshot, opts, now)

				mu.Lock()
				defer mu.Unlock()
				summary.Evaluated++
				switch {
				case err != nil:
					summary.Failed++
					s.jobMetrics.IncEntityFailure(obsmetrics.ComponentAlert, err)
					obslogger.WithContext(ctx, s.log).Error("alert.evaluate.failed",
						zap.String("rule_id", rule.ID.String()),
						zap.String("error_type", obsmetrics.ClassifyJobReason(err)),
						zap.Bool("retryable", obsmetrics.IsRetryable(err)),
						zap.Error(err),
					)
				case result == outcomeFired:
					summary.Fired++
				case result == outcomeSkipped:
					summary.Skipped++
				}
			})
		}
		p.Wait()

		afterID = rules[len(rules)-1].ID
		if len(rules) < limit {
			return summary, nil
		}
	}
}

func (s *Service) evaluateRule(ctx context.Context, rule alertdomain.AlertRule, snapshot settingsdomain.Snapshot, opts alertdomain.EvaluateOptions, now time.Time) (outcome, error) {
	s.jobMetrics.IncEntityProcessed(obsmetrics.ComponentAlert)
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("rule_id", rule.ID.String()),
		zap.String("event_type", rule.EventType),
	)

	if rule.InCooldown(now) {
		log.Debug("alert.rule.cooldown")
		return outcomeSkipped, nil
	}

	fromDay, toDay := rule.Window(now)
	count, err := s.repo.SumEvents(ctx, s.db, rule, fromDay, toDay)
	if err != nil {
		return outcomeQuiet, err
	}
	if count < rule.ThresholdCount {
		return outcomeQuiet, nil
	}

	recipients := alertdomain.NormalizeRecipients(alertdomain.ParseRecipients(rule.Recipients), snapshot.DefaultAlertRecipients)
	if len(recipients) == 0 {
		log.Warn("alert.rule.skipped", zap.Error(alertdomain.ErrNoRecipients), zap.Int64("count", count))
		return outcomeSkipped, nil
	}
	if opts.DryRun {
		log.Info("alert.rule.dry_run", zap.Int64("count", count), zap.Strings("recipients", recipients))
		return outcomeFired, nil
	}

	var stamped bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		stamped, err = s.repo.StampAlerted(ctx, tx, rule.ID, now, now.Add(-rule.Cooldown()))
		return err
	})
	if err != nil {
		return outcomeQuiet, err
	}
	if !stamped {
		log.Debug("alert.rule.claimed_elsewhere")
		return outcomeSkipped, nil
	}

	s.jobMetrics.IncAlertFired()
	s.metrics.RecordAlert(ctx, rule.EventType)
	log.Info("alert.rule.fired", zap.Int64("count", count), zap.Int64("threshold", rule.ThresholdCount))

	s.dispatch(ctx, log, rule, recipients, count)
	return outcomeFired, nil
}

// dispatch runs after the stamp committed; a failed delivery keeps the stamp.
func (s *Service) dispatch(ctx context.Context, log *zap.Logger, rule alertdomain.AlertRule, recipients []string, count int64) {
	data := map[string]any{
		"rule_name":      rule.Name,
		"event_type":     rule.EventType,
		"count":          count,
		"threshold":      rule.ThresholdCount,
		"window_minutes": rule.WindowMinutes,
	}
	if rule.OrgID != nil {
		data["org_id"] = rule.OrgID.String()
	}
	if rule.ProductSlug != nil && strings.TrimSpace(*rule.ProductSlug) != "" {
		data["product_slug"] = *rule.ProductSlug
	}

	subject := fmt.Sprintf("[alert] %s: %d %s events", rule.Name, count, rule.EventType)
	err := s.sender.Send(ctx, recipients, subject, notification.TemplateAlertTriggered, data)
	s.metrics.RecordNotification(ctx, notification.TemplateAlertTriggered, err == nil)
	if err != nil {
		s.jobMetrics.IncNotificationFailure(notification.TemplateAlertTriggered)
		log.Warn("alert.notify.failed", zap.Error(err))
	}
}
