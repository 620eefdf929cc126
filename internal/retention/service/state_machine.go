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
	retentiondomain "github.com/smallbiznis/lifecycle/internal/retention/domain"
	settingsdomain "github.com/smallbiznis/lifecycle/internal/settings/domain"
	subscriptiondomain "github.com/smallbiznis/lifecycle/internal/subscription/domain"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StateMachine advances tenant retention state from subscription entitlement.
type StateMachine interface {
	Evaluate(ctx context.Context, orgID snowflake.ID, snapshot settingsdomain.Snapshot, opts retentiondomain.EvaluateOptions) (retentiondomain.Evaluation, error)
	EvaluateAll(ctx context.Context, snapshot settingsdomain.Snapshot, opts retentiondomain.EvaluateOptions) (retentiondomain.EvaluationSummary, error)
}

var statusTemplates = map[retentiondomain.Status]string{
	retentiondomain.StatusActive:        notification.TemplateRetentionActive,
	retentiondomain.StatusGraceReadonly: notification.TemplateRetentionGraceReadonly,
	retentiondomain.StatusArchived:      notification.TemplateRetentionArchived,
	retentiondomain.StatusPendingDelete: notification.TemplateRetentionPendingDelete,
}

var statusSubjects = map[retentiondomain.Status]string{
	retentiondomain.StatusActive:        "Your workspace is active again",
	retentiondomain.StatusGraceReadonly: "Your workspace is now read-only",
	retentiondomain.StatusArchived:      "Your workspace has been archived",
	retentiondomain.StatusPendingDelete: "Your workspace is scheduled for deletion",
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	Repo       retentiondomain.Repository
	OrgRepo    organizationdomain.Repository
	SubRepo    subscriptiondomain.Repository
	Outbox     *events.Outbox
	Sender     notification.Sender
	JobMetrics *obsmetrics.JobMetrics `optional:"true"`
	Metrics    *obsmetrics.Metrics    `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	genID      *snowflake.Node
	repo       retentiondomain.Repository
	orgRepo    organizationdomain.Repository
	subRepo    subscriptiondomain.Repository
	outbox     *events.Outbox
	sender     notification.Sender
	jobMetrics *obsmetrics.JobMetrics
	metrics    *obsmetrics.Metrics
}

func NewService(p Params) StateMachine {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("retention.state_machine"),
		clock:      p.Clock,
		genID:      p.GenID,
		repo:       p.Repo,
		orgRepo:    p.OrgRepo,
		subRepo:    p.SubRepo,
		outbox:     p.Outbox,
		sender:     p.Sender,
		jobMetrics: p.JobMetrics,
		metrics:    p.Metrics,
	}
}

func (s *Service) EvaluateAll(ctx context.Context, snapshot settingsdomain.Snapshot, opts retentiondomain.EvaluateOptions) (retentiondomain.EvaluationSummary, error) {
	var (
		summary retentiondomain.EvaluationSummary
		mu      sync.Mutex
		afterID snowflake.ID
	)
	limit := snapshot.PageSize()

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		ids, err := s.orgRepo.ListIDsAfter(ctx, s.db, afterID, limit)
		if err != nil {
			return summary, fmt.Errorf("%w: list organizations: %w", settingsdomain.ErrDataStoreUnavailable, err)
		}
		if len(ids) == 0 {
			return summary, nil
		}

		p := pool.New().WithMaxGoroutines(snapshot.Workers())
		for _, orgID := range ids {
			p.Go(func() {
				ev, err := s.Evaluate(ctx, orgID, snapshot, opts)

				mu.Lock()
				defer mu.Unlock()
				summary.Evaluated++
				if err != nil {
					summary.Failed++
					s.jobMetrics.IncEntityFailure(obsmetrics.ComponentRetention, err)
					obslogger.WithContext(ctx, s.log).Error("retention.evaluate.failed",
						zap.String("org_id", orgID.String()),
						zap.String("error_type", obsmetrics.ClassifyJobReason(err)),
						zap.Bool("retryable", obsmetrics.IsRetryable(err)),
						zap.Error(err),
					)
					return
				}
				if ev.Changed() {
					summary.Transitioned++
				}
			})
		}
		p.Wait()

		afterID = ids[len(ids)-1]
		if len(ids) < limit {
			return summary, nil
		}
	}
}

// Evaluate runs one tenant through the state machine. The organization row is
// locked for the duration so concurrent runs serialize per tenant.
func (s *Service) Evaluate(ctx context.Context, orgID snowflake.ID, snapshot settingsdomain.Snapshot, opts retentiondomain.EvaluateOptions) (retentiondomain.Evaluation, error) {
	ctx = obscontext.WithOrgID(ctx, orgID.String())
	s.jobMetrics.IncEntityProcessed(obsmetrics.ComponentRetention)
	now := s.clock.Now()

	var (
		ev  retentiondomain.Evaluation
		org *organizationdomain.Organization
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		org, err = s.orgRepo.FindByIDForUpdate(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if org == nil {
			return retentiondomain.ErrOrganizationNotFound
		}

		override, err := s.repo.FindOverride(ctx, tx, orgID)
		if err != nil {
			return err
		}
		policy := retentiondomain.Resolve(snapshot.RetentionPolicy, override)

		entitled, expiresAt, err := s.entitlement(ctx, tx, *org, now)
		if err != nil {
			return err
		}

		current, err := s.repo.FindStatusForUpdate(ctx, tx, orgID)
		if err != nil {
			return err
		}
		record := retentiondomain.TenantRetentionStatus{OrgID: orgID}
		if current != nil {
			record = *current
		}

		ev = retentiondomain.Advance(record, entitled, expiresAt, policy, now)
		if opts.DryRun {
			s.logEvaluation(ctx, ev, "retention.evaluate.dry_run")
			return nil
		}
		return s.persist(ctx, tx, current, &ev, expiresAt, now)
	})
	if err != nil {
		return retentiondomain.Evaluation{}, err
	}

	if !opts.DryRun && ev.Changed() {
		for _, hop := range ev.Transitions() {
			s.jobMetrics.IncTransition(obsmetrics.ComponentRetention, string(hop.From), string(hop.To))
			s.metrics.RecordTransition(ctx, obsmetrics.ComponentRetention, string(hop.From), string(hop.To))
		}
		s.logEvaluation(ctx, ev, "retention.transitioned")
		s.notify(ctx, *org, ev.Record)
	}
	return ev, nil
}

// entitlement reports whether the tenant's authoritative subscription grants
// access, and the instant the tenant's access lapsed or will lapse.
func (s *Service) entitlement(ctx context.Context, tx *gorm.DB, org organizationdomain.Organization, now time.Time) (bool, time.Time, error) {
	sub, err := s.subRepo.FindAuthoritativeByOrg(ctx, tx, org.ID)
	if err != nil {
		return false, time.Time{}, err
	}
	if sub == nil {
		return false, org.CreatedAt.UTC(), nil
	}

	plan, err := s.subRepo.FindPlan(ctx, tx, sub.PlanID)
	if err != nil {
		return false, time.Time{}, err
	}
	entitled, err := subscriptiondomain.IsEntitled(*sub, plan, now)
	if err != nil {
		return false, time.Time{}, err
	}

	end, endErr := sub.EffectiveEndDate()
	if endErr != nil {
		obslogger.WithContext(ctx, s.log).Warn("retention.end_date.unresolved",
			zap.String("subscription_id", sub.ID.String()),
			zap.Error(endErr),
		)
		if entitled && sub.TrialEnd != nil {
			return true, sub.TrialEnd.UTC(), nil
		}
	}
	return entitled, end, nil
}

func (s *Service) persist(ctx context.Context, tx *gorm.DB, current *retentiondomain.TenantRetentionStatus, ev *retentiondomain.Evaluation, expiresAt, now time.Time) error {
	ev.Record.UpdatedAt = now
	if current == nil {
		ev.Record.ID = s.genID.Generate()
		ev.Record.CreatedAt = now
		inserted, err := s.repo.InsertStatus(ctx, tx, ev.Record)
		if err != nil {
			return err
		}
		if !inserted {
			return retentiondomain.ErrStatusConflict
		}
	} else {
		updated, err := s.repo.UpdateStatus(ctx, tx, ev.Record, current.Status)
		if err != nil {
			return err
		}
		if !updated {
			return retentiondomain.ErrStatusConflict
		}
	}

	for _, hop := range ev.Transitions() {
		if _, err := s.outbox.PublishTx(ctx, tx, now, events.Event{
			OrgID:     ev.Record.OrgID,
			Type:      events.TypeRetentionTransitioned,
			DedupeKey: fmt.Sprintf("%s:%s:%s:%d", events.TypeRetentionTransitioned, hop.From, hop.To, expiresAt.Unix()),
			Payload: map[string]any{
				"org_id":      ev.Record.OrgID.String(),
				"from":        string(hop.From),
				"to":          string(hop.To),
				"expires_at":  formatTime(ev.Record.SubscriptionExpiresAt),
				"grace_until": formatTime(ev.Record.GraceUntil),
			},
		}); err != nil {
			return err
		}
	}
	return nil
}

// notify tells the tenant owner about the state it ended in. Failures are logged only.
func (s *Service) notify(ctx context.Context, org organizationdomain.Organization, record retentiondomain.TenantRetentionStatus) {
	templateKey, ok := statusTemplates[record.Status]
	if !ok {
		return
	}
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("org_id", org.ID.String()),
		zap.String("template", templateKey),
	)
	if org.OwnerEmail == "" {
		log.Warn("retention.notify.skipped", zap.Error(notification.ErrNoRecipients))
		return
	}

	err := s.sender.Send(ctx, []string{org.OwnerEmail}, statusSubjects[record.Status], templateKey, map[string]any{
		"org_name":      org.Name,
		"expires_at":    formatTime(record.SubscriptionExpiresAt),
		"grace_until":   formatTime(record.GraceUntil),
		"archive_until": formatTime(record.ArchiveUntil),
	})
	s.metrics.RecordNotification(ctx, templateKey, err == nil)
	if err != nil {
		s.jobMetrics.IncNotificationFailure(templateKey)
		log.Warn("retention.notify.failed", zap.Error(err))
	}
}

func (s *Service) logEvaluation(ctx context.Context, ev retentiondomain.Evaluation, msg string) {
	obslogger.WithContext(ctx, s.log).Info(msg,
		zap.String("org_id", ev.Record.OrgID.String()),
		zap.String("from", string(ev.From)),
		zap.String("to", string(ev.To)),
		zap.Int("hops", len(ev.Path)),
	)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.DateOnly)
}
