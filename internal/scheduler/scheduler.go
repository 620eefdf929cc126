package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	alertservice "github.com/smallbiznis/lifecycle/internal/alert/service"
	"github.com/smallbiznis/lifecycle/internal/clock"
	"github.com/smallbiznis/lifecycle/internal/config"
	"github.com/smallbiznis/lifecycle/internal/joblock"
	obsmetrics "github.com/smallbiznis/lifecycle/internal/observability/metrics"
	"github.com/smallbiznis/lifecycle/internal/observability/tracing"
	referralservice "github.com/smallbiznis/lifecycle/internal/referral/service"
	retentionservice "github.com/smallbiznis/lifecycle/internal/retention/service"
	settingsdomain "github.com/smallbiznis/lifecycle/internal/settings/domain"
	subscriptiondomain "github.com/smallbiznis/lifecycle/internal/subscription/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Settings      settingsdomain.Provider
	Subscriptions subscriptiondomain.Evaluator
	Retention     retentionservice.StateMachine
	Referrals     referralservice.Engine
	Alerts        alertservice.Evaluator
	Locker        joblock.Locker
	Runtime       *config.RuntimeConfigHolder
	JobMetrics    *obsmetrics.JobMetrics `optional:"true"`
	Config        Config                 `optional:"true"`
}

type jobFunc func(ctx context.Context, snapshot settingsdomain.Snapshot, opts RunOptions) (fmt.Stringer, error)

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	settings   settingsdomain.Provider
	locker     joblock.Locker
	runtime    *config.RuntimeConfigHolder
	jobMetrics *obsmetrics.JobMetrics

	subscriptions subscriptiondomain.Evaluator
	retention     retentionservice.StateMachine
	referrals     referralservice.Engine
	alerts        alertservice.Evaluator

	jobs map[string]jobFunc
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Settings == nil || p.Locker == nil ||
		p.Subscriptions == nil || p.Retention == nil || p.Referrals == nil || p.Alerts == nil {
		return nil, ErrInvalidConfig
	}
	s := &Scheduler{
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		genID:         p.GenID,
		clock:         p.Clock,
		settings:      p.Settings,
		locker:        p.Locker,
		runtime:       p.Runtime,
		jobMetrics:    p.JobMetrics,
		subscriptions: p.Subscriptions,
		retention:     p.Retention,
		referrals:     p.Referrals,
		alerts:        p.Alerts,
	}
	s.jobs = map[string]jobFunc{
		JobSubscriptions: s.SubscriptionsJob,
		JobRetention:     s.RetentionJob,
		JobReferrals:     s.ReferralsJob,
		JobAlerts:        s.AlertsJob,
	}
	return s, nil
}

func (s *Scheduler) runtimeConfig() config.RuntimeConfig {
	if s.runtime == nil {
		return config.DefaultRuntimeConfig()
	}
	return s.runtime.Get()
}

// RunJob executes one named job under its lock and timeout. The returned
// error is systemic; per-entity failures only show up in the summary.
func (s *Scheduler) RunJob(parent context.Context, name string, opts RunOptions) (JobResult, error) {
	fn, ok := s.jobs[name]
	if !ok {
		return JobResult{Job: name}, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	result := JobResult{Job: name}
	timeout := s.runtimeConfig().JobTimeout(name, s.cfg.DefaultTimeout)

	token, acquired, err := s.locker.TryLock(parent, joblock.Key(name), timeout+s.cfg.LockGrace)
	if err != nil {
		return result, fmt.Errorf("%s: lock: %w", name, err)
	}
	if !acquired {
		s.jobMetrics.IncJobSkipped(name)
		s.log.Info("scheduler.job.skipped", zap.String("job", name), zap.String("reason", "lock_held"))
		result.Skipped = true
		return result, nil
	}
	defer func() {
		// The parent may already be cancelled; release on a fresh context.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, joblock.Key(name), token); err != nil {
			s.log.Warn("job lock release failed", zap.String("job", name), zap.Error(err))
		}
	}()

	ctx, span := tracing.StartSpan(parent, "lifecycle.job."+name,
		attribute.String("job", name),
		attribute.Bool("dry_run", opts.DryRun),
	)
	defer span.End()

	err = s.runJob(ctx, name, s.runtimeConfig().BatchSize, timeout, func(ctx context.Context) error {
		snapshot, err := s.settings.Snapshot(ctx)
		if err != nil {
			return err
		}
		summary, err := fn(ctx, snapshot, opts)
		result.Summary = summary
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, obsmetrics.ClassifyJobReason(err))
	}
	return result, err
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(zap.String("job", name))
	s.jobMetrics.IncJobRun(name)

	err := fn(ctx)
	s.jobMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.jobMetrics.IncJobTimeout(name)
	}
	s.jobMetrics.IncJobError(name, err)
	if isTimeout {
		// Entities already committed stay committed; the next run resumes.
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job in order and joins their systemic errors.
func (s *Scheduler) RunOnce(parent context.Context, opts RunOptions) ([]JobResult, error) {
	var (
		err     error
		results []JobResult
	)
	runtime := s.runtimeConfig()
	for _, name := range Jobs {
		if !runtime.JobEnabled(name) {
			s.log.Debug("scheduler.job.disabled", zap.String("job", name))
			continue
		}
		result, jobErr := s.RunJob(parent, name, opts)
		results = append(results, result)
		err = errors.Join(err, jobErr)
	}
	return results, err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			s.jobMetrics.ObserveRunLoopLag(runLag)
		}
		results, err := s.RunOnce(ctx, RunOptions{})
		for _, result := range results {
			s.log.Info(result.String())
		}
		if err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
