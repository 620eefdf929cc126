package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	alertdomain "github.com/smallbiznis/lifecycle/internal/alert/domain"
	referraldomain "github.com/smallbiznis/lifecycle/internal/referral/domain"
	retentiondomain "github.com/smallbiznis/lifecycle/internal/retention/domain"
	settingsdomain "github.com/smallbiznis/lifecycle/internal/settings/domain"
	subscriptiondomain "github.com/smallbiznis/lifecycle/internal/subscription/domain"
)

const (
	JobSubscriptions = "subscriptions"
	JobRetention     = "retention"
	JobReferrals     = "referrals"
	JobAlerts        = "alerts"
)

// Jobs lists every job in the order RunOnce executes them. Subscriptions run
// before retention so expiries are visible to the retention pass.
var Jobs = []string{JobSubscriptions, JobRetention, JobReferrals, JobAlerts}

var ErrUnknownJob = errors.New("unknown_job")

// ParseJob normalizes a job name from the command line.
func ParseJob(raw string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if !lo.Contains(Jobs, name) {
		return "", fmt.Errorf("%w: %q", ErrUnknownJob, raw)
	}
	return name, nil
}

type RunOptions struct {
	DryRun      bool
	NoReminders bool
}

// JobResult is the outcome of one job run.
type JobResult struct {
	Job     string
	Summary fmt.Stringer
	// Skipped is set when another process held the job lock.
	Skipped bool
}

func (r JobResult) String() string {
	if r.Skipped {
		return fmt.Sprintf("job=%s skipped=lock_held", r.Job)
	}
	if r.Summary == nil {
		return fmt.Sprintf("job=%s", r.Job)
	}
	return fmt.Sprintf("job=%s %s", r.Job, r.Summary)
}

func (s *Scheduler) SubscriptionsJob(ctx context.Context, snapshot settingsdomain.Snapshot, opts RunOptions) (fmt.Stringer, error) {
	summary, err := s.subscriptions.Evaluate(ctx, snapshot, subscriptiondomain.EvaluateOptions{
		DryRun:        opts.DryRun,
		SendReminders: !opts.NoReminders,
	})
	s.record(ctx, summary.Evaluated, summary.Failed)
	return summary, err
}

func (s *Scheduler) RetentionJob(ctx context.Context, snapshot settingsdomain.Snapshot, opts RunOptions) (fmt.Stringer, error) {
	summary, err := s.retention.EvaluateAll(ctx, snapshot, retentiondomain.EvaluateOptions{DryRun: opts.DryRun})
	s.record(ctx, summary.Evaluated, summary.Failed)
	return summary, err
}

func (s *Scheduler) ReferralsJob(ctx context.Context, snapshot settingsdomain.Snapshot, opts RunOptions) (fmt.Stringer, error) {
	summary, err := s.referrals.ProcessPending(ctx, snapshot, referraldomain.RecordOptions{DryRun: opts.DryRun})
	s.record(ctx, summary.Evaluated, summary.Failed)
	return summary, err
}

func (s *Scheduler) AlertsJob(ctx context.Context, snapshot settingsdomain.Snapshot, opts RunOptions) (fmt.Stringer, error) {
	summary, err := s.alerts.Evaluate(ctx, snapshot, alertdomain.EvaluateOptions{DryRun: opts.DryRun})
	s.record(ctx, summary.Evaluated, summary.Failed)
	return summary, err
}

func (s *Scheduler) record(ctx context.Context, processed, failed int) {
	run := jobRunFromContext(ctx)
	run.AddProcessed(processed)
	run.AddErrors(failed)
}
