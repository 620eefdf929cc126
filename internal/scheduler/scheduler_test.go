package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	alertdomain "github.com/smallbiznis/lifecycle/internal/alert/domain"
	"github.com/smallbiznis/lifecycle/internal/clock"
	"github.com/smallbiznis/lifecycle/internal/config"
	"github.com/smallbiznis/lifecycle/internal/joblock"
	obsmetrics "github.com/smallbiznis/lifecycle/internal/observability/metrics"
	referraldomain "github.com/smallbiznis/lifecycle/internal/referral/domain"
	retentiondomain "github.com/smallbiznis/lifecycle/internal/retention/domain"
	settingsdomain "github.com/smallbiznis/lifecycle/internal/settings/domain"
	subscriptiondomain "github.com/smallbiznis/lifecycle/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSettings struct {
	snapshotFn func(ctx context.Context) (settingsdomain.Snapshot, error)
}

func (f fakeSettings) Snapshot(ctx context.Context) (settingsdomain.Snapshot, error) {
	if f.snapshotFn == nil {
		return settingsdomain.Snapshot{BatchSize: 100, Concurrency: 1}, nil
	}
	return f.snapshotFn(ctx)
}

type fakeSubscriptions struct {
	evaluateFn func(ctx context.Context, snapshot settingsdomain.Snapshot, opts subscriptiondomain.EvaluateOptions) (subscriptiondomain.EvaluationSummary, error)
}

func (f fakeSubscriptions) Evaluate(ctx context.Context, snapshot settingsdomain.Snapshot, opts subscriptiondomain.EvaluateOptions) (subscriptiondomain.EvaluationSummary, error) {
	if f.evaluateFn == nil {
		return subscriptiondomain.EvaluationSummary{}, nil
	}
	return f.evaluateFn(ctx, snapshot, opts)
}

type fakeRetention struct {
	evaluateAllFn func(ctx context.Context, snapshot settingsdomain.Snapshot, opts retentiondomain.EvaluateOptions) (retentiondomain.EvaluationSummary, error)
}

func (f fakeRetention) Evaluate(context.Context, snowflake.ID, settingsdomain.Snapshot, retentiondomain.EvaluateOptions) (retentiondomain.Evaluation, error) {
	return retentiondomain.Evaluation{}, nil
}

func (f fakeRetention) EvaluateAll(ctx context.Context, snapshot settingsdomain.Snapshot, opts retentiondomain.EvaluateOptions) (retentiondomain.EvaluationSummary, error) {
	if f.evaluateAllFn == nil {
		return retentiondomain.EvaluationSummary{}, nil
	}
	return f.evaluateAllFn(ctx, snapshot, opts)
}

type fakeReferrals struct {
	processFn func(ctx context.Context, snapshot settingsdomain.Snapshot, opts referraldomain.RecordOptions) (referraldomain.ProcessSummary, error)
}

func (f fakeReferrals) RecordOrgReferralEarning(context.Context, snowflake.ID, settingsdomain.Snapshot, referraldomain.RecordOptions) (referraldomain.EarningResult, error) {
	return referraldomain.EarningResult{}, nil
}

func (f fakeReferrals) RecordDealerOrgReferralEarning(context.Context, snowflake.ID, settingsdomain.Snapshot, referraldomain.RecordOptions) (referraldomain.EarningResult, error) {
	return referraldomain.EarningResult{}, nil
}

func (f fakeReferrals) RecordDealerReferralFlatEarning(context.Context, snowflake.ID, settingsdomain.Snapshot, referraldomain.RecordOptions) (referraldomain.EarningResult, error) {
	return referraldomain.EarningResult{}, nil
}

func (f fakeReferrals) ProcessPending(ctx context.Context, snapshot settingsdomain.Snapshot, opts referraldomain.RecordOptions) (referraldomain.ProcessSummary, error) {
	if f.processFn == nil {
		return referraldomain.ProcessSummary{}, nil
	}
	return f.processFn(ctx, snapshot, opts)
}

type fakeAlerts struct {
	evaluateFn func(ctx context.Context, snapshot settingsdomain.Snapshot, opts alertdomain.EvaluateOptions) (alertdomain.EvaluationSummary, error)
}

func (f fakeAlerts) Evaluate(ctx context.Context, snapshot settingsdomain.Snapshot, opts alertdomain.EvaluateOptions) (alertdomain.EvaluationSummary, error) {
	if f.evaluateFn == nil {
		return alertdomain.EvaluationSummary{}, nil
	}
	return f.evaluateFn(ctx, snapshot, opts)
}

type fixture struct {
	clock  *clock.FakeClock
	locker *joblock.LocalLocker
	params Params
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	locker := joblock.NewLocalLocker(fc)
	return &fixture{
		clock:  fc,
		locker: locker,
		params: Params{
			Log:           zap.NewNop(),
			GenID:         node,
			Clock:         fc,
			Settings:      fakeSettings{},
			Subscriptions: fakeSubscriptions{},
			Retention:     fakeRetention{},
			Referrals:     fakeReferrals{},
			Alerts:        fakeAlerts{},
			Locker:        locker,
			Runtime:       config.NewStaticRuntimeConfig(config.DefaultRuntimeConfig()),
		},
	}
}

func (f *fixture) scheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(f.params)
	require.NoError(t, err)
	return s
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	f := newFixture(t)
	f.params.Locker = nil

	_, err := New(f.params)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunJobFormatsSummaryLine(t *testing.T) {
	f := newFixture(t)
	var got subscriptiondomain.EvaluateOptions
	f.params.Subscriptions = fakeSubscriptions{evaluateFn: func(_ context.Context, _ settingsdomain.Snapshot, opts subscriptiondomain.EvaluateOptions) (subscriptiondomain.EvaluationSummary, error) {
		got = opts
		return subscriptiondomain.EvaluationSummary{Evaluated: 12, Expired: 2, Reminders: 1}, nil
	}}
	s := f.scheduler(t)

	result, err := s.RunJob(context.Background(), JobSubscriptions, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "job=subscriptions evaluated=12 expired=2 reminders=1 failed=0", result.String())
	assert.True(t, got.SendReminders)
	assert.False(t, got.DryRun)
}

func TestRunJobPassesDryRunAndNoReminders(t *testing.T) {
	f := newFixture(t)
	var got subscriptiondomain.EvaluateOptions
	f.params.Subscriptions = fakeSubscriptions{evaluateFn: func(_ context.Context, _ settingsdomain.Snapshot, opts subscriptiondomain.EvaluateOptions) (subscriptiondomain.EvaluationSummary, error) {
		got = opts
		return subscriptiondomain.EvaluationSummary{}, nil
	}}
	s := f.scheduler(t)

	_, err := s.RunJob(context.Background(), JobSubscriptions, RunOptions{DryRun: true, NoReminders: true})
	require.NoError(t, err)
	assert.True(t, got.DryRun)
	assert.False(t, got.SendReminders)
}

func TestRunJobPerEntityFailuresAreNotSystemic(t *testing.T) {
	f := newFixture(t)
	f.params.Alerts = fakeAlerts{evaluateFn: func(context.Context, settingsdomain.Snapshot, alertdomain.EvaluateOptions) (alertdomain.EvaluationSummary, error) {
		return alertdomain.EvaluationSummary{Evaluated: 3, Fired: 1, Failed: 2}, nil
	}}
	s := f.scheduler(t)

	result, err := s.RunJob(context.Background(), JobAlerts, RunOptions{})
	require.NoError(t, err)
	assert.Contains(t, result.String(), "failed=2")
}

func TestRunJobSnapshotFailureIsSystemic(t *testing.T) {
	f := newFixture(t)
	called := false
	f.params.Settings = fakeSettings{snapshotFn: func(context.Context) (settingsdomain.Snapshot, error) {
		return settingsdomain.Snapshot{}, settingsdomain.ErrDataStoreUnavailable
	}}
	f.params.Retention = fakeRetention{evaluateAllFn: func(context.Context, settingsdomain.Snapshot, retentiondomain.EvaluateOptions) (retentiondomain.EvaluationSummary, error) {
		called = true
		return retentiondomain.EvaluationSummary{}, nil
	}}
	s := f.scheduler(t)

	_, err := s.RunJob(context.Background(), JobRetention, RunOptions{})
	assert.ErrorIs(t, err, settingsdomain.ErrDataStoreUnavailable)
	assert.False(t, called)
}

func TestRunJobUnknownJob(t *testing.T) {
	s := newFixture(t).scheduler(t)

	_, err := s.RunJob(context.Background(), "invoices", RunOptions{})
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestRunJobSkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	called := false
	f.params.Referrals = fakeReferrals{processFn: func(context.Context, settingsdomain.Snapshot, referraldomain.RecordOptions) (referraldomain.ProcessSummary, error) {
		called = true
		return referraldomain.ProcessSummary{}, nil
	}}
	s := f.scheduler(t)

	token, ok, err := f.locker.TryLock(context.Background(), joblock.Key(JobReferrals), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	result, err := s.RunJob(context.Background(), JobReferrals, RunOptions{})
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.False(t, called)
	assert.Equal(t, "job=referrals skipped=lock_held", result.String())

	require.NoError(t, f.locker.Release(context.Background(), joblock.Key(JobReferrals), token))
	result, err = s.RunJob(context.Background(), JobReferrals, RunOptions{})
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.True(t, called)
}

func TestRunJobReleasesLock(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(t)

	_, err := s.RunJob(context.Background(), JobAlerts, RunOptions{})
	require.NoError(t, err)

	_, ok, err := f.locker.TryLock(context.Background(), joblock.Key(JobAlerts), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunOnceRunsEnabledJobsInOrder(t *testing.T) {
	f := newFixture(t)
	var order []string
	f.params.Subscriptions = fakeSubscriptions{evaluateFn: func(context.Context, settingsdomain.Snapshot, subscriptiondomain.EvaluateOptions) (subscriptiondomain.EvaluationSummary, error) {
		order = append(order, JobSubscriptions)
		return subscriptiondomain.EvaluationSummary{}, nil
	}}
	f.params.Retention = fakeRetention{evaluateAllFn: func(context.Context, settingsdomain.Snapshot, retentiondomain.EvaluateOptions) (retentiondomain.EvaluationSummary, error) {
		order = append(order, JobRetention)
		return retentiondomain.EvaluationSummary{}, nil
	}}
	f.params.Referrals = fakeReferrals{processFn: func(context.Context, settingsdomain.Snapshot, referraldomain.RecordOptions) (referraldomain.ProcessSummary, error) {
		order = append(order, JobReferrals)
		return referraldomain.ProcessSummary{}, nil
	}}
	f.params.Alerts = fakeAlerts{evaluateFn: func(context.Context, settingsdomain.Snapshot, alertdomain.EvaluateOptions) (alertdomain.EvaluationSummary, error) {
		order = append(order, JobAlerts)
		return alertdomain.EvaluationSummary{}, nil
	}}
	disabled := false
	runtime := config.DefaultRuntimeConfig()
	runtime.Jobs = map[string]config.JobEntry{JobReferrals: {Enabled: &disabled}}
	f.params.Runtime = config.NewStaticRuntimeConfig(runtime)
	s := f.scheduler(t)

	results, err := s.RunOnce(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{JobSubscriptions, JobRetention, JobAlerts}, order)
	require.Len(t, results, 3)
	assert.Equal(t, JobAlerts, results[2].Job)
}

func TestRunOnceJoinsSystemicErrorsAndContinues(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("connection refused")
	alertsRan := false
	f.params.Retention = fakeRetention{evaluateAllFn: func(context.Context, settingsdomain.Snapshot, retentiondomain.EvaluateOptions) (retentiondomain.EvaluationSummary, error) {
		return retentiondomain.EvaluationSummary{}, errors.Join(settingsdomain.ErrDataStoreUnavailable, boom)
	}}
	f.params.Alerts = fakeAlerts{evaluateFn: func(context.Context, settingsdomain.Snapshot, alertdomain.EvaluateOptions) (alertdomain.EvaluationSummary, error) {
		alertsRan = true
		return alertdomain.EvaluationSummary{}, nil
	}}
	s := f.scheduler(t)

	_, err := s.RunOnce(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, settingsdomain.ErrDataStoreUnavailable)
	assert.Contains(t, err.Error(), "retention")
	assert.True(t, alertsRan)
}

func TestParseJob(t *testing.T) {
	job, err := ParseJob(" Retention ")
	require.NoError(t, err)
	assert.Equal(t, JobRetention, job)

	_, err = ParseJob("invoice")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetJobMetricsForTest()
	jobMetrics := obsmetrics.JobsWithConfig(obsmetrics.Config{
		ServiceName: "lifecycle",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{}), jobMetrics: jobMetrics}
	err = s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{
		"service": "lifecycle",
		"env":     "test",
		"job":     "timeout_job",
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "lifecycle_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "lifecycle",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.JobReasonDeadlineExceeded,
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "lifecycle_job_errors_total", errorLabels))
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetJobMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
