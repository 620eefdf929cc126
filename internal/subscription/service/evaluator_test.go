package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/lifecycle/internal/clock"
	"github.com/smallbiznis/lifecycle/internal/events"
	"github.com/smallbiznis/lifecycle/internal/notification"
	"github.com/smallbiznis/lifecycle/internal/notification/mocks"
	organizationdomain "github.com/smallbiznis/lifecycle/internal/organization/domain"
	orgrepository "github.com/smallbiznis/lifecycle/internal/organization/repository"
	settingsdomain "github.com/smallbiznis/lifecycle/internal/settings/domain"
	subscriptiondomain "github.com/smallbiznis/lifecycle/internal/subscription/domain"
	"github.com/smallbiznis/lifecycle/internal/subscription/repository"
	"github.com/smallbiznis/lifecycle/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const ownerEmail = "owner@acme.test"

type fixture struct {
	db     *gorm.DB
	clock  *clock.FakeClock
	sender *mocks.MockSender
	svc    subscriptiondomain.Evaluator
	orgID  snowflake.ID
	planID snowflake.ID
}

func newFixture(t *testing.T, start time.Time) *fixture {
	t.Helper()

	db := testutil.NewDB(t,
		&organizationdomain.Organization{},
		&subscriptiondomain.Plan{},
		&subscriptiondomain.Subscription{},
		&events.LifecycleEvent{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		db:     db,
		clock:  clock.NewFakeClock(start),
		sender: mocks.NewMockSender(gomock.NewController(t)),
		orgID:  node.Generate(),
		planID: node.Generate(),
	}
	f.svc = NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   f.clock,
		Repo:    repository.Provide(),
		OrgRepo: orgrepository.Provide(),
		Outbox:  events.NewOutbox(node),
		Sender:  f.sender,
	})

	require.NoError(t, db.Create(&organizationdomain.Organization{
		ID:         f.orgID,
		Name:       "Acme",
		OwnerEmail: ownerEmail,
	}).Error)
	require.NoError(t, db.Create(&subscriptiondomain.Plan{
		ID:        f.planID,
		ProductID: node.Generate(),
		Name:      "Pro",
		Currency:  "INR",
		Limits:    datatypes.JSONMap{},
	}).Error)
	return f
}

func (f *fixture) addSubscription(t *testing.T, id int64, start time.Time, end *time.Time, cycle subscriptiondomain.BillingCycle) snowflake.ID {
	t.Helper()
	sub := subscriptiondomain.Subscription{
		ID:           snowflake.ID(id),
		OrgID:        f.orgID,
		PlanID:       f.planID,
		Status:       subscriptiondomain.StatusActive,
		StartDate:    start,
		EndDate:      end,
		BillingCycle: cycle,
	}
	require.NoError(t, f.db.Create(&sub).Error)
	return sub.ID
}

func (f *fixture) load(t *testing.T, id snowflake.ID) subscriptiondomain.Subscription {
	t.Helper()
	var sub subscriptiondomain.Subscription
	require.NoError(t, f.db.First(&sub, "id = ?", id).Error)
	return sub
}

func (f *fixture) eventCount(t *testing.T, eventType string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&events.LifecycleEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func snapshot() settingsdomain.Snapshot {
	return settingsdomain.Snapshot{ReminderDays: []int{7, 3, 2, 1}}
}

func TestEvaluateExpiresLapsedSubscriptionOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	end := now.Add(-time.Hour)
	id := f.addSubscription(t, 10, now.AddDate(0, -1, 0), &end, subscriptiondomain.BillingCycleMonthly)

	opts := subscriptiondomain.EvaluateOptions{SendReminders: true}
	summary, err := f.svc.Evaluate(context.Background(), snapshot(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Evaluated)
	assert.Equal(t, 1, summary.Expired)
	assert.Equal(t, subscriptiondomain.StatusExpired, f.load(t, id).Status)

	summary, err = f.svc.Evaluate(context.Background(), snapshot(), opts)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Evaluated)
	assert.Equal(t, 0, summary.Expired)
	assert.Equal(t, int64(1), f.eventCount(t, events.TypeSubscriptionExpired))
}

func TestEvaluateDerivesMissingEndDate(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	lapsed := f.addSubscription(t, 10, now.AddDate(-1, 0, -1), nil, subscriptiondomain.BillingCycleYearly)
	started := now.AddDate(0, 0, -5)
	current := f.addSubscription(t, 11, started, nil, subscriptiondomain.BillingCycleMonthly)

	summary, err := f.svc.Evaluate(context.Background(), snapshot(), subscriptiondomain.EvaluateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Evaluated)
	assert.Equal(t, 1, summary.Expired)

	expired := f.load(t, lapsed)
	assert.Equal(t, subscriptiondomain.StatusExpired, expired.Status)
	require.NotNil(t, expired.EndDate)
	assert.True(t, expired.EndDate.Equal(now.AddDate(0, 0, -1)))

	live := f.load(t, current)
	assert.Equal(t, subscriptiondomain.StatusActive, live.Status)
	require.NotNil(t, live.EndDate)
	assert.True(t, live.EndDate.Equal(started.AddDate(0, 1, 0)))
}

func TestEvaluateUnknownBillingCycleExpiresFromStartDate(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	start := now.AddDate(0, 0, -40)
	broken := f.addSubscription(t, 10, start, nil, subscriptiondomain.BillingCycle("fortnightly"))
	end := now.Add(-time.Minute)
	f.addSubscription(t, 11, now.AddDate(0, -1, 0), &end, subscriptiondomain.BillingCycleMonthly)

	summary, err := f.svc.Evaluate(context.Background(), snapshot(), subscriptiondomain.EvaluateOptions{SendReminders: true})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Evaluated)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 2, summary.Expired)

	expired := f.load(t, broken)
	assert.Equal(t, subscriptiondomain.StatusExpired, expired.Status)
	require.NotNil(t, expired.EndDate)
	assert.True(t, expired.EndDate.Equal(start))
	assert.Equal(t, int64(2), f.eventCount(t, events.TypeSubscriptionExpired))
}

func TestEvaluateOverlappingPassesActOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	var lapsed []snowflake.ID
	for i := int64(0); i < 4; i++ {
		end := now.Add(-time.Hour)
		lapsed = append(lapsed, f.addSubscription(t, 10+i, now.AddDate(0, -1, 0), &end, subscriptiondomain.BillingCycleMonthly))
	}
	soon := now.AddDate(0, 0, 3)
	reminded := f.addSubscription(t, 20, now.AddDate(0, -1, 0), &soon, subscriptiondomain.BillingCycleMonthly)

	f.sender.EXPECT().
		Send(gomock.Any(), []string{ownerEmail}, gomock.Any(), notification.TemplateRenewalReminder, gomock.Any()).
		Return(nil).
		Times(1)

	snap := snapshot()
	snap.Concurrency = 4
	snap.BatchSize = 2
	opts := subscriptiondomain.EvaluateOptions{SendReminders: true}

	var (
		wg        sync.WaitGroup
		summaries [3]subscriptiondomain.EvaluationSummary
		errs      [3]error
	)
	for i := range summaries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			summaries[i], errs[i] = f.svc.Evaluate(context.Background(), snap, opts)
		}()
	}
	wg.Wait()

	expired, reminders := 0, 0
	for i := range summaries {
		require.NoError(t, errs[i])
		assert.Equal(t, 0, summaries[i].Failed)
		expired += summaries[i].Expired
		reminders += summaries[i].Reminders
	}
	assert.Equal(t, len(lapsed), expired)
	assert.Equal(t, 1, reminders)

	for _, id := range lapsed {
		assert.Equal(t, subscriptiondomain.StatusExpired, f.load(t, id).Status)
	}
	stamp := f.load(t, reminded).LastRenewalReminderAt
	require.NotNil(t, stamp)
	assert.True(t, stamp.Equal(now))
	assert.Equal(t, int64(len(lapsed)), f.eventCount(t, events.TypeSubscriptionExpired))
	assert.Equal(t, int64(1), f.eventCount(t, events.TypeSubscriptionRenewalReminder))
}

func TestEvaluateSendsOneReminderPerDay(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	end := now.AddDate(0, 0, 3)
	id := f.addSubscription(t, 10, now.AddDate(0, -1, 0), &end, subscriptiondomain.BillingCycleMonthly)

	f.sender.EXPECT().
		Send(gomock.Any(), []string{ownerEmail}, gomock.Any(), notification.TemplateRenewalReminder, gomock.Any()).
		Return(nil).
		Times(2)

	opts := subscriptiondomain.EvaluateOptions{SendReminders: true}
	reminders := 0
	for i := 0; i < 12; i++ {
		summary, err := f.svc.Evaluate(context.Background(), snapshot(), opts)
		require.NoError(t, err)
		reminders += summary.Reminders
		f.clock.Advance(10 * time.Minute)
	}
	assert.Equal(t, 1, reminders)

	stamp := f.load(t, id).LastRenewalReminderAt
	require.NotNil(t, stamp)
	assert.True(t, stamp.Equal(now))

	f.clock.Set(now.Add(24 * time.Hour))
	summary, err := f.svc.Evaluate(context.Background(), snapshot(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Reminders)
	assert.Equal(t, int64(2), f.eventCount(t, events.TypeSubscriptionRenewalReminder))
}

func TestEvaluateReminderOutsideConfiguredDays(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	end := now.AddDate(0, 0, 5)
	f.addSubscription(t, 10, now.AddDate(0, -1, 0), &end, subscriptiondomain.BillingCycleMonthly)

	summary, err := f.svc.Evaluate(context.Background(), snapshot(), subscriptiondomain.EvaluateOptions{SendReminders: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Evaluated)
	assert.Equal(t, 0, summary.Reminders)
}

func TestEvaluateFailedSendLeavesReminderUnstamped(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	end := now.AddDate(0, 0, 1)
	id := f.addSubscription(t, 10, now.AddDate(0, -1, 0), &end, subscriptiondomain.BillingCycleMonthly)

	f.sender.EXPECT().
		Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.New("smtp down"))

	summary, err := f.svc.Evaluate(context.Background(), snapshot(), subscriptiondomain.EvaluateOptions{SendReminders: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Reminders)
	assert.Nil(t, f.load(t, id).LastRenewalReminderAt)
	assert.Equal(t, int64(0), f.eventCount(t, events.TypeSubscriptionRenewalReminder))
}

func TestEvaluateNoRemindersFlag(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	end := now.AddDate(0, 0, 7)
	id := f.addSubscription(t, 10, now.AddDate(0, -1, 0), &end, subscriptiondomain.BillingCycleMonthly)

	summary, err := f.svc.Evaluate(context.Background(), snapshot(), subscriptiondomain.EvaluateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Reminders)
	assert.Nil(t, f.load(t, id).LastRenewalReminderAt)
}

func TestEvaluateDryRunPersistsNothing(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	lapsed := now.Add(-time.Hour)
	expiring := f.addSubscription(t, 10, now.AddDate(0, -1, 0), &lapsed, subscriptiondomain.BillingCycleMonthly)
	soon := now.AddDate(0, 0, 2)
	reminded := f.addSubscription(t, 11, now.AddDate(0, -1, 0), &soon, subscriptiondomain.BillingCycleMonthly)

	summary, err := f.svc.Evaluate(context.Background(), snapshot(), subscriptiondomain.EvaluateOptions{DryRun: true, SendReminders: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Expired)
	assert.Equal(t, 1, summary.Reminders)

	assert.Equal(t, subscriptiondomain.StatusActive, f.load(t, expiring).Status)
	assert.Nil(t, f.load(t, reminded).LastRenewalReminderAt)
	assert.Equal(t, int64(0), f.eventCount(t, events.TypeSubscriptionExpired))
}

func TestEvaluateExpiresEndedTrial(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	require.NoError(t, f.db.Model(&subscriptiondomain.Plan{}).Where("id = ?", f.planID).Update("trial_days", 14).Error)

	end := now.AddDate(0, 0, 20)
	trialEnd := now.Add(-time.Hour)
	sub := subscriptiondomain.Subscription{
		ID:           snowflake.ID(10),
		OrgID:        f.orgID,
		PlanID:       f.planID,
		Status:       subscriptiondomain.StatusActive,
		StartDate:    now.AddDate(0, 0, -14),
		EndDate:      &end,
		TrialEnd:     &trialEnd,
		BillingCycle: subscriptiondomain.BillingCycleMonthly,
	}
	require.NoError(t, f.db.Create(&sub).Error)

	summary, err := f.svc.Evaluate(context.Background(), snapshot(), subscriptiondomain.EvaluateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Expired)
	assert.Equal(t, subscriptiondomain.StatusExpired, f.load(t, sub.ID).Status)
}
