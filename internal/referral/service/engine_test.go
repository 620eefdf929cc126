package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/lifecycle/internal/clock"
	"github.com/smallbiznis/lifecycle/internal/events"
	organizationdomain "github.com/smallbiznis/lifecycle/internal/organization/domain"
	orgrepository "github.com/smallbiznis/lifecycle/internal/organization/repository"
	referraldomain "github.com/smallbiznis/lifecycle/internal/referral/domain"
	"github.com/smallbiznis/lifecycle/internal/referral/repository"
	settingsdomain "github.com/smallbiznis/lifecycle/internal/settings/domain"
	"github.com/smallbiznis/lifecycle/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var now = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db  *gorm.DB
	svc Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewDB(t,
		&organizationdomain.Organization{},
		&referraldomain.PendingTransfer{},
		&referraldomain.DealerAccount{},
		&referraldomain.ReferralEarning{},
		&referraldomain.DealerReferralEarning{},
		&events.LifecycleEvent{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return &fixture{
		db: db,
		svc: NewService(Params{
			DB:      db,
			Log:     zap.NewNop(),
			Clock:   clock.NewFakeClock(now),
			GenID:   node,
			Repo:    repository.Provide(),
			OrgRepo: orgrepository.Provide(),
			Outbox:  events.NewOutbox(node),
		}),
	}
}

func activeSnapshot() settingsdomain.Snapshot {
	return settingsdomain.Snapshot{
		TaxRatePercent: decimal.NewFromInt(18),
		Referral: &referraldomain.ReferralSettings{
			IsActive:                 true,
			CommissionRate:           decimal.NewFromInt(5),
			DealerCommissionRate:     decimal.NewFromInt(10),
			DealerReferralFlatAmount: decimal.NewFromInt(250),
			Currency:                 "INR",
		},
	}
}

func (f *fixture) addOrg(t *testing.T, id int64, referredBy, referredByDealer *snowflake.ID) snowflake.ID {
	t.Helper()
	org := organizationdomain.Organization{
		ID:                 snowflake.ID(id),
		Name:               "Org",
		ReferredByID:       referredBy,
		ReferredByDealerID: referredByDealer,
	}
	require.NoError(t, f.db.Create(&org).Error)
	return org.ID
}

func (f *fixture) addTransfer(t *testing.T, id int64, orgID snowflake.ID, requestType referraldomain.RequestType, status referraldomain.TransferStatus, updatedAt time.Time) snowflake.ID {
	t.Helper()
	transfer := referraldomain.PendingTransfer{
		ID:          snowflake.ID(id),
		RequestType: requestType,
		Status:      status,
		Amount:      decimal.NewFromInt(1180),
		Currency:    "INR",
		OrgID:       &orgID,
		CreatedAt:   updatedAt,
		UpdatedAt:   updatedAt,
	}
	require.NoError(t, f.db.Create(&transfer).Error)
	return transfer.ID
}

func (f *fixture) addDealer(t *testing.T, id int64, referredBy *snowflake.ID, status referraldomain.DealerStatus, end *time.Time) snowflake.ID {
	t.Helper()
	dealer := referraldomain.DealerAccount{
		ID:                 snowflake.ID(id),
		Name:               "Dealer",
		ReferredByDealerID: referredBy,
		SubscriptionStatus: status,
		SubscriptionEnd:    end,
	}
	require.NoError(t, f.db.Create(&dealer).Error)
	return dealer.ID
}

func count(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func idPtr(id snowflake.ID) *snowflake.ID { return &id }

func TestRecordOrgReferralEarningExtractsTax(t *testing.T) {
	f := newFixture(t)
	referrer := f.addOrg(t, 1, nil, nil)
	referred := f.addOrg(t, 2, idPtr(referrer), nil)
	transferID := f.addTransfer(t, 100, referred, referraldomain.RequestTypeNew, referraldomain.TransferStatusApproved, now.Add(-time.Hour))

	result, err := f.svc.RecordOrgReferralEarning(context.Background(), transferID, activeSnapshot(), referraldomain.RecordOptions{})
	require.NoError(t, err)
	assert.Equal(t, referraldomain.OutcomeCreated, result.Outcome)
	assert.Equal(t, referrer, result.ReferrerID)
	assert.True(t, result.BaseAmount.Equal(decimal.NewFromInt(1000)), result.BaseAmount.String())
	assert.True(t, result.CommissionAmount.Equal(decimal.NewFromInt(50)), result.CommissionAmount.String())

	var earning referraldomain.ReferralEarning
	require.NoError(t, f.db.First(&earning, "referred_org_id = ?", referred).Error)
	assert.Equal(t, result.EarningID, earning.ID)
	assert.True(t, earning.CommissionAmount.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, referraldomain.EarningStatusPending, earning.Status)
	assert.Equal(t, int64(1), count(t, f.db, &events.LifecycleEvent{}))

	again, err := f.svc.RecordOrgReferralEarning(context.Background(), transferID, activeSnapshot(), referraldomain.RecordOptions{})
	require.NoError(t, err)
	assert.Equal(t, referraldomain.OutcomeDuplicate, again.Outcome)
	assert.Equal(t, int64(1), count(t, f.db, &referraldomain.ReferralEarning{}))
}

func TestRecordOrgReferralEarningFirstPaymentTieBreak(t *testing.T) {
	f := newFixture(t)
	referrer := f.addOrg(t, 1, nil, nil)
	referred := f.addOrg(t, 2, idPtr(referrer), nil)
	approvedAt := now.Add(-time.Hour)
	first := f.addTransfer(t, 100, referred, referraldomain.RequestTypeNew, referraldomain.TransferStatusApproved, approvedAt)
	second := f.addTransfer(t, 101, referred, referraldomain.RequestTypeRenew, referraldomain.TransferStatusApproved, approvedAt)

	result, err := f.svc.RecordOrgReferralEarning(context.Background(), second, activeSnapshot(), referraldomain.RecordOptions{})
	require.NoError(t, err)
	assert.Equal(t, referraldomain.OutcomeNotFirstPayment, result.Outcome)

	result, err = f.svc.RecordOrgReferralEarning(context.Background(), first, activeSnapshot(), referraldomain.RecordOptions{})
	require.NoError(t, err)
	assert.Equal(t, referraldomain.OutcomeCreated, result.Outcome)
}

func TestRecordOrgReferralEarningEarlierUpdateWins(t *testing.T) {
	f := newFixture(t)
	referrer := f.addOrg(t, 1, nil, nil)
	referred := f.addOrg(t, 2, idPtr(referrer), nil)
	later := f.addTransfer(t, 100, referred, referraldomain.RequestTypeNew, referraldomain.TransferStatusApproved, now.Add(-time.Hour))
	f.addTransfer(t, 101, referred, referraldomain.RequestTypeNew, referraldomain.TransferStatusApproved, now.Add(-2*time.Hour))
	f.addTransfer(t, 102, referred, referraldomain.RequestTypeAddon, referraldomain.TransferStatusApproved, now.Add(-3*time.Hour))

	result, err := f.svc.RecordOrgReferralEarning(context.Background(), later, activeSnapshot(), referraldomain.RecordOptions{})
	require.NoError(t, err)
	assert.Equal(t, referraldomain.OutcomeNotFirstPayment, result.Outcome)
}

func TestRecordOrgReferralEarningSkips(t *testing.T) {
	f := newFixture(t)
	referrer := f.addOrg(t, 1, nil, nil)
	referred := f.addOrg(t, 2, idPtr(referrer), nil)
	unreferred := f.addOrg(t, 3, nil, nil)
	addon := f.addTransfer(t, 100, referred, referraldomain.RequestTypeAddon, referraldomain.TransferStatusApproved, now)
	pending := f.addTransfer(t, 101, referred, referraldomain.RequestTypeNew, referraldomain.TransferStatusPending, now)
	orphan := f.addTransfer(t, 102, unreferred, referraldomain.RequestTypeNew, referraldomain.TransferStatusApproved, now)
	paid := f.addTransfer(t, 103, referred, referraldomain.RequestTypeNew, referraldomain.TransferStatusApproved, now)

	inactive := activeSnapshot()
	inactive.Referral.IsActive = false

	tests := []struct {
		name       string
		transferID snowflake.ID
		snapshot   settingsdomain.Snapshot
		want       referraldomain.Outcome
	}{
		{name: "addon", transferID: addon, snapshot: activeSnapshot(), want: referraldomain.OutcomeNotEligible},
		{name: "not approved", transferID: pending, snapshot: activeSnapshot(), want: referraldomain.OutcomeNotEligible},
		{name: "no referrer", transferID: orphan, snapshot: activeSnapshot(), want: referraldomain.OutcomeNoReferrer},
		{name: "inactive programme", transferID: paid, snapshot: inactive, want: referraldomain.OutcomeZeroRate},
		{name: "missing settings", transferID: paid, snapshot: settingsdomain.Snapshot{}, want: referraldomain.OutcomeZeroRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.svc.RecordOrgReferralEarning(context.Background(), tt.transferID, tt.snapshot, referraldomain.RecordOptions{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Outcome)
		})
	}
	assert.Equal(t, int64(0), count(t, f.db, &referraldomain.ReferralEarning{}))

	_, err := f.svc.RecordOrgReferralEarning(context.Background(), snowflake.ID(999), activeSnapshot(), referraldomain.RecordOptions{})
	assert.ErrorIs(t, err, referraldomain.ErrTransferNotFound)
}

func TestRecordDealerOrgReferralEarningRequiresActiveDealer(t *testing.T) {
	f := newFixture(t)
	lapsedEnd := now.AddDate(0, 0, -1)
	active := f.addDealer(t, 50, nil, referraldomain.DealerStatusActive, nil)
	lapsed := f.addDealer(t, 51, nil, referraldomain.DealerStatusActive, &lapsedEnd)
	viaActive := f.addOrg(t, 2, nil, idPtr(active))
	viaLapsed := f.addOrg(t, 3, nil, idPtr(lapsed))
	first := f.addTransfer(t, 100, viaActive, referraldomain.RequestTypeNew, referraldomain.TransferStatusApproved, now)
	second := f.addTransfer(t, 101, viaLapsed, referraldomain.RequestTypeNew, referraldomain.TransferStatusApproved, now)

	result, err := f.svc.RecordDealerOrgReferralEarning(context.Background(), first, activeSnapshot(), referraldomain.RecordOptions{})
	require.NoError(t, err)
	assert.Equal(t, referraldomain.OutcomeCreated, result.Outcome)
	assert.Equal(t, active, result.ReferrerID)
	assert.True(t, result.CommissionAmount.Equal(decimal.NewFromInt(100)), result.CommissionAmount.String())

	result, err = f.svc.RecordDealerOrgReferralEarning(context.Background(), second, activeSnapshot(), referraldomain.RecordOptions{})
	require.NoError(t, err)
	assert.Equal(t, referraldomain.OutcomeReferrerInactive, result.Outcome)

	var earning referraldomain.DealerReferralEarning
	require.NoError(t, f.db.First(&earning, "referred_org_id = ?", viaActive).Error)
	assert.Equal(t, referraldomain.EarningKindDealerOrgCommission, earning.Kind)
	require.NotNil(t, earning.TransferID)
	assert.Equal(t, first, *earning.TransferID)
}

func TestRecordDealerReferralFlatEarning(t *testing.T) {
	f := newFixture(t)
	referrer := f.addDealer(t, 50, nil, referraldomain.DealerStatusActive, nil)
	inactiveReferrer := f.addDealer(t, 51, nil, referraldomain.DealerStatusInactive, nil)
	referred := f.addDealer(t, 60, idPtr(referrer), referraldomain.DealerStatusActive, nil)
	orphaned := f.addDealer(t, 61, idPtr(inactiveReferrer), referraldomain.DealerStatusActive, nil)
	unpaid := f.addDealer(t, 62, idPtr(referrer), referraldomain.DealerStatusInactive, nil)

	result, err := f.svc.RecordDealerReferralFlatEarning(context.Background(), referred, activeSnapshot(), referraldomain.RecordOptions{})
	require.NoError(t, err)
	assert.Equal(t, referraldomain.OutcomeCreated, result.Outcome)
	assert.True(t, result.CommissionAmount.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, "INR", result.Currency)

	result, err = f.svc.RecordDealerReferralFlatEarning(context.Background(), referred, activeSnapshot(), referraldomain.RecordOptions{})
	require.NoError(t, err)
	assert.Equal(t, referraldomain.OutcomeDuplicate, result.Outcome)

	result, err = f.svc.RecordDealerReferralFlatEarning(context.Background(), orphaned, activeSnapshot(), referraldomain.RecordOptions{})
	require.NoError(t, err)
	assert.Equal(t, referraldomain.OutcomeReferrerInactive, result.Outcome)

	result, err = f.svc.RecordDealerReferralFlatEarning(context.Background(), unpaid, activeSnapshot(), referraldomain.RecordOptions{})
	require.NoError(t, err)
	assert.Equal(t, referraldomain.OutcomeNotEligible, result.Outcome)

	_, err = f.svc.RecordDealerReferralFlatEarning(context.Background(), referrer, activeSnapshot(), referraldomain.RecordOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count(t, f.db, &referraldomain.DealerReferralEarning{}))
}

func TestRecordDryRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	referrer := f.addOrg(t, 1, nil, nil)
	referred := f.addOrg(t, 2, idPtr(referrer), nil)
	transferID := f.addTransfer(t, 100, referred, referraldomain.RequestTypeNew, referraldomain.TransferStatusApproved, now)

	result, err := f.svc.RecordOrgReferralEarning(context.Background(), transferID, activeSnapshot(), referraldomain.RecordOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, referraldomain.OutcomeCreated, result.Outcome)
	assert.Equal(t, snowflake.ID(0), result.EarningID)
	assert.Equal(t, int64(0), count(t, f.db, &referraldomain.ReferralEarning{}))
	assert.Equal(t, int64(0), count(t, f.db, &events.LifecycleEvent{}))
}

func TestProcessPendingSweepsCandidatesOnce(t *testing.T) {
	f := newFixture(t)
	referrer := f.addOrg(t, 1, nil, nil)
	referred := f.addOrg(t, 2, idPtr(referrer), nil)
	f.addTransfer(t, 100, referred, referraldomain.RequestTypeNew, referraldomain.TransferStatusApproved, now)
	parent := f.addDealer(t, 50, nil, referraldomain.DealerStatusActive, nil)
	f.addDealer(t, 60, idPtr(parent), referraldomain.DealerStatusActive, nil)

	summary, err := f.svc.ProcessPending(context.Background(), activeSnapshot(), referraldomain.RecordOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Evaluated)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)

	summary, err = f.svc.ProcessPending(context.Background(), activeSnapshot(), referraldomain.RecordOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Evaluated)
	assert.Equal(t, 0, summary.Created)
}

func TestInsertOrgEarningIgnoresConflict(t *testing.T) {
	f := newFixture(t)
	repo := repository.Provide()
	earning := referraldomain.ReferralEarning{
		ID:               snowflake.ID(1),
		ReferrerOrgID:    snowflake.ID(10),
		ReferredOrgID:    snowflake.ID(20),
		TransferID:       snowflake.ID(30),
		BaseAmount:       decimal.NewFromInt(1000),
		CommissionRate:   decimal.NewFromInt(5),
		CommissionAmount: decimal.NewFromInt(50),
		Currency:         "INR",
		Status:           referraldomain.EarningStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	inserted, err := repo.InsertOrgEarning(context.Background(), f.db, earning)
	require.NoError(t, err)
	assert.True(t, inserted)

	earning.ID = snowflake.ID(2)
	inserted, err = repo.InsertOrgEarning(context.Background(), f.db, earning)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestProcessPendingOverlappingPassesEarnOnce(t *testing.T) {
	f := newFixture(t)
	referrer := f.addOrg(t, 1, nil, nil)
	for i := int64(0); i < 3; i++ {
		referred := f.addOrg(t, 2+i, idPtr(referrer), nil)
		f.addTransfer(t, 100+i, referred, referraldomain.RequestTypeNew, referraldomain.TransferStatusApproved, now.Add(-time.Hour))
	}
	parent := f.addDealer(t, 50, nil, referraldomain.DealerStatusActive, nil)
	f.addDealer(t, 60, idPtr(parent), referraldomain.DealerStatusActive, nil)
	f.addDealer(t, 61, idPtr(parent), referraldomain.DealerStatusActive, nil)

	snapshot := activeSnapshot()
	snapshot.Concurrency = 4
	snapshot.BatchSize = 2

	var (
		wg        sync.WaitGroup
		summaries [3]referraldomain.ProcessSummary
		errs      [3]error
	)
	for i := range summaries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			summaries[i], errs[i] = f.svc.ProcessPending(context.Background(), snapshot, referraldomain.RecordOptions{})
		}()
	}
	wg.Wait()

	created := 0
	for i := range summaries {
		require.NoError(t, errs[i])
		assert.Equal(t, 0, summaries[i].Failed)
		created += summaries[i].Created
	}
	assert.Equal(t, 5, created)
	assert.Equal(t, int64(3), count(t, f.db, &referraldomain.ReferralEarning{}))
	assert.Equal(t, int64(2), count(t, f.db, &referraldomain.DealerReferralEarning{}))
	assert.Equal(t, int64(5), count(t, f.db, &events.LifecycleEvent{}))
}
