package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestResolve(t *testing.T) {
	global := Policy{GraceDays: 30, ArchiveDays: 60, HardDeleteDays: 0, AllowedActionsDuringGrace: []string{"export", "login"}}

	tests := []struct {
		name     string
		override *TenantRetentionOverride
		want     Policy
	}{
		{
			name: "no override",
			want: global,
		},
		{
			name:     "null grace keeps global",
			override: &TenantRetentionOverride{ArchiveDays: intPtr(5)},
			want:     Policy{GraceDays: 30, ArchiveDays: 5, AllowedActionsDuringGrace: []string{"export", "login"}},
		},
		{
			name:     "grace override",
			override: &TenantRetentionOverride{GraceDays: intPtr(10)},
			want:     Policy{GraceDays: 10, ArchiveDays: 60, AllowedActionsDuringGrace: []string{"export", "login"}},
		},
		{
			name:     "empty action list is an override",
			override: &TenantRetentionOverride{AllowedActionsDuringGrace: ActionList{}, HardDeleteDays: intPtr(7)},
			want:     Policy{GraceDays: 30, ArchiveDays: 60, HardDeleteDays: 7, AllowedActionsDuringGrace: []string{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(global, tt.override))
		})
	}
}

func TestResolveDoesNotAliasGlobal(t *testing.T) {
	global := Policy{AllowedActionsDuringGrace: []string{"export"}}
	effective := Resolve(global, nil)
	effective.AllowedActionsDuringGrace[0] = "delete"
	assert.Equal(t, "export", global.AllowedActionsDuringGrace[0])
}

func TestAllowedActions(t *testing.T) {
	policy := Policy{AllowedActionsDuringGrace: []string{"export", "view_invoices"}}

	assert.True(t, IsActionAllowed(StatusActive, policy, "create_invoice"))
	assert.True(t, IsActionAllowed(StatusGraceReadonly, policy, "view_invoices"))
	assert.False(t, IsActionAllowed(StatusGraceReadonly, policy, "create_invoice"))
	assert.Equal(t, []string{ActionExport}, AllowedActions(StatusArchived, policy))
	assert.True(t, IsActionAllowed(StatusPendingDelete, policy, ActionExport))
	assert.False(t, IsActionAllowed(StatusArchived, policy, "view_invoices"))
	assert.Empty(t, AllowedActions(Status("unknown"), policy))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusActive, StatusGraceReadonly))
	assert.True(t, CanTransition(StatusArchived, StatusActive))
	assert.False(t, CanTransition(StatusActive, StatusArchived))
	assert.False(t, CanTransition(StatusDeleted, StatusActive))
	assert.False(t, CanTransition(StatusArchived, StatusGraceReadonly))
}

func TestActionListScan(t *testing.T) {
	var list ActionList
	require.NoError(t, list.Scan(nil))
	assert.Nil(t, list)

	require.NoError(t, list.Scan(`["export"]`))
	assert.Equal(t, ActionList{"export"}, list)

	require.NoError(t, list.Scan([]byte(`[]`)))
	assert.NotNil(t, list)
	assert.Empty(t, list)

	v, err := ActionList(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	assert.Error(t, list.Scan(42))
}

func TestAdvanceRetentionScenario(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	policy := Policy{GraceDays: 30, ArchiveDays: 60}

	ev := Advance(TenantRetentionStatus{}, false, t0, policy, t0.Add(day))
	assert.Equal(t, StatusActive, ev.From)
	assert.Equal(t, StatusGraceReadonly, ev.To)
	require.NotNil(t, ev.Record.GraceUntil)
	assert.True(t, ev.Record.GraceUntil.Equal(t0.Add(30*day)))

	ev = Advance(ev.Record, false, t0, policy, t0.Add(31*day))
	assert.Equal(t, StatusArchived, ev.To)
	require.NotNil(t, ev.Record.ArchiveUntil)
	assert.True(t, ev.Record.ArchiveUntil.Equal(t0.Add(90*day)))

	ev = Advance(ev.Record, false, t0, policy, t0.Add(91*day))
	assert.Equal(t, StatusArchived, ev.To)
	assert.False(t, ev.Changed())
	assert.True(t, ev.Record.LastEvaluatedAt.Equal(t0.Add(91*day)))
}

func TestAdvanceCascadesAndHardDeletes(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	policy := Policy{GraceDays: 1, ArchiveDays: 1, HardDeleteDays: 1}

	ev := Advance(TenantRetentionStatus{Status: StatusActive}, false, t0, policy, t0.AddDate(0, 0, 10))
	assert.Equal(t, []Status{StatusGraceReadonly, StatusArchived, StatusPendingDelete}, ev.Path)
	assert.Len(t, ev.Transitions(), 3)
	assert.Equal(t, Transition{From: StatusActive, To: StatusGraceReadonly}, ev.Transitions()[0])
}

func TestAdvanceKeepsCommunicatedGraceUntil(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	graceUntil := t0.AddDate(0, 0, 30)
	record := TenantRetentionStatus{Status: StatusGraceReadonly, GraceUntil: &graceUntil}

	ev := Advance(record, false, t0, Policy{GraceDays: 5, ArchiveDays: 60}, t0.AddDate(0, 0, 10))
	assert.Equal(t, StatusGraceReadonly, ev.To)
	assert.True(t, ev.Record.GraceUntil.Equal(graceUntil))
}

func TestAdvanceRenewalResets(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	graceUntil := t0.AddDate(0, 0, 30)
	archiveUntil := t0.AddDate(0, 0, 90)
	record := TenantRetentionStatus{Status: StatusArchived, GraceUntil: &graceUntil, ArchiveUntil: &archiveUntil}

	ev := Advance(record, true, t0.AddDate(1, 0, 0), Policy{GraceDays: 30, ArchiveDays: 60}, t0.AddDate(0, 0, 40))
	assert.Equal(t, StatusActive, ev.To)
	assert.Nil(t, ev.Record.GraceUntil)
	assert.Nil(t, ev.Record.ArchiveUntil)
	assert.Nil(t, ev.Record.DeletedAt)
}

func TestAdvanceDeletedIsTerminal(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := Advance(TenantRetentionStatus{Status: StatusDeleted}, true, now, Policy{}, now)
	assert.Equal(t, StatusDeleted, ev.To)
	assert.False(t, ev.Changed())
	assert.NotNil(t, ev.Record.LastEvaluatedAt)
}
