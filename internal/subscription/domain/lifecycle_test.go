package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnknownBillingCycleWithoutEndDateFailsClosed(t *testing.T) {
	start := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	now := start.AddDate(0, 6, 0)
	sub := Subscription{
		Status:       StatusActive,
		StartDate:    start,
		BillingCycle: BillingCycle("fortnightly"),
	}

	end, err := sub.EffectiveEndDate()
	assert.ErrorIs(t, err, ErrUnknownBillingCycle)
	assert.True(t, end.Equal(start))

	live, err := IsLive(sub, nil, now)
	require.NoError(t, err)
	assert.False(t, live)

	entitled, err := IsEntitled(sub, nil, now)
	require.NoError(t, err)
	assert.False(t, entitled)

	sub.Status = StatusTrialing
	entitled, err = IsEntitled(sub, nil, now)
	require.NoError(t, err)
	assert.False(t, entitled)
}

func TestEffectiveEndDatePrefersStoredThenDerived(t *testing.T) {
	start := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	stored := start.AddDate(0, 0, 10)

	end, err := Subscription{StartDate: start, EndDate: &stored, BillingCycle: BillingCycle("fortnightly")}.EffectiveEndDate()
	require.NoError(t, err)
	assert.True(t, end.Equal(stored))

	end, err = Subscription{StartDate: start, BillingCycle: BillingCycleYearly}.EffectiveEndDate()
	require.NoError(t, err)
	assert.True(t, end.Equal(start.AddDate(1, 0, 0)))
}
