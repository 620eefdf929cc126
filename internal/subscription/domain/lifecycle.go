package domain

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// ReminderInterval is the minimum spacing between two renewal reminders.
const ReminderInterval = 24 * time.Hour

// ParseStatus maps stored values, including legacy spellings, onto a Status.
// Unrecognised values are treated as pending so they never grant access.
func ParseStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active":
		return StatusActive
	case "trialing", "trial":
		return StatusTrialing
	case "expired", "cancelled", "canceled", "inactive":
		return StatusExpired
	default:
		return StatusPending
	}
}

func ParseBillingCycle(raw string) (BillingCycle, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "monthly", "month":
		return BillingCycleMonthly, nil
	case "yearly", "annual", "year":
		return BillingCycleYearly, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBillingCycle, raw)
	}
}

// Advance returns t moved forward by one cycle.
func (c BillingCycle) Advance(t time.Time) time.Time {
	if c == BillingCycleYearly {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

// NormalizedEndDate returns the stored end date or derives it from the billing cycle.
func (s Subscription) NormalizedEndDate() (time.Time, error) {
	if s.EndDate != nil {
		return s.EndDate.UTC(), nil
	}
	cycle, err := ParseBillingCycle(string(s.BillingCycle))
	if err != nil {
		return time.Time{}, err
	}
	return cycle.Advance(s.StartDate.UTC()), nil
}

// EffectiveEndDate fails closed: when no end date can be derived it returns
// the start date together with the cause, so the subscription reads as lapsed.
func (s Subscription) EffectiveEndDate() (time.Time, error) {
	end, err := s.NormalizedEndDate()
	if err != nil {
		return s.StartDate.UTC(), err
	}
	return end, nil
}

// IsLive reports whether an active subscription still grants access at now.
// plan may be nil when the plan row is missing; no trial rule applies then.
// An underivable end date is never live.
func IsLive(sub Subscription, plan *Plan, now time.Time) (bool, error) {
	if ParseStatus(string(sub.Status)) != StatusActive {
		return false, nil
	}
	end, err := sub.NormalizedEndDate()
	if err != nil {
		return false, nil
	}
	if end.Before(now) {
		return false, nil
	}
	if plan != nil && plan.HasTrial() && sub.TrialEnd != nil && sub.TrialEnd.Before(now) {
		return false, nil
	}
	return true, nil
}

// IsEntitled reports whether sub grants workspace access at now. Trialing
// subscriptions are entitled until the trial (or the period) ends.
func IsEntitled(sub Subscription, plan *Plan, now time.Time) (bool, error) {
	switch ParseStatus(string(sub.Status)) {
	case StatusActive:
		return IsLive(sub, plan, now)
	case StatusTrialing:
		if sub.TrialEnd != nil {
			return !sub.TrialEnd.Before(now), nil
		}
		end, err := sub.NormalizedEndDate()
		if err != nil {
			return false, nil
		}
		return !end.Before(now), nil
	default:
		return false, nil
	}
}

// DaysLeft rounds the remaining time to whole days.
func DaysLeft(end, now time.Time) int {
	return int(math.Round(end.Sub(now).Hours() / 24))
}

// ReminderDue reports whether a renewal reminder should go out at now.
func ReminderDue(sub Subscription, end, now time.Time, reminderDays []int) bool {
	if !slices.Contains(reminderDays, DaysLeft(end, now)) {
		return false
	}
	if sub.LastRenewalReminderAt == nil {
		return true
	}
	return now.Sub(*sub.LastRenewalReminderAt) >= ReminderInterval
}
