package domain

import "errors"

var (
	ErrUnknownBillingCycle  = errors.New("unknown_billing_cycle")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrMissingOwnerEmail    = errors.New("missing_owner_email")
)
