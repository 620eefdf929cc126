package domain

import (
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Outcome is the result of one record call. Only OutcomeCreated writes a row.
type Outcome string

const (
	OutcomeCreated          Outcome = "created"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeNotEligible      Outcome = "not_eligible"
	OutcomeNoReferrer       Outcome = "no_referrer"
	OutcomeNotFirstPayment  Outcome = "not_first_payment"
	OutcomeZeroRate         Outcome = "zero_rate"
	OutcomeZeroBase         Outcome = "zero_base"
	OutcomeReferrerInactive Outcome = "referrer_inactive"
)

var (
	ErrDuplicateEarning = errors.New("duplicate_earning")
	ErrTransferNotFound = errors.New("transfer_not_found")
	ErrDealerNotFound   = errors.New("dealer_not_found")
)

type EarningResult struct {
	Outcome          Outcome
	Kind             EarningKind
	EarningID        snowflake.ID
	ReferrerID       snowflake.ID
	BaseAmount       decimal.Decimal
	CommissionRate   decimal.Decimal
	CommissionAmount decimal.Decimal
	Currency         string
}

func (r EarningResult) Created() bool { return r.Outcome == OutcomeCreated }
