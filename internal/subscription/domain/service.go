package domain

import (
	"context"
	"fmt"

	settingsdomain "github.com/smallbiznis/lifecycle/internal/settings/domain"
)

type EvaluateOptions struct {
	DryRun        bool
	SendReminders bool
}

type EvaluationSummary struct {
	Evaluated int
	Expired   int
	Reminders int
	Failed    int
}

func (s EvaluationSummary) String() string {
	return fmt.Sprintf("evaluated=%d expired=%d reminders=%d failed=%d", s.Evaluated, s.Expired, s.Reminders, s.Failed)
}

// Evaluator expires lapsed subscriptions and sends renewal reminders.
type Evaluator interface {
	Evaluate(ctx context.Context, snapshot settingsdomain.Snapshot, opts EvaluateOptions) (EvaluationSummary, error)
}
