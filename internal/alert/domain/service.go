package domain

import "fmt"

type EvaluateOptions struct {
	DryRun bool
}

type EvaluationSummary struct {
	Evaluated int
	Fired     int
	Skipped   int
	Failed    int
}

func (s EvaluationSummary) String() string {
	return fmt.Sprintf("evaluated=%d fired=%d skipped=%d failed=%d", s.Evaluated, s.Fired, s.Skipped, s.Failed)
}
