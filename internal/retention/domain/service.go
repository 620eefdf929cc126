package domain

import "fmt"

type EvaluateOptions struct {
	DryRun bool
}

type EvaluationSummary struct {
	Evaluated    int
	Transitioned int
	Failed       int
}

func (s EvaluationSummary) String() string {
	return fmt.Sprintf("evaluated=%d transitioned=%d failed=%d", s.Evaluated, s.Transitioned, s.Failed)
}
