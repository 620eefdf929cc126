package domain

import "fmt"

type RecordOptions struct {
	DryRun bool
}

type ProcessSummary struct {
	Evaluated  int
	Created    int
	Duplicates int
	Skipped    int
	Failed     int
}

func (s ProcessSummary) String() string {
	return fmt.Sprintf("evaluated=%d created=%d duplicates=%d skipped=%d failed=%d",
		s.Evaluated, s.Created, s.Duplicates, s.Skipped, s.Failed)
}

// Add counts one record call.
func (s *ProcessSummary) Add(result EarningResult, err error) {
	switch {
	case err != nil:
		s.Failed++
	case result.Outcome == OutcomeCreated:
		s.Created++
	case result.Outcome == OutcomeDuplicate:
		s.Duplicates++
	default:
		s.Skipped++
	}
}
