package domain

type Transition struct {
	From Status
	To   Status
}

var allowedTransitions = map[Transition]bool{
	{From: StatusActive, To: StatusGraceReadonly}:   true,
	{From: StatusGraceReadonly, To: StatusArchived}: true,
	{From: StatusArchived, To: StatusPendingDelete}: true,
	{From: StatusPendingDelete, To: StatusDeleted}:  true,
	{From: StatusGraceReadonly, To: StatusActive}:   true,
	{From: StatusArchived, To: StatusActive}:        true,
	{From: StatusPendingDelete, To: StatusActive}:   true,
}

// CanTransition reports whether from -> to is a legal retention move.
// Deleted is terminal.
func CanTransition(from, to Status) bool {
	return allowedTransitions[Transition{From: from, To: to}]
}

// Changed reports whether the transition moved the tenant.
func (t Transition) Changed() bool { return t.From != t.To }
