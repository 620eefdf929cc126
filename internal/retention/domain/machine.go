package domain

import "time"

// Evaluation is the result of advancing one tenant's retention record.
type Evaluation struct {
	From   Status
	To     Status
	Path   []Status
	Record TenantRetentionStatus
}

// Transitions lists each hop taken, in order.
func (e Evaluation) Transitions() []Transition {
	out := make([]Transition, 0, len(e.Path))
	prev := e.From
	for _, next := range e.Path {
		out = append(out, Transition{From: prev, To: next})
		prev = next
	}
	return out
}

func (e Evaluation) Changed() bool { return e.From != e.To }

// Advance applies one evaluation to record. A record with an empty status is
// treated as a fresh active tenant. Forward hops cascade within one call.
func Advance(record TenantRetentionStatus, entitled bool, expiresAt time.Time, policy Policy, now time.Time) Evaluation {
	if record.Status == "" {
		record.Status = StatusActive
	}
	from := record.Status
	evaluatedAt := now
	record.LastEvaluatedAt = &evaluatedAt

	ev := Evaluation{From: from}
	move := func(to Status) bool {
		if !CanTransition(record.Status, to) {
			return false
		}
		record.Status = to
		ev.Path = append(ev.Path, to)
		return true
	}

	if from == StatusDeleted {
		ev.To = from
		ev.Record = record
		return ev
	}

	if !expiresAt.IsZero() {
		expires := expiresAt
		record.SubscriptionExpiresAt = &expires
	}

	if entitled {
		if from != StatusActive {
			move(StatusActive)
		}
		record.GraceUntil = nil
		record.ArchiveUntil = nil
		record.DeletedAt = nil
		ev.To = record.Status
		ev.Record = record
		return ev
	}

	if record.Status == StatusActive && move(StatusGraceReadonly) {
		graceUntil := expiresAt.AddDate(0, 0, policy.GraceDays)
		record.GraceUntil = &graceUntil
	}

	if record.Status == StatusGraceReadonly {
		if record.GraceUntil == nil {
			graceUntil := expiresAt.AddDate(0, 0, policy.GraceDays)
			record.GraceUntil = &graceUntil
		}
		if now.After(*record.GraceUntil) && move(StatusArchived) {
			archiveUntil := record.GraceUntil.AddDate(0, 0, policy.ArchiveDays)
			record.ArchiveUntil = &archiveUntil
		}
	}

	if record.Status == StatusArchived && policy.HardDeleteDays > 0 {
		if record.ArchiveUntil == nil {
			graceUntil := expiresAt.AddDate(0, 0, policy.GraceDays)
			if record.GraceUntil != nil {
				graceUntil = *record.GraceUntil
			}
			archiveUntil := graceUntil.AddDate(0, 0, policy.ArchiveDays)
			record.ArchiveUntil = &archiveUntil
		}
		if now.After(record.ArchiveUntil.AddDate(0, 0, policy.HardDeleteDays)) {
			move(StatusPendingDelete)
		}
	}

	ev.To = record.Status
	ev.Record = record
	return ev
}
