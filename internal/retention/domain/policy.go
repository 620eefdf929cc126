package domain

import "slices"

const (
	// ActionAll grants every action while a tenant is active.
	ActionAll    = "*"
	ActionExport = "export"
)

// Policy is the effective retention policy for one tenant.
type Policy struct {
	GraceDays                 int
	ArchiveDays               int
	HardDeleteDays            int
	AllowedActionsDuringGrace []string
}

// Resolve merges override into global field by field.
func Resolve(global Policy, override *TenantRetentionOverride) Policy {
	effective := Policy{
		GraceDays:                 global.GraceDays,
		ArchiveDays:               global.ArchiveDays,
		HardDeleteDays:            global.HardDeleteDays,
		AllowedActionsDuringGrace: cloneActions(global.AllowedActionsDuringGrace),
	}
	if override == nil {
		return effective
	}
	if override.GraceDays != nil {
		effective.GraceDays = *override.GraceDays
	}
	if override.ArchiveDays != nil {
		effective.ArchiveDays = *override.ArchiveDays
	}
	if override.HardDeleteDays != nil {
		effective.HardDeleteDays = *override.HardDeleteDays
	}
	if override.AllowedActionsDuringGrace != nil {
		effective.AllowedActionsDuringGrace = cloneActions(override.AllowedActionsDuringGrace)
	}
	return effective
}

// AllowedActions lists what a tenant may do in status under policy.
func AllowedActions(status Status, policy Policy) []string {
	switch status {
	case StatusActive:
		return []string{ActionAll}
	case StatusGraceReadonly:
		return cloneActions(policy.AllowedActionsDuringGrace)
	case StatusArchived, StatusPendingDelete, StatusDeleted:
		return []string{ActionExport}
	default:
		return nil
	}
}

func IsActionAllowed(status Status, policy Policy, action string) bool {
	allowed := AllowedActions(status, policy)
	return slices.Contains(allowed, ActionAll) || slices.Contains(allowed, action)
}

func cloneActions(actions []string) []string {
	if actions == nil {
		return []string{}
	}
	return slices.Clone(actions)
}
