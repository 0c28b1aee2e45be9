package service

import "songmetrix/entsync/internal/model"

// Resolution is the outcome of entitlement resolution: either the transition
// applies, or it is skipped for a recorded reason.
type Resolution int

const (
	// ResolutionApply means the transition should be written to the stores.
	ResolutionApply Resolution = iota
	// ResolutionSkipSame means the user already holds the requested status.
	ResolutionSkipSame
	// ResolutionAdminProtected means an automated event tried to change an
	// ADMIN user. Only admin-sourced requests may do that.
	ResolutionAdminProtected
)

// Resolve decides what a status-change request means given the user's current
// status. Pure function: no state, no I/O.
func Resolve(source model.Source, current, requested model.Status) Resolution {
	if current == requested {
		return ResolutionSkipSame
	}
	if current == model.StatusAdmin && source.IsAutomated() {
		return ResolutionAdminProtected
	}
	return ResolutionApply
}
