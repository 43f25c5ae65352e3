package models

import (
	"time"

	id "certreg/pkg/domain"
	dErrors "certreg/pkg/domain-errors"
)

// Organization is the approval status of one issuer. An organization that
// was never approved is reported with Approved=false and zero ChangedAt.
type Organization struct {
	Address   id.Identity `json:"address"`
	Approved  bool        `json:"approved"`
	ChangedAt time.Time   `json:"changed_at,omitzero"`
	ChangedBy id.Identity `json:"changed_by,omitempty"`
}

// ApprovalChange is one state-changing approve or revoke, as journaled.
type ApprovalChange struct {
	Organization id.Identity `json:"organization"`
	Approved     bool        `json:"approved"`
	Actor        id.Identity `json:"actor"`
	At           time.Time   `json:"at"`
}

// NewApprovalChange validates the invariants every journaled change holds.
func NewApprovalChange(org id.Identity, approved bool, actor id.Identity, at time.Time) (ApprovalChange, error) {
	if org.IsZero() {
		return ApprovalChange{}, dErrors.New(dErrors.CodeInvalidIdentity, "organization must be a non-null address")
	}
	if actor.IsZero() {
		return ApprovalChange{}, dErrors.New(dErrors.CodeInvariantViolation, "approval change requires an actor")
	}
	if at.IsZero() {
		return ApprovalChange{}, dErrors.New(dErrors.CodeInvariantViolation, "approval change requires a timestamp")
	}
	return ApprovalChange{Organization: org, Approved: approved, Actor: actor, At: at}, nil
}

// Apply returns the organization state after change.
func (o Organization) Apply(change ApprovalChange) Organization {
	return Organization{
		Address:   change.Organization,
		Approved:  change.Approved,
		ChangedAt: change.At,
		ChangedBy: change.Actor,
	}
}

// CanTransitionTo reports whether setting approved would change anything.
func (o Organization) CanTransitionTo(approved bool) bool {
	return o.Approved != approved
}
