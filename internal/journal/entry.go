package journal

import (
	"fmt"
	"time"

	acmodels "certreg/internal/accesscontrol/models"
	certmodels "certreg/internal/certificate/models"
	id "certreg/pkg/domain"
	dErrors "certreg/pkg/domain-errors"
)

// Kind discriminates the payload of an Entry.
type Kind string

const (
	KindGenesis  Kind = "genesis"
	KindApproval Kind = "approval"
	KindIssuance Kind = "issuance"
)

// Entry is one journaled state change. Exactly one payload is set, chosen by Kind.
type Entry struct {
	Seq         uint64                   `json:"seq"`
	Kind        Kind                     `json:"kind"`
	At          time.Time                `json:"at"`
	Admin       id.Identity              `json:"admin,omitempty"`
	Approval    *acmodels.ApprovalChange `json:"approval,omitempty"`
	Certificate *certmodels.Certificate  `json:"certificate,omitempty"`
}

// Validate checks that the payload matches Kind.
func (e Entry) Validate() error {
	if e.Seq == 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "journal entry requires a sequence number")
	}
	switch e.Kind {
	case KindGenesis:
		if e.Admin.IsZero() || e.Approval != nil || e.Certificate != nil {
			return invalidPayload(e)
		}
	case KindApproval:
		if e.Approval == nil || e.Certificate != nil || e.Admin != "" {
			return invalidPayload(e)
		}
	case KindIssuance:
		if e.Certificate == nil || e.Approval != nil || e.Admin != "" {
			return invalidPayload(e)
		}
	default:
		return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("journal entry %d has unknown kind %q", e.Seq, e.Kind))
	}
	return nil
}

// CertificateID returns the id carried by an issuance entry, or 0.
func (e Entry) CertificateID() id.CertificateID {
	if e.Certificate == nil {
		return 0
	}
	return e.Certificate.ID
}

func invalidPayload(e Entry) error {
	return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("journal entry %d has a payload that does not match kind %s", e.Seq, e.Kind))
}
