package models

import (
	"strings"
	"time"
	"unicode/utf8"

	id "certreg/pkg/domain"
	dErrors "certreg/pkg/domain-errors"
)

// MaxFieldLength bounds the recipient name and course title, in characters.
const MaxFieldLength = 256

// Certificate is an immutable issuance record.
type Certificate struct {
	ID           id.CertificateID `json:"id"`
	Organization id.Identity      `json:"organization"`
	Recipient    id.Identity      `json:"recipient"`
	Name         string           `json:"name"`
	Course       string           `json:"course"`
	IssuedAt     time.Time        `json:"issued_at"`
}

// NewCertificate builds a record, enforcing the invariants every stored
// certificate satisfies. Issue paths validate requests first, so a failure
// here on those paths means a programming error.
func NewCertificate(certID id.CertificateID, org, recipient id.Identity, name, course string, issuedAt time.Time) (*Certificate, error) {
	if certID == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "certificate id must be positive")
	}
	if org.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "certificate requires an issuing organization")
	}
	req := IssueRequest{Recipient: recipient, Name: name, Course: course}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if issuedAt.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "certificate requires an issue time")
	}
	return &Certificate{
		ID:           certID,
		Organization: org,
		Recipient:    recipient,
		Name:         name,
		Course:       course,
		IssuedAt:     issuedAt,
	}, nil
}

// IssueRequest carries the caller-supplied fields of an issuance.
type IssueRequest struct {
	Recipient id.Identity
	Name      string
	Course    string
}

// Normalize trims the free-text fields.
func (r *IssueRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Course = strings.TrimSpace(r.Course)
}

// Validate checks a normalized request.
func (r *IssueRequest) Validate() error {
	if r.Recipient.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "recipient must be a non-null address")
	}
	if r.Name == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "name is required")
	}
	if r.Course == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "course is required")
	}
	if utf8.RuneCountInString(r.Name) > MaxFieldLength {
		return dErrors.New(dErrors.CodeInvalidInput, "name must be at most 256 characters")
	}
	if utf8.RuneCountInString(r.Course) > MaxFieldLength {
		return dErrors.New(dErrors.CodeInvalidInput, "course must be at most 256 characters")
	}
	return nil
}
