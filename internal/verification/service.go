// Package verification answers read-only questions about issued certificates.
package verification

import (
	"certreg/internal/certificate/models"
	id "certreg/pkg/domain"
)

// Ledger is the read side of the certificate ledger.
type Ledger interface {
	Get(certID id.CertificateID) (*models.Certificate, error)
	GetMany(ids []id.CertificateID) []*models.Certificate
	Total() uint64
	RecipientIDs(recipient id.Identity) []id.CertificateID
	OrganizationIDs(org id.Identity) []id.CertificateID
	RecipientCertificates(recipient id.Identity) []*models.Certificate
	OrganizationCertificates(org id.Identity) []*models.Certificate
}

// Authorizer is consulted only when revocation invalidates past issuances.
type Authorizer interface {
	IsApproved(org id.Identity) bool
}

// Result is the outcome of Verify. On a miss every field but ID is empty.
type Result struct {
	Valid        bool             `json:"valid"`
	ID           id.CertificateID `json:"id"`
	Organization id.Identity      `json:"organization"`
	Recipient    id.Identity      `json:"recipient"`
	Name         string           `json:"name"`
	Course       string           `json:"course"`
}

// BatchItem is one position of a BatchGet answer.
type BatchItem struct {
	ID          id.CertificateID    `json:"id"`
	Exists      bool                `json:"exists"`
	Certificate *models.Certificate `json:"certificate,omitempty"`
}

type Service struct {
	ledger                Ledger
	authz                 Authorizer
	revocationInvalidates bool
}

type Option func(*Service)

// WithRevocationInvalidates makes Verify report certificates of organizations
// that are no longer approved as invalid. The records stay readable.
func WithRevocationInvalidates(authz Authorizer) Option {
	return func(s *Service) {
		s.authz = authz
		s.revocationInvalidates = authz != nil
	}
}

func New(ledger Ledger, opts ...Option) *Service {
	s := &Service{ledger: ledger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify never fails: a missing id yields Valid=false with the id echoed.
func (s *Service) Verify(certID id.CertificateID) Result {
	cert, err := s.ledger.Get(certID)
	if err != nil {
		return Result{ID: certID}
	}
	valid := true
	if s.revocationInvalidates && !s.authz.IsApproved(cert.Organization) {
		valid = false
	}
	return Result{
		Valid:        valid,
		ID:           cert.ID,
		Organization: cert.Organization,
		Recipient:    cert.Recipient,
		Name:         cert.Name,
		Course:       cert.Course,
	}
}

// BatchGet resolves ids in one consistent snapshot, preserving order and
// length. Duplicates are answered at every position.
func (s *Service) BatchGet(ids []id.CertificateID) []BatchItem {
	certs := s.ledger.GetMany(ids)
	out := make([]BatchItem, len(ids))
	for i, certID := range ids {
		out[i] = BatchItem{ID: certID, Exists: certs[i] != nil, Certificate: certs[i]}
	}
	return out
}

// TotalIssued returns how many certificates have been issued.
func (s *Service) TotalIssued() uint64 {
	return s.ledger.Total()
}

// IDsOf lists the ids issued to recipient in issuance order.
func (s *Service) IDsOf(recipient id.Identity) []id.CertificateID {
	return s.ledger.RecipientIDs(recipient)
}

// IDsIssuedBy lists the ids issued by org in issuance order.
func (s *Service) IDsIssuedBy(org id.Identity) []id.CertificateID {
	return s.ledger.OrganizationIDs(org)
}

// CertificatesOf returns the certificates issued to recipient in issuance
// order, resolved from one snapshot of the ledger.
func (s *Service) CertificatesOf(recipient id.Identity) []*models.Certificate {
	return s.ledger.RecipientCertificates(recipient)
}

// CertificatesIssuedBy returns the certificates issued by org in issuance order.
func (s *Service) CertificatesIssuedBy(org id.Identity) []*models.Certificate {
	return s.ledger.OrganizationCertificates(org)
}
