package handler

import (
	"time"

	acmodels "certreg/internal/accesscontrol/models"
	certmodels "certreg/internal/certificate/models"
	"certreg/internal/verification"
	id "certreg/pkg/domain"
)

type OwnerResponse struct {
	Owner         string `json:"owner"`
	OwnerChecksum string `json:"owner_checksum"`
}

type OrganizationResponse struct {
	Address   string     `json:"address"`
	Approved  bool       `json:"approved"`
	ChangedAt *time.Time `json:"changed_at,omitempty"`
	ChangedBy string     `json:"changed_by,omitempty"`
}

func toOrganizationResponse(o acmodels.Organization) OrganizationResponse {
	resp := OrganizationResponse{
		Address:   o.Address.String(),
		Approved:  o.Approved,
		ChangedBy: o.ChangedBy.String(),
	}
	if !o.ChangedAt.IsZero() {
		at := o.ChangedAt
		resp.ChangedAt = &at
	}
	return resp
}

type IssueResponse struct {
	ID string `json:"id"`
}

// CertificateResponse renders ids as decimal strings so clients never lose
// precision on large values.
type CertificateResponse struct {
	ID           string    `json:"id"`
	Organization string    `json:"organization"`
	Recipient    string    `json:"recipient"`
	Name         string    `json:"name"`
	Course       string    `json:"course"`
	IssuedAt     time.Time `json:"issued_at"`
}

func toCertificateResponse(c *certmodels.Certificate) CertificateResponse {
	return CertificateResponse{
		ID:           c.ID.String(),
		Organization: c.Organization.String(),
		Recipient:    c.Recipient.String(),
		Name:         c.Name,
		Course:       c.Course,
		IssuedAt:     c.IssuedAt,
	}
}

type BatchItemResponse struct {
	ID          string               `json:"id"`
	Exists      bool                 `json:"exists"`
	Certificate *CertificateResponse `json:"certificate,omitempty"`
}

type BatchResponse struct {
	Items []BatchItemResponse `json:"items"`
}

func toBatchResponse(raw []string, items []verification.BatchItem) BatchResponse {
	out := make([]BatchItemResponse, len(items))
	for i, item := range items {
		out[i] = BatchItemResponse{ID: raw[i], Exists: item.Exists}
		if item.Certificate != nil {
			c := toCertificateResponse(item.Certificate)
			out[i].ID = c.ID
			out[i].Certificate = &c
		}
	}
	return BatchResponse{Items: out}
}

// VerifyResponse echoes the requested id even when it names nothing.
type VerifyResponse struct {
	Valid        bool   `json:"valid"`
	ID           string `json:"id"`
	Organization string `json:"organization"`
	Recipient    string `json:"recipient"`
	Name         string `json:"name"`
	Course       string `json:"course"`
}

func toVerifyResponse(rawID string, res verification.Result) VerifyResponse {
	return VerifyResponse{
		Valid:        res.Valid,
		ID:           rawID,
		Organization: res.Organization.String(),
		Recipient:    res.Recipient.String(),
		Name:         res.Name,
		Course:       res.Course,
	}
}

// CertificateListResponse lists ids for a recipient or organization;
// Certificates is filled only for view=full.
type CertificateListResponse struct {
	Address      string                `json:"address"`
	IDs          []string              `json:"ids"`
	Certificates []CertificateResponse `json:"certificates,omitempty"`
}

func idStrings(ids []id.CertificateID) []string {
	out := make([]string, len(ids))
	for i, certID := range ids {
		out[i] = certID.String()
	}
	return out
}

type StatsResponse struct {
	Total         uint64 `json:"total"`
	Organizations int    `json:"organizations"`
	NextID        string `json:"next_id"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
