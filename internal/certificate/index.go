package certificate

import (
	id "certreg/pkg/domain"
)

// index maps recipients and organizations to the ids of their certificates
// in issuance order. It has no lock of its own: every access happens under
// the owning Ledger's mutex.
type index struct {
	byRecipient    map[id.Identity][]id.CertificateID
	byOrganization map[id.Identity][]id.CertificateID
}

func newIndex() *index {
	return &index{
		byRecipient:    make(map[id.Identity][]id.CertificateID),
		byOrganization: make(map[id.Identity][]id.CertificateID),
	}
}

// recordIssuance appends certID to both lists. Called only with the ledger's
// write lock held, in the same critical section that stores the record.
func (x *index) recordIssuance(certID id.CertificateID, org, recipient id.Identity) {
	x.byRecipient[recipient] = append(x.byRecipient[recipient], certID)
	x.byOrganization[org] = append(x.byOrganization[org], certID)
}

func (x *index) recipientIDs(recipient id.Identity) []id.CertificateID {
	return cloneIDs(x.byRecipient[recipient])
}

func (x *index) organizationIDs(org id.Identity) []id.CertificateID {
	return cloneIDs(x.byOrganization[org])
}

// cloneIDs returns a caller-owned copy; unknown keys yield an empty, non-nil slice.
func cloneIDs(ids []id.CertificateID) []id.CertificateID {
	out := make([]id.CertificateID, len(ids))
	copy(out, ids)
	return out
}
