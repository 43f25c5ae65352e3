package verification

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certreg/internal/certificate"
	"certreg/internal/certificate/models"
	id "certreg/pkg/domain"
	"certreg/pkg/testutil"
)

const (
	orgA = id.Identity("0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359")
	orgB = id.Identity("0xdbf03b407c01e7cd3cbea99509d93f8dddc8c6fb")
	recX = id.Identity("0xd1220a0cf47c7b9be7a2e6ba89f429762e7b9adb")
)

type approvedSet map[id.Identity]bool

func (a approvedSet) IsApproved(org id.Identity) bool { return a[org] }

func issue(t *testing.T, ledger *certificate.Ledger, org id.Identity, name string) id.CertificateID {
	t.Helper()
	c, err := ledger.Issue(context.Background(), org, models.IssueRequest{Recipient: recX, Name: name, Course: "Go"})
	require.NoError(t, err)
	return c.ID
}

func TestVerify(t *testing.T) {
	approved := approvedSet{orgA: true, orgB: true}
	ledger := certificate.NewLedger(approved)
	svc := New(ledger)
	issue(t, ledger, orgA, "Alice")

	testutil.Given(t, "an issued certificate", func(t *testing.T) {
		testutil.Then(t, "it verifies with its fields", func(t *testing.T) {
			assert.Equal(t, Result{
				Valid:        true,
				ID:           1,
				Organization: orgA,
				Recipient:    recX,
				Name:         "Alice",
				Course:       "Go",
			}, svc.Verify(1))
		})
	})

	testutil.Given(t, "an unknown id", func(t *testing.T) {
		testutil.Then(t, "verify is invalid with empty fields and the id echoed", func(t *testing.T) {
			assert.Equal(t, Result{ID: 42}, svc.Verify(42))
			assert.Equal(t, Result{ID: 0}, svc.Verify(0))
		})
	})

	testutil.When(t, "the issuing organization is revoked", func(t *testing.T) {
		delete(approved, orgA)

		testutil.Then(t, "history stays valid by default", func(t *testing.T) {
			assert.True(t, svc.Verify(1).Valid)
		})

		testutil.Then(t, "it is invalid when revocation invalidates", func(t *testing.T) {
			strict := New(ledger, WithRevocationInvalidates(approved))
			res := strict.Verify(1)
			assert.False(t, res.Valid)
			assert.Equal(t, "Alice", res.Name)
		})
	})
}

func TestBatchGet(t *testing.T) {
	ledger := certificate.NewLedger(approvedSet{orgA: true})
	svc := New(ledger)
	issue(t, ledger, orgA, "one")
	issue(t, ledger, orgA, "two")

	items := svc.BatchGet([]id.CertificateID{2, 7, 1, 2})
	require.Len(t, items, 4)

	assert.True(t, items[0].Exists)
	assert.Equal(t, "two", items[0].Certificate.Name)
	assert.Equal(t, BatchItem{ID: 7}, items[1])
	assert.Equal(t, "one", items[2].Certificate.Name)
	assert.Equal(t, id.CertificateID(2), items[3].Certificate.ID)

	assert.Empty(t, svc.BatchGet(nil))
}

func TestListings(t *testing.T) {
	ledger := certificate.NewLedger(approvedSet{orgA: true, orgB: true})
	svc := New(ledger)
	assert.Equal(t, uint64(0), svc.TotalIssued())

	issue(t, ledger, orgA, "a")
	issue(t, ledger, orgB, "b")
	issue(t, ledger, orgA, "c")

	assert.Equal(t, uint64(3), svc.TotalIssued())
	assert.Equal(t, []id.CertificateID{1, 2, 3}, svc.IDsOf(recX))
	assert.Equal(t, []id.CertificateID{1, 3}, svc.IDsIssuedBy(orgA))
	assert.Equal(t, []id.CertificateID{2}, svc.IDsIssuedBy(orgB))
	assert.Empty(t, svc.IDsOf(orgA))

	testutil.Then(t, "listings resolve to the records behind the ids", func(t *testing.T) {
		names := func(certs []*models.Certificate) []string {
			out := make([]string, len(certs))
			for i, cert := range certs {
				out[i] = cert.Name
			}
			return out
		}
		assert.Equal(t, []string{"a", "b", "c"}, names(svc.CertificatesOf(recX)))
		assert.Equal(t, []string{"a", "c"}, names(svc.CertificatesIssuedBy(orgA)))
		assert.Equal(t, []string{"b"}, names(svc.CertificatesIssuedBy(orgB)))
		assert.Empty(t, svc.CertificatesOf(orgA))

		for _, cert := range svc.CertificatesIssuedBy(orgA) {
			assert.Equal(t, orgA, cert.Organization)
			got, err := ledger.Get(cert.ID)
			require.NoError(t, err)
			assert.Equal(t, got, cert)
		}
	})
}
