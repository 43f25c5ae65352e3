package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	acmodels "certreg/internal/accesscontrol/models"
	certmodels "certreg/internal/certificate/models"
	id "certreg/pkg/domain"
	dErrors "certreg/pkg/domain-errors"
	"certreg/pkg/platform/sentinel"
	"certreg/pkg/requestcontext"
)

const (
	admin = id.Identity("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	org   = id.Identity("0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359")
	rec   = id.Identity("0xd1220a0cf47c7b9be7a2e6ba89f429762e7b9adb")
)

var at = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

type failingStore struct {
	MemoryStore
	err error
}

func (s *failingStore) Append(ctx context.Context, entry Entry) error {
	if s.err != nil {
		return s.err
	}
	return s.MemoryStore.Append(ctx, entry)
}

func certificate(certID id.CertificateID) *certmodels.Certificate {
	return &certmodels.Certificate{ID: certID, Organization: org, Recipient: rec, Name: "Alice", Course: "Go", IssuedAt: at}
}

func TestJournalAppendAndReplay(t *testing.T) {
	ctx := requestcontext.WithTime(context.Background(), at)
	store := NewMemoryStore()
	j := New(store)

	require.NoError(t, j.AppendGenesis(ctx, admin))
	require.NoError(t, j.AppendApproval(ctx, acmodels.ApprovalChange{Organization: org, Approved: true, Actor: admin, At: at}))
	require.NoError(t, j.AppendIssuance(ctx, certificate(1)))
	assert.Equal(t, uint64(3), j.Seq())

	entries := store.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, KindGenesis, entries[0].Kind)
	assert.Equal(t, admin, entries[0].Admin)
	assert.Equal(t, at, entries[0].At)
	assert.Equal(t, KindApproval, entries[1].Kind)
	assert.Equal(t, KindIssuance, entries[2].Kind)
	assert.Equal(t, id.CertificateID(1), entries[2].CertificateID())

	t.Run("replay on a fresh journal resumes the sequence", func(t *testing.T) {
		reopened := New(store)
		var kinds []Kind
		n, err := reopened.Replay(ctx, func(e Entry) error {
			kinds = append(kinds, e.Kind)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, []Kind{KindGenesis, KindApproval, KindIssuance}, kinds)
		assert.Equal(t, uint64(3), reopened.Seq())

		require.NoError(t, reopened.AppendIssuance(ctx, certificate(2)))
		assert.Equal(t, uint64(4), store.Entries()[3].Seq)
	})
}

func TestJournalGenesis(t *testing.T) {
	ctx := context.Background()

	t.Run("only as the first entry", func(t *testing.T) {
		j := New(NewMemoryStore())
		require.NoError(t, j.AppendGenesis(ctx, admin))
		err := j.AppendGenesis(ctx, admin)
		assert.ErrorIs(t, err, sentinel.ErrConflict)
	})

	t.Run("requires an administrator", func(t *testing.T) {
		j := New(NewMemoryStore())
		err := j.AppendGenesis(ctx, id.ZeroIdentity)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidIdentity))
		assert.Equal(t, uint64(0), j.Seq())
	})
}

func TestJournalStoreFailureKeepsSequence(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{err: errors.New("disk full")}
	j := New(store)

	err := j.AppendIssuance(ctx, certificate(1))
	require.Error(t, err)
	assert.Equal(t, uint64(0), j.Seq())

	store.err = nil
	require.NoError(t, j.AppendGenesis(ctx, admin))
	assert.Equal(t, uint64(1), j.Seq())
}

func TestJournalReplayRejectsCorruptLogs(t *testing.T) {
	ctx := context.Background()
	genesis := Entry{Seq: 1, Kind: KindGenesis, At: at, Admin: admin}
	issuance := func(seq uint64) Entry {
		return Entry{Seq: seq, Kind: KindIssuance, At: at, Certificate: certificate(id.CertificateID(seq - 1))}
	}

	tests := []struct {
		name    string
		entries []Entry
	}{
		{"sequence gap", []Entry{genesis, issuance(3)}},
		{"missing genesis", []Entry{issuance(1)}},
		{"second genesis", []Entry{genesis, {Seq: 2, Kind: KindGenesis, At: at, Admin: admin}}},
		{"unknown kind", []Entry{genesis, {Seq: 2, Kind: "mint", At: at}}},
		{"payload mismatch", []Entry{genesis, {Seq: 2, Kind: KindApproval, At: at, Certificate: certificate(1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			store.entries = tt.entries
			_, err := New(store).Replay(ctx, func(Entry) error { return nil })
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation), "got %v", err)
		})
	}
}

func TestJournalReplayStopsOnCallbackError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	j := New(store)
	require.NoError(t, j.AppendGenesis(ctx, admin))
	require.NoError(t, j.AppendIssuance(ctx, certificate(1)))

	boom := errors.New("apply failed")
	n, err := New(store).Replay(ctx, func(e Entry) error {
		if e.Kind == KindIssuance {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)
}

func TestJournalConcurrentAppendsAreSequenced(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	j := New(store)
	require.NoError(t, j.AppendGenesis(ctx, admin))

	const writers, perWriter = 4, 50
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range perWriter {
				c := certificate(id.CertificateID(w*perWriter + i + 1))
				if err := j.AppendIssuance(ctx, c); err != nil {
					t.Error(err)
				}
			}
		}(w)
	}
	wg.Wait()

	entries := store.Entries()
	require.Len(t, entries, writers*perWriter+1)
	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.Seq)
	}
}

func TestAppendIssuanceCopiesCertificate(t *testing.T) {
	store := NewMemoryStore()
	j := New(store)
	c := certificate(1)
	require.NoError(t, j.AppendIssuance(context.Background(), c))
	c.Name = "changed"
	assert.Equal(t, "Alice", store.Entries()[0].Certificate.Name)
}
