// Package journal is the append-only log the registry replays at start-up.
// Every state-changing operation is appended before it becomes visible in
// memory, so replaying the log in sequence order rebuilds identical state.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	acmodels "certreg/internal/accesscontrol/models"
	certmodels "certreg/internal/certificate/models"
	id "certreg/pkg/domain"
	dErrors "certreg/pkg/domain-errors"
	"certreg/pkg/platform/sentinel"
	"certreg/pkg/requestcontext"
)

// Store is a durable backend for journal entries. Append must either persist
// the entry or fail without side effects; Replay yields entries in Seq order.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Replay(ctx context.Context, fn func(Entry) error) error
	Health(ctx context.Context) error
}

// Journal assigns sequence numbers and writes typed entries to a Store.
// The access-control service and the ledger append concurrently under their
// own locks; the Journal serializes them into one sequence.
type Journal struct {
	mu     sync.Mutex
	seq    uint64
	store  Store
	logger *slog.Logger
}

type Option func(*Journal)

func WithLogger(logger *slog.Logger) Option {
	return func(j *Journal) {
		j.logger = logger
	}
}

// New wraps store. Call Replay before appending so the sequence continues
// from the last persisted entry.
func New(store Store, opts ...Option) *Journal {
	j := &Journal{store: store}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// AppendGenesis records the administrator as the first entry. It fails with
// sentinel.ErrConflict when the journal already has entries.
func (j *Journal) AppendGenesis(ctx context.Context, admin id.Identity) error {
	if admin.IsZero() {
		return dErrors.New(dErrors.CodeInvalidIdentity, "genesis requires a non-null administrator")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.seq != 0 {
		return fmt.Errorf("%w: genesis must be the first journal entry, journal is at seq %d", sentinel.ErrConflict, j.seq)
	}
	return j.appendLocked(ctx, Entry{
		Kind:  KindGenesis,
		At:    requestcontext.Now(ctx),
		Admin: admin,
	})
}

// AppendApproval records a state-changing approve or revoke.
func (j *Journal) AppendApproval(ctx context.Context, change acmodels.ApprovalChange) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.appendLocked(ctx, Entry{
		Kind:     KindApproval,
		At:       change.At,
		Approval: &change,
	})
}

// AppendIssuance records an issued certificate.
func (j *Journal) AppendIssuance(ctx context.Context, cert *certmodels.Certificate) error {
	if cert == nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "cannot journal a nil certificate")
	}
	c := *cert
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.appendLocked(ctx, Entry{
		Kind:        KindIssuance,
		At:          c.IssuedAt,
		Certificate: &c,
	})
}

func (j *Journal) appendLocked(ctx context.Context, entry Entry) error {
	entry.Seq = j.seq + 1
	if err := entry.Validate(); err != nil {
		return err
	}
	if err := j.store.Append(ctx, entry); err != nil {
		if j.logger != nil {
			j.logger.ErrorContext(ctx, "journal append failed",
				"seq", entry.Seq,
				"kind", entry.Kind,
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return fmt.Errorf("append journal entry %d: %w", entry.Seq, err)
	}
	j.seq = entry.Seq
	return nil
}

// Replay feeds every persisted entry to fn in order and positions the
// journal after the last one. A gap in the sequence is an invariant
// violation; replay stops at the first error from fn.
func (j *Journal) Replay(ctx context.Context, fn func(Entry) error) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var (
		last  uint64
		count int
	)
	err := j.store.Replay(ctx, func(entry Entry) error {
		if entry.Seq != last+1 {
			return dErrors.New(dErrors.CodeInvariantViolation,
				fmt.Sprintf("journal sequence gap: expected %d, got %d", last+1, entry.Seq))
		}
		if err := entry.Validate(); err != nil {
			return err
		}
		if (entry.Seq == 1) != (entry.Kind == KindGenesis) {
			return dErrors.New(dErrors.CodeInvariantViolation,
				fmt.Sprintf("journal entry %d has kind %s; genesis must be first and only first", entry.Seq, entry.Kind))
		}
		if err := fn(entry); err != nil {
			return err
		}
		last = entry.Seq
		count++
		return nil
	})
	if err != nil {
		return count, err
	}
	j.seq = last
	if j.logger != nil {
		j.logger.InfoContext(ctx, "journal replayed", "entries", count)
	}
	return count, nil
}

// Seq returns the sequence number of the last entry written or replayed.
func (j *Journal) Seq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Health reports whether the backend is reachable.
func (j *Journal) Health(ctx context.Context) error {
	return j.store.Health(ctx)
}
