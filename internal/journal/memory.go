package journal

import (
	"context"
	"fmt"
	"sync"

	"certreg/pkg/platform/sentinel"
)

// MemoryStore keeps entries in process memory. State does not survive a
// restart; it backs development runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if want := uint64(len(s.entries)) + 1; entry.Seq != want {
		return fmt.Errorf("%w: expected seq %d, got %d", sentinel.ErrConflict, want, entry.Seq)
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryStore) Replay(ctx context.Context, fn func(Entry) error) error {
	for _, entry := range s.Entries() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Health(context.Context) error {
	return nil
}

// Entries returns a snapshot of the stored entries.
func (s *MemoryStore) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
