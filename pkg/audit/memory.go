package audit

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps the chain in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   []Entry
	chainHead string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chainHead: Genesis}
}

func (s *MemoryStore) Append(ctx context.Context, ev Event) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := newEntry(ev)
	if err := seal(&entry, uint64(len(s.entries))+1, s.chainHead); err != nil {
		return Entry{}, err
	}
	s.entries = append(s.entries, entry)
	s.chainHead = entry.EntryHash
	return entry, nil
}

func (s *MemoryStore) List(ctx context.Context, after uint64, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Entry, 0)
	for _, e := range s.entries {
		if e.Sequence <= after {
			continue
		}
		e.Details = maps.Clone(e.Details)
		result = append(result, e)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// ChainHead returns the hash of the latest entry.
func (s *MemoryStore) ChainHead() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chainHead
}

func newEntry(ev Event) Entry {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	return Entry{
		ID:        uuid.New().String(),
		Timestamp: at.UTC(),
		Action:    ev.Action,
		RequestID: ev.RequestID,
		Account:   ev.Account,
		Actor:     ev.Actor,
		Details:   maps.Clone(ev.Details),
	}
}
