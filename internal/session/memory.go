package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	snap      *Snapshot
	expiresAt time.Time
}

// MemoryStore is an in-process session store. Suitable for a single
// gateway instance and for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
}

// NewMemoryStore creates a memory store whose entries expire after ttl.
// A ttl of zero disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
	}
}

func (s *MemoryStore) Get(ctx context.Context, sid string) (*Snapshot, error) {
	s.mu.RLock()
	entry, ok := s.entries[sid]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, sid)
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	return entry.snap, nil
}

func (s *MemoryStore) Put(ctx context.Context, sid string, snap *Snapshot) error {
	if !snap.Complete() {
		return ErrIncompleteSnapshot
	}

	var expiresAt time.Time
	if s.ttl > 0 {
		expiresAt = time.Now().Add(s.ttl)
	}

	s.mu.Lock()
	s.entries[sid] = memoryEntry{snap: snap, expiresAt: expiresAt}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context, sid string) error {
	s.mu.Lock()
	delete(s.entries, sid)
	s.mu.Unlock()
	return nil
}
