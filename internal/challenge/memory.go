package challenge

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is an in-process Store for tests and local development.
// Expired entries are treated as absent, dropped on access and pruned
// whenever a new code is issued.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

// NewMemoryStore builds an in-memory store with the given TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

// SetClock replaces the time source. Intended for tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Issue(_ context.Context, generationID string, digits int) (string, error) {
	code, err := NewCode(digits)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, id)
		}
	}
	s.entries[generationID] = memoryEntry{code: code, expiresAt: now.Add(s.ttl)}
	return code, nil
}

// Len reports how many codes the store holds, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) Consume(_ context.Context, generationID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[generationID]
	if !ok {
		return "", ErrNotFound
	}
	delete(s.entries, generationID)
	if !s.now().Before(entry.expiresAt) {
		return "", ErrNotFound
	}
	return entry.code, nil
}

func (s *MemoryStore) Discard(_ context.Context, generationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, generationID)
	return nil
}

// Peek returns the live code without consuming it. Intended for tests.
func (s *MemoryStore) Peek(generationID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[generationID]
	if !ok || !s.now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.code, true
}
