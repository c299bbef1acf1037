package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type memoryKey struct {
	threadID   string
	toolCallID string
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore keeps checkpoints in process memory. Expired entries are
// dropped when they are next touched.
type MemoryStore struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	entries map[memoryKey]memoryEntry
}

// NewMemoryStore creates a MemoryStore. A nil clock uses the real clock.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock:   clock,
		entries: make(map[memoryKey]memoryEntry),
	}
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, threadID, toolCallID string, data []byte, ttl time.Duration) error {
	if err := validateKey(threadID, toolCallID); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[memoryKey{threadID, toolCallID}] = memoryEntry{
		data:      append([]byte(nil), data...),
		expiresAt: s.clock.Now().Add(ttl),
	}
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, threadID, toolCallID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.lookup(memoryKey{threadID, toolCallID})
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), entry.data...), nil
}

// Take implements Store.
func (s *MemoryStore) Take(_ context.Context, threadID, toolCallID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey{threadID, toolCallID}
	entry, ok := s.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.entries, key)
	return entry.data, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, threadID, toolCallID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, memoryKey{threadID, toolCallID})
	return nil
}

// Len returns the number of live checkpoints.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
	return len(s.entries)
}

// lookup must be called with s.mu held.
func (s *MemoryStore) lookup(key memoryKey) (memoryEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !s.clock.Now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}
