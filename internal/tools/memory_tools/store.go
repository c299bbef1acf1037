package memory_tools

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Entry is one remembered fact.
type Entry struct {
	Key       string    `json:"key"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store holds knowledge entries per user. It is safe for concurrent use and
// outlives the per-user servers built on top of it.
type Store struct {
	mu    sync.RWMutex
	clock clockwork.Clock
	users map[string]map[string]Entry
}

// NewStore creates an empty store. A nil clock uses the real clock.
func NewStore(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{clock: clock, users: make(map[string]map[string]Entry)}
}

// Put creates or replaces the entry under key.
func (s *Store) Put(userID, key, content string, tags []string) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.users[userID]
	if !ok {
		entries = make(map[string]Entry)
		s.users[userID] = entries
	}
	e := Entry{Key: key, Content: content, Tags: tags, UpdatedAt: s.clock.Now()}
	entries[key] = e
	return e
}

// Delete removes an entry and reports whether it existed.
func (s *Store) Delete(userID, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID][key]; !ok {
		return false
	}
	delete(s.users[userID], key)
	return true
}

// List returns the user's entries, most recently updated first.
func (s *Store) List(userID string) []Entry {
	return s.Search(userID, "", 0)
}

// Search returns entries whose key, content or tags contain query
// (case-insensitive), most recently updated first. limit <= 0 means all.
func (s *Store) Search(userID, query string, limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]Entry, 0, len(s.users[userID]))
	for _, e := range s.users[userID] {
		if q == "" || matches(e, q) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func matches(e Entry, q string) bool {
	if strings.Contains(strings.ToLower(e.Key), q) || strings.Contains(strings.ToLower(e.Content), q) {
		return true
	}
	for _, tag := range e.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}
