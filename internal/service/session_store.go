package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SprintDraft holds the partial input of the two-step sprint creation flow
// before anything is persisted.
type SprintDraft struct {
	ProjectID uint
	ChatID    int64
	ActorID   int64
	Name      string
	Goal      string
	StartsAt  *time.Time
	EndsAt    *time.Time
	DatesSet  bool
}

type sessionEntry struct {
	draft     *SprintDraft
	createdAt time.Time
}

// SessionStore keeps sprint drafts keyed by a random token. Entries expire
// by TTL checked on read, so no background cleanup is needed.
type SessionStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*sessionEntry
	now     func() time.Time
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		ttl:     ttl,
		entries: make(map[string]*sessionEntry),
		now:     time.Now,
	}
}

// Put stores the draft and returns its token.
func (s *SessionStore) Put(draft *SprintDraft) string {
	token := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	s.entries[token] = &sessionEntry{draft: draft, createdAt: s.now()}
	return token
}

// Get returns the draft for the token, or false if it expired or never
// existed. The draft stays addressable until Delete or expiry.
func (s *SessionStore) Get(token string) (*SprintDraft, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	entry, ok := s.entries[token]
	if !ok {
		return nil, false
	}
	return entry.draft, true
}

func (s *SessionStore) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, token)
}

// prune drops expired entries. Called under the lock on every access, which
// bounds growth without a scheduler of its own.
func (s *SessionStore) prune() {
	deadline := s.now().Add(-s.ttl)
	for token, entry := range s.entries {
		if entry.createdAt.Before(deadline) {
			delete(s.entries, token)
		}
	}
}
