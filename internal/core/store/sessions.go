package store

import (
	"sort"
	"sync"
	"time"
)

// ChatSession holds upstream credentials for one identity.
type ChatSession struct {
	DID         string    `json:"did"`
	Handle      string    `json:"handle"`
	PDSEndpoint string    `json:"pdsEndpoint"`
	AccessJWT   string    `json:"accessJwt"`
	RefreshJWT  string    `json:"refreshJwt,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SessionUpdate carries the fields to merge into an existing session.
// Empty fields leave the stored value unchanged.
type SessionUpdate struct {
	Handle      string
	PDSEndpoint string
	AccessJWT   string
	RefreshJWT  string
}

// ChatSessionStore is a process-local map of DID to ChatSession. Records
// never expire on their own; callers evict with Remove or SweepIdle.
type ChatSessionStore struct {
	Clock func() time.Time

	mu       sync.RWMutex
	sessions map[string]ChatSession
	last     time.Time
}

// NewChatSessionStore returns an empty store.
func NewChatSessionStore() *ChatSessionStore {
	return &ChatSessionStore{sessions: make(map[string]ChatSession)}
}

// Save inserts or replaces the record for rec.DID and stamps UpdatedAt.
func (s *ChatSessionStore) Save(rec ChatSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions == nil {
		s.sessions = make(map[string]ChatSession)
	}
	rec.UpdatedAt = s.stampLocked()
	s.sessions[rec.DID] = rec
}

// Get returns a copy of the record for did.
func (s *ChatSessionStore) Get(did string) (ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[did]
	return rec, ok
}

// Update merges upd into the existing record and refreshes UpdatedAt.
// It reports false, creating nothing, when did has no record.
func (s *ChatSessionStore) Update(did string, upd SessionUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[did]
	if !ok {
		return false
	}
	if upd.Handle != "" {
		rec.Handle = upd.Handle
	}
	if upd.PDSEndpoint != "" {
		rec.PDSEndpoint = upd.PDSEndpoint
	}
	if upd.AccessJWT != "" {
		rec.AccessJWT = upd.AccessJWT
	}
	if upd.RefreshJWT != "" {
		rec.RefreshJWT = upd.RefreshJWT
	}
	rec.UpdatedAt = s.stampLocked()
	s.sessions[did] = rec
	return true
}

// Remove deletes the record for did and reports whether one existed.
func (s *ChatSessionStore) Remove(did string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[did]; !ok {
		return false
	}
	delete(s.sessions, did)
	return true
}

// List returns every record ordered by DID.
func (s *ChatSessionStore) List() []ChatSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ChatSession, 0, len(s.sessions))
	for _, rec := range s.sessions {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DID < out[j].DID })
	return out
}

// Len returns the number of stored sessions.
func (s *ChatSessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// SweepIdle removes records not written within ttl of now. A non-positive
// ttl disables the sweep.
func (s *ChatSessionStore) SweepIdle(now time.Time, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for did, rec := range s.sessions {
		if now.Sub(rec.UpdatedAt) >= ttl {
			delete(s.sessions, did)
			removed++
		}
	}
	return removed
}

// stampLocked returns a timestamp strictly after every previous stamp, so
// two writes in the same clock tick still order correctly.
func (s *ChatSessionStore) stampLocked() time.Time {
	now := time.Now().UTC()
	if s.Clock != nil {
		now = s.Clock()
	}
	if !now.After(s.last) {
		now = s.last.Add(time.Nanosecond)
	}
	s.last = now
	return now
}
