package upload

import (
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/measurekeeper/internal/common"
)

// Store maps upload identifiers to their sessions. It is shared across all
// concurrent requests; the map itself is guarded by an RWMutex while each
// session carries its own mutex for per-identifier serialization.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// now is replaceable in tests.
	now func() time.Time
}

// NewStore returns an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create registers a session for id with the given declared total length.
// Creating an identifier that is already present with the same total returns
// the existing session, so a retried first chunk does not conflict with
// itself. A differing total fails with ErrSessionConflict.
func (s *Store) Create(id string, total int64) (*Session, error) {
	if total < 1 {
		return nil, fmt.Errorf("%w: declared total %d", common.ErrContentRangeMismatch, total)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[id]; ok {
		if existing.Total != total {
			return nil, fmt.Errorf("%w: identifier %q exists with total %d, got %d",
				common.ErrSessionConflict, id, existing.Total, total)
		}
		return existing, nil
	}

	sess := &Session{
		ID:           id,
		Total:        total,
		State:        StateNew,
		LastActivity: s.now(),
	}
	s.sessions[id] = sess
	return sess, nil
}

// Get returns the session for id, if present.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Advance atomically increments the stored byte count of id's session. It
// fails with ErrNotFound for unknown identifiers and with
// ErrContentRangeMismatch when the result would exceed the declared total.
func (s *Store) Advance(id string, n int64) (int64, error) {
	sess, ok := s.Get(id)
	if !ok {
		return 0, fmt.Errorf("%w: session %q", common.ErrNotFound, id)
	}

	sess.lock()
	defer sess.unlock()
	if sess.removed {
		return 0, fmt.Errorf("%w: session %q", common.ErrNotFound, id)
	}
	if err := sess.advance(n, s.now()); err != nil {
		return sess.BytesStored, err
	}
	return sess.BytesStored, nil
}

// Remove deletes id's session from the store and marks it removed so that
// goroutines still waiting on its mutex observe the deletion. The caller
// must hold the session lock.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.removed = true
		delete(s.sessions, id)
	}
}

// RemoveExpired deletes every session idle for longer than window and
// returns the removed identifiers. Sessions currently processing a chunk
// hold their mutex and are skipped: an in-flight append refreshes
// LastActivity, so they are not idle.
func (s *Store) RemoveExpired(window time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-window)

	var removed []string
	for id, sess := range s.sessions {
		if !sess.mu.TryLock() {
			continue
		}
		if sess.LastActivity.Before(cutoff) {
			sess.State = StateExpired
			sess.removed = true
			delete(s.sessions, id)
			removed = append(removed, id)
		}
		sess.mu.Unlock()
	}
	return removed
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
