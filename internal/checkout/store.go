package checkout

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Store errors. The manager translates these into the client-facing error
// taxonomy.
var (
	// ErrSessionNotFound is returned when a session id is unknown.
	ErrSessionNotFound = errors.New("checkout: session not found")

	// ErrDuplicateSession is returned when creating a session whose id
	// already exists.
	ErrDuplicateSession = errors.New("checkout: session id already exists")

	// ErrVersionConflict is returned when a compare-and-set write loses the
	// race. Under the manager's per-session locks this acts as an invariant
	// guard rather than an expected outcome.
	ErrVersionConflict = errors.New("checkout: session version conflict")

	// ErrMandateBound is returned when a mandate id is already attached to a
	// different session.
	ErrMandateBound = errors.New("checkout: mandate already bound to another session")
)

// Store is the session persistence contract: get-by-id, create,
// compare-and-set with version, list-expired. A single-node map suffices
// for the demo; any replacement must preserve per-session serialization.
type Store interface {
	// Create persists a new session. ErrDuplicateSession on id collision.
	Create(ctx context.Context, s *Session) error

	// Get returns a copy of the session or ErrSessionNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Update writes the session back if its Version matches the stored one,
	// then increments Version. When the session carries a mandate, the
	// mandate id is bound to the session atomically with the write;
	// ErrMandateBound if the id is already bound elsewhere.
	Update(ctx context.Context, s *Session) error

	// ListStale returns copies of sessions eligible for inactivity expiry:
	// ready_for_complete or requires_escalation with no activity since
	// the cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]*Session, error)

	// Close releases store resources.
	Close() error
}

// MemoryStore is the in-process Store. Sessions are held by value behind a
// RWMutex; a secondary index maps mandate ids to the session that owns
// them so reuse across sessions is rejected at write time.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	mandates map[string]string // mandate id -> session id
}

// NewMemoryStore creates an empty in-process session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		mandates: make(map[string]string),
	}
}

// Create persists a new session.
func (m *MemoryStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return ErrDuplicateSession
	}
	m.sessions[s.ID] = *s
	return nil
}

// Get returns a copy of the stored session.
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

// Update performs the compare-and-set write and binds the mandate id.
func (m *MemoryStore) Update(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.sessions[s.ID]
	if !ok {
		return ErrSessionNotFound
	}
	if cur.Version != s.Version {
		return ErrVersionConflict
	}

	if mid := s.MandateID(); mid != "" {
		if owner, bound := m.mandates[mid]; bound && owner != s.ID {
			return ErrMandateBound
		}
		m.mandates[mid] = s.ID
	}

	s.Version++
	m.sessions[s.ID] = *s
	return nil
}

// ListStale returns sessions whose inactivity window has lapsed.
func (m *MemoryStore) ListStale(_ context.Context, cutoff time.Time) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []*Session
	for _, s := range m.sessions {
		if s.Status != StatusReadyForComplete && s.Status != StatusRequiresEscalation {
			continue
		}
		if s.LastActivityAt.After(cutoff) {
			continue
		}
		copied := s
		stale = append(stale, &copied)
	}
	return stale, nil
}

// Close implements Store. The memory store holds no external resources.
func (m *MemoryStore) Close() error {
	return nil
}
