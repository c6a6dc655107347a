package credentials

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Store errors. The provider translates these into the client-facing
// error taxonomy.
var (
	// ErrUserNotFound is returned when an email is unknown.
	ErrUserNotFound = errors.New("credentials: user not found")

	// ErrDuplicateUser is returned when registering an email that exists.
	ErrDuplicateUser = errors.New("credentials: user already exists")

	// ErrCredentialNotFound is returned when a credential id is unknown.
	ErrCredentialNotFound = errors.New("credentials: credential not found")

	// ErrInstrumentNotFound is returned when an instrument id is unknown
	// or the user has no instruments.
	ErrInstrumentNotFound = errors.New("credentials: instrument not found")
)

// Store is the wallet persistence contract. A single-node map suffices
// for the demo; replacements must keep AddInstrument's default-flag
// handling atomic.
type Store interface {
	// CreateUser persists a new user. ErrDuplicateUser on email collision.
	CreateUser(ctx context.Context, u *User) error

	// GetUser returns a copy of the user or ErrUserNotFound. Email is
	// matched case-folded.
	GetUser(ctx context.Context, email string) (*User, error)

	// PutCredential stores or replaces a device credential.
	PutCredential(ctx context.Context, c *DeviceCredential) error

	// GetCredential returns a copy or ErrCredentialNotFound.
	GetCredential(ctx context.Context, id string) (*DeviceCredential, error)

	// CredentialsForUser lists the user's enrolled credentials.
	CredentialsForUser(ctx context.Context, email string) ([]*DeviceCredential, error)

	// SetCredentialCounter records the counter after a verified
	// assertion.
	SetCredentialCounter(ctx context.Context, id string, counter uint32) error

	// AddInstrument persists a card. The user's first instrument becomes
	// the default; an instrument stored with Default set displaces the
	// previous default atomically.
	AddInstrument(ctx context.Context, ins *Instrument) error

	// GetInstrument returns a copy or ErrInstrumentNotFound.
	GetInstrument(ctx context.Context, id string) (*Instrument, error)

	// ListInstruments lists the user's cards, default first, then by
	// creation time.
	ListInstruments(ctx context.Context, email string) ([]*Instrument, error)

	// DefaultInstrument returns the user's default card or
	// ErrInstrumentNotFound.
	DefaultInstrument(ctx context.Context, email string) (*Instrument, error)

	// SetInstrumentToken records tokenization results for a card.
	SetInstrumentToken(ctx context.Context, id string, token NetworkToken) error

	// Close releases store resources.
	Close() error
}

// MemoryStore is the in-process Store. Records are held by value behind
// a RWMutex; lookups return copies.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]User             // email -> user
	creds       map[string]DeviceCredential // credential id -> credential
	instruments map[string]Instrument       // instrument id -> instrument
}

// NewMemoryStore creates an empty in-process wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]User),
		creds:       make(map[string]DeviceCredential),
		instruments: make(map[string]Instrument),
	}
}

// CreateUser persists a new user.
func (m *MemoryStore) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[u.Email]; exists {
		return ErrDuplicateUser
	}
	m.users[u.Email] = *u
	return nil
}

// GetUser returns a copy of the user.
func (m *MemoryStore) GetUser(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

// PutCredential stores or replaces a device credential.
func (m *MemoryStore) PutCredential(_ context.Context, c *DeviceCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *c
	stored.PublicKey = append([]byte(nil), c.PublicKey...)
	m.creds[c.ID] = stored
	return nil
}

// GetCredential returns a copy of the credential.
func (m *MemoryStore) GetCredential(_ context.Context, id string) (*DeviceCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.creds[id]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	c.PublicKey = append([]byte(nil), c.PublicKey...)
	return &c, nil
}

// CredentialsForUser lists the user's credentials ordered by creation.
func (m *MemoryStore) CredentialsForUser(_ context.Context, email string) ([]*DeviceCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*DeviceCredential
	for _, c := range m.creds {
		if c.UserEmail != email {
			continue
		}
		cred := c
		cred.PublicKey = append([]byte(nil), c.PublicKey...)
		out = append(out, &cred)
	}
	sortByCreated(out, func(c *DeviceCredential) time.Time { return c.CreatedAt })
	return out, nil
}

// SetCredentialCounter records a verified assertion's counter.
func (m *MemoryStore) SetCredentialCounter(_ context.Context, id string, counter uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.creds[id]
	if !ok {
		return ErrCredentialNotFound
	}
	c.Counter = counter
	m.creds[id] = c
	return nil
}

// AddInstrument persists a card with default-flag handling.
func (m *MemoryStore) AddInstrument(_ context.Context, ins *Instrument) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hasAny := false
	for _, existing := range m.instruments {
		if existing.UserEmail == ins.UserEmail {
			hasAny = true
			break
		}
	}
	if !hasAny {
		ins.Default = true
	}
	if ins.Default {
		for id, existing := range m.instruments {
			if existing.UserEmail == ins.UserEmail && existing.Default {
				existing.Default = false
				m.instruments[id] = existing
			}
		}
	}
	m.instruments[ins.ID] = *ins
	return nil
}

// GetInstrument returns a copy of the instrument.
func (m *MemoryStore) GetInstrument(_ context.Context, id string) (*Instrument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ins, ok := m.instruments[id]
	if !ok {
		return nil, ErrInstrumentNotFound
	}
	return &ins, nil
}

// ListInstruments lists the user's cards, default first.
func (m *MemoryStore) ListInstruments(_ context.Context, email string) ([]*Instrument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Instrument
	for _, ins := range m.instruments {
		if ins.UserEmail != email {
			continue
		}
		ins := ins
		out = append(out, &ins)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Default != out[b].Default {
			return out[a].Default
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out, nil
}

// DefaultInstrument returns the user's default card.
func (m *MemoryStore) DefaultInstrument(_ context.Context, email string) (*Instrument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ins := range m.instruments {
		if ins.UserEmail == email && ins.Default {
			ins := ins
			return &ins, nil
		}
	}
	return nil, ErrInstrumentNotFound
}

// SetInstrumentToken records tokenization results.
func (m *MemoryStore) SetInstrumentToken(_ context.Context, id string, token NetworkToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ins, ok := m.instruments[id]
	if !ok {
		return ErrInstrumentNotFound
	}
	ins.NetworkToken = token.Token
	ins.TokenReference = token.Reference
	ins.TokenAssurance = token.Assurance
	ins.TokenizedAt = token.TokenizedAt
	ins.Tokenized = true
	m.instruments[id] = ins
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

// sortByCreated orders records by creation time, oldest first.
func sortByCreated[T any](items []*T, created func(*T) time.Time) {
	sort.Slice(items, func(a, b int) bool {
		return created(items[a]).Before(created(items[b]))
	})
}
