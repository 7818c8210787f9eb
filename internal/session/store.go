package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/taxdesk/portal/types"
)

// ErrNotFound is returned for unknown or expired session ids.
var ErrNotFound = errors.New("session not found")

// Identity is the durable part of a session: who is signed in and where
// they are in the navigation tree. Screen state is never stored.
type Identity struct {
	ID           string     `json:"id"`
	User         types.User `json:"user"`
	ActiveModule string     `json:"active_module,omitempty"`
	Expanded     []string   `json:"expanded,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Store persists identities until they expire.
type Store interface {
	Save(ctx context.Context, id Identity, ttl time.Duration) error
	Load(ctx context.Context, sessionID string) (Identity, error)
	Delete(ctx context.Context, sessionID string) error
}

type memoryEntry struct {
	identity  Identity
	expiresAt time.Time
}

// MemoryStore keeps identities in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryStore) Save(ctx context.Context, id Identity, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	m.entries[id.ID] = memoryEntry{identity: id, expiresAt: expires}
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, sessionID string) (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[sessionID]
	if !ok {
		return Identity{}, ErrNotFound
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, sessionID)
		return Identity{}, ErrNotFound
	}
	return e.identity, nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sessionID)
	return nil
}
