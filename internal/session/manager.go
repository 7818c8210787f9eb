package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taxdesk/portal/internal/chat"
	"github.com/taxdesk/portal/internal/compliance"
	"github.com/taxdesk/portal/internal/logging"
	"github.com/taxdesk/portal/internal/metrics"
	"github.com/taxdesk/portal/internal/workflow"
	"github.com/taxdesk/portal/types"
)

// Deps are the collaborators every session shares.
type Deps struct {
	Workflow     workflow.Deps
	Challan      workflow.ChallanAPI
	Compliance   compliance.API
	Chat         chat.API
	Audit        chat.Auditor
	ChatInterval time.Duration

	// Base outlives individual requests. Processing runs and chat
	// pollers are bound to it so that shutdown stops them.
	Base context.Context
}

// BaseContext returns Base, or context.Background when unset.
func (d *Deps) BaseContext() context.Context {
	if d.Base != nil {
		return d.Base
	}
	return context.Background()
}

// Manager creates, finds and destroys sessions. Identities live in the
// store; screen state lives in this process only.
type Manager struct {
	store Store
	ttl   time.Duration
	deps  *Deps
	now   func() time.Time

	mu   sync.Mutex
	live map[string]*Session
}

func NewManager(store Store, ttl time.Duration, deps Deps) *Manager {
	return &Manager{
		store: store,
		ttl:   ttl,
		deps:  &deps,
		now:   time.Now,
		live:  make(map[string]*Session),
	}
}

// TTL returns how long an identity is kept.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Create starts a session for user.
func (m *Manager) Create(ctx context.Context, user types.User) (*Session, error) {
	ident := Identity{ID: uuid.NewString(), User: user, CreatedAt: m.now()}
	if err := m.store.Save(ctx, ident, m.ttl); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s := newSession(ident, m.deps)

	m.mu.Lock()
	m.live[s.id] = s
	m.mu.Unlock()

	metrics.SessionOpened()
	logging.FromContext(ctx).WithField("session", s.id).WithField("user", user.Username).Info("session created")
	return s, nil
}

// Get returns the session for id. A session known to the store but not
// to this process is rebuilt from its identity with fresh screen state.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	ident, err := m.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.drop(id)
		}
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.live[id]; ok {
		return s, nil
	}
	s := newSession(ident, m.deps)
	m.live[id] = s
	metrics.SessionOpened()
	return s, nil
}

// Save writes the navigation state of s back to the store.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	ident := s.identity()
	stored, err := m.store.Load(ctx, s.id)
	if err != nil {
		return err
	}
	ident.CreatedAt = stored.CreatedAt
	ttl := m.ttl
	if ttl > 0 {
		ttl = stored.CreatedAt.Add(m.ttl).Sub(m.now())
		if ttl <= 0 {
			return ErrNotFound
		}
	}
	return m.store.Save(ctx, ident, ttl)
}

// Destroy ends session id and stops its chat poller.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	m.drop(id)
	return m.store.Delete(ctx, id)
}

func (m *Manager) drop(id string) {
	m.mu.Lock()
	s, ok := m.live[id]
	delete(m.live, id)
	m.mu.Unlock()
	if ok {
		s.close()
		metrics.SessionClosed()
	}
}

// Sweep drops live sessions whose identity has expired or been removed
// from the store, stopping their chat pollers. It returns how many were
// dropped.
func (m *Manager) Sweep(ctx context.Context) int {
	m.mu.Lock()
	ids := make([]string, 0, len(m.live))
	for id := range m.live {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	dropped := 0
	for _, id := range ids {
		_, err := m.store.Load(ctx, id)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			logging.FromContext(ctx).WithError(err).WithField("session", id).Warn("session sweep lookup failed")
			continue
		}
		m.drop(id)
		dropped++
	}
	return dropped
}

// RunSweeper calls Sweep every interval until ctx ends.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(ctx); n > 0 {
				logging.FromContext(ctx).WithField("sessions", n).Info("expired sessions dropped")
			}
		}
	}
}

// Close stops every live session without removing identities.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.live))
	for id, s := range m.live {
		sessions = append(sessions, s)
		delete(m.live, id)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.close()
		metrics.SessionClosed()
	}
}

// BaseContext is the context background work of sessions runs under.
func (m *Manager) BaseContext() context.Context {
	return m.deps.BaseContext()
}
