package navigation

import "sync"

// Expansion tracks which branches are open. Branches start collapsed and
// toggle independently of one another.
type Expansion struct {
	mu   sync.RWMutex
	open map[string]bool
}

func NewExpansion() *Expansion {
	return &Expansion{open: make(map[string]bool)}
}

// Toggle flips branch id and returns its new state.
func (e *Expansion) Toggle(id string) (bool, error) {
	m, ok := Find(id)
	if !ok {
		return false, ErrUnknownModule
	}
	if m.IsLeaf() {
		return false, ErrNotBranch
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.open[id] = !e.open[id]
	return e.open[id], nil
}

// IsExpanded reports whether branch id is open.
func (e *Expansion) IsExpanded(id string) bool {
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.open[id]
}

// Snapshot returns the ids of all open branches.
func (e *Expansion) Snapshot() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.open))
	for id, open := range e.open {
		if open {
			ids = append(ids, id)
		}
	}
	return ids
}

// Restore opens exactly the given branches.
func (e *Expansion) Restore(ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open = make(map[string]bool, len(ids))
	for _, id := range ids {
		e.open[id] = true
	}
}
