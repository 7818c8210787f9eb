// Package compliance tracks per-client filing status for one user.
package compliance

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/taxdesk/portal/internal/backend"
	"github.com/taxdesk/portal/internal/logging"
	"github.com/taxdesk/portal/types"
)

var (
	// ErrNotFound is returned for client ids missing from the grid.
	ErrNotFound = errors.New("client not found")
	// ErrNotConfirmed is returned when a delete is attempted without confirmation.
	ErrNotConfirmed = errors.New("deletion must be confirmed")
	// ErrUnknownField is returned for columns the grid does not track.
	ErrUnknownField = errors.New("unknown compliance field")
)

// API is the compliance endpoint of the processing service.
type API interface {
	Compliance(ctx context.Context, userID int64) ([]types.ComplianceClient, error)
	SaveCompliance(ctx context.Context, userID int64, clients []types.ComplianceClient) error
}

// View is the browser-facing snapshot of a grid.
type View struct {
	Clients   []types.ComplianceClient `json:"clients"`
	SaveState types.SaveState          `json:"save_state"`
	Message   string                   `json:"message,omitempty"`
}

// Tracker holds the grid of one user. Every mutation writes the whole
// list back to the service.
type Tracker struct {
	api    API
	userID int64

	// saveMu serialises mutations so that each save starts from the
	// list the previous one settled on. mu guards the fields below and
	// is never held across a call to the service.
	saveMu sync.Mutex

	mu      sync.Mutex
	clients []types.ComplianceClient
	loaded  bool
	state   types.SaveState
	message string
}

func NewTracker(api API, userID int64) *Tracker {
	return &Tracker{api: api, userID: userID, state: types.SaveIdle}
}

// Load replaces the local grid with the service copy.
func (t *Tracker) Load(ctx context.Context) error {
	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	clients, err := t.api.Compliance(ctx, t.userID)
	if err != nil {
		t.mu.Lock()
		t.message = backend.UserMessage(err)
		t.mu.Unlock()
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clients = clients
	t.loaded = true
	t.message = ""
	return nil
}

// Loaded reports whether the grid has been fetched. Mutating an unloaded
// grid would overwrite the service copy.
func (t *Tracker) Loaded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loaded
}

// ToggleStatus advances field of client id to the next status.
func (t *Tracker) ToggleStatus(ctx context.Context, id int64, field types.ComplianceField) (types.ComplianceClient, error) {
	if !field.Valid() {
		return types.ComplianceClient{}, ErrUnknownField
	}
	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	next := t.snapshot()
	for i, c := range next {
		if c.ID != id {
			continue
		}
		next[i] = c.WithStatus(field, c.Status(field).Next())
		if err := t.save(ctx, next); err != nil {
			return types.ComplianceClient{}, err
		}
		return next[i], nil
	}
	return types.ComplianceClient{}, ErrNotFound
}

// AddClient appends a client with every return pending. The name is
// trimmed and must not be blank; the id is one more than the current maximum.
func (t *Tracker) AddClient(ctx context.Context, name string) (types.ComplianceClient, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.ComplianceClient{}, backend.Validation("Client name is required.")
	}
	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	current := t.snapshot()
	var maxID int64
	for _, c := range current {
		if c.ID > maxID {
			maxID = c.ID
		}
	}
	client := types.ComplianceClient{
		ID:     maxID + 1,
		Name:   name,
		TDS:    types.CompliancePending,
		GSTR1:  types.CompliancePending,
		GSTR3B: types.CompliancePending,
	}
	if err := t.save(ctx, append(current, client)); err != nil {
		return types.ComplianceClient{}, err
	}
	return client, nil
}

// DeleteClient removes client id. confirmed must be true.
func (t *Tracker) DeleteClient(ctx context.Context, id int64, confirmed bool) error {
	if !confirmed {
		return ErrNotConfirmed
	}
	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	current := t.snapshot()
	next := make([]types.ComplianceClient, 0, len(current))
	for _, c := range current {
		if c.ID != id {
			next = append(next, c)
		}
	}
	if len(next) == len(current) {
		return ErrNotFound
	}
	return t.save(ctx, next)
}

func (t *Tracker) snapshot() []types.ComplianceClient {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]types.ComplianceClient(nil), t.clients...)
}

// save writes next and adopts it locally only when the write succeeds.
// The grid stays readable, showing the saving state, while the call is
// in flight. Callers hold saveMu.
func (t *Tracker) save(ctx context.Context, next []types.ComplianceClient) error {
	t.mu.Lock()
	t.state = types.SaveSaving
	t.mu.Unlock()

	err := t.api.SaveCompliance(ctx, t.userID, next)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.state = types.SaveFailed
		t.message = backend.UserMessage(err)
		logging.FromContext(ctx).WithError(err).WithField("user_id", t.userID).Warn("compliance save failed")
		return err
	}
	t.clients = next
	t.state = types.SaveSaved
	t.message = ""
	return nil
}

func (t *Tracker) View() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return View{
		Clients:   append([]types.ComplianceClient{}, t.clients...),
		SaveState: t.state,
		Message:   t.message,
	}
}
