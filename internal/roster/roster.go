// Package roster manages the user list on behalf of admins. The
// processing service stores the list as one document, so every change is
// a read, merge and full write.
package roster

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/taxdesk/portal/internal/logging"
	"github.com/taxdesk/portal/types"
)

var (
	// ErrNotFound is returned for user ids missing from the roster.
	ErrNotFound = errors.New("user not found")
	// ErrNotConfirmed is returned when a delete is attempted without confirmation.
	ErrNotConfirmed = errors.New("deletion must be confirmed")
	// ErrUsernameTaken is returned when adding a username that already exists.
	ErrUsernameTaken = errors.New("username already exists")
	// ErrProtected is returned for changes to admin accounts.
	ErrProtected = errors.New("admin accounts cannot be changed here")
)

var validate = validator.New()

// UserAPI is the user list endpoint of the processing service.
type UserAPI interface {
	ListUsers(ctx context.Context) ([]types.User, error)
	SaveUsers(ctx context.Context, users []types.User) error
}

// Auditor records administrative changes.
type Auditor interface {
	Record(ctx context.Context, entry types.AuditEntry)
}

// NewUser is the input of AddUser.
type NewUser struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"max=128"`
}

// Manager applies roster changes. Writes from one portal instance are
// serialised; concurrent writers on other instances still race and the
// last write wins.
type Manager struct {
	api   UserAPI
	audit Auditor
	now   func() time.Time

	mu     sync.Mutex
	lastID int64
}

func NewManager(api UserAPI, audit Auditor) *Manager {
	return &Manager{api: api, audit: audit, now: time.Now}
}

// List returns every non-admin user.
func (m *Manager) List(ctx context.Context) ([]types.User, error) {
	users, err := m.api.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.User, 0, len(users))
	for _, u := range users {
		if !u.IsAdmin() {
			out = append(out, u)
		}
	}
	return out, nil
}

// Update merges changed into the current list by id, appending users
// that are not present yet, and writes the full list back.
func (m *Manager) Update(ctx context.Context, changed ...types.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(ctx, changed...)
}

func (m *Manager) updateLocked(ctx context.Context, changed ...types.User) error {
	users, err := m.api.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("fetch users: %w", err)
	}
	return m.api.SaveUsers(ctx, merge(users, changed))
}

func merge(users, changed []types.User) []types.User {
	out := append([]types.User(nil), users...)
	index := make(map[int64]int, len(out))
	for i, u := range out {
		index[u.ID] = i
	}
	for _, c := range changed {
		if i, ok := index[c.ID]; ok {
			out[i] = c
			continue
		}
		index[c.ID] = len(out)
		out = append(out, c)
	}
	return out
}

// modify loads the user with id, applies fn and writes the result.
func (m *Manager) modify(ctx context.Context, id int64, fn func(*types.User)) (before, after types.User, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users, err := m.api.ListUsers(ctx)
	if err != nil {
		return types.User{}, types.User{}, fmt.Errorf("fetch users: %w", err)
	}
	for _, u := range users {
		if u.ID != id {
			continue
		}
		if u.IsAdmin() {
			return types.User{}, types.User{}, ErrProtected
		}
		before = u
		after = u
		after.RestrictedModules = append([]types.Category(nil), u.RestrictedModules...)
		fn(&after)
		if err := m.api.SaveUsers(ctx, merge(users, []types.User{after})); err != nil {
			return types.User{}, types.User{}, err
		}
		return before, after, nil
	}
	return types.User{}, types.User{}, ErrNotFound
}

// ToggleModuleAccess adds category to the user's restrictions, or
// removes it when already present.
func (m *Manager) ToggleModuleAccess(ctx context.Context, actor types.User, id int64, category types.Category) (types.User, error) {
	if !category.Valid() {
		return types.User{}, fmt.Errorf("unknown category %q", category)
	}
	before, after, err := m.modify(ctx, id, func(u *types.User) {
		if u.HasRestriction(category) {
			kept := u.RestrictedModules[:0]
			for _, c := range u.RestrictedModules {
				if c != category {
					kept = append(kept, c)
				}
			}
			u.RestrictedModules = kept
			return
		}
		u.RestrictedModules = append(u.RestrictedModules, category)
	})
	if err != nil {
		return types.User{}, err
	}
	m.record(ctx, actor, types.AuditUserModules, after,
		fmt.Sprintf("toggled %s access for %s", category.DisplayName(), after.Username),
		categoriesString(before.RestrictedModules), categoriesString(after.RestrictedModules))
	return after, nil
}

// ToggleStatus flips the user between Active and Restricted.
func (m *Manager) ToggleStatus(ctx context.Context, actor types.User, id int64) (types.User, error) {
	before, after, err := m.modify(ctx, id, func(u *types.User) {
		if u.Status == types.StatusActive {
			u.Status = types.StatusRestricted
		} else {
			u.Status = types.StatusActive
		}
	})
	if err != nil {
		return types.User{}, err
	}
	m.record(ctx, actor, types.AuditUserStatus, after,
		fmt.Sprintf("set %s to %s", after.Username, after.Status),
		string(before.Status), string(after.Status))
	return after, nil
}

// AddUser appends an active user with no restrictions. Ids come from the
// clock and never repeat within the process.
func (m *Manager) AddUser(ctx context.Context, actor types.User, in NewUser) (types.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Name = strings.TrimSpace(in.Name)
	if err := validate.Struct(in); err != nil {
		return types.User{}, fmt.Errorf("invalid user: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	users, err := m.api.ListUsers(ctx)
	if err != nil {
		return types.User{}, fmt.Errorf("fetch users: %w", err)
	}
	for _, u := range users {
		if strings.EqualFold(u.Username, in.Username) {
			return types.User{}, ErrUsernameTaken
		}
	}

	name := in.Name
	if name == "" {
		name = in.Username
	}
	user := types.User{
		ID:                m.nextIDLocked(),
		Username:          in.Username,
		Password:          in.Password,
		Name:              name,
		Role:              types.RoleUser,
		Status:            types.StatusActive,
		RestrictedModules: []types.Category{},
	}
	if err := m.api.SaveUsers(ctx, append(users, user)); err != nil {
		return types.User{}, err
	}
	m.record(ctx, actor, types.AuditUserCreate, user, "added user "+user.Username, "", user.Username)
	return user, nil
}

func (m *Manager) nextIDLocked() int64 {
	id := m.now().UnixMilli()
	if id <= m.lastID {
		id = m.lastID + 1
	}
	m.lastID = id
	return id
}

// DeleteUser removes the user with id. confirmed must be true.
func (m *Manager) DeleteUser(ctx context.Context, actor types.User, id int64, confirmed bool) error {
	if !confirmed {
		return ErrNotConfirmed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	users, err := m.api.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("fetch users: %w", err)
	}
	kept := make([]types.User, 0, len(users))
	var removed *types.User
	for i, u := range users {
		if u.ID == id {
			if u.IsAdmin() {
				return ErrProtected
			}
			removed = &users[i]
			continue
		}
		kept = append(kept, u)
	}
	if removed == nil {
		return ErrNotFound
	}
	if err := m.api.SaveUsers(ctx, kept); err != nil {
		return err
	}
	m.record(ctx, actor, types.AuditUserDelete, *removed, "deleted user "+removed.Username, removed.Username, "")
	return nil
}

func (m *Manager) record(ctx context.Context, actor types.User, action types.AuditAction, target types.User, desc, oldValue, newValue string) {
	if m.audit == nil {
		logging.FromContext(ctx).WithField("audit-action", action).Info(desc)
		return
	}
	entry := types.AuditEntry{
		ActorID:       actor.ID,
		ActorUsername: actor.Username,
		Action:        action,
		TargetType:    "user",
		TargetID:      strconv.FormatInt(target.ID, 10),
		Description:   desc,
		CreatedAt:     m.now(),
	}
	if oldValue != "" {
		entry.OldValue = &oldValue
	}
	if newValue != "" {
		entry.NewValue = &newValue
	}
	m.audit.Record(ctx, entry)
}

func categoriesString(cs []types.Category) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}
