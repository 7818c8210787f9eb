package roster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxdesk/portal/types"
)

type fakeUserAPI struct {
	mu      sync.Mutex
	users   []types.User
	saves   int
	saveErr error
}

func (f *fakeUserAPI) ListUsers(ctx context.Context) ([]types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.User(nil), f.users...), nil
}

func (f *fakeUserAPI) SaveUsers(ctx context.Context, users []types.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.users = append([]types.User(nil), users...)
	return nil
}

type fakeAuditor struct {
	entries []types.AuditEntry
}

func (f *fakeAuditor) Record(ctx context.Context, entry types.AuditEntry) {
	f.entries = append(f.entries, entry)
}

var admin = types.User{ID: 1, Username: "admin", Role: types.RoleAdmin, Status: types.StatusActive}

func seed() *fakeUserAPI {
	return &fakeUserAPI{users: []types.User{
		admin,
		{ID: 7, Username: "ravi", Password: "secret", Name: "Ravi", Role: types.RoleUser, Status: types.StatusActive, RestrictedModules: []types.Category{}},
		{ID: 9, Username: "meera", Password: "pw", Name: "Meera", Role: types.RoleUser, Status: types.StatusRestricted},
	}}
}

func TestListHidesAdmins(t *testing.T) {
	m := NewManager(seed(), nil)
	users, err := m.List(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	for _, u := range users {
		assert.False(t, u.IsAdmin())
	}
}

func TestToggleModuleAccess(t *testing.T) {
	api := seed()
	audit := &fakeAuditor{}
	m := NewManager(api, audit)
	ctx := context.Background()

	u, err := m.ToggleModuleAccess(ctx, admin, 7, types.CategoryIndirectTax)
	require.NoError(t, err)
	assert.Equal(t, []types.Category{types.CategoryIndirectTax}, u.RestrictedModules)
	assert.Equal(t, []types.Category{types.CategoryIndirectTax}, api.users[1].RestrictedModules)
	assert.Equal(t, "secret", api.users[1].Password)

	u, err = m.ToggleModuleAccess(ctx, admin, 7, types.CategoryIndirectTax)
	require.NoError(t, err)
	assert.Empty(t, u.RestrictedModules)
	assert.Empty(t, api.users[1].RestrictedModules)

	require.Len(t, audit.entries, 2)
	assert.Equal(t, types.AuditUserModules, audit.entries[0].Action)
	assert.Equal(t, "7", audit.entries[0].TargetID)
	require.NotNil(t, audit.entries[0].NewValue)
	assert.Equal(t, "indirect_tax", *audit.entries[0].NewValue)
	assert.Nil(t, audit.entries[0].OldValue)

	_, err = m.ToggleModuleAccess(ctx, admin, 7, types.Category("payroll"))
	assert.Error(t, err)
	_, err = m.ToggleModuleAccess(ctx, admin, 1, types.CategoryDirectTax)
	assert.ErrorIs(t, err, ErrProtected)
	_, err = m.ToggleModuleAccess(ctx, admin, 404, types.CategoryDirectTax)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestToggleStatus(t *testing.T) {
	api := seed()
	m := NewManager(api, &fakeAuditor{})

	u, err := m.ToggleStatus(context.Background(), admin, 9)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, u.Status)

	u, err = m.ToggleStatus(context.Background(), admin, 9)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRestricted, u.Status)
	assert.Len(t, api.users, 3)
}

func TestAddUser(t *testing.T) {
	api := seed()
	audit := &fakeAuditor{}
	m := NewManager(api, audit)
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	first, err := m.AddUser(ctx, admin, NewUser{Username: " kiran ", Password: "pw"})
	require.NoError(t, err)
	second, err := m.AddUser(ctx, admin, NewUser{Username: "latha", Password: "pw", Name: "Latha"})
	require.NoError(t, err)

	assert.Equal(t, now.UnixMilli(), first.ID)
	assert.Equal(t, first.ID+1, second.ID)
	assert.Equal(t, "kiran", first.Username)
	assert.Equal(t, "kiran", first.Name)
	assert.Equal(t, types.StatusActive, first.Status)
	assert.Equal(t, types.RoleUser, first.Role)
	assert.Len(t, api.users, 5)
	assert.Len(t, audit.entries, 2)

	_, err = m.AddUser(ctx, admin, NewUser{Username: "KIRAN", Password: "pw"})
	assert.ErrorIs(t, err, ErrUsernameTaken)
	_, err = m.AddUser(ctx, admin, NewUser{Username: "nopass"})
	assert.Error(t, err)
	_, err = m.AddUser(ctx, admin, NewUser{Username: "  ", Password: "pw"})
	assert.Error(t, err)
}

func TestDeleteUser(t *testing.T) {
	api := seed()
	m := NewManager(api, &fakeAuditor{})
	ctx := context.Background()

	assert.ErrorIs(t, m.DeleteUser(ctx, admin, 7, false), ErrNotConfirmed)
	assert.Len(t, api.users, 3)

	require.NoError(t, m.DeleteUser(ctx, admin, 7, true))
	require.Len(t, api.users, 2)
	assert.Equal(t, int64(9), api.users[1].ID)

	assert.ErrorIs(t, m.DeleteUser(ctx, admin, 7, true), ErrNotFound)
	assert.ErrorIs(t, m.DeleteUser(ctx, admin, 1, true), ErrProtected)
}

func TestUpdateMergesByID(t *testing.T) {
	api := seed()
	m := NewManager(api, nil)

	changed := api.users[2]
	changed.Name = "Meera K"
	added := types.User{ID: 12, Username: "new", Role: types.RoleUser, Status: types.StatusActive}
	require.NoError(t, m.Update(context.Background(), changed, added))

	require.Len(t, api.users, 4)
	assert.Equal(t, "Meera K", api.users[2].Name)
	assert.Equal(t, "pw", api.users[2].Password)
	assert.Equal(t, int64(12), api.users[3].ID)
}

func TestSaveFailureIsReturned(t *testing.T) {
	api := seed()
	api.saveErr = errors.New("Failed to save")
	audit := &fakeAuditor{}
	m := NewManager(api, audit)

	_, err := m.ToggleStatus(context.Background(), admin, 7)
	assert.Error(t, err)
	assert.Empty(t, audit.entries)
}
