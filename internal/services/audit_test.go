package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taxdesk/portal/types"
)

type fakeAuditRepo struct {
	created []types.AuditEntry
	err     error
}

func (f *fakeAuditRepo) Create(ctx context.Context, entry types.AuditEntry) (types.AuditEntry, error) {
	if f.err != nil {
		return types.AuditEntry{}, f.err
	}
	entry.ID = int64(len(f.created) + 1)
	f.created = append(f.created, entry)
	return entry, nil
}

func (f *fakeAuditRepo) GetByID(ctx context.Context, id int64) (types.AuditEntry, error) {
	return f.created[id-1], nil
}

func (f *fakeAuditRepo) List(ctx context.Context, offset, limit int) ([]types.AuditEntry, int, error) {
	return f.created, len(f.created), nil
}

func TestAuditServiceRecord(t *testing.T) {
	repo := &fakeAuditRepo{}
	svc := NewAuditService(repo)
	assert.True(t, svc.Enabled())

	svc.Record(context.Background(), types.AuditEntry{Action: types.AuditUserCreate, TargetType: "user", TargetID: "3"})
	assert.Len(t, repo.created, 1)

	repo.err = errors.New("db down")
	svc.Record(context.Background(), types.AuditEntry{Action: types.AuditUserDelete})
	assert.Len(t, repo.created, 1)
}

func TestAuditServiceWithoutRepository(t *testing.T) {
	svc := NewAuditService(nil)
	assert.False(t, svc.Enabled())
	svc.Record(context.Background(), types.AuditEntry{Action: types.AuditUserCreate, Description: "created user"})
}
