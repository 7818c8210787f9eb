package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/taxdesk/portal/internal/logging"
	"github.com/taxdesk/portal/types"
)

// AuditRepository defines persistence operations for audit entries.
type AuditRepository interface {
	Create(ctx context.Context, entry types.AuditEntry) (types.AuditEntry, error)
	GetByID(ctx context.Context, id int64) (types.AuditEntry, error)
	List(ctx context.Context, offset, limit int) ([]types.AuditEntry, int, error)
}

// AuditService records administrative changes. Without a repository it
// only logs them.
type AuditService struct {
	repo AuditRepository
}

func NewAuditService(repo AuditRepository) *AuditService {
	return &AuditService{repo: repo}
}

// Enabled reports whether entries are persisted.
func (s *AuditService) Enabled() bool {
	return s != nil && s.repo != nil
}

// Record stores entry. Failures are logged and never returned: the
// change it describes has already happened on the processing service.
func (s *AuditService) Record(ctx context.Context, entry types.AuditEntry) {
	log := logging.FromContext(ctx).WithFields(logrus.Fields{
		"audit-action": entry.Action,
		"actor":        entry.ActorUsername,
		"target":       entry.TargetType + ":" + entry.TargetID,
	})
	if !s.Enabled() {
		log.Info(entry.Description)
		return
	}
	if _, err := s.repo.Create(ctx, entry); err != nil {
		log.WithError(err).Error("failed to record audit entry")
	}
}

func (s *AuditService) Get(ctx context.Context, id int64) (types.AuditEntry, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *AuditService) List(ctx context.Context, offset, limit int) ([]types.AuditEntry, int, error) {
	return s.repo.List(ctx, offset, limit)
}
