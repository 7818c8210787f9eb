package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/taxdesk/portal/types"
)

// ErrNotFound is returned when an audit entry does not exist.
var ErrNotFound = errors.New("audit entry not found")

// AuditRepository persists admin audit entries.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Create(ctx context.Context, entry types.AuditEntry) (types.AuditEntry, error) {
	const query = `
		INSERT INTO admin_audit_log (
			actor_id, actor_username, action, target_type, target_id,
			description, old_value, new_value
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(
		ctx,
		query,
		entry.ActorID,
		entry.ActorUsername,
		entry.Action,
		entry.TargetType,
		entry.TargetID,
		entry.Description,
		entry.OldValue,
		entry.NewValue,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return types.AuditEntry{}, err
	}
	return entry, nil
}

func (r *AuditRepository) GetByID(ctx context.Context, id int64) (types.AuditEntry, error) {
	const query = `
		SELECT id, actor_id, actor_username, action, target_type, target_id,
			description, old_value, new_value, created_at
		FROM admin_audit_log
		WHERE id = $1`
	entry, err := scanAuditEntry(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.AuditEntry{}, ErrNotFound
		}
		return types.AuditEntry{}, err
	}
	return entry, nil
}

// List returns entries newest first along with the total count.
func (r *AuditRepository) List(ctx context.Context, offset, limit int) ([]types.AuditEntry, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admin_audit_log`).Scan(&total); err != nil {
		return nil, 0, err
	}

	const query = `
		SELECT id, actor_id, actor_username, action, target_type, target_id,
			description, old_value, new_value, created_at
		FROM admin_audit_log
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := make([]types.AuditEntry, 0, limit)
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuditEntry(row rowScanner) (types.AuditEntry, error) {
	var (
		entry    types.AuditEntry
		oldValue sql.NullString
		newValue sql.NullString
	)
	err := row.Scan(
		&entry.ID,
		&entry.ActorID,
		&entry.ActorUsername,
		&entry.Action,
		&entry.TargetType,
		&entry.TargetID,
		&entry.Description,
		&oldValue,
		&newValue,
		&entry.CreatedAt,
	)
	if err != nil {
		return types.AuditEntry{}, err
	}
	if oldValue.Valid {
		entry.OldValue = &oldValue.String
	}
	if newValue.Valid {
		entry.NewValue = &newValue.String
	}
	return entry, nil
}
