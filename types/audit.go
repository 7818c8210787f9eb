package types

import "time"

// AuditAction names an administrative change.
type AuditAction string

const (
	AuditUserCreate    AuditAction = "user.create"
	AuditUserDelete    AuditAction = "user.delete"
	AuditUserStatus    AuditAction = "user.status"
	AuditUserModules   AuditAction = "user.modules"
	AuditAccessApprove AuditAction = "access.approve"
	AuditAccessReject  AuditAction = "access.reject"
)

// AuditEntry records one administrative change made through the portal.
type AuditEntry struct {
	// ID is assigned by the database.
	ID int64 `json:"id" db:"id"`

	// ActorID and ActorUsername identify the admin who made the change.
	ActorID       int64  `json:"actor_id" db:"actor_id"`
	ActorUsername string `json:"actor_username" db:"actor_username"`

	// Action is what was done.
	Action AuditAction `json:"action" db:"action"`

	// TargetType and TargetID identify what it was done to,
	// e.g. "user" / "7" or "message" / "42".
	TargetType string `json:"target_type" db:"target_type"`
	TargetID   string `json:"target_id" db:"target_id"`

	Description string `json:"description" db:"description"`

	// OldValue and NewValue hold the changed value when there is one.
	OldValue *string `json:"old_value,omitempty" db:"old_value"`
	NewValue *string `json:"new_value,omitempty" db:"new_value"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
