package types

// MessageType distinguishes ordinary chat from access requests.
type MessageType string

const (
	MessageGeneral       MessageType = "general"
	MessageAccessRequest MessageType = "access_request"
	MessageSystem        MessageType = "system"
)

// SystemUsername is the author of service-generated messages.
const SystemUsername = "System"

// ChatMessage is one entry of the shared message stream.
type ChatMessage struct {
	// ID is assigned by the service, increasing with time.
	ID int64 `json:"id"`

	// Username is the author, or "System".
	Username string `json:"username"`

	// Content is the message body.
	Content string `json:"content"`

	// Type is general, access_request or system.
	Type MessageType `json:"type"`

	// Timestamp is formatted "YYYY-MM-DD HH:MM" by the service.
	Timestamp string `json:"timestamp"`

	// Read is set by the service; the portal never changes it.
	Read bool `json:"read"`

	// RelatedMessageID links a reply to the request it resolves.
	RelatedMessageID int64 `json:"related_message_id,omitempty"`

	// Pending marks an optimistic local copy not yet confirmed by a refresh.
	Pending bool `json:"pending,omitempty"`
}

// AccessAction is an admin decision on an access request.
type AccessAction string

const (
	ActionApprove AccessAction = "approve"
	ActionReject  AccessAction = "reject"
)
