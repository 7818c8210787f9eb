// Package chat mirrors the shared message stream of the processing
// service for one session and resolves access requests.
package chat

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/taxdesk/portal/internal/backend"
	"github.com/taxdesk/portal/internal/logging"
	"github.com/taxdesk/portal/types"
)

// DefaultInterval is how often a mounted channel refreshes.
const DefaultInterval = 5 * time.Second

var (
	// ErrForbidden is returned when a non-admin tries to resolve a request.
	ErrForbidden = errors.New("only admins can resolve access requests")
	// ErrNotAccessRequest is returned when resolving an ordinary message.
	ErrNotAccessRequest = errors.New("message is not an access request")
	// ErrNotFound is returned for message ids missing from the stream.
	ErrNotFound = errors.New("message not found")
	// ErrEmpty is returned for blank messages.
	ErrEmpty = errors.New("message is empty")
)

// API is the chat endpoint of the processing service.
type API interface {
	Messages(ctx context.Context) ([]types.ChatMessage, error)
	PostMessage(ctx context.Context, username, content string, kind types.MessageType) error
	HandleRequest(ctx context.Context, username string, action types.AccessAction, messageID int64) error
}

// Auditor records administrative changes.
type Auditor interface {
	Record(ctx context.Context, entry types.AuditEntry)
}

// Visible returns the messages viewer may see. Admins see everything;
// other users see their own messages and those from System.
func Visible(viewer types.User, msgs []types.ChatMessage) []types.ChatMessage {
	out := make([]types.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if viewer.IsAdmin() || m.Username == viewer.Username || m.Username == types.SystemUsername {
			out = append(out, m)
		}
	}
	return out
}

// Channel is the message stream of one session. Messages are kept
// newest first, as the service returns them.
type Channel struct {
	api      API
	audit    Auditor
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	messages []types.ChatMessage
	lastErr  string
	localSeq int64

	cancel context.CancelFunc
	done   chan struct{}
}

func NewChannel(api API, audit Auditor, interval time.Duration) *Channel {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Channel{api: api, audit: audit, interval: interval, now: time.Now}
}

// Mount starts polling under ctx. Mounting an already mounted channel is
// a no-op.
func (c *Channel) Mount(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.poll(ctx, c.done)
}

func (c *Channel) poll(ctx context.Context, done chan struct{}) {
	defer close(done)
	log := logging.FromContext(ctx)

	_ = c.Refresh(ctx)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug("chat poller stopped")
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Debug("chat refresh failed")
			}
		}
	}
}

// Unmount stops polling and waits for the poller to exit.
func (c *Channel) Unmount() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Mounted reports whether the poller is running.
func (c *Channel) Mounted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Refresh replaces the local stream with the service copy.
func (c *Channel) Refresh(ctx context.Context) error {
	msgs, err := c.api.Messages(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.lastErr = backend.UserMessage(err)
		return err
	}
	c.messages = msgs
	c.lastErr = ""
	return nil
}

// Messages returns what viewer may see of the local stream.
func (c *Channel) Messages(viewer types.User) []types.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Visible(viewer, c.messages)
}

// LastError returns the message of the most recent failed refresh.
func (c *Channel) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Send shows the message locally at once, posts it and refetches. A
// failed post withdraws the local copy.
func (c *Channel) Send(ctx context.Context, author types.User, content string, kind types.MessageType) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmpty
	}
	if kind == "" {
		kind = types.MessageGeneral
	}

	c.mu.Lock()
	c.localSeq--
	local := types.ChatMessage{
		ID:        c.localSeq,
		Username:  author.Username,
		Content:   content,
		Type:      kind,
		Timestamp: c.now().Format("2006-01-02 15:04"),
		Pending:   true,
	}
	c.messages = append([]types.ChatMessage{local}, c.messages...)
	c.mu.Unlock()

	if err := c.api.PostMessage(ctx, author.Username, content, kind); err != nil {
		c.withdraw(local.ID)
		return err
	}
	if err := c.Refresh(ctx); err != nil {
		logging.FromContext(ctx).WithError(err).Debug("refresh after send failed")
	}
	return nil
}

func (c *Channel) withdraw(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, m := range c.messages {
		if m.ID == id {
			c.messages = append(c.messages[:i:i], c.messages[i+1:]...)
			return
		}
	}
}

// Resolve approves or rejects the access request messageID on behalf of
// actor. Failures are returned once and never retried.
func (c *Channel) Resolve(ctx context.Context, actor types.User, messageID int64, action types.AccessAction) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	if action != types.ActionApprove && action != types.ActionReject {
		return backend.Validation("Unknown action %q.", action)
	}

	msg, ok := c.find(messageID)
	if !ok {
		if err := c.Refresh(ctx); err != nil {
			return err
		}
		if msg, ok = c.find(messageID); !ok {
			return ErrNotFound
		}
	}
	if msg.Type != types.MessageAccessRequest {
		return ErrNotAccessRequest
	}

	if err := c.api.HandleRequest(ctx, msg.Username, action, messageID); err != nil {
		return err
	}

	auditAction := types.AuditAccessApprove
	if action == types.ActionReject {
		auditAction = types.AuditAccessReject
	}
	if c.audit != nil {
		c.audit.Record(ctx, types.AuditEntry{
			ActorID:       actor.ID,
			ActorUsername: actor.Username,
			Action:        auditAction,
			TargetType:    "message",
			TargetID:      strconv.FormatInt(messageID, 10),
			Description:   string(action) + " access request from " + msg.Username,
			CreatedAt:     c.now(),
		})
	}
	if err := c.Refresh(ctx); err != nil {
		logging.FromContext(ctx).WithError(err).Debug("refresh after resolve failed")
	}
	return nil
}

func (c *Channel) find(id int64) (types.ChatMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.messages {
		if m.ID == id {
			return m, true
		}
	}
	return types.ChatMessage{}, false
}
