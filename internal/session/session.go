// Package session holds everything the portal knows about one signed-in
// browser: the identity, the navigation state and the state of whichever
// screen is mounted.
package session

import (
	"errors"
	"sync"

	"github.com/taxdesk/portal/internal/access"
	"github.com/taxdesk/portal/internal/chat"
	"github.com/taxdesk/portal/internal/compliance"
	"github.com/taxdesk/portal/internal/navigation"
	"github.com/taxdesk/portal/internal/workflow"
	"github.com/taxdesk/portal/types"
)

var (
	// ErrForbidden is returned when the user may not open a module.
	ErrForbidden = errors.New("module access denied")
	// ErrNotActive is returned when a screen other than the active one is addressed.
	ErrNotActive = errors.New("module is not open")
	// ErrNotLeaf is returned when selecting a branch of the navigation tree.
	ErrNotLeaf = errors.New("only leaf modules can be opened")
)

// Session is one signed-in browser. The user record is fixed for the
// life of the session; only navigation changes the active module.
type Session struct {
	id        string
	user      types.User
	deps      *Deps
	expansion *navigation.Expansion
	chat      *chat.Channel

	mu           sync.Mutex
	activeModule string
	run          *workflow.Run
	challan      *workflow.Challan
	compliance   *compliance.Tracker
}

func newSession(ident Identity, deps *Deps) *Session {
	s := &Session{
		id:           ident.ID,
		user:         ident.User,
		deps:         deps,
		expansion:    navigation.NewExpansion(),
		chat:         chat.NewChannel(deps.Chat, deps.Audit, deps.ChatInterval),
		activeModule: ident.ActiveModule,
	}
	s.expansion.Restore(ident.Expanded)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) User() types.User { return s.user }

func (s *Session) Expansion() *navigation.Expansion { return s.expansion }

func (s *Session) Chat() *chat.Channel { return s.chat }

// ActiveModule returns the id of the open module, or "".
func (s *Session) ActiveModule() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeModule
}

func (s *Session) identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Identity{
		ID:           s.id,
		User:         s.user,
		ActiveModule: s.activeModule,
		Expanded:     s.expansion.Snapshot(),
	}
}

// Select opens the leaf moduleID. A module the user may not open leaves
// the active module unchanged and returns the access-request prompt with
// ErrForbidden. Opening a different module discards the state of the
// previous screen.
func (s *Session) Select(moduleID string) (access.Prompt, error) {
	mod, ok := navigation.Find(moduleID)
	if !ok {
		return access.Prompt{}, navigation.ErrUnknownModule
	}
	if !mod.IsLeaf() {
		return access.Prompt{}, ErrNotLeaf
	}
	if !access.IsAllowed(s.user, moduleID) {
		prompt, _ := access.PromptFor(moduleID)
		return prompt, ErrForbidden
	}
	navigation.Select(s.user, moduleID, func(m types.Module) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.activeModule != m.ID {
			s.unmountLocked()
		}
		s.activeModule = m.ID
	})
	return access.Prompt{}, nil
}

func (s *Session) unmountLocked() {
	s.run = nil
	s.challan = nil
	s.compliance = nil
}

// Run returns the workflow run of the open processing screen, mounting
// it on first use.
func (s *Session) Run(moduleID string) (*workflow.Run, error) {
	screen, ok := workflow.Lookup(moduleID)
	if !ok {
		return nil, navigation.ErrUnknownModule
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActiveLocked(moduleID); err != nil {
		return nil, err
	}
	if s.run == nil || s.run.Screen().ID != moduleID {
		s.run = workflow.NewRun(screen, s.deps.Workflow, s.user.Username)
	}
	return s.run, nil
}

// Challan returns the challan flow, mounting it on first use.
func (s *Session) Challan() (*workflow.Challan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActiveLocked(workflow.ChallanModuleID); err != nil {
		return nil, err
	}
	if s.challan == nil {
		s.challan = workflow.NewChallan(s.deps.Challan)
	}
	return s.challan, nil
}

// Compliance returns the compliance grid of the session user. The
// caller loads it while it reports !Loaded.
func (s *Session) Compliance() (*compliance.Tracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActiveLocked(ComplianceModuleID); err != nil {
		return nil, err
	}
	if s.compliance == nil {
		s.compliance = compliance.NewTracker(s.deps.Compliance, s.user.ID)
	}
	return s.compliance, nil
}

// ComplianceModuleID is the navigation id of the compliance screen.
const ComplianceModuleID = "compliances"

func (s *Session) checkActiveLocked(moduleID string) error {
	if !access.IsAllowed(s.user, moduleID) {
		return ErrForbidden
	}
	if s.activeModule != moduleID {
		return ErrNotActive
	}
	return nil
}

// close stops background work owned by the session.
func (s *Session) close() {
	s.chat.Unmount()
	s.mu.Lock()
	s.unmountLocked()
	s.mu.Unlock()
}

// StartChat mounts the chat channel under the manager's base context.
func (s *Session) StartChat() {
	s.chat.Mount(s.deps.BaseContext())
}

// StopChat unmounts the chat channel.
func (s *Session) StopChat() {
	s.chat.Unmount()
}
