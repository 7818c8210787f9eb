package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taxdesk/portal/internal/access"
	"github.com/taxdesk/portal/internal/logging"
	"github.com/taxdesk/portal/internal/metrics"
	"github.com/taxdesk/portal/internal/navigation"
	"github.com/taxdesk/portal/internal/session"
)

// NavigationHandler serves the sidebar tree of a session.
type NavigationHandler struct {
	sessions *session.Manager
}

func NewNavigationHandler(sessions *session.Manager) *NavigationHandler {
	return &NavigationHandler{sessions: sessions}
}

// NavigationRouter registers navigation routes on the given router.
func NavigationRouter(r chi.Router, handler *NavigationHandler) {
	r.Get("/", handler.Tree)
	r.Post("/toggle/{moduleID}", handler.Toggle)
	r.Post("/select/{moduleID}", handler.Select)
}

type NavigationResponse struct {
	Nodes        []navigation.Node `json:"nodes"`
	ActiveModule string            `json:"active_module,omitempty"`
}

// AccessDeniedResponse carries the prompt the browser shows to request access.
type AccessDeniedResponse struct {
	Error         string        `json:"error"`
	AccessRequest access.Prompt `json:"access_request"`
}

func (h *NavigationHandler) Tree(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, NavigationResponse{
		Nodes:        navigation.Render(s.User(), s.Expansion()),
		ActiveModule: s.ActiveModule(),
	})
}

func (h *NavigationHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if _, err := s.Expansion().Toggle(chi.URLParam(r, "moduleID")); err != nil {
		switch {
		case errors.Is(err, navigation.ErrUnknownModule):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	h.save(r, s)
	h.Tree(w, r)
}

func (h *NavigationHandler) Select(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !openModule(w, r, s, chi.URLParam(r, "moduleID")) {
		return
	}
	h.save(r, s)
	h.Tree(w, r)
}

func (h *NavigationHandler) save(r *http.Request, s *session.Session) {
	if err := h.sessions.Save(r.Context(), s); err != nil {
		logging.FromContext(r.Context()).WithError(err).Warn("failed to save navigation state")
	}
}

// openModule makes moduleID the active module of s unless it already is.
// It writes the error response and returns false when that is not possible.
func openModule(w http.ResponseWriter, r *http.Request, s *session.Session, moduleID string) bool {
	if s.ActiveModule() == moduleID {
		return true
	}
	prompt, err := s.Select(moduleID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, session.ErrForbidden):
		metrics.ObserveAccessDenied(string(prompt.Category))
		writeJSON(w, http.StatusForbidden, AccessDeniedResponse{
			Error:         "You do not have access to " + prompt.CategoryName + " modules.",
			AccessRequest: prompt,
		})
	case errors.Is(err, navigation.ErrUnknownModule):
		writeError(w, http.StatusNotFound, "unknown module")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
	return false
}
