package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taxdesk/portal/internal/compliance"
	"github.com/taxdesk/portal/internal/session"
	"github.com/taxdesk/portal/types"
)

// ComplianceHandler serves the compliance grid of the session user.
type ComplianceHandler struct{}

func NewComplianceHandler() *ComplianceHandler {
	return &ComplianceHandler{}
}

// ComplianceRouter registers compliance routes on the given router.
func ComplianceRouter(r chi.Router, handler *ComplianceHandler) {
	r.Get("/", handler.Get)
	r.Post("/clients", handler.AddClient)
	r.Delete("/clients/{clientID}", handler.DeleteClient)
	r.Post("/clients/{clientID}/{field}", handler.ToggleStatus)
}

type AddClientRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

func (h *ComplianceHandler) tracker(w http.ResponseWriter, r *http.Request) (*compliance.Tracker, bool) {
	s, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	if !openModule(w, r, s, session.ComplianceModuleID) {
		return nil, false
	}
	t, err := s.Compliance()
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return nil, false
	}
	if !t.Loaded() {
		if err := t.Load(r.Context()); err != nil {
			writeBackendError(w, err)
			return nil, false
		}
	}
	return t, true
}

func writeComplianceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, compliance.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, compliance.ErrNotConfirmed), errors.Is(err, compliance.ErrUnknownField):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeBackendError(w, err)
	}
}

func (h *ComplianceHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t.View())
}

func (h *ComplianceHandler) AddClient(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}
	var req AddClientRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := t.AddClient(r.Context(), req.Name); err != nil {
		writeComplianceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t.View())
}

func (h *ComplianceHandler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}
	id, err := parseInt64Param(chi.URLParam(r, "clientID"), "client id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := t.DeleteClient(r.Context(), id, confirmed(r)); err != nil {
		writeComplianceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t.View())
}

func (h *ComplianceHandler) ToggleStatus(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}
	id, err := parseInt64Param(chi.URLParam(r, "clientID"), "client id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := t.ToggleStatus(r.Context(), id, types.ComplianceField(chi.URLParam(r, "field"))); err != nil {
		writeComplianceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t.View())
}
