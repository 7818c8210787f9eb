package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/taxdesk/portal/internal/roster"
	"github.com/taxdesk/portal/internal/services"
	"github.com/taxdesk/portal/internal/store"
	"github.com/taxdesk/portal/types"
)

// AdminHandler serves the roster screen and the audit log.
type AdminHandler struct {
	roster *roster.Manager
	audit  *services.AuditService
}

func NewAdminHandler(rosterManager *roster.Manager, audit *services.AuditService) *AdminHandler {
	return &AdminHandler{roster: rosterManager, audit: audit}
}

// AdminRouter registers admin routes on the given router. Callers wrap
// it with RequireSession and RequireAdmin.
func AdminRouter(r chi.Router, handler *AdminHandler) {
	r.Route("/users", func(r chi.Router) {
		r.Get("/", handler.ListUsers)
		r.Post("/", handler.AddUser)
		r.Route("/{userID}", func(r chi.Router) {
			r.Delete("/", handler.DeleteUser)
			r.Post("/status", handler.ToggleStatus)
			r.Post("/modules/{category}", handler.ToggleModuleAccess)
		})
	})
	r.Route("/audit", func(r chi.Router) {
		r.Get("/", handler.ListAudit)
		r.Get("/{entryID}", handler.GetAudit)
	})
}

func redactAll(users []types.User) []types.User {
	out := make([]types.User, len(users))
	for i, u := range users {
		out[i] = u.Redacted()
	}
	return out
}

func writeRosterError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, roster.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, roster.ErrUsernameTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, roster.ErrNotConfirmed), errors.As(err, &verrs):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, roster.ErrProtected):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeBackendError(w, err)
	}
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.roster.List(r.Context())
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redactAll(users))
}

func (h *AdminHandler) AddUser(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req roster.NewUser
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := h.roster.AddUser(r.Context(), s.User(), req)
	if err != nil {
		writeRosterError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user.Redacted())
}

func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := parseInt64Param(chi.URLParam(r, "userID"), "user id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.roster.DeleteUser(r.Context(), s.User(), id, confirmed(r)); err != nil {
		writeRosterError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) ToggleStatus(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := parseInt64Param(chi.URLParam(r, "userID"), "user id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := h.roster.ToggleStatus(r.Context(), s.User(), id)
	if err != nil {
		writeRosterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Redacted())
}

func (h *AdminHandler) ToggleModuleAccess(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := parseInt64Param(chi.URLParam(r, "userID"), "user id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	category := types.Category(chi.URLParam(r, "category"))
	if !category.Valid() {
		writeError(w, http.StatusBadRequest, "invalid category")
		return
	}
	user, err := h.roster.ToggleModuleAccess(r.Context(), s.User(), id, category)
	if err != nil {
		writeRosterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Redacted())
}

func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if !h.audit.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "audit log is not configured")
		return
	}
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, total, err := h.audit.List(r.Context(), offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[types.AuditEntry]{Items: items, Page: page, Limit: limit, Total: total})
}

func (h *AdminHandler) GetAudit(w http.ResponseWriter, r *http.Request) {
	if !h.audit.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "audit log is not configured")
		return
	}
	id, err := parseInt64Param(chi.URLParam(r, "entryID"), "entry id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := h.audit.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "audit entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch audit entry")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
