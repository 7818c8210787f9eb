package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taxdesk/portal/internal/access"
	"github.com/taxdesk/portal/internal/chat"
	"github.com/taxdesk/portal/types"
)

// ChatHandler serves the message stream and access-request resolution.
type ChatHandler struct{}

func NewChatHandler() *ChatHandler {
	return &ChatHandler{}
}

// ChatRouter registers chat routes on the given router.
func ChatRouter(r chi.Router, handler *ChatHandler) {
	r.Get("/", handler.List)
	r.Post("/", handler.Send)
	r.Post("/mount", handler.Mount)
	r.Post("/unmount", handler.Unmount)
	r.Post("/requests", handler.RequestAccess)
	r.Post("/handle-request", handler.HandleRequest)
}

type ChatResponse struct {
	Messages []types.ChatMessage `json:"messages"`
	Mounted  bool                `json:"mounted"`
	Error    string              `json:"error,omitempty"`
}

type SendMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

type AccessRequestRequest struct {
	ModuleID string `json:"module_id" validate:"required"`
}

type HandleRequestRequest struct {
	MessageID int64              `json:"message_id" validate:"required"`
	Action    types.AccessAction `json:"action" validate:"required,oneof=approve reject"`
}

func (h *ChatHandler) respond(w http.ResponseWriter, r *http.Request, status int) {
	s, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ch := s.Chat()
	writeJSON(w, status, ChatResponse{
		Messages: ch.Messages(s.User()),
		Mounted:  ch.Mounted(),
		Error:    ch.LastError(),
	})
}

func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, http.StatusOK)
}

// Mount starts background polling for the session and fetches once.
func (h *ChatHandler) Mount(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	_ = s.Chat().Refresh(r.Context())
	s.StartChat()
	h.respond(w, r, http.StatusOK)
}

func (h *ChatHandler) Unmount(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	s.StopChat()
	h.respond(w, r, http.StatusOK)
}

func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Chat().Send(r.Context(), s.User(), req.Content, types.MessageGeneral); err != nil {
		writeChatError(w, err)
		return
	}
	h.respond(w, r, http.StatusCreated)
}

// RequestAccess posts the access-request prompt for a locked module.
func (h *ChatHandler) RequestAccess(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req AccessRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	prompt, ok := access.PromptFor(req.ModuleID)
	if !ok {
		writeError(w, http.StatusBadRequest, "module does not require access")
		return
	}
	if err := s.Chat().Send(r.Context(), s.User(), prompt.Message, types.MessageAccessRequest); err != nil {
		writeChatError(w, err)
		return
	}
	h.respond(w, r, http.StatusCreated)
}

// HandleRequest approves or rejects an access request. Only admins may call it.
func (h *ChatHandler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req HandleRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Chat().Resolve(r.Context(), s.User(), req.MessageID, req.Action); err != nil {
		writeChatError(w, err)
		return
	}
	h.respond(w, r, http.StatusOK)
}

func writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, chat.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chat.ErrNotAccessRequest), errors.Is(err, chat.ErrEmpty):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeBackendError(w, err)
	}
}
