package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taxdesk/portal/internal/backend"
	"github.com/taxdesk/portal/internal/session"
	"github.com/taxdesk/portal/internal/workflow"
	"github.com/taxdesk/portal/types"
)

// ChallanHandler drives the two-step challan screen.
type ChallanHandler struct {
	maxUploadBytes int64
}

func NewChallanHandler(maxUploadBytes int64) *ChallanHandler {
	return &ChallanHandler{maxUploadBytes: maxUploadBytes}
}

// ChallanRouter registers challan routes on the given router.
func ChallanRouter(r chi.Router, handler *ChallanHandler) {
	r.Get("/", handler.Get)
	r.Post("/analyze", handler.Analyze)
	r.Put("/inputs/{key}", handler.SetInput)
	r.Post("/finalize", handler.Finalize)
	r.Post("/reset", handler.Reset)
}

type FinalizeRequest struct {
	CustomName string `json:"custom_name" validate:"max=128"`
}

type ChallanInputRequest struct {
	ChallanNo string `json:"challan_no" validate:"max=32"`
	Date      string `json:"date" validate:"max=32"`
	BSR       string `json:"bsr" validate:"max=16"`
	Amount    string `json:"amount" validate:"max=32"`
	Interest  string `json:"interest" validate:"max=32"`
	Total     string `json:"total" validate:"max=32"`
}

func (h *ChallanHandler) challan(w http.ResponseWriter, r *http.Request) (*workflow.Challan, bool) {
	s, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	if !openModule(w, r, s, workflow.ChallanModuleID) {
		return nil, false
	}
	c, err := s.Challan()
	if err != nil {
		if errors.Is(err, session.ErrForbidden) {
			writeError(w, http.StatusForbidden, err.Error())
			return nil, false
		}
		writeError(w, http.StatusConflict, err.Error())
		return nil, false
	}
	return c, true
}

type ChallanErrorResponse struct {
	Error   string               `json:"error"`
	Challan workflow.ChallanView `json:"challan"`
}

// writeChallanError maps state machine and service errors to a response
// that carries the current view.
func writeChallanError(w http.ResponseWriter, c *workflow.Challan, err error) {
	status := http.StatusBadGateway
	var verr *backend.ValidationError
	switch {
	case errors.Is(err, workflow.ErrPhase), errors.Is(err, workflow.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, workflow.ErrUnknownGroup):
		status = http.StatusNotFound
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	}
	msg := err.Error()
	if status == http.StatusBadGateway || status == http.StatusBadRequest {
		msg = backend.UserMessage(err)
	}
	writeJSON(w, status, ChallanErrorResponse{Error: msg, Challan: c.View()})
}

func (h *ChallanHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.challan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

// Analyze uploads the pending-tax report and waits for the groups.
func (h *ChallanHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	c, ok := h.challan(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+maxMultipartMemory)
	files, err := parseUploads(r, formFieldFile, h.maxUploadBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := c.Analyze(context.WithoutCancel(r.Context()), files[0]); err != nil {
		writeChallanError(w, c, err)
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

func (h *ChallanHandler) SetInput(w http.ResponseWriter, r *http.Request) {
	c, ok := h.challan(w, r)
	if !ok {
		return
	}
	var req ChallanInputRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in := types.ChallanInput{
		ChallanNo: req.ChallanNo,
		Date:      req.Date,
		BSR:       req.BSR,
		Amount:    req.Amount,
		Interest:  req.Interest,
		Total:     req.Total,
	}
	if err := c.SetInput(chi.URLParam(r, "key"), in); err != nil {
		writeChallanError(w, c, err)
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

func (h *ChallanHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	c, ok := h.challan(w, r)
	if !ok {
		return
	}
	var req FinalizeRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := c.Finalize(context.WithoutCancel(r.Context()), req.CustomName); err != nil {
		writeChallanError(w, c, err)
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

func (h *ChallanHandler) Reset(w http.ResponseWriter, r *http.Request) {
	c, ok := h.challan(w, r)
	if !ok {
		return
	}
	c.Reset()
	writeJSON(w, http.StatusOK, c.View())
}
