package handlers

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"github.com/taxdesk/portal/internal/backend"
	"github.com/taxdesk/portal/internal/logging"
	"github.com/taxdesk/portal/internal/session"
	"github.com/taxdesk/portal/internal/workflow"
	"github.com/taxdesk/portal/types"
)

const formFieldFile = "file"

// ModuleHandler drives the upload and process screens.
type ModuleHandler struct {
	sessions       *session.Manager
	maxUploadBytes int64
}

func NewModuleHandler(sessions *session.Manager, maxUploadBytes int64) *ModuleHandler {
	return &ModuleHandler{sessions: sessions, maxUploadBytes: maxUploadBytes}
}

// ModuleRouter registers processing screen routes on the given router.
func ModuleRouter(r chi.Router, handler *ModuleHandler) {
	r.Route("/{moduleID}", func(r chi.Router) {
		r.Get("/", handler.Mount)
		r.Post("/files/{slot}", handler.AddFiles)
		r.Delete("/files/{slot}/{index}", handler.RemoveFile)
		r.Put("/fields/{name}", handler.SetField)
		r.Post("/submit", handler.Submit)
	})
}

type ModuleResponse struct {
	Screen workflow.Screen `json:"screen"`
	Run    types.RunView   `json:"run"`
}

type FieldRequest struct {
	Value string `json:"value"`
}

// run resolves the session and mounts the requested screen.
func (h *ModuleHandler) run(w http.ResponseWriter, r *http.Request) (*workflow.Run, bool) {
	s, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	moduleID := chi.URLParam(r, "moduleID")
	if _, ok := workflow.Lookup(moduleID); !ok {
		writeError(w, http.StatusNotFound, "unknown processing screen")
		return nil, false
	}
	if !openModule(w, r, s, moduleID) {
		return nil, false
	}
	run, err := s.Run(moduleID)
	if err != nil {
		if errors.Is(err, session.ErrForbidden) {
			writeError(w, http.StatusForbidden, err.Error())
			return nil, false
		}
		writeError(w, http.StatusConflict, err.Error())
		return nil, false
	}
	return run, true
}

func (h *ModuleHandler) respond(w http.ResponseWriter, status int, run *workflow.Run) {
	writeJSON(w, status, ModuleResponse{Screen: run.Screen(), Run: run.View()})
}

func (h *ModuleHandler) Mount(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	h.respond(w, http.StatusOK, run)
}

// AddFiles attaches every "file" part of a multipart body to the slot.
func (h *ModuleHandler) AddFiles(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+maxMultipartMemory)
	files, err := parseUploads(r, formFieldFile, h.maxUploadBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	slot := chi.URLParam(r, "slot")
	for _, f := range files {
		if err := run.AddFile(slot, f); err != nil {
			if errors.Is(err, workflow.ErrUnknownSlot) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeBackendError(w, err)
			return
		}
	}
	h.respond(w, http.StatusOK, run)
}

func (h *ModuleHandler) RemoveFile(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid index")
		return
	}
	if err := run.RemoveFile(chi.URLParam(r, "slot"), index); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.respond(w, http.StatusOK, run)
}

func (h *ModuleHandler) SetField(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	var req FieldRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := run.SetField(chi.URLParam(r, "name"), req.Value); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.respond(w, http.StatusOK, run)
}

// Submit starts processing. The run continues after the response is
// written; the browser polls Mount for the outcome.
func (h *ModuleHandler) Submit(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	ctx := logging.WithLogger(h.sessions.BaseContext(), logging.FromContext(r.Context()))
	if _, err := run.Submit(ctx); err != nil {
		var verr *backend.ValidationError
		switch {
		case errors.Is(err, workflow.ErrBusy):
			writeError(w, http.StatusConflict, err.Error())
		case errors.As(err, &verr):
			h.respond(w, http.StatusBadRequest, run)
		default:
			writeBackendError(w, err)
		}
		return
	}
	h.respond(w, http.StatusAccepted, run)
}

// parseUploads reads every part named field, each capped at limit bytes.
func parseUploads(r *http.Request, field string, limit int64) ([]types.UploadedFile, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return nil, errors.New("invalid multipart form")
	}
	headers := r.MultipartForm.File[field]
	if len(headers) == 0 {
		return nil, fmt.Errorf("%s is required", field)
	}
	files := make([]types.UploadedFile, 0, len(headers))
	for _, fh := range headers {
		f, err := readUpload(fh, limit)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func readUpload(fh *multipart.FileHeader, limit int64) (types.UploadedFile, error) {
	file, err := fh.Open()
	if err != nil {
		return types.UploadedFile{}, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}
	data, err := readFileLimited(file, limit)
	_ = file.Close()
	if err != nil {
		return types.UploadedFile{}, err
	}
	return types.UploadedFile{
		Filename:    fh.Filename,
		ContentType: mimetype.Detect(data).String(),
		Size:        len(data),
		Data:        data,
	}, nil
}
