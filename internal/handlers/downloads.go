package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taxdesk/portal/internal/backend"
	"github.com/taxdesk/portal/internal/logging"
	"github.com/taxdesk/portal/internal/storage"
)

// DownloadHandler serves generated reports: binary results kept in
// object storage and files the processing service exposes for download.
type DownloadHandler struct {
	storage *storage.Storage
	backend *backend.Client
}

func NewDownloadHandler(store *storage.Storage, client *backend.Client) *DownloadHandler {
	return &DownloadHandler{storage: store, backend: client}
}

// DownloadRouter registers download routes on the given router.
func DownloadRouter(r chi.Router, handler *DownloadHandler) {
	r.Get("/downloads/{objectID}/{filename}", handler.Stored)
	r.Get("/download/{filename}", handler.Remote)
}

func attachment(w http.ResponseWriter, filename, contentType string) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
}

// Stored streams a result saved by a processing run.
func (h *DownloadHandler) Stored(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "objectID") + "/" + chi.URLParam(r, "filename")
	obj, err := h.storage.Open(r.Context(), key)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidKey):
			writeError(w, http.StatusBadRequest, "invalid download key")
		case errors.Is(err, storage.ErrObjectNotFound):
			writeError(w, http.StatusNotFound, "file not found")
		default:
			writeError(w, http.StatusInternalServerError, "failed to open file")
		}
		return
	}
	defer obj.Body.Close()

	attachment(w, obj.Filename, obj.ContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		logging.FromContext(r.Context()).WithError(err).Warn("download interrupted")
	}
}

// Remote proxies a file generated by the processing service.
func (h *DownloadHandler) Remote(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if filename == "" || filename == "." || filename == ".." {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	body, contentType, err := h.backend.Download(r.Context(), filename)
	if err != nil {
		var aerr *backend.APIError
		if errors.As(err, &aerr) && aerr.Status == http.StatusNotFound {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		writeBackendError(w, err)
		return
	}
	defer body.Close()

	attachment(w, filename, contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		logging.FromContext(r.Context()).WithError(err).Warn("download interrupted")
	}
}
