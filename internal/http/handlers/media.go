package handlers

import (
	"errors"
	"mime"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"

	"mediagen/internal/storage"
)

// Media streams a stored artifact. It is mounted only for local storage.
func (a *App) Media(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		a.error(w, r, http.StatusNotFound, "not_found", "media not found")
		return
	}
	data, err := a.Artifacts.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			a.error(w, r, http.StatusNotFound, "not_found", "media not found")
			return
		}
		a.Logger.Error().Err(err).Str("key", key).Msg("media: read failed")
		a.error(w, r, http.StatusInternalServerError, "internal", "failed to read media")
		return
	}
	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
