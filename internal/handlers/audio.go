package handlers

import (
	"errors"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"coliblanco-backend/internal/storage"
)

type audioOpener interface {
	Open(name string) (*os.File, error)
}

// AudioHandler serves stored speech clips.
type AudioHandler struct {
	store audioOpener
}

func NewAudioHandler(store audioOpener) *AudioHandler {
	return &AudioHandler{store: store}
}

// Serve handles GET /audio/{filename}.
func (h *AudioHandler) Serve(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")

	f, err := h.store.Open(name)
	switch {
	case errors.Is(err, storage.ErrInvalidName):
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid audio file name", r))
		return
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Audio file not found", r))
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to open audio file", r))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to open audio file", r))
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeContent(w, r, name, info.ModTime(), f)
}
