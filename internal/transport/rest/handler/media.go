package handler

import (
	"net/http"

	"carelink/internal/service"
)

// 25 MB upload cap.
const maxUploadSize = 25 << 20

// MediaHandler handles chat media uploads.
type MediaHandler struct {
	mediaSvc *service.MediaService
}

// NewMediaHandler creates a new media handler.
func NewMediaHandler(mediaSvc *service.MediaService) *MediaHandler {
	return &MediaHandler{mediaSvc: mediaSvc}
}

// Upload handles POST /v1/chat/upload-media
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	att, err := h.mediaSvc.Save(file, header)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	writeJSON(w, http.StatusCreated, att)
}
