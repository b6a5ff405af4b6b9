package handler

import (
	"errors"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/alumnichat/internal/chat"
	"github.com/alumnichat/internal/media"
)

type FileHandler struct {
	svc   *chat.Service
	media *media.Service
	// local: раздача файлов при media_backend=local; для s3 nil, файлы отдаёт бакет/CDN.
	local *media.LocalStore
}

func NewFileHandler(svc *chat.Service, mediaSvc *media.Service, local *media.LocalStore) *FileHandler {
	return &FileHandler{svc: svc, media: mediaSvc, local: local}
}

// Upload принимает multipart-поле file; загружать картинки могут только verified alumni.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if _, err := h.svc.VerifiedUser(r.Context(), userID); err != nil {
		writeAppError(w, "media.upload", err)
		return
	}

	// запас на multipart-заголовки; точный лимит проверяет media.Service
	r.Body = http.MaxBytesReader(w, r.Body, h.media.MaxSize()+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	res, err := h.media.UploadImage(r.Context(), userID, header.Filename, file)
	if err != nil {
		writeAppError(w, "media.upload", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	if h.local == nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	h.local.Serve(w, r, filepath.Base(chi.URLParam(r, "filename")))
}
