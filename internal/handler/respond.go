package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/templui/mediapipe/internal/model"
	"github.com/templui/mediapipe/internal/repository"
	"github.com/templui/mediapipe/internal/service"
)

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

type fileResponse struct {
	ID               string                 `json:"id"`
	OriginalName     string                 `json:"original_name"`
	StoredName       string                 `json:"stored_name"`
	URL              string                 `json:"url"`
	Size             int64                  `json:"size"`
	MimeType         string                 `json:"mime_type"`
	FileKind         model.FileKind         `json:"file_kind"`
	ProcessingStatus model.ProcessingStatus `json:"processing_status"`
	HasDerivatives   bool                   `json:"has_derivatives"`
}

type uploadResponse struct {
	fileResponse
	ThumbnailURL *string `json:"thumbnail_url"`
}

func newFileResponse(file *model.File, url string) fileResponse {
	return fileResponse{
		ID:               file.ID,
		OriginalName:     file.OriginalName,
		StoredName:       file.StoredName,
		URL:              url,
		Size:             file.FileSize,
		MimeType:         file.MimeType,
		FileKind:         file.FileKind,
		ProcessingStatus: file.ProcessingStatus,
		HasDerivatives:   file.HasDerivatives,
	}
}

func newUploadResponse(res *service.UploadResult) uploadResponse {
	return uploadResponse{
		fileResponse: newFileResponse(res.File, res.URL),
		ThumbnailURL: res.ThumbnailURL,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Code: code, Error: msg})
}

// writeServiceError maps service and repository errors to a response.
// Unknown errors are logged and hidden behind a 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var uploadErr *service.UploadError
	switch {
	case errors.As(err, &uploadErr):
		if uploadErr.Status >= http.StatusInternalServerError {
			slog.Error("upload failed", "error", err, "path", r.URL.Path)
		}
		writeError(w, uploadErr.Status, uploadErr.Code, uploadErr.Message)
	case errors.Is(err, repository.ErrFileNotFound):
		writeError(w, http.StatusNotFound, "not_found", "file not found")
	case errors.Is(err, service.ErrNotOwner):
		writeError(w, http.StatusForbidden, "forbidden", "file belongs to another uploader")
	case errors.Is(err, service.ErrNotDerivable):
		writeError(w, http.StatusUnprocessableEntity, "not_derivable", "file has no derivatives")
	case errors.Is(err, service.ErrDerivationInProgress):
		writeError(w, http.StatusConflict, "in_progress", "derivation already in progress")
	case errors.Is(err, service.ErrFileReferenced):
		writeError(w, http.StatusConflict, "referenced", "file is still linked")
	case errors.Is(err, service.ErrInvalidLink):
		writeError(w, http.StatusBadRequest, "invalid_link", err.Error())
	default:
		slog.Error("request failed", "error", err, "method", r.Method, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
