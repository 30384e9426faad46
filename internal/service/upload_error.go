package service

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/templui/mediapipe/internal/validation"
)

// Upload error codes returned to clients.
const (
	CodeDisallowedExtension = "disallowed_extension"
	CodeFileTooLarge        = "file_too_large"
	CodeInvalidChunk        = "invalid_chunk"
	CodeInvalidSession      = "invalid_session"
	CodeStorageFailed       = "storage_failed"
	CodeRecordFailed        = "record_failed"
)

// UploadError is a rejected upload. Status is the HTTP status a handler should use.
type UploadError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// validationError maps validation package errors to upload errors.
func validationError(err error) *UploadError {
	switch {
	case errors.Is(err, validation.ErrFileTooLarge):
		return &UploadError{Code: CodeFileTooLarge, Message: "file exceeds the size limit", Status: http.StatusRequestEntityTooLarge, Err: err}
	case errors.Is(err, validation.ErrExtensionNotAllowed):
		return &UploadError{Code: CodeDisallowedExtension, Message: "file type not allowed", Status: http.StatusUnsupportedMediaType, Err: err}
	default:
		return &UploadError{Code: CodeInvalidChunk, Message: "invalid upload", Status: http.StatusBadRequest, Err: err}
	}
}

func chunkError(msg string) *UploadError {
	return &UploadError{Code: CodeInvalidChunk, Message: msg, Status: http.StatusBadRequest}
}

func sessionError(msg string, err error) *UploadError {
	return &UploadError{Code: CodeInvalidSession, Message: msg, Status: http.StatusBadRequest, Err: err}
}

func storageError(err error) *UploadError {
	return &UploadError{Code: CodeStorageFailed, Message: "failed to store file", Status: http.StatusInternalServerError, Err: err}
}

func recordError(err error) *UploadError {
	return &UploadError{Code: CodeRecordFailed, Message: "failed to create file record", Status: http.StatusInternalServerError, Err: err}
}
