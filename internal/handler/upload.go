package handler

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/templui/mediapipe/internal/ctxkeys"
	"github.com/templui/mediapipe/internal/service"
	"github.com/templui/mediapipe/internal/validation"
)

// formOverhead is the room left for multipart boundaries and the other fields
const formOverhead = 1 << 20

type UploadHandler struct {
	ingestService *service.IngestService
	maxFileSize   int64
	maxChunkSize  int64
}

func NewUploadHandler(ingestService *service.IngestService, maxFileSize, maxChunkSize int64) *UploadHandler {
	return &UploadHandler{
		ingestService: ingestService,
		maxFileSize:   maxFileSize,
		maxChunkSize:  maxChunkSize,
	}
}

type chunkResponse struct {
	ChunkIndex    int             `json:"chunk_index"`
	TotalChunks   int             `json:"total_chunks"`
	BytesReceived int64           `json:"bytes_received"`
	Done          bool            `json:"done"`
	File          *uploadResponse `json:"file,omitempty"`
}

// Upload handles a single-shot upload. The file part is streamed to storage
// without buffering the whole body.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	uploaderID := ctxkeys.UploaderID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+formOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_form", "expected multipart/form-data")
		return
	}

	part, err := filePart(mr)
	if err != nil {
		if isTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, service.CodeFileTooLarge, "file exceeds the size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "missing_file", "no file uploaded")
		return
	}
	defer part.Close()

	res, err := h.ingestService.Upload(r.Context(), uploaderID, part.FileName(), part)
	if err != nil {
		if isTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, service.CodeFileTooLarge, "file exceeds the size limit")
			return
		}
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, newUploadResponse(res))
}

// UploadChunk handles one chunk of a chunked upload. Intermediate chunks get a
// progress acknowledgement, the last one the same file shape as Upload.
func (h *UploadHandler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	uploaderID := ctxkeys.UploaderID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxChunkSize+formOverhead)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		if isTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, service.CodeFileTooLarge, "chunk exceeds the size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_form", "expected multipart/form-data")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.Warn("failed to remove multipart temp files", "error", err)
		}
	}()

	chunkIndex, err1 := strconv.Atoi(r.FormValue("chunkIndex"))
	totalChunks, err2 := strconv.Atoi(r.FormValue("totalChunks"))
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, service.CodeInvalidChunk, "chunkIndex and totalChunks must be integers")
		return
	}

	var originalSize int64
	if v := r.FormValue("originalSize"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, service.CodeInvalidChunk, "originalSize must be an integer")
			return
		}
		originalSize = n
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file", "no chunk uploaded")
		return
	}
	defer func() {
		closeErr := file.Close()
		if closeErr != nil {
			slog.Error("failed to close file", "error", closeErr)
		}
	}()

	originalName := r.FormValue("originalName")
	if originalName == "" {
		originalName = header.Filename
	}

	res, err := h.ingestService.UploadChunk(r.Context(), service.ChunkInput{
		UploaderID:   uploaderID,
		TempFileID:   r.FormValue("tempFileId"),
		ChunkIndex:   chunkIndex,
		TotalChunks:  totalChunks,
		OriginalSize: originalSize,
		OriginalName: originalName,
		Data:         file,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := chunkResponse{
		ChunkIndex:    res.ChunkIndex,
		TotalChunks:   res.TotalChunks,
		BytesReceived: res.BytesReceived,
		Done:          res.Done(),
	}
	if !res.Done() {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	upload := newUploadResponse(res.Upload)
	resp.File = &upload
	writeJSON(w, http.StatusCreated, resp)
}

// filePart advances mr to the part named "file", skipping other fields.
func filePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			if err == io.EOF {
				return nil, errors.New("no file part")
			}
			return nil, err
		}
		if part.FormName() == "file" && part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || errors.Is(err, validation.ErrFileTooLarge)
}
