package handler

import (
	"encoding/json"
	"net/http"

	"github.com/templui/mediapipe/internal/ctxkeys"
	"github.com/templui/mediapipe/internal/model"
	"github.com/templui/mediapipe/internal/service"
	"github.com/templui/mediapipe/internal/thumbnail"
)

type FileHandler struct {
	fileService *service.FileService
}

func NewFileHandler(fileService *service.FileService) *FileHandler {
	return &FileHandler{
		fileService: fileService,
	}
}

type thumbnailStatusResponse struct {
	FileID           string                 `json:"file_id"`
	ProcessingStatus model.ProcessingStatus `json:"processing_status"`
	Exists           bool                   `json:"exists"`
	ThumbnailURL     *string                `json:"thumbnail_url"`
}

type derivedResponse struct {
	FileID   string `json:"file_id"`
	Label    string `json:"label"`
	URL      string `json:"url"`
	Outcome  string `json:"outcome"`
	Degraded bool   `json:"degraded"`
}

type linkRequest struct {
	EntityKind   string `json:"entity_kind"`
	EntityID     string `json:"entity_id"`
	Purpose      string `json:"purpose"`
	DisplayOrder int    `json:"display_order"`
}

type linkResponse struct {
	FileID       string `json:"file_id"`
	EntityKind   string `json:"entity_kind"`
	EntityID     string `json:"entity_id"`
	Purpose      string `json:"purpose"`
	DisplayOrder int    `json:"display_order"`
}

func newLinkResponse(l *model.FileLink) linkResponse {
	return linkResponse{
		FileID:       l.FileID,
		EntityKind:   l.EntityKind,
		EntityID:     l.EntityID,
		Purpose:      l.Purpose,
		DisplayOrder: l.DisplayOrder,
	}
}

func (h *FileHandler) Get(w http.ResponseWriter, r *http.Request) {
	file, err := h.fileService.Get(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newFileResponse(file, h.fileService.URL(file)))
}

// ThumbnailStatus reports whether the large derivative exists. It never
// produces one.
func (h *FileHandler) ThumbnailStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.fileService.ThumbnailStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, thumbnailStatusResponse{
		FileID:           status.FileID,
		ProcessingStatus: status.ProcessingStatus,
		Exists:           status.Exists,
		ThumbnailURL:     status.URL,
	})
}

// Derived resolves a derivative, producing it on demand. With ?redirect=1 the
// client is sent to the resolved URL instead of getting JSON.
func (h *FileHandler) Derived(w http.ResponseWriter, r *http.Request) {
	label, err := thumbnail.ParseLabel(r.PathValue("label"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_label", err.Error())
		return
	}

	file, res, err := h.fileService.Derived(r.Context(), r.PathValue("id"), label)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if res.Degraded() {
		w.Header().Set("Cache-Control", "no-store")
	}
	if r.URL.Query().Get("redirect") == "1" {
		http.Redirect(w, r, res.URL, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, derivedResponse{
		FileID:   file.ID,
		Label:    string(label),
		URL:      res.URL,
		Outcome:  res.Outcome,
		Degraded: res.Degraded(),
	})
}

func (h *FileHandler) Rederive(w http.ResponseWriter, r *http.Request) {
	uploaderID := ctxkeys.UploaderID(r.Context())

	file, err := h.fileService.Rederive(r.PathValue("id"), uploaderID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newFileResponse(file, h.fileService.URL(file)))
}

func (h *FileHandler) Links(w http.ResponseWriter, r *http.Request) {
	links, err := h.fileService.Links(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	resp := make([]linkResponse, 0, len(links))
	for _, l := range links {
		resp = append(resp, newLinkResponse(l))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *FileHandler) Link(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	link, err := h.fileService.Link(r.PathValue("id"), req.EntityKind, req.EntityID, req.Purpose, req.DisplayOrder)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newLinkResponse(link))
}

func (h *FileHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	if err := h.fileService.Unlink(r.PathValue("id"), req.EntityKind, req.EntityID, req.Purpose); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete removes a file that no entity links to anymore.
func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uploaderID := ctxkeys.UploaderID(r.Context())

	file, err := h.fileService.Get(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if file.UploaderID != uploaderID {
		writeServiceError(w, r, service.ErrNotOwner)
		return
	}

	if err := h.fileService.DeleteIfUnreferenced(r.Context(), file.ID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EntityFiles lists the files linked to an entity, in display order.
func (h *FileHandler) EntityFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.fileService.FilesForEntity(r.PathValue("kind"), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	resp := make([]fileResponse, 0, len(files))
	for _, f := range files {
		resp = append(resp, newFileResponse(f, h.fileService.URL(f)))
	}
	writeJSON(w, http.StatusOK, resp)
}
