package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/templui/mediapipe/internal/model"
	"github.com/templui/mediapipe/internal/repository"
	"github.com/templui/mediapipe/internal/storage"
	"github.com/templui/mediapipe/internal/thumbnail"
)

var (
	ErrNotDerivable         = errors.New("file has no derivatives")
	ErrNotOwner             = errors.New("file belongs to another uploader")
	ErrDerivationInProgress = errors.New("derivation already in progress")
	ErrFileReferenced       = errors.New("file is still linked")
	ErrInvalidLink          = errors.New("entity kind and id are required")
)

// ThumbnailStatus tells whether the large derivative of a file exists.
type ThumbnailStatus struct {
	FileID           string
	ProcessingStatus model.ProcessingStatus
	Exists           bool
	URL              *string
}

type FileService struct {
	fileRepo  repository.FileRepository
	linkRepo  repository.LinkRepository
	originals storage.Store
	artifacts storage.Store
	resolver  *BackfillResolver
	scheduler *DerivationScheduler
}

func NewFileService(
	fileRepo repository.FileRepository,
	linkRepo repository.LinkRepository,
	originals storage.Store,
	artifacts storage.Store,
	resolver *BackfillResolver,
	scheduler *DerivationScheduler,
) *FileService {
	return &FileService{
		fileRepo:  fileRepo,
		linkRepo:  linkRepo,
		originals: originals,
		artifacts: artifacts,
		resolver:  resolver,
		scheduler: scheduler,
	}
}

func (s *FileService) Get(id string) (*model.File, error) {
	return s.fileRepo.ByID(id)
}

// URL returns the public URL of the original.
func (s *FileService) URL(file *model.File) string {
	if file == nil {
		return ""
	}
	return s.originals.URL(file.FilePath)
}

// ByUploader lists every file of an uploader, newest first.
func (s *FileService) ByUploader(uploaderID string) ([]*model.File, error) {
	return s.fileRepo.ByUploader(uploaderID)
}

// ThumbnailStatus checks for the large derivative without producing it.
func (s *FileService) ThumbnailStatus(ctx context.Context, id string) (*ThumbnailStatus, error) {
	file, err := s.fileRepo.ByID(id)
	if err != nil {
		return nil, err
	}

	status := &ThumbnailStatus{FileID: file.ID, ProcessingStatus: file.ProcessingStatus}
	if !file.IsImage() || !thumbnail.Derivable(path.Ext(file.FilePath)) {
		return status, nil
	}

	key := thumbnail.DerivedKey(file.FilePath, thumbnail.LabelLarge)
	exists, err := s.artifacts.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("check derivative: %w", err)
	}
	if exists {
		url := s.artifacts.URL(key)
		status.Exists = true
		status.URL = &url
	}
	return status, nil
}

// Derived resolves the derivative of file id for label, producing it on demand.
func (s *FileService) Derived(ctx context.Context, id string, label thumbnail.Label) (*model.File, Resolution, error) {
	file, err := s.fileRepo.ByID(id)
	if err != nil {
		return nil, Resolution{}, err
	}
	if !file.IsImage() {
		return file, Resolution{}, ErrNotDerivable
	}
	return file, s.resolver.Resolve(ctx, file.FilePath, label), nil
}

// Rederive queues a manual re-derivation of all labels. Only the uploader may
// trigger it.
func (s *FileService) Rederive(id, uploaderID string) (*model.File, error) {
	file, err := s.fileRepo.ByID(id)
	if err != nil {
		return nil, err
	}
	if file.UploaderID != uploaderID {
		return nil, ErrNotOwner
	}
	if !file.IsImage() || !thumbnail.Derivable(path.Ext(file.FilePath)) {
		return nil, ErrNotDerivable
	}

	switch file.ProcessingStatus {
	case model.StatusProcessing:
		return nil, ErrDerivationInProgress
	case model.StatusPending:
		err = s.scheduler.Schedule(file)
	case model.StatusCompleted, model.StatusFailed:
		err = s.scheduler.Rederive(file)
	default:
		err = fmt.Errorf("file %s has invalid status %q", file.ID, file.ProcessingStatus)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("re-derivation queued", "file_id", file.ID, "status", file.ProcessingStatus)
	return file, nil
}

// Link attaches a file to an entity of the CRUD layer.
func (s *FileService) Link(fileID, entityKind, entityID, purpose string, order int) (*model.FileLink, error) {
	entityKind = strings.TrimSpace(entityKind)
	entityID = strings.TrimSpace(entityID)
	if entityKind == "" || entityID == "" {
		return nil, ErrInvalidLink
	}

	if _, err := s.fileRepo.ByID(fileID); err != nil {
		return nil, err
	}

	link := &model.FileLink{
		FileID:       fileID,
		EntityKind:   entityKind,
		EntityID:     entityID,
		Purpose:      strings.TrimSpace(purpose),
		DisplayOrder: order,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.linkRepo.Link(link); err != nil {
		return nil, fmt.Errorf("failed to link file: %w", err)
	}
	return link, nil
}

func (s *FileService) Unlink(fileID, entityKind, entityID, purpose string) error {
	return s.linkRepo.Unlink(fileID, entityKind, entityID, strings.TrimSpace(purpose))
}

func (s *FileService) Links(fileID string) ([]*model.FileLink, error) {
	if _, err := s.fileRepo.ByID(fileID); err != nil {
		return nil, err
	}
	return s.linkRepo.LinksForFile(fileID)
}

func (s *FileService) FilesForEntity(entityKind, entityID string) ([]*model.File, error) {
	return s.linkRepo.FilesForEntity(entityKind, entityID)
}

// DeleteIfUnreferenced removes a file, its derivatives and its record once no
// entity links to it. It returns ErrFileReferenced while links remain.
func (s *FileService) DeleteIfUnreferenced(ctx context.Context, id string) error {
	file, err := s.fileRepo.ByID(id)
	if err != nil {
		return err
	}

	count, err := s.linkRepo.CountLinks(id)
	if err != nil {
		return fmt.Errorf("failed to count links: %w", err)
	}
	if count > 0 {
		return ErrFileReferenced
	}

	// storage is best effort, the record is what makes a file visible
	for _, label := range thumbnail.Labels {
		key := thumbnail.DerivedKey(file.FilePath, label)
		if err := s.artifacts.Delete(ctx, key); err != nil {
			slog.Warn("failed to delete derivative", "key", key, "error", err)
		}
		s.resolver.Forget(key)
	}
	if err := s.originals.Delete(ctx, file.FilePath); err != nil {
		slog.Error("failed to delete file from storage", "error", err, "path", file.FilePath)
	}

	if err := s.fileRepo.Delete(id); err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}

	slog.Info("file deleted", "file_id", id, "key", file.FilePath)
	return nil
}
