package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/templui/mediapipe/internal/chunksession"
	"github.com/templui/mediapipe/internal/metrics"
	"github.com/templui/mediapipe/internal/model"
	"github.com/templui/mediapipe/internal/repository"
	"github.com/templui/mediapipe/internal/storage"
	"github.com/templui/mediapipe/internal/thumbnail"
	"github.com/templui/mediapipe/internal/validation"
)

// sniffLen is how much of a file http.DetectContentType looks at
const sniffLen = 512

type IngestConfig struct {
	MaxFileSize  int64
	MaxChunkSize int64
	PartsDir     string // partial chunked uploads, never served
}

// UploadResult is what a finished upload (single-shot or last chunk) returns.
type UploadResult struct {
	File *model.File
	URL  string
	// ThumbnailURL is nil while derivatives are produced in the background.
	ThumbnailURL *string
}

// ChunkInput is one request of a chunked upload.
type ChunkInput struct {
	UploaderID   string
	TempFileID   string
	ChunkIndex   int
	TotalChunks  int
	OriginalSize int64
	OriginalName string
	Data         io.Reader
}

// ChunkResult acknowledges a chunk. Upload is set once the last chunk is in.
type ChunkResult struct {
	ChunkIndex    int
	TotalChunks   int
	BytesReceived int64
	Upload        *UploadResult
}

func (r *ChunkResult) Done() bool {
	return r.Upload != nil
}

type IngestService struct {
	fileRepo  repository.FileRepository
	originals *storage.LocalStore
	sessions  chunksession.Store
	scheduler *DerivationScheduler
	cfg       IngestConfig
	now       func() time.Time
}

func NewIngestService(
	fileRepo repository.FileRepository,
	originals *storage.LocalStore,
	sessions chunksession.Store,
	scheduler *DerivationScheduler,
	cfg IngestConfig,
) (*IngestService, error) {
	if err := os.MkdirAll(cfg.PartsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create parts dir: %w", err)
	}
	return &IngestService{
		fileRepo:  fileRepo,
		originals: originals,
		sessions:  sessions,
		scheduler: scheduler,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Upload stores a single-shot upload. The extension is checked before body is
// read and the size limit is enforced while streaming.
func (s *IngestService) Upload(ctx context.Context, uploaderID, filename string, body io.Reader) (*UploadResult, error) {
	kind, err := validation.ValidateExtension(filename)
	if err != nil {
		return nil, validationError(err)
	}

	now := s.now()
	storedName := newStoredName(filename, now)
	key := storageKey(kind, now, storedName)

	br := bufio.NewReaderSize(body, sniffLen)
	head, _ := br.Peek(sniffLen)
	mimeType := validation.DetectMimeType(head, validation.Extension(filename))

	size, err := s.originals.Save(ctx, key, &limitReader{r: br, n: s.cfg.MaxFileSize})
	if err != nil {
		if errors.Is(err, validation.ErrFileTooLarge) {
			return nil, validationError(err)
		}
		return nil, storageError(err)
	}

	return s.finalize(ctx, &model.File{
		UploaderID:   uploaderID,
		OriginalName: filename,
		StoredName:   storedName,
		FilePath:     key,
		FileSize:     size,
		MimeType:     mimeType,
		FileKind:     kind,
	}, "single")
}

// UploadChunk appends one chunk to its session. Chunk 0 opens the session;
// the chunk with index totalChunks-1 closes it and creates the file record.
func (s *IngestService) UploadChunk(ctx context.Context, in ChunkInput) (*ChunkResult, error) {
	if !chunksession.ValidID(in.TempFileID) {
		return nil, sessionError("invalid tempFileId", chunksession.ErrInvalidID)
	}
	if in.TotalChunks < 1 || in.ChunkIndex < 0 || in.ChunkIndex >= in.TotalChunks {
		return nil, chunkError("chunkIndex must be between 0 and totalChunks-1")
	}

	var sess *chunksession.Session
	var err error
	if in.ChunkIndex == 0 {
		sess, err = s.openSession(ctx, in)
	} else {
		sess, err = s.resumeSession(ctx, in)
	}
	if err != nil {
		return nil, err
	}

	if in.ChunkIndex != sess.ReceivedChunks {
		// chunks are appended in arrival order; the index is not used for placement
		slog.Warn("chunk arrived out of sequence",
			"temp_file_id", sess.ID,
			"chunk_index", in.ChunkIndex,
			"expected", sess.ReceivedChunks,
		)
	}

	n, err := s.appendChunk(sess, in.Data)
	if err != nil {
		s.abortSession(ctx, sess)
		return nil, err
	}

	sess.ReceivedChunks++
	sess.BytesWritten += n
	sess.UpdatedAt = s.now()

	res := &ChunkResult{
		ChunkIndex:    in.ChunkIndex,
		TotalChunks:   sess.TotalChunks,
		BytesReceived: sess.BytesWritten,
	}

	if in.ChunkIndex < sess.TotalChunks-1 {
		if err := s.sessions.Save(ctx, sess); err != nil {
			s.abortSession(ctx, sess)
			return nil, storageError(err)
		}
		return res, nil
	}

	upload, err := s.completeSession(ctx, sess)
	if err != nil {
		return nil, err
	}
	res.Upload = upload
	return res, nil
}

func (s *IngestService) openSession(ctx context.Context, in ChunkInput) (*chunksession.Session, error) {
	kind, err := validation.ValidateExtension(in.OriginalName)
	if err != nil {
		return nil, validationError(err)
	}
	if in.OriginalSize < 0 {
		return nil, chunkError("originalSize must not be negative")
	}
	if err := validation.ValidateSize(in.OriginalSize, s.cfg.MaxFileSize); err != nil {
		return nil, validationError(err)
	}

	// a restart by the same uploader replaces what the previous attempt left behind
	if old, err := s.sessions.Get(ctx, in.TempFileID); err == nil {
		if old.UploaderID != in.UploaderID {
			return nil, sessionError("upload session belongs to another uploader", nil)
		}
		s.abortSession(ctx, old)
	}

	now := s.now()
	storedName := newStoredName(in.OriginalName, now)
	sess := &chunksession.Session{
		ID:           in.TempFileID,
		UploaderID:   in.UploaderID,
		OriginalName: in.OriginalName,
		StoredName:   storedName,
		StorageKey:   storageKey(kind, now, storedName),
		PartPath:     filepath.Join(s.cfg.PartsDir, in.TempFileID+".part"),
		DeclaredSize: in.OriginalSize,
		TotalChunks:  in.TotalChunks,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	f, err := os.Create(sess.PartPath)
	if err != nil {
		return nil, storageError(err)
	}
	f.Close()

	if err := s.sessions.Save(ctx, sess); err != nil {
		os.Remove(sess.PartPath)
		return nil, storageError(err)
	}

	slog.Debug("chunk session opened",
		"temp_file_id", sess.ID,
		"total_chunks", sess.TotalChunks,
		"declared_size", sess.DeclaredSize,
	)
	return sess, nil
}

func (s *IngestService) resumeSession(ctx context.Context, in ChunkInput) (*chunksession.Session, error) {
	sess, err := s.sessions.Get(ctx, in.TempFileID)
	if errors.Is(err, chunksession.ErrSessionNotFound) {
		return nil, sessionError("unknown upload session, send chunk 0 first", err)
	}
	if err != nil {
		return nil, storageError(err)
	}
	if sess.UploaderID != in.UploaderID {
		return nil, sessionError("upload session belongs to another uploader", nil)
	}
	if sess.TotalChunks != in.TotalChunks {
		return nil, chunkError("totalChunks does not match the session")
	}
	return sess, nil
}

// appendChunk appends data to the session's part file, bounded by the chunk
// limit and by what is left of the file limit.
func (s *IngestService) appendChunk(sess *chunksession.Session, data io.Reader) (int64, error) {
	remaining := s.cfg.MaxFileSize - sess.BytesWritten
	limit := min(s.cfg.MaxChunkSize, remaining)

	f, err := os.OpenFile(sess.PartPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, storageError(err)
	}

	n, err := io.Copy(f, &limitReader{r: data, n: limit})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, validation.ErrFileTooLarge) && limit == remaining:
		return n, validationError(err)
	case errors.Is(err, validation.ErrFileTooLarge):
		return n, chunkError("chunk exceeds the maximum chunk size")
	default:
		return n, storageError(err)
	}
}

func (s *IngestService) completeSession(ctx context.Context, sess *chunksession.Session) (*UploadResult, error) {
	size, err := s.originals.Adopt(sess.PartPath, sess.StorageKey)
	if err != nil {
		s.abortSession(ctx, sess)
		return nil, storageError(err)
	}
	if err := s.sessions.Delete(ctx, sess.ID); err != nil {
		slog.Warn("failed to delete chunk session", "temp_file_id", sess.ID, "error", err)
	}

	if size != sess.DeclaredSize {
		// not enforced, see DESIGN.md
		slog.Warn("chunked upload size differs from declared size",
			"temp_file_id", sess.ID,
			"declared", sess.DeclaredSize,
			"actual", size,
		)
	}

	return s.finalize(ctx, &model.File{
		UploaderID:   sess.UploaderID,
		OriginalName: sess.OriginalName,
		StoredName:   sess.StoredName,
		FilePath:     sess.StorageKey,
		FileSize:     size,
		MimeType:     s.sniffStored(sess.StorageKey, sess.OriginalName),
		FileKind:     validation.ClassifyKind(validation.Extension(sess.OriginalName)),
	}, "chunked")
}

func (s *IngestService) abortSession(ctx context.Context, sess *chunksession.Session) {
	if err := os.Remove(sess.PartPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove partial upload", "path", sess.PartPath, "error", err)
	}
	if err := s.sessions.Delete(ctx, sess.ID); err != nil {
		slog.Warn("failed to delete chunk session", "temp_file_id", sess.ID, "error", err)
	}
}

func (s *IngestService) sniffStored(key, originalName string) string {
	ext := validation.Extension(originalName)
	f, err := s.originals.Open(key)
	if err != nil {
		return validation.DetectMimeType(nil, ext)
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, _ := io.ReadFull(f, head)
	return validation.DetectMimeType(head[:n], ext)
}

// finalize creates the record for bytes that are already in place. If that
// fails the bytes are removed again, so callers never see one without the other.
func (s *IngestService) finalize(ctx context.Context, file *model.File, mode string) (*UploadResult, error) {
	now := s.now()
	file.ID = uuid.New().String()
	file.ProcessingStatus = model.StatusPending
	file.CreatedAt = now
	file.UpdatedAt = now

	if err := s.fileRepo.Create(file); err != nil {
		if delErr := s.originals.Delete(ctx, file.FilePath); delErr != nil {
			slog.Error("failed to delete file from storage during cleanup", "error", delErr, "path", file.FilePath)
		}
		return nil, recordError(err)
	}

	metrics.UploadsTotal.WithLabelValues(string(file.FileKind), mode).Inc()
	metrics.UploadBytesTotal.Add(float64(file.FileSize))

	slog.Info("file uploaded",
		"file_id", file.ID,
		"uploader_id", file.UploaderID,
		"key", file.FilePath,
		"size", file.FileSize,
		"kind", file.FileKind,
		"mode", mode,
	)

	// the upload already succeeded; scheduling problems end up in the record
	if err := s.scheduler.Schedule(file); err != nil {
		slog.Warn("derivation not scheduled", "file_id", file.ID, "error", err)
	}

	return s.result(file), nil
}

func (s *IngestService) result(file *model.File) *UploadResult {
	res := &UploadResult{File: file, URL: s.originals.URL(file.FilePath)}
	if file.IsImage() && !thumbnail.Derivable(path.Ext(file.FilePath)) {
		// vector images are served as their own thumbnail
		res.ThumbnailURL = &res.URL
	}
	return res
}

// newStoredName builds a collision-free, filesystem-safe name:
// <timestamp>_<random>_<sanitized original>.
func newStoredName(original string, now time.Time) string {
	return fmt.Sprintf("%s_%s_%s",
		now.Format("20060102150405"),
		uuid.New().String()[:8],
		validation.SanitizeFilename(original),
	)
}

// storageKey places a stored name under <category>/<yyyymm>/.
func storageKey(kind model.FileKind, now time.Time, storedName string) string {
	return path.Join(kind.Category(), now.Format("200601"), storedName)
}

// limitReader fails with validation.ErrFileTooLarge as soon as more than n
// bytes have been read, without buffering the excess.
type limitReader struct {
	r io.Reader
	n int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.n < 0 {
		return 0, validation.ErrFileTooLarge
	}
	if int64(len(p)) > l.n+1 {
		p = p[:l.n+1]
	}
	n, err := l.r.Read(p)
	l.n -= int64(n)
	if l.n < 0 {
		return n, validation.ErrFileTooLarge
	}
	return n, err
}
