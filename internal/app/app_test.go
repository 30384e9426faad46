package app

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"github.com/templui/mediapipe/internal/config"
	"github.com/templui/mediapipe/internal/db"
	"github.com/templui/mediapipe/internal/model"
	"github.com/templui/mediapipe/internal/repository"
	"github.com/templui/mediapipe/internal/thumbnail"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		AppEnv:             "test",
		DBDriver:           "sqlite",
		DBConnection:       filepath.Join(dir, "media.db") + "?_pragma=foreign_keys(1)",
		JWTSecret:          "test-secret",
		JWTExpiry:          time.Hour,
		UploadRoot:         filepath.Join(dir, "uploads"),
		UploadTempDir:      filepath.Join(dir, "tmp"),
		UploadPublicPrefix: "/uploads",
		MaxFileSize:        10 << 20,
		MaxChunkSize:       1 << 20,
		DeriveWorkers:      1,
		DeriveQueueSize:    8,
		BackfillTimeout:    time.Second,
		ArtifactStorage:    "local",
		ChunkSessionStore:  "fs",
		ChunkSessionTTL:    time.Hour,
		CleanupSchedule:    "@every 1h",
	}
}

func seedPendingImage(t *testing.T, cfg *config.Config) string {
	t.Helper()
	ctx := context.Background()
	a, err := New(ctx, cfg, WithoutRecovery())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(ctx)

	img := image.NewNRGBA(image.Rect(0, 0, 400, 300))
	for x := 0; x < 400; x++ {
		img.Set(x, x%300, color.NRGBA{R: uint8(x), B: 120, A: 255})
	}
	var buf bytes.Buffer
	if err := thumbnail.Encode(&buf, img, ".jpg"); err != nil {
		t.Fatal(err)
	}

	key := "images/202601/left-over.jpg"
	if err := a.Originals.Put(ctx, key, buf.Bytes()); err != nil {
		t.Fatal(err)
	}
	f := &model.File{
		ID: "left-over", UploaderID: "user-1", OriginalName: "left-over.jpg", StoredName: "left-over.jpg",
		FilePath: key, FileSize: int64(buf.Len()), MimeType: "image/jpeg", FileKind: model.FileKindImage,
		ProcessingStatus: model.StatusPending, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := repository.NewFileRepository(a.DB).Create(f); err != nil {
		t.Fatal(err)
	}
	return f.ID
}

func statusOf(t *testing.T, cfg *config.Config, id string) model.ProcessingStatus {
	t.Helper()
	database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close(database)

	f, err := repository.NewFileRepository(database).ByID(id)
	if err != nil {
		t.Fatal(err)
	}
	return f.ProcessingStatus
}

func TestNew_WithoutRecoveryLeavesPendingFiles(t *testing.T) {
	cfg := testConfig(t)
	id := seedPendingImage(t, cfg)
	ctx := context.Background()

	a, err := New(ctx, cfg, WithoutRecovery())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Shutdown drains whatever was queued
	if err := a.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}

	if got := statusOf(t, cfg, id); got != model.StatusPending {
		t.Errorf("status = %s, want pending", got)
	}
}

func TestNew_RecoversPendingFiles(t *testing.T) {
	cfg := testConfig(t)
	id := seedPendingImage(t, cfg)
	ctx := context.Background()

	a, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}

	if got := statusOf(t, cfg, id); got != model.StatusCompleted {
		t.Errorf("status = %s, want completed", got)
	}
}
