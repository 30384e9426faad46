package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/templui/mediapipe/internal/chunksession"
	"github.com/templui/mediapipe/internal/db"
	"github.com/templui/mediapipe/internal/model"
	"github.com/templui/mediapipe/internal/repository"
	"github.com/templui/mediapipe/internal/storage"
	"github.com/templui/mediapipe/internal/thumbnail"
	"github.com/templui/mediapipe/internal/worker"
)

type testEnv struct {
	db        *sqlx.DB
	fileRepo  repository.FileRepository
	linkRepo  repository.LinkRepository
	store     *storage.LocalStore
	sessions  *chunksession.FileStore
	engine    *thumbnail.Engine
	scheduler *DerivationScheduler
	ingest    *IngestService
	resolver  *BackfillResolver
	files     *FileService
	partsDir  string
}

type envOptions struct {
	maxFileSize  int64
	maxChunkSize int64
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	if opts.maxFileSize == 0 {
		opts.maxFileSize = 50 << 20
	}
	if opts.maxChunkSize == 0 {
		opts.maxChunkSize = 10 << 20
	}

	dir := t.TempDir()
	database, err := db.Init("sqlite", filepath.Join(dir, "media.db")+"?_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(database) })
	if err := db.RunMigrations(database.DB, "sqlite"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store, err := storage.NewLocalStore(filepath.Join(dir, "uploads"), "/uploads")
	if err != nil {
		t.Fatal(err)
	}
	sessions, err := chunksession.NewFileStore(filepath.Join(dir, "tmp", "sessions"))
	if err != nil {
		t.Fatal(err)
	}

	env := &testEnv{
		db:       database,
		fileRepo: repository.NewFileRepository(database),
		linkRepo: repository.NewLinkRepository(database),
		store:    store,
		sessions: sessions,
		partsDir: filepath.Join(dir, "tmp", "parts"),
	}

	env.engine = thumbnail.NewEngine(store, store, nil)
	env.scheduler = NewDerivationScheduler(env.engine, env.fileRepo, worker.Options{Workers: 2, QueueSize: 16}, nil)
	env.scheduler.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = env.scheduler.Shutdown(ctx)
	})

	env.ingest, err = NewIngestService(env.fileRepo, store, sessions, env.scheduler, IngestConfig{
		MaxFileSize:  opts.maxFileSize,
		MaxChunkSize: opts.maxChunkSize,
		PartsDir:     env.partsDir,
	})
	if err != nil {
		t.Fatal(err)
	}

	env.resolver = NewBackfillResolver(store, store, env.engine, env.scheduler, BackfillConfig{
		Timeout:   2 * time.Second,
		CacheSize: 128,
		CacheTTL:  time.Minute,
	}, nil)
	env.files = NewFileService(env.fileRepo, env.linkRepo, store, store, env.resolver, env.scheduler)
	return env
}

// waitForStatus polls until the file reaches a terminal status.
func (e *testEnv) waitForStatus(t *testing.T, id string) model.ProcessingStatus {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		f, err := e.fileRepo.ByID(id)
		if err != nil {
			t.Fatalf("ByID: %v", err)
		}
		if f.ProcessingStatus.Terminal() {
			return f.ProcessingStatus
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("file %s never reached a terminal status", id)
	return ""
}

// publicFiles lists every regular file below the upload root.
func (e *testEnv) publicFiles(t *testing.T) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(e.store.Root(), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(e.store.Root(), p)
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y += 7 {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := thumbnail.Encode(&buf, img, ".jpg"); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func imageSize(t *testing.T, store storage.Store, key string) (int, int) {
	t.Helper()
	data, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get %s: %v", key, err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeConfig %s: %v", key, err)
	}
	return cfg.Width, cfg.Height
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := thumbnail.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 320, 240)), ".png"); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func waitABit() {
	time.Sleep(20 * time.Millisecond)
}
