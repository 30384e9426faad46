package repository

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/templui/mediapipe/internal/db"
	"github.com/templui/mediapipe/internal/model"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	conn := filepath.Join(t.TempDir(), "media.db") + "?_pragma=foreign_keys(1)"
	database, err := db.Init("sqlite", conn)
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(database) })

	if err := db.RunMigrations(database.DB, "sqlite"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func newFile(uploader string, status model.ProcessingStatus) *model.File {
	id := uuid.New().String()
	now := time.Now().UTC()
	return &model.File{
		ID:               id,
		UploaderID:       uploader,
		OriginalName:     "photo.jpg",
		StoredName:       id + "_photo.jpg",
		FilePath:         "images/202601/" + id + "_photo.jpg",
		FileSize:         1234,
		MimeType:         "image/jpeg",
		FileKind:         model.FileKindImage,
		ProcessingStatus: status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestFileRepository_CreateAndGet(t *testing.T) {
	repo := NewFileRepository(newTestDB(t))
	f := newFile("user-1", model.StatusPending)

	if err := repo.Create(f); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.ByID(f.ID)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if got.FilePath != f.FilePath || got.FileKind != model.FileKindImage || got.ProcessingStatus != model.StatusPending {
		t.Errorf("unexpected record: %+v", got)
	}

	if _, err := repo.ByID("missing"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("err = %v, want ErrFileNotFound", err)
	}

	// file_path is unique
	dup := newFile("user-1", model.StatusPending)
	dup.FilePath = f.FilePath
	if err := repo.Create(dup); err == nil {
		t.Error("expected unique violation on file_path")
	}
}

func TestFileRepository_UpdateStatusIsMonotonic(t *testing.T) {
	repo := NewFileRepository(newTestDB(t))
	f := newFile("user-1", model.StatusPending)
	if err := repo.Create(f); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		next model.ProcessingStatus
		ok   bool
	}{
		{model.StatusProcessing, true},
		{model.StatusPending, false},
		{model.StatusProcessing, false},
		{model.StatusCompleted, true},
		{model.StatusFailed, false},
		{model.StatusProcessing, false},
		{model.StatusPending, false},
	}

	for i, step := range steps {
		err := repo.UpdateStatus(f.ID, step.next)
		if step.ok && err != nil {
			t.Fatalf("step %d -> %s: %v", i, step.next, err)
		}
		if !step.ok && !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("step %d -> %s: err = %v, want ErrInvalidTransition", i, step.next, err)
		}
	}

	got, _ := repo.ByID(f.ID)
	if got.ProcessingStatus != model.StatusCompleted {
		t.Errorf("final status = %s", got.ProcessingStatus)
	}
}

func TestFileRepository_FailedCanOnlyComplete(t *testing.T) {
	repo := NewFileRepository(newTestDB(t))
	f := newFile("user-1", model.StatusFailed)
	if err := repo.Create(f); err != nil {
		t.Fatal(err)
	}

	if err := repo.UpdateStatus(f.ID, model.StatusProcessing); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("failed -> processing err = %v", err)
	}
	if err := repo.UpdateStatus(f.ID, model.StatusCompleted); err != nil {
		t.Errorf("failed -> completed: %v", err)
	}
	if err := repo.UpdateStatus("missing", model.StatusCompleted); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("missing file err = %v, want ErrFileNotFound", err)
	}
}

func TestFileRepository_ListingAndFlags(t *testing.T) {
	repo := NewFileRepository(newTestDB(t))

	a := newFile("user-1", model.StatusProcessing)
	b := newFile("user-1", model.StatusPending)
	c := newFile("user-2", model.StatusProcessing)
	for _, f := range []*model.File{a, b, c} {
		if err := repo.Create(f); err != nil {
			t.Fatal(err)
		}
	}

	mine, err := repo.ByUploader("user-1")
	if err != nil || len(mine) != 2 {
		t.Fatalf("ByUploader = %d files, %v", len(mine), err)
	}

	stuck, err := repo.DerivableByStatus(model.StatusProcessing, []string{".jpg"}, 10)
	if err != nil || len(stuck) != 2 {
		t.Fatalf("DerivableByStatus = %d files, %v", len(stuck), err)
	}

	if err := repo.SetHasDerivatives(a.ID, true); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.ByID(a.ID)
	if !got.HasDerivatives {
		t.Error("has_derivatives not persisted")
	}
	if err := repo.SetHasDerivatives("missing", true); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("err = %v, want ErrFileNotFound", err)
	}

	if err := repo.Delete(a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.ByID(a.ID); !errors.Is(err, ErrFileNotFound) {
		t.Error("file still present after Delete")
	}
}

func TestLinkRepository(t *testing.T) {
	database := newTestDB(t)
	files := NewFileRepository(database)
	links := NewLinkRepository(database)

	f1 := newFile("user-1", model.StatusCompleted)
	f2 := newFile("user-1", model.StatusCompleted)
	for _, f := range []*model.File{f1, f2} {
		if err := files.Create(f); err != nil {
			t.Fatal(err)
		}
	}

	now := time.Now().UTC()
	for i, f := range []*model.File{f2, f1} {
		err := links.Link(&model.FileLink{
			FileID: f.ID, EntityKind: "post", EntityID: "42", Purpose: "gallery",
			DisplayOrder: i, CreatedAt: now,
		})
		if err != nil {
			t.Fatalf("Link: %v", err)
		}
	}

	// relinking updates the order instead of failing
	err := links.Link(&model.FileLink{
		FileID: f2.ID, EntityKind: "post", EntityID: "42", Purpose: "gallery",
		DisplayOrder: 5, CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("relink: %v", err)
	}

	got, err := links.FilesForEntity("post", "42")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != f1.ID || got[1].ID != f2.ID {
		t.Errorf("FilesForEntity order wrong: %v", got)
	}

	n, err := links.CountLinks(f2.ID)
	if err != nil || n != 1 {
		t.Errorf("CountLinks = %d, %v", n, err)
	}

	if err := links.Unlink(f2.ID, "post", "42", "gallery"); err != nil {
		t.Fatal(err)
	}
	if n, _ := links.CountLinks(f2.ID); n != 0 {
		t.Errorf("CountLinks after Unlink = %d", n)
	}

	// deleting the file cascades to its links
	if err := files.Delete(f1.ID); err != nil {
		t.Fatal(err)
	}
	if l, _ := links.LinksForFile(f1.ID); len(l) != 0 {
		t.Errorf("links survived file delete: %d", len(l))
	}

	// links to unknown files are rejected
	err = links.Link(&model.FileLink{FileID: "missing", EntityKind: "post", EntityID: "1", CreatedAt: now})
	if err == nil {
		t.Error("expected foreign key violation")
	}
}

func TestFileRepository_DerivableByStatusSkipsFilesThatStayPending(t *testing.T) {
	repo := NewFileRepository(newTestDB(t))
	base := time.Now().UTC().Add(-time.Hour)

	// older pending files that are never derived would fill a plain oldest-first page
	for i := 0; i < 5; i++ {
		doc := newFile("user-1", model.StatusPending)
		doc.FileKind = model.FileKindDocument
		doc.FilePath = "documents/202601/" + doc.ID + "_report.pdf"
		doc.CreatedAt = base.Add(time.Duration(i) * time.Second)
		svg := newFile("user-1", model.StatusPending)
		svg.FilePath = "images/202601/" + svg.ID + "_logo.SVG"
		svg.CreatedAt = base.Add(time.Duration(i) * time.Second)
		for _, f := range []*model.File{doc, svg} {
			if err := repo.Create(f); err != nil {
				t.Fatal(err)
			}
		}
	}
	img := newFile("user-1", model.StatusPending)
	img.FilePath = "images/202601/" + img.ID + "_photo.JPG"
	if err := repo.Create(img); err != nil {
		t.Fatal(err)
	}

	got, err := repo.DerivableByStatus(model.StatusPending, []string{".jpg", ".png"}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != img.ID {
		t.Fatalf("DerivableByStatus = %d files, want only the image", len(got))
	}

	if none, err := repo.DerivableByStatus(model.StatusPending, nil, 3); err != nil || len(none) != 0 {
		t.Errorf("no extensions = %d files, %v", len(none), err)
	}
}
