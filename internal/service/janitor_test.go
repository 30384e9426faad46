package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/templui/mediapipe/internal/chunksession"
)

func TestJanitor_RemovesStaleUploads(t *testing.T) {
	dir := t.TempDir()
	partsDir := filepath.Join(dir, "parts")
	if err := os.MkdirAll(partsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	sessions, err := chunksession.NewFileStore(filepath.Join(dir, "sessions"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	now := time.Now()

	write := func(name string, age time.Duration) string {
		p := filepath.Join(partsDir, name)
		if err := os.WriteFile(p, []byte("partial"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(p, now.Add(-age), now.Add(-age)); err != nil {
			t.Fatal(err)
		}
		return p
	}

	stale := &chunksession.Session{ID: "stale", PartPath: write("stale.part", 48*time.Hour), UpdatedAt: now.Add(-48 * time.Hour)}
	fresh := &chunksession.Session{ID: "fresh", PartPath: write("fresh.part", 48*time.Hour), UpdatedAt: now.Add(-time.Minute)}
	for _, s := range []*chunksession.Session{stale, fresh} {
		if err := sessions.Save(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	orphan := write("orphan.part", 48*time.Hour)
	young := write("young.part", time.Minute)

	j := NewJanitor(sessions, partsDir, 24*time.Hour)
	removed, err := j.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	for _, p := range []string{stale.PartPath, orphan} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s should be removed", filepath.Base(p))
		}
	}
	// an active session keeps its part file even when the file itself is old
	for _, p := range []string{fresh.PartPath, young} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s should be kept: %v", filepath.Base(p), err)
		}
	}
	if _, err := sessions.Get(ctx, "stale"); err == nil {
		t.Error("stale session not deleted")
	}
	if _, err := sessions.Get(ctx, "fresh"); err != nil {
		t.Errorf("fresh session deleted: %v", err)
	}
}

func TestJanitor_StartRejectsBadSchedule(t *testing.T) {
	sessions, err := chunksession.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	j := NewJanitor(sessions, t.TempDir(), time.Hour)
	if err := j.Start("not a schedule"); err == nil {
		t.Error("expected error")
	}
	if err := j.Start("@every 1h"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	j.Stop()
}
