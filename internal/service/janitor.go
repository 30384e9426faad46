package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/templui/mediapipe/internal/chunksession"
)

// Janitor removes chunk sessions and partial files that were abandoned for
// longer than ttl.
type Janitor struct {
	sessions chunksession.Store
	partsDir string
	ttl      time.Duration
	cron     *cron.Cron
	now      func() time.Time
}

func NewJanitor(sessions chunksession.Store, partsDir string, ttl time.Duration) *Janitor {
	return &Janitor{
		sessions: sessions,
		partsDir: partsDir,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Start runs the cleanup on schedule (standard cron spec or @every).
func (j *Janitor) Start(schedule string) error {
	j.cron = cron.New()
	_, err := j.cron.AddFunc(schedule, func() {
		if _, err := j.Run(context.Background()); err != nil {
			slog.Error("chunk cleanup failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	j.cron.Start()
	slog.Info("chunk cleanup scheduled", "schedule", schedule, "ttl", j.ttl)
	return nil
}

// Stop waits for a running cleanup to finish.
func (j *Janitor) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

// Run removes stale sessions with their part files, then part files no
// session refers to. It returns the number of removed sessions and files.
func (j *Janitor) Run(ctx context.Context) (int, error) {
	cutoff := j.now().Add(-j.ttl)
	removed := 0

	sessions, err := j.sessions.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list chunk sessions: %w", err)
	}

	live := make(map[string]bool, len(sessions))
	for _, sess := range sessions {
		if sess.UpdatedAt.After(cutoff) {
			live[filepath.Base(sess.PartPath)] = true
			continue
		}
		if err := os.Remove(sess.PartPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to remove partial upload", "path", sess.PartPath, "error", err)
		}
		if err := j.sessions.Delete(ctx, sess.ID); err != nil {
			slog.Warn("failed to delete chunk session", "temp_file_id", sess.ID, "error", err)
			continue
		}
		removed++
	}

	entries, err := os.ReadDir(j.partsDir)
	if err != nil {
		return removed, fmt.Errorf("read parts dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".part") || live[e.Name()] {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.partsDir, e.Name())); err == nil {
			removed++
		}
	}

	if removed > 0 {
		slog.Info("removed stale chunk uploads", "count", removed)
	}
	return removed, nil
}
