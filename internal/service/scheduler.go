package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/templui/mediapipe/internal/model"
	"github.com/templui/mediapipe/internal/repository"
	"github.com/templui/mediapipe/internal/thumbnail"
	"github.com/templui/mediapipe/internal/worker"
)

// DerivationScheduler runs derivation outside the request that asked for it
// and writes the outcome back to the file record.
type DerivationScheduler struct {
	pool     *worker.Pool
	fileRepo repository.FileRepository
	log      *slog.Logger
	done     chan struct{}
}

func NewDerivationScheduler(engine *thumbnail.Engine, fileRepo repository.FileRepository, opts worker.Options, log *slog.Logger) *DerivationScheduler {
	if log == nil {
		log = slog.Default()
	}
	derive := func(ctx context.Context, job worker.Job) ([]thumbnail.Result, error) {
		return engine.DeriveAll(ctx, job.OriginalKey, job.Labels)
	}
	return &DerivationScheduler{
		pool:     worker.NewPool(opts, derive, log),
		fileRepo: fileRepo,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start launches the workers and the result consumer.
func (s *DerivationScheduler) Start() {
	s.pool.Start()
	go s.consume()
}

// Schedule moves a freshly ingested image to processing and queues all of its
// derivatives. Files that cannot be derived are left untouched.
func (s *DerivationScheduler) Schedule(file *model.File) error {
	if !file.IsImage() || !thumbnail.Derivable(path.Ext(file.FilePath)) {
		return nil
	}

	if err := s.fileRepo.UpdateStatus(file.ID, model.StatusProcessing); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	file.ProcessingStatus = model.StatusProcessing

	return s.submitTracked(file)
}

// Rederive queues a manual re-derivation. The record keeps its current status
// until the job finishes.
func (s *DerivationScheduler) Rederive(file *model.File) error {
	if !file.IsImage() || !thumbnail.Derivable(path.Ext(file.FilePath)) {
		return fmt.Errorf("%s: format cannot be derived", file.FilePath)
	}
	return s.submitTracked(file)
}

func (s *DerivationScheduler) submitTracked(file *model.File) error {
	err := s.pool.TrySubmit(worker.Job{
		FileID:      file.ID,
		OriginalKey: file.FilePath,
		Labels:      thumbnail.Labels,
		Track:       true,
	})
	if err == nil {
		return nil
	}

	s.log.Error("derivation not scheduled", "file_id", file.ID, "error", err)
	if uerr := s.fileRepo.UpdateStatus(file.ID, model.StatusFailed); uerr != nil && !errors.Is(uerr, repository.ErrInvalidTransition) {
		s.log.Error("failed to mark file failed", "file_id", file.ID, "error", uerr)
	} else if uerr == nil {
		file.ProcessingStatus = model.StatusFailed
	}
	return err
}

// ScheduleBackfill queues derivatives for an original without touching its
// record. A full queue drops the job; the next read will try again.
func (s *DerivationScheduler) ScheduleBackfill(originalKey string, labels ...thumbnail.Label) error {
	err := s.pool.TrySubmit(worker.Job{OriginalKey: originalKey, Labels: labels})
	if err != nil {
		s.log.Warn("backfill not scheduled", "key", originalKey, "error", err)
	}
	return err
}

// Recover requeues images left in pending or processing by a previous run.
func (s *DerivationScheduler) Recover(limit int) {
	for _, status := range []model.ProcessingStatus{model.StatusProcessing, model.StatusPending} {
		n, err := s.Requeue(status, limit)
		if n > 0 {
			s.log.Info("requeued unfinished derivations", "status", status, "count", n)
		}
		if errors.Is(err, worker.ErrQueueFull) || errors.Is(err, worker.ErrPoolClosed) {
			return
		}
		if err != nil {
			s.log.Error("failed to requeue derivations", "status", status, "error", err)
		}
	}
}

// Requeue queues up to limit derivable images in status and returns how many
// were queued. It stops at the first full queue.
func (s *DerivationScheduler) Requeue(status model.ProcessingStatus, limit int) (int, error) {
	files, err := s.fileRepo.DerivableByStatus(status, thumbnail.DerivableExtensions(), limit)
	if err != nil {
		return 0, fmt.Errorf("list %s files: %w", status, err)
	}

	queued := 0
	for _, f := range files {
		if !f.IsImage() || !thumbnail.Derivable(path.Ext(f.FilePath)) {
			continue
		}
		switch status {
		case model.StatusPending:
			err = s.Schedule(f)
		case model.StatusProcessing:
			err = s.submitTracked(f)
		default:
			err = s.Rederive(f)
		}
		if errors.Is(err, worker.ErrQueueFull) || errors.Is(err, worker.ErrPoolClosed) {
			return queued, err
		}
		if err != nil {
			s.log.Error("failed to requeue derivation", "file_id", f.ID, "error", err)
			continue
		}
		queued++
	}
	return queued, nil
}

// Shutdown stops accepting work and waits for queued jobs and their status
// updates, or for ctx to expire.
func (s *DerivationScheduler) Shutdown(ctx context.Context) error {
	err := s.pool.Shutdown(ctx)
	<-s.done
	return err
}

func (s *DerivationScheduler) consume() {
	defer close(s.done)
	for res := range s.pool.Results() {
		s.record(res)
	}
}

func (s *DerivationScheduler) record(res worker.Result) {
	if res.Err != nil {
		s.log.Error("derivation failed",
			"file_id", res.Job.FileID,
			"key", res.Job.OriginalKey,
			"error", res.Err,
		)
	}
	written := 0
	for _, d := range res.Derivatives {
		if d.Err != nil {
			s.log.Error("derivative failed",
				"file_id", res.Job.FileID,
				"key", res.Job.OriginalKey,
				"label", d.Label,
				"error", d.Err,
			)
			continue
		}
		written++
	}

	if !res.Job.Track {
		return
	}

	if written > 0 {
		if err := s.fileRepo.SetHasDerivatives(res.Job.FileID, true); err != nil {
			s.log.Error("failed to flag derivatives", "file_id", res.Job.FileID, "error", err)
		}
	}

	next := model.StatusCompleted
	if res.Failed() {
		next = model.StatusFailed
	}
	err := s.fileRepo.UpdateStatus(res.Job.FileID, next)
	switch {
	case err == nil:
		s.log.Info("derivation finished",
			"file_id", res.Job.FileID,
			"status", next,
			"derivatives", written,
			"latency", res.Latency,
		)
	case errors.Is(err, repository.ErrInvalidTransition):
		// a repeated failure of a manual re-derivation leaves the record failed
		s.log.Debug("status unchanged", "file_id", res.Job.FileID, "error", err)
	default:
		s.log.Error("failed to record derivation status", "file_id", res.Job.FileID, "error", err)
	}
}
