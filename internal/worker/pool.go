// Package worker implements the bounded pool that runs derivation jobs off the
// request path.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/templui/mediapipe/internal/metrics"
	"github.com/templui/mediapipe/internal/thumbnail"
)

var (
	ErrQueueFull  = errors.New("derivation queue is full")
	ErrPoolClosed = errors.New("worker pool is shut down")
)

// Job asks for the derivatives of one original.
type Job struct {
	FileID      string // empty for backfill jobs that have no record to update
	OriginalKey string
	Labels      []thumbnail.Label
	// Track marks jobs whose outcome must be written back to the file record.
	Track bool
}

// Result holds the outcome of one job. Err is set when the original could not
// be loaded or decoded; per-label failures live in Derivatives.
type Result struct {
	Job         Job
	Derivatives []thumbnail.Result
	Err         error
	Latency     time.Duration
}

// Failed reports whether any part of the job failed.
func (r Result) Failed() bool {
	if r.Err != nil {
		return true
	}
	for _, d := range r.Derivatives {
		if d.Err != nil {
			return true
		}
	}
	return false
}

// DeriveFunc does the work for one job.
type DeriveFunc func(ctx context.Context, job Job) ([]thumbnail.Result, error)

// Pool runs a fixed number of workers over a bounded queue and emits one
// Result per accepted job.
type Pool struct {
	workers    int
	jobs       chan Job
	results    chan Result
	derive     DeriveFunc
	jobTimeout time.Duration
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *slog.Logger

	mu     sync.RWMutex
	closed bool
}

type Options struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration // 0 = jobs run to completion
}

// NewPool creates a pool. Call Start to launch the goroutines.
func NewPool(opts Options, derive DeriveFunc, logger *slog.Logger) *Pool {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = opts.Workers * 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers:    opts.Workers,
		jobs:       make(chan Job, opts.QueueSize),
		results:    make(chan Result, opts.QueueSize),
		derive:     derive,
		jobTimeout: opts.JobTimeout,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// TrySubmit enqueues job without blocking. It returns ErrQueueFull when the
// queue is at capacity and ErrPoolClosed after Shutdown.
func (p *Pool) TrySubmit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.jobs <- job:
		metrics.QueueDepth.Set(float64(len(p.jobs)))
		return nil
	default:
		metrics.QueueRejectedTotal.Inc()
		return ErrQueueFull
	}
}

// Results returns the read-only results channel. It is closed by Shutdown
// once every accepted job has produced its Result.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Shutdown stops accepting jobs and waits for queued ones to finish. When ctx
// expires first, in-flight jobs are cancelled and Shutdown returns ctx's error
// after the workers exit.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("worker pool drain timed out, cancelling in-flight jobs")
		p.cancel()
		<-done
		err = ctx.Err()
	}

	p.cancel()
	close(p.results)
	return err
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		metrics.QueueDepth.Set(float64(len(p.jobs)))
		p.results <- p.process(id, job)
	}
}

func (p *Pool) process(workerID int, job Job) Result {
	ctx := p.ctx
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	if err := ctx.Err(); err != nil {
		return Result{Job: job, Err: fmt.Errorf("job cancelled before processing: %w", err)}
	}

	start := time.Now()
	derivatives, err := p.safeDerive(ctx, job)
	res := Result{Job: job, Derivatives: derivatives, Err: err, Latency: time.Since(start)}

	if res.Failed() {
		p.logger.Warn("derivation job failed",
			slog.Int("worker_id", workerID),
			slog.String("file_id", job.FileID),
			slog.String("key", job.OriginalKey),
			slog.Duration("latency", res.Latency),
		)
	} else {
		p.logger.Debug("derivation job completed",
			slog.Int("worker_id", workerID),
			slog.String("file_id", job.FileID),
			slog.String("key", job.OriginalKey),
			slog.Duration("latency", res.Latency),
		)
	}
	return res
}

// safeDerive turns a panic in the image stack into a job error.
func (p *Pool) safeDerive(ctx context.Context, job Job) (results []thumbnail.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("derivation panicked: %v", r)
		}
	}()
	return p.derive(ctx, job)
}
