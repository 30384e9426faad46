package service

import (
	"context"
	"log/slog"
	"path"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/templui/mediapipe/internal/metrics"
	"github.com/templui/mediapipe/internal/storage"
	"github.com/templui/mediapipe/internal/thumbnail"
)

// Backfill outcomes
const (
	OutcomeHit      = "hit"      // derivative already existed
	OutcomeDerived  = "derived"  // produced within the timeout
	OutcomeDegraded = "degraded" // original served, derivation queued
	OutcomeOriginal = "original" // format has no derivatives
)

// Deriver produces one derivative of an original.
type Deriver interface {
	Derive(ctx context.Context, originalKey string, label thumbnail.Label) (thumbnail.Result, error)
}

// BackfillScheduler queues derivation that no caller waits for.
type BackfillScheduler interface {
	ScheduleBackfill(originalKey string, labels ...thumbnail.Label) error
}

// Resolution is the URL a reader should use for one (original, label) pair.
type Resolution struct {
	URL     string
	Key     string
	Label   thumbnail.Label
	Outcome string
}

// Degraded reports whether the original is served in place of the derivative.
func (r Resolution) Degraded() bool {
	return r.Outcome == OutcomeDegraded || r.Outcome == OutcomeOriginal
}

// BackfillResolver serves derivatives on demand. A missing derivative is
// produced synchronously when that fits in the timeout; otherwise the caller
// gets the original and the derivative is queued for later.
type BackfillResolver struct {
	originals storage.Store
	artifacts storage.Store
	deriver   Deriver
	scheduler BackfillScheduler
	timeout   time.Duration
	cache     *expirable.LRU[string, struct{}]
	group     singleflight.Group
	log       *slog.Logger
}

type BackfillConfig struct {
	Timeout   time.Duration
	CacheSize int // 0 disables the existence cache
	CacheTTL  time.Duration
}

func NewBackfillResolver(originals, artifacts storage.Store, deriver Deriver, scheduler BackfillScheduler, cfg BackfillConfig, log *slog.Logger) *BackfillResolver {
	if log == nil {
		log = slog.Default()
	}
	r := &BackfillResolver{
		originals: originals,
		artifacts: artifacts,
		deriver:   deriver,
		scheduler: scheduler,
		timeout:   cfg.Timeout,
		log:       log,
	}
	if cfg.CacheSize > 0 {
		r.cache = expirable.NewLRU[string, struct{}](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return r
}

// Resolve returns the URL to serve for label of originalKey. It never fails
// because of derivation: errors and timeouts degrade to the original's URL.
func (r *BackfillResolver) Resolve(ctx context.Context, originalKey string, label thumbnail.Label) Resolution {
	if !thumbnail.Derivable(path.Ext(originalKey)) {
		return r.record(Resolution{URL: r.originals.URL(originalKey), Key: originalKey, Label: label, Outcome: OutcomeOriginal})
	}

	key := thumbnail.DerivedKey(originalKey, label)
	hit := Resolution{URL: r.artifacts.URL(key), Key: key, Label: label, Outcome: OutcomeHit}

	if r.cached(key) {
		return r.record(hit)
	}

	// the existence check and the derivation attempt share one timeout
	deadline := time.Now().Add(r.timeout)
	ectx, cancel := context.WithDeadline(ctx, deadline)
	ok, err := r.artifacts.Exists(ectx, key)
	cancel()
	if err != nil {
		r.log.Warn("artifact existence check failed", "key", key, "error", err)
	}
	if ok {
		r.remember(key)
		return r.record(hit)
	}

	if time.Now().Before(deadline) && r.attempt(ctx, originalKey, label, deadline) {
		r.remember(key)
		hit.Outcome = OutcomeDerived
		return r.record(hit)
	}

	_ = r.scheduler.ScheduleBackfill(originalKey, label)
	return r.record(Resolution{URL: r.originals.URL(originalKey), Key: originalKey, Label: label, Outcome: OutcomeDegraded})
}

// attempt races one shared derivation against the deadline. Concurrent callers
// for the same derivative wait on the same attempt, which is cancelled at the
// deadline and handed over to the background scheduler.
func (r *BackfillResolver) attempt(ctx context.Context, originalKey string, label thumbnail.Label, deadline time.Time) bool {
	key := thumbnail.DerivedKey(originalKey, label)

	ch := r.group.DoChan(key, func() (any, error) {
		// shared by every waiter, so one client going away must not cancel it
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		res, err := r.deriver.Derive(actx, originalKey, label)
		if err == nil {
			r.remember(key)
		}
		return res, err
	})

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			r.log.Warn("backfill derivation failed", "key", originalKey, "label", label, "error", res.Err)
			return false
		}
		return true
	case <-timer.C:
		r.log.Info("backfill derivation timed out", "key", originalKey, "label", label, "timeout", r.timeout)
		return false
	case <-ctx.Done():
		return false
	}
}

func (r *BackfillResolver) cached(key string) bool {
	if r.cache == nil {
		return false
	}
	_, ok := r.cache.Get(key)
	return ok
}

func (r *BackfillResolver) remember(key string) {
	if r.cache != nil {
		r.cache.Add(key, struct{}{})
	}
}

// Forget drops key from the existence cache after its artifact was deleted.
func (r *BackfillResolver) Forget(key string) {
	if r.cache != nil {
		r.cache.Remove(key)
	}
}

func (r *BackfillResolver) record(res Resolution) Resolution {
	metrics.BackfillTotal.WithLabelValues(res.Outcome).Inc()
	return res
}
