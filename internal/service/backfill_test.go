package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/templui/mediapipe/internal/storage"
	"github.com/templui/mediapipe/internal/thumbnail"
)

type slowDeriver struct {
	delay time.Duration
	calls atomic.Int32
}

// Derive ignores ctx on purpose: the resolver must stay bounded anyway.
func (d *slowDeriver) Derive(ctx context.Context, key string, label thumbnail.Label) (thumbnail.Result, error) {
	d.calls.Add(1)
	time.Sleep(d.delay)
	return thumbnail.Result{Label: label, Key: thumbnail.DerivedKey(key, label)}, nil
}

type failingDeriver struct{}

func (failingDeriver) Derive(ctx context.Context, key string, label thumbnail.Label) (thumbnail.Result, error) {
	return thumbnail.Result{}, errors.New("decoder exploded")
}

type recordingScheduler struct {
	mu   sync.Mutex
	jobs []string
	run  func(key string, labels ...thumbnail.Label)
}

func (s *recordingScheduler) ScheduleBackfill(key string, labels ...thumbnail.Label) error {
	s.mu.Lock()
	s.jobs = append(s.jobs, key)
	s.mu.Unlock()
	if s.run != nil {
		s.run(key, labels...)
	}
	return nil
}

func (s *recordingScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// hangingStore answers Exists only once ctx is done.
type hangingStore struct {
	*storage.LocalStore
}

func (s hangingStore) Exists(ctx context.Context, key string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func newResolverStore(t *testing.T) *storage.LocalStore {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir(), "/uploads")
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestBackfill_FastPathWhenArtifactExists(t *testing.T) {
	store := newResolverStore(t)
	ctx := context.Background()
	key := "images/202601/a.jpg"
	if err := store.Put(ctx, thumbnail.DerivedKey(key, thumbnail.LabelThumb), []byte("thumb")); err != nil {
		t.Fatal(err)
	}

	deriver := &slowDeriver{}
	sched := &recordingScheduler{}
	r := NewBackfillResolver(store, store, deriver, sched, BackfillConfig{Timeout: time.Second, CacheSize: 8, CacheTTL: time.Minute}, nil)

	for i := 0; i < 2; i++ {
		res := r.Resolve(ctx, key, thumbnail.LabelThumb)
		if res.Outcome != OutcomeHit || res.URL != "/uploads/images/202601/a_thumb.jpg" {
			t.Errorf("resolution #%d = %+v", i, res)
		}
	}
	if deriver.calls.Load() != 0 || sched.count() != 0 {
		t.Error("fast path must not derive or schedule")
	}
}

func TestBackfill_SynchronousDerivation(t *testing.T) {
	store := newResolverStore(t)
	ctx := context.Background()
	key := "images/202601/wide.jpg"
	if err := store.Put(ctx, key, jpegBytes(t, 2000, 1000)); err != nil {
		t.Fatal(err)
	}

	sched := &recordingScheduler{}
	engine := thumbnail.NewEngine(store, store, nil)
	r := NewBackfillResolver(store, store, engine, sched, BackfillConfig{Timeout: 10 * time.Second}, nil)

	res := r.Resolve(ctx, key, thumbnail.LabelCard)
	if res.Outcome != OutcomeDerived {
		t.Fatalf("outcome = %s, want derived", res.Outcome)
	}
	if res.URL != "/uploads/images/202601/wide_card.jpg" {
		t.Errorf("url = %q", res.URL)
	}
	if w, h := imageSize(t, store, res.Key); w != 800 || h != 400 {
		t.Errorf("card = %dx%d, want 800x400", w, h)
	}
	if sched.count() != 0 {
		t.Error("successful backfill must not schedule")
	}

	// now present on disk
	if again := r.Resolve(ctx, key, thumbnail.LabelCard); again.Outcome != OutcomeHit {
		t.Errorf("second outcome = %s, want hit", again.Outcome)
	}
}

func TestBackfill_TimeoutServesOriginalWithinBound(t *testing.T) {
	store := newResolverStore(t)
	ctx := context.Background()
	key := "images/202601/wide.jpg"
	if err := store.Put(ctx, key, jpegBytes(t, 2000, 1000)); err != nil {
		t.Fatal(err)
	}

	// background completion uses the real engine
	engine := thumbnail.NewEngine(store, store, nil)
	done := make(chan struct{})
	sched := &recordingScheduler{run: func(k string, labels ...thumbnail.Label) {
		go func() {
			defer close(done)
			for _, l := range labels {
				_, _ = engine.Derive(context.Background(), k, l)
			}
		}()
	}}

	const timeout = 200 * time.Millisecond
	slow := &slowDeriver{delay: 2 * time.Second}
	r := NewBackfillResolver(store, store, slow, sched, BackfillConfig{Timeout: timeout, CacheSize: 8, CacheTTL: time.Minute}, nil)

	start := time.Now()
	res := r.Resolve(ctx, key, thumbnail.LabelCard)
	elapsed := time.Since(start)

	if res.Outcome != OutcomeDegraded || !res.Degraded() {
		t.Fatalf("outcome = %s, want degraded", res.Outcome)
	}
	if res.URL != "/uploads/images/202601/wide.jpg" {
		t.Errorf("degraded url = %q, want original", res.URL)
	}
	if elapsed > timeout+300*time.Millisecond {
		t.Errorf("resolve took %v with a %v timeout", elapsed, timeout)
	}
	if sched.count() != 1 {
		t.Errorf("scheduled %d background jobs, want 1", sched.count())
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("background derivation did not finish")
	}

	after := r.Resolve(ctx, key, thumbnail.LabelCard)
	if after.Outcome != OutcomeHit {
		t.Fatalf("after background completion outcome = %s, want hit", after.Outcome)
	}
	if w, h := imageSize(t, store, after.Key); w != 800 || h != 400 {
		t.Errorf("card = %dx%d, want 800x400", w, h)
	}
}

func TestBackfill_ErrorDegrades(t *testing.T) {
	store := newResolverStore(t)
	sched := &recordingScheduler{}
	r := NewBackfillResolver(store, store, failingDeriver{}, sched, BackfillConfig{Timeout: time.Second}, nil)

	res := r.Resolve(context.Background(), "images/x/a.png", thumbnail.LabelLarge)
	if res.Outcome != OutcomeDegraded || res.URL != "/uploads/images/x/a.png" {
		t.Errorf("resolution = %+v", res)
	}
	if sched.count() != 1 {
		t.Errorf("scheduled %d jobs, want 1", sched.count())
	}
}

func TestBackfill_ConcurrentCallersShareOneAttempt(t *testing.T) {
	store := newResolverStore(t)
	slow := &slowDeriver{delay: 100 * time.Millisecond}
	r := NewBackfillResolver(store, store, slow, &recordingScheduler{}, BackfillConfig{Timeout: 5 * time.Second, CacheSize: 8, CacheTTL: time.Minute}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// late arrivals are answered from the existence cache
			if res := r.Resolve(context.Background(), "images/x/a.jpg", thumbnail.LabelThumb); res.Degraded() {
				t.Errorf("outcome = %s", res.Outcome)
			}
		}()
	}
	wg.Wait()

	if n := slow.calls.Load(); n != 1 {
		t.Errorf("derive called %d times, want 1", n)
	}
}

func TestBackfill_NonRasterServesOriginal(t *testing.T) {
	store := newResolverStore(t)
	r := NewBackfillResolver(store, store, failingDeriver{}, &recordingScheduler{}, BackfillConfig{Timeout: time.Second}, nil)

	res := r.Resolve(context.Background(), "images/x/logo.svg", thumbnail.LabelThumb)
	if res.Outcome != OutcomeOriginal || res.URL != "/uploads/images/x/logo.svg" {
		t.Errorf("resolution = %+v", res)
	}
	if res.Key != "images/x/logo.svg" {
		t.Errorf("key = %q", res.Key)
	}
}

func TestBackfill_SlowExistenceCheckCountsAgainstTimeout(t *testing.T) {
	store := newResolverStore(t)
	ctx := context.Background()
	key := "images/202601/wide.jpg"

	const timeout = 200 * time.Millisecond
	deriver := &slowDeriver{}
	sched := &recordingScheduler{}
	r := NewBackfillResolver(store, hangingStore{store}, deriver, sched, BackfillConfig{Timeout: timeout}, nil)

	start := time.Now()
	res := r.Resolve(ctx, key, thumbnail.LabelThumb)
	elapsed := time.Since(start)

	if res.Outcome != OutcomeDegraded {
		t.Fatalf("outcome = %s, want degraded", res.Outcome)
	}
	if res.URL != "/uploads/images/202601/wide.jpg" {
		t.Errorf("url = %q, want original", res.URL)
	}
	if elapsed > timeout+300*time.Millisecond {
		t.Errorf("resolve took %v with a %v timeout", elapsed, timeout)
	}
	if deriver.calls.Load() != 0 {
		t.Error("no derivation should start once the timeout is spent")
	}
	if sched.count() != 1 {
		t.Errorf("scheduled %d background jobs, want 1", sched.count())
	}
}
