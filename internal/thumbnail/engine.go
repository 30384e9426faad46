package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"path"
	"time"

	"github.com/templui/mediapipe/internal/metrics"
	"github.com/templui/mediapipe/internal/storage"
)

// Result describes one derivative produced (or not) by the engine.
type Result struct {
	Label  Label
	Key    string
	Width  int
	Height int
	Err    error
}

// Engine reads originals from one store and writes derivatives to another.
// Output keys are a pure function of the input key, so concurrent or repeated
// runs for the same original overwrite each other with equivalent results.
type Engine struct {
	originals storage.Store
	artifacts storage.Store
	log       *slog.Logger
}

func NewEngine(originals, artifacts storage.Store, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{originals: originals, artifacts: artifacts, log: log}
}

// Derive produces a single derivative and returns its key.
func (e *Engine) Derive(ctx context.Context, originalKey string, label Label) (Result, error) {
	results, err := e.DeriveAll(ctx, originalKey, []Label{label})
	if err != nil {
		return Result{Label: label}, err
	}
	return results[0], results[0].Err
}

// DeriveAll decodes the original once and writes one derivative per label.
// A load or decode failure is returned as err; per-label failures are reported
// in the matching Result and do not stop the remaining labels.
func (e *Engine) DeriveAll(ctx context.Context, originalKey string, labels []Label) ([]Result, error) {
	if !Derivable(path.Ext(originalKey)) {
		return nil, fmt.Errorf("%s: format cannot be derived", originalKey)
	}

	data, err := e.originals.Get(ctx, originalKey)
	if err != nil {
		return nil, fmt.Errorf("load original: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := Decode(data)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(labels))
	for _, label := range labels {
		results = append(results, e.derive(ctx, src, originalKey, label))
	}
	return results, nil
}

func (e *Engine) derive(ctx context.Context, src image.Image, originalKey string, label Label) Result {
	start := time.Now()
	res := Result{Label: label, Key: DerivedKey(originalKey, label)}

	defer func() {
		outcome := "ok"
		if res.Err != nil {
			outcome = "error"
		}
		metrics.DerivationsTotal.WithLabelValues(string(label), outcome).Inc()
		metrics.DerivationDuration.WithLabelValues(string(label)).Observe(time.Since(start).Seconds())
	}()

	size := label.Size()
	if size.Width == 0 {
		res.Err = fmt.Errorf("unknown size label %q", label)
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	dst := Resize(src, size)
	res.Width, res.Height = dst.Bounds().Dx(), dst.Bounds().Dy()

	var buf bytes.Buffer
	if err := Encode(&buf, dst, path.Ext(originalKey)); err != nil {
		res.Err = fmt.Errorf("encode %s: %w", label, err)
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	if err := e.artifacts.Put(ctx, res.Key, buf.Bytes()); err != nil {
		res.Err = fmt.Errorf("store %s: %w", label, err)
		return res
	}

	e.log.Debug("derivative written",
		"key", res.Key,
		"label", label,
		"width", res.Width,
		"height", res.Height,
	)
	return res
}
