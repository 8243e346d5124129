package embedder

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"docsync/internal/contextutil"
)

// Options configures a Dispatcher.
type Options struct {
	BatchSize        int
	MaxSequenceChars int // texts longer than this are truncated (rune-safe)
	Dimension        int // expected vector size; mismatches are errors
	Normalize        bool
	Concurrency      int64   // concurrent backend calls across all workers
	RateLimit        float64 // requests per second, 0 = unlimited
}

// Dispatcher batches texts to the embedding backend. Backend concurrency is
// gated separately from file-worker concurrency: the accelerator is usually
// the scarcer resource, so a weighted semaphore (and optionally a rate
// limiter) throttles calls no matter how many files are in flight.
type Dispatcher struct {
	backend Backend
	opts    Options
	gate    *semaphore.Weighted
	limiter *rate.Limiter
}

// NewDispatcher creates a Dispatcher over the given backend.
func NewDispatcher(backend Backend, opts Options) (*Dispatcher, error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be greater than 0")
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be greater than 0")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	d := &Dispatcher{
		backend: backend,
		opts:    opts,
		gate:    semaphore.NewWeighted(opts.Concurrency),
	}
	if opts.RateLimit > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return d, nil
}

// EmbedTexts embeds all texts in configured-size batches, preserving input
// order. On an out-of-memory signal a batch is halved and each half retried
// once; a second failure fails the call, leaving sibling documents
// unaffected (the caller holds the bulkhead at the file boundary).
func (d *Dispatcher) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	truncated := make([]string, len(texts))
	for i, t := range texts {
		truncated[i] = truncateRunes(t, d.opts.MaxSequenceChars)
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(truncated); start += d.opts.BatchSize {
		end := start + d.opts.BatchSize
		if end > len(truncated) {
			end = len(truncated)
		}

		batch, err := d.embedBatchAdaptive(ctx, truncated[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}

	if d.opts.Normalize {
		for _, v := range vectors {
			l2Normalize(v)
		}
	}
	return vectors, nil
}

// embedBatchAdaptive runs one batch, halving it and retrying once per half
// on an out-of-memory signal.
func (d *Dispatcher) embedBatchAdaptive(ctx context.Context, batch []string) ([][]float32, error) {
	logger := contextutil.LoggerFromContext(ctx)

	vectors, err := d.embedBatch(ctx, batch)
	if err == nil {
		return vectors, nil
	}
	if !errors.Is(err, ErrOutOfMemory) || len(batch) <= 1 {
		return nil, err
	}

	half := len(batch) / 2
	logger.WarnContext(ctx, "embedding backend out of memory, halving batch",
		"batch_size", len(batch), "retry_size", half)

	first, err := d.embedBatch(ctx, batch[:half])
	if err != nil {
		return nil, fmt.Errorf("retry after halving batch: %w", err)
	}
	second, err := d.embedBatch(ctx, batch[half:])
	if err != nil {
		return nil, fmt.Errorf("retry after halving batch: %w", err)
	}
	return append(first, second...), nil
}

// embedBatch performs one gated backend call and validates dimensions.
func (d *Dispatcher) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	if err := d.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer d.gate.Release(1)

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	vectors, err := d.backend.Embed(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(batch) {
		return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(batch), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != d.opts.Dimension {
			return nil, fmt.Errorf("embedding %d has size %d, expected %d", i, len(v), d.opts.Dimension)
		}
	}
	return vectors, nil
}

// truncateRunes cuts s to at most max runes without splitting a character.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// l2Normalize scales v to unit length in place. Zero vectors are left as-is.
func l2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
