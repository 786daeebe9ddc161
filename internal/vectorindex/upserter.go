package vectorindex

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize   = 100
	DefaultConcurrency = 5
	DefaultMaxAttempts = 3
)

// Upserter writes records in batches with bounded concurrency and retries
// batches that fail with a retryable error. Batches may finish out of order.
type Upserter struct {
	index       Index
	batchSize   int
	concurrency int
	maxAttempts int
	backoff     time.Duration
}

type UpserterOption func(*Upserter)

func WithBatchSize(n int) UpserterOption {
	return func(u *Upserter) {
		if n > 0 {
			u.batchSize = n
		}
	}
}

func WithConcurrency(n int) UpserterOption {
	return func(u *Upserter) {
		if n > 0 {
			u.concurrency = n
		}
	}
}

func WithMaxAttempts(n int) UpserterOption {
	return func(u *Upserter) {
		if n > 0 {
			u.maxAttempts = n
		}
	}
}

func WithBackoff(d time.Duration) UpserterOption {
	return func(u *Upserter) {
		if d >= 0 {
			u.backoff = d
		}
	}
}

func NewUpserter(index Index, opts ...UpserterOption) *Upserter {
	u := &Upserter{
		index:       index,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		maxAttempts: DefaultMaxAttempts,
		backoff:     500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upsert returns the first batch error; remaining batches are cancelled.
func (u *Upserter) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)
	for start := 0; start < len(records); start += u.batchSize {
		end := start + u.batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]
		g.Go(func() error {
			return u.upsertBatch(gctx, batch)
		})
	}
	return g.Wait()
}

func (u *Upserter) upsertBatch(ctx context.Context, batch []Record) error {
	var err error
	for attempt := 1; attempt <= u.maxAttempts; attempt++ {
		err = u.index.Upsert(ctx, batch)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt == u.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * u.backoff):
		}
	}
	return fmt.Errorf("upsert batch of %d records failed: %w", len(batch), err)
}
