package kube

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// DefaultPoolSize is the number of Kubernetes API calls allowed in flight at once
// when no explicit size is configured.
const DefaultPoolSize = 16

// Pool bounds the number of concurrent Kubernetes API calls made on behalf of all
// reconciliations. A stalled call holds one slot; it never blocks unrelated
// reconciliations as long as slots remain.
//
// A nil *Pool runs calls without a bound.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool returns a Pool allowing size concurrent calls. Non-positive sizes fall back to
// DefaultPoolSize.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Do runs fn once a slot is free. Waiting for a slot honors ctx.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if p == nil {
		return fn(ctx)
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}
