package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrSkipped marks items that never started because the batch was aborted
// or the context was done before a worker picked them up.
var ErrSkipped = errors.New("item skipped")

// Pool bounds the number of OCR workers running across all requests. It is
// created once at startup and shared.
type Pool struct {
	sem      *semaphore.Weighted
	capacity int
	inUse    atomic.Int64
}

func NewPool(capacity int) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(capacity)), capacity: capacity}
}

func (p *Pool) Capacity() int { return p.capacity }

// InUse returns the number of worker slots currently leased.
func (p *Pool) InUse() int { return int(p.inUse.Load()) }

// Lease is a reservation of worker slots. Release is idempotent.
type Lease struct {
	pool *Pool
	n    int
	once sync.Once
}

func (l *Lease) Workers() int { return l.n }

func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.inUse.Add(-int64(l.n))
		l.pool.sem.Release(int64(l.n))
	})
}

// Acquire blocks until n slots are free or ctx is done. n is clamped to
// [1, Capacity].
func (p *Pool) Acquire(ctx context.Context, n int) (*Lease, error) {
	n = max(1, min(n, p.capacity))
	if err := p.sem.Acquire(ctx, int64(n)); err != nil {
		return nil, fmt.Errorf("acquire %d workers: %w", n, err)
	}
	p.inUse.Add(int64(n))
	return &Lease{pool: p, n: n}, nil
}

// Func processes item i. It must honour ctx cancellation.
type Func func(ctx context.Context, i int) error

// Results holds one error slot per item, in input order. Cause is the index
// of the item whose failure aborted a fail-fast run, or -1 when nothing
// aborted it. Errors of siblings that were running when the run was aborted
// are whatever fn returned after cancellation and say nothing about the item.
type Results struct {
	Errs  []error
	Cause int
}

// Run executes fn for each of n items using strategy s. With failFast set,
// the first failing item cancels the context seen by in-flight siblings and
// items that have not started are marked ErrSkipped. The returned error is
// non-nil only when worker slots could not be acquired.
func (p *Pool) Run(ctx context.Context, n int, s Strategy, failFast bool, fn Func) (Results, error) {
	res := Results{Errs: make([]error, n), Cause: -1}
	if n == 0 {
		return res, nil
	}

	if s.Mode == Serial || s.Workers <= 1 {
		for i := 0; i < n; i++ {
			if res.Cause >= 0 {
				res.Errs[i] = ErrSkipped
				continue
			}
			if err := ctx.Err(); err != nil {
				res.Errs[i] = fmt.Errorf("%w: %w", ErrSkipped, err)
				continue
			}
			res.Errs[i] = fn(ctx, i)
			if failFast && res.Errs[i] != nil {
				res.Cause = i
			}
		}
		return res, nil
	}

	lease, err := p.Acquire(ctx, s.Workers)
	if err != nil {
		return Results{Cause: -1}, err
	}
	defer lease.Release()

	// The cause is claimed before the error reaches the group, so it always
	// precedes the cancellation observed by siblings.
	var cause atomic.Int64
	cause.Store(-1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lease.Workers())
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				res.Errs[i] = fmt.Errorf("%w: %w", ErrSkipped, err)
				return nil
			}
			res.Errs[i] = fn(gctx, i)
			if res.Errs[i] != nil && failFast {
				cause.CompareAndSwap(-1, int64(i))
				return res.Errs[i]
			}
			return nil
		})
	}
	_ = g.Wait()
	res.Cause = int(cause.Load())
	return res, nil
}
