// Package pool provides the bounded fan-out/fan-in worker pool used for
// per-node operations within a phase. Results are written once per slot by
// the owning worker, so callers aggregate after Wait without extra locking.
package pool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// MaxWorkers caps the pool size regardless of node count to avoid
// exhausting the driving machine.
const MaxWorkers = 16

// Limit resolves a worker limit for n tasks: the requested limit if
// positive, otherwise n, in both cases capped at MaxWorkers.
func Limit(n, limit int) int {
	if limit <= 0 {
		limit = n
	}
	if limit > MaxWorkers {
		limit = MaxWorkers
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// Run executes fn for each index in [0,n) with at most limit workers in
// flight and returns the per-index errors. A failing task never aborts its
// siblings; ctx cancellation stops scheduling of not-yet-started tasks.
func Run(ctx context.Context, n, limit int, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	g := &errgroup.Group{}
	g.SetLimit(Limit(n, limit))
	for i := 0; i < n; i++ {
		i := i
		if ctx.Err() != nil {
			errs[i] = ctx.Err()
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
