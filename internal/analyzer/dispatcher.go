package analyzer

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// runBounded executes tasks with at most limit in flight at once and waits
// for all of them. Tasks are expected to absorb their own soft failures; a
// returned error is a run-level fault and cancels the remaining tasks.
func runBounded(ctx context.Context, limit int, tasks []func(context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, task := range tasks {
		task := task
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return task(ctx)
		})
	}

	return g.Wait()
}
