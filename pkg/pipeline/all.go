package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Job is one independent pipeline run.
type Job struct {
	Pipeline *Pipeline
	Options  RunOptions
}

// RunAll executes jobs concurrently, at most limit at a time (limit <= 0
// means unbounded). Each job gets its own run directory and executors, and a
// failing job does not cancel the others. Results are in job order; the
// error joins every job failure.
func RunAll(ctx context.Context, jobs []Job, limit int) ([]*RunResult, error) {
	results := make([]*RunResult, len(jobs))
	errs := make([]error, len(jobs))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, job := range jobs {
		g.Go(func() error {
			res, err := Run(ctx, job.Pipeline, job.Options)
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("job %d (%s): %w", i, job.Options.InputDir, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}
