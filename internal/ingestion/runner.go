package ingestion

import (
	"context"
	"errors"
	"log"
	"sync"
)

// Runner supervises one worker per tracked contract. A halted worker does
// not stop the others; its Error state stays visible through Statuses.
type Runner struct {
	workers []*Worker
	logger  *log.Logger
}

// NewRunner creates a runner over the given workers.
func NewRunner(workers []*Worker, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{workers: workers, logger: logger}
}

// Run starts all workers and blocks until the context is cancelled and
// every worker has stopped. Worker failures are collected, not fatal to
// the process.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.workers) == 0 {
		return errors.New("no workers configured")
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(r.workers))

	for _, w := range r.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}(w)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Statuses returns a snapshot of every worker.
func (r *Runner) Statuses() []Status {
	out := make([]Status, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w.Status())
	}
	return out
}
