package sqlite

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// permit models the single cooperative "execution permit" spec.md §5
// describes: a weight-1 token a task must hold to touch host-managed
// engine state, released around suspension points (statement compilation
// and individual steps) so other tasks waiting on the
// same Database can make progress, then re-acquired before resuming.
//
// This is not thread-parallel access to the engine itself — the underlying
// connection is still exclusively owned by one Database — it only
// serializes and interleaves concurrent Go callers the way spec.md §5's
// cooperative scheduling model requires.
type permit struct {
	sem *semaphore.Weighted
}

func newPermit() *permit {
	return &permit{sem: semaphore.NewWeighted(1)}
}

// acquire blocks until the permit is available or ctx is done. Every public
// Database/Query operation must acquire the permit before touching the
// connection and give it back when done.
func (p *permit) acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

// give releases the permit. Must only be called by a holder of the permit.
func (p *permit) give() {
	p.sem.Release(1)
}

// suspend releases the permit for the duration of fn and re-acquires it
// before returning, regardless of fn's outcome — the "release around this
// engine call" pattern spec.md §5 requires at each suspension point. The
// re-acquire uses context.Background so a caller-canceled ctx never leaves
// the permit un-held.
func (p *permit) suspend(fn func() error) error {
	p.give()

	err := fn()

	if acquireErr := p.sem.Acquire(context.Background(), 1); acquireErr != nil && err == nil {
		err = acquireErr
	}

	return err
}
