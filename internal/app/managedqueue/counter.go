package managedqueue

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/sdisco/requestbox/internal/infra/store"
)

// Counter synthesizes ordering hints for non-priority admissions. The first
// hint after a reset is the increment itself; each subsequent hint advances
// by the increment, capped at the observed provider queue length when that
// is smaller. The result approximates "every Nth provider slot reserved for
// a guest request" for display purposes only; the provider's real queue is
// append-only and cannot be reordered.
type Counter struct {
	mu        sync.Mutex
	store     *store.Store
	increment int
}

// NewCounter creates a new position counter.
func NewCounter(st *store.Store, increment int) *Counter {
	return &Counter{
		store:     st,
		increment: increment,
	}
}

// Next advances the counter and returns the next ordering hint.
// queueLen is the observed provider queue length; pass 0 when unknown,
// in which case the uncapped cadence applies.
func (c *Counter) Next(ctx context.Context, queueLen int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, err := c.store.GetCounter(ctx, store.CounterPosition)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read position counter")
	}

	hint := last + c.increment
	if queueLen > 0 && hint > queueLen {
		hint = queueLen
	}

	if err := c.store.SetCounter(ctx, store.CounterPosition, hint); err != nil {
		return 0, errors.Wrap(err, "failed to advance position counter")
	}
	return hint, nil
}

// Reset zeroes the counter. Used by the admin reset path.
func (c *Counter) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.store.SetCounter(ctx, store.CounterPosition, 0)
	return errors.Wrap(err, "failed to reset position counter")
}
