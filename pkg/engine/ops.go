package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sanonone/gatekv/internal/gate"
	"github.com/sanonone/gatekv/pkg/metrics"
	"github.com/sanonone/gatekv/pkg/persistence"
)

// Set stores value under key if the key is absent. It returns false, with no
// error, when the key already exists; the stored value is left unchanged.
//
// Set waits for exclusive access: it blocks other writers and new readers and
// waits for admitted readers to finish. ctx bounds that wait.
func (c *AccessController[K, V]) Set(ctx context.Context, key K, value V) (bool, error) {
	var inserted bool
	err := c.exclusive(ctx, func(s *persistence.SnapshotStore[K, V]) error {
		var err error
		inserted, err = s.Set(ctx, key, value)
		return err
	})

	switch {
	case err != nil:
		metrics.WritesTotal.WithLabelValues("set", "error").Inc()
	case inserted:
		metrics.WritesTotal.WithLabelValues("set", "inserted").Inc()
	default:
		metrics.WritesTotal.WithLabelValues("set", "exists").Inc()
	}
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// Delete removes key and returns the value it held. Deleting an absent key is
// a no-op reported by a false second result.
func (c *AccessController[K, V]) Delete(ctx context.Context, key K) (V, bool, error) {
	var (
		value   V
		removed bool
	)
	err := c.exclusive(ctx, func(s *persistence.SnapshotStore[K, V]) error {
		var err error
		value, removed, err = s.Remove(ctx, key)
		return err
	})

	switch {
	case err != nil:
		metrics.WritesTotal.WithLabelValues("delete", "error").Inc()
	case removed:
		metrics.WritesTotal.WithLabelValues("delete", "removed").Inc()
	default:
		metrics.WritesTotal.WithLabelValues("delete", "absent").Inc()
	}
	if err != nil {
		var zero V
		return zero, false, err
	}
	return value, removed, nil
}

// Get looks key up. If no reader slot becomes free within AdmissionWait the
// result is Rejected and the error is nil. Errors are reserved for
// persistence failures, cancellation of ctx and use after Close.
func (c *AccessController[K, V]) Get(ctx context.Context, key K) (ReadResult[V], error) {
	if c.closed.Load() {
		return ReadResult[V]{}, ErrClosed
	}

	permit, err := c.admit(ctx)
	if err != nil {
		metrics.ReadsTotal.WithLabelValues("error").Inc()
		return ReadResult[V]{}, fmt.Errorf("admit reader: %w", err)
	}
	if permit == nil {
		metrics.ReadsTotal.WithLabelValues("rejected").Inc()
		c.logger.Debug("Read rejected: too many concurrent readers",
			"capacity", c.opts.ReaderCapacity,
			"admission_wait", c.opts.AdmissionWait,
		)
		return ReadResult[V]{Status: Rejected}, nil
	}
	// Released last, after the reader count drops.
	defer permit.Release()

	c.readers.Add(1)
	metrics.ReadersActive.Inc()
	defer func() {
		metrics.ReadersActive.Dec()
		c.readers.Add(-1)
	}()

	var (
		value V
		found bool
	)
	err = c.data.with(ctx, func(s *persistence.SnapshotStore[K, V]) error {
		if c.hooks != nil && c.hooks.read != nil {
			c.hooks.read(c.Stats())
		}
		var err error
		value, found, err = s.Get(ctx, key)
		return err
	})
	if err != nil {
		metrics.ReadsTotal.WithLabelValues("error").Inc()
		return ReadResult[V]{}, err
	}
	if !found {
		metrics.ReadsTotal.WithLabelValues("not_found").Inc()
		return ReadResult[V]{Status: NotFound}, nil
	}
	metrics.ReadsTotal.WithLabelValues("found").Inc()
	return ReadResult[V]{Status: Found, Value: value}, nil
}

// admit takes one reader slot, waiting at most AdmissionWait.
// A nil permit with a nil error means the read is rejected.
func (c *AccessController[K, V]) admit(ctx context.Context) (gate.Permit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.opts.AdmissionWait <= 0 {
		permit, ok, err := c.gates.Slots.TryAcquire()
		if err != nil || !ok {
			return nil, err
		}
		return permit, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.opts.AdmissionWait)
	defer cancel()

	permit, err := c.gates.Slots.Acquire(waitCtx)
	if err == nil {
		return permit, nil
	}
	// The caller's own cancellation is an error; running out of admission time is not.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, nil
	}
	return nil, err
}

// exclusive runs fn with no reader admitted and no other writer active:
//
//  1. enter the writer role
//  2. enter the drain gate
//  3. take every reader slot, one at a time
//  4. run fn under the data gate
//  5. give every slot back
//  6. leave the drain gate, then the writer role
//
// The drain gate is held until the slots are refilled, so no second writer
// can start draining while this one is still inside its exclusive section.
// If ctx ends mid-drain, the slots taken so far are returned.
func (c *AccessController[K, V]) exclusive(ctx context.Context, fn func(*persistence.SnapshotStore[K, V]) error) error {
	if c.closed.Load() {
		return ErrClosed
	}

	if err := c.gates.Writer.Lock(ctx); err != nil {
		return fmt.Errorf("enter writer role: %w", err)
	}
	defer c.gates.Writer.Unlock()

	if err := c.gates.Drain.Lock(ctx); err != nil {
		return fmt.Errorf("enter drain gate: %w", err)
	}
	defer c.gates.Drain.Unlock()

	capacity := c.gates.Slots.Capacity()
	permits := make([]gate.Permit, 0, capacity)
	defer func() {
		for _, p := range permits {
			p.Release()
		}
	}()

	start := time.Now()
	for len(permits) < capacity {
		p, err := c.gates.Slots.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("drain reader slots (%d/%d): %w", len(permits), capacity, err)
		}
		permits = append(permits, p)
	}
	metrics.DrainDuration.Observe(time.Since(start).Seconds())

	c.writing.Store(true)
	defer c.writing.Store(false)

	return c.data.with(ctx, func(s *persistence.SnapshotStore[K, V]) error {
		if c.hooks != nil && c.hooks.mutate != nil {
			c.hooks.mutate(c.Stats())
		}
		return fn(s)
	})
}
