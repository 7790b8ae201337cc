// Package engine provides the synchronized interface of gatekv.
//
// An AccessController wraps a persistence.SnapshotStore with a
// bounded-readers / exclusive-writer protocol: up to ReaderCapacity readers
// run at once, and a writer first drains every reader slot so that it mutates
// with no reader in flight. Reads that cannot get a slot within AdmissionWait
// are rejected instead of queuing.
//
// Basic usage:
//
//	opts := engine.DefaultOptions()
//	opts.Location = "./data/users.db"
//	db, err := engine.Open[string, string](opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/sanonone/gatekv/internal/gate"
	"github.com/sanonone/gatekv/pkg/persistence"
)

// ErrClosed is returned by operations on a closed AccessController.
var ErrClosed = errors.New("access controller is closed")

// AccessController serializes writers, bounds readers and keeps the two apart.
//
// Use Open to create one and Close to shut it down.
type AccessController[K comparable, V any] struct {
	opts   Options
	logger *slog.Logger
	gates  *gate.Set

	// data is the only path to the store.
	data guarded[K, V]

	readers atomic.Int64
	writing atomic.Bool

	closed    atomic.Bool
	closeOnce sync.Once

	// hooks are test instrumentation; nil in production.
	hooks *hooks
}

// guarded pairs the store with the gate that must be held to touch it.
type guarded[K comparable, V any] struct {
	gate  gate.Mutex
	store *persistence.SnapshotStore[K, V]
}

// with runs fn with the data gate held.
func (g *guarded[K, V]) with(ctx context.Context, fn func(*persistence.SnapshotStore[K, V]) error) error {
	if err := g.gate.Lock(ctx); err != nil {
		return fmt.Errorf("acquire data gate: %w", err)
	}
	defer g.gate.Unlock()
	return fn(g.store)
}

// Open validates opts, builds the synchronization primitives for the chosen
// domain and checks that the snapshot at opts.Location is readable.
//
// The parent directory of Location is created if missing.
func Open[K comparable, V any](opts Options) (*AccessController[K, V], error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(opts.Location), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	gates, err := gate.New(gate.Options{
		Domain:       gate.Domain(opts.Domain),
		Capacity:     opts.ReaderCapacity,
		LockPath:     opts.Location,
		PollInterval: opts.LockPollInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gates: %w", err)
	}

	c := &AccessController[K, V]{
		opts:   opts,
		logger: logger,
		gates:  gates,
		data: guarded[K, V]{
			gate:  gates.Data,
			store: persistence.NewSnapshotStore[K, V](opts.Location, opts.Retry, logger),
		},
	}

	// Fail at Open rather than on the first call if the snapshot is unreadable.
	err = c.data.with(context.Background(), func(s *persistence.SnapshotStore[K, V]) error {
		return s.Load(context.Background())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	logger.Info("gatekv opened",
		"location", opts.Location,
		"domain", opts.Domain,
		"reader_capacity", opts.ReaderCapacity,
		"admission_wait", opts.AdmissionWait,
		"retry_max_attempts", opts.Retry.MaxAttempts,
	)
	return c, nil
}

// Close marks the controller closed. Calls already in progress finish;
// later calls return ErrClosed. Lock files of the process domain are left in
// place because other processes may still use them.
func (c *AccessController[K, V]) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.logger.Info("gatekv closed", "location", c.opts.Location)
	})
	return nil
}

// Stats is a point-in-time view of the synchronization state of this process.
type Stats struct {
	// ReadersActive is the number of admitted readers.
	ReadersActive int
	// WriterActive is true while a writer holds every reader slot.
	WriterActive bool
	// Capacity is the configured number of reader slots.
	Capacity int
}

// Stats returns the current synchronization state.
func (c *AccessController[K, V]) Stats() Stats {
	return Stats{
		ReadersActive: int(c.readers.Load()),
		WriterActive:  c.writing.Load(),
		Capacity:      c.gates.Slots.Capacity(),
	}
}

// Options returns the configuration the controller was opened with.
func (c *AccessController[K, V]) Options() Options {
	return c.opts
}
