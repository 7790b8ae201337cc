// Package gate provides the synchronization primitives used by the engine's
// access controller: a pool of reader admission slots and three mutual
// exclusion gates.
//
// Two implementations exist. NewLocal backs everything with
// golang.org/x/sync/semaphore and is valid between goroutines of one process.
// NewFileLocked backs everything with flock(2) on lock files next to the
// database file and is valid between processes as well. Both honour
// context cancellation on every blocking acquisition.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Domain selects the concurrency domain the primitives must be valid across.
type Domain string

const (
	// Thread primitives coordinate goroutines of a single process.
	Thread Domain = "thread"
	// Process primitives coordinate any number of processes through lock files.
	Process Domain = "process"
)

// ErrUnsupported is returned when the process domain is requested on a
// platform without flock.
var ErrUnsupported = errors.New("process domain is not supported on this platform")

// Permit is one held reader admission slot.
type Permit interface {
	// Release gives the slot back. It must be called exactly once.
	Release()
}

// Slots is a counting pool of reader admission slots.
type Slots interface {
	// Acquire blocks until a slot is free or ctx is done.
	Acquire(ctx context.Context) (Permit, error)
	// TryAcquire takes a free slot without waiting.
	TryAcquire() (Permit, bool, error)
	// Capacity returns the total number of slots.
	Capacity() int
}

// Mutex is a mutual exclusion gate whose acquisition can be abandoned.
type Mutex interface {
	Lock(ctx context.Context) error
	Unlock()
}

// Set bundles the primitives of one access controller.
type Set struct {
	// Slots are the reader admission slots.
	Slots Slots
	// Writer serializes entry into the writer role.
	Writer Mutex
	// Drain serializes the drain-mutate-refill sequence.
	Drain Mutex
	// Data guards every access to the underlying store.
	Data Mutex

	Domain Domain
}

// Options configures New.
type Options struct {
	Domain   Domain
	Capacity int
	// LockPath is the prefix for lock files in the process domain.
	LockPath string
	// PollInterval is how often a blocked process-domain acquisition retries.
	PollInterval time.Duration
}

// New builds the primitives for the requested domain.
func New(opts Options) (*Set, error) {
	if opts.Capacity < 1 {
		return nil, fmt.Errorf("gate capacity must be >= 1, got %d", opts.Capacity)
	}
	switch opts.Domain {
	case Thread, "":
		return NewLocal(opts.Capacity), nil
	case Process:
		return NewFileLocked(opts.LockPath, opts.Capacity, opts.PollInterval)
	default:
		return nil, fmt.Errorf("unknown concurrency domain %q", opts.Domain)
	}
}

// ParseDomain converts a configuration string to a Domain.
func ParseDomain(s string) (Domain, error) {
	switch Domain(s) {
	case Thread, "":
		return Thread, nil
	case Process:
		return Process, nil
	}
	return "", fmt.Errorf("unknown concurrency domain %q (want %q or %q)", s, Thread, Process)
}
