//go:build unix

package gate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultPollInterval is used when NewFileLocked gets a non-positive interval.
const DefaultPollInterval = 2 * time.Millisecond

// NewFileLocked returns primitives backed by exclusive flock(2) locks on files
// named after lockPath:
//
//	<lockPath>.writer.lock
//	<lockPath>.drain.lock
//	<lockPath>.data.lock
//	<lockPath>.slot-<i>.lock   (one per reader slot)
//
// Every acquisition opens its own descriptor, so locks conflict between
// goroutines of one process exactly as they do between processes.
// flock has no timed wait; blocked acquisitions poll with LOCK_NB.
func NewFileLocked(lockPath string, capacity int, poll time.Duration) (*Set, error) {
	if lockPath == "" {
		return nil, fmt.Errorf("process domain needs a lock path")
	}
	if capacity < 1 {
		return nil, fmt.Errorf("gate capacity must be >= 1, got %d", capacity)
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	newLock := func(suffix string) (*fileLock, error) {
		l := &fileLock{path: lockPath + suffix, poll: poll}
		// Create the file up front so a bad location fails at construction.
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}
		_ = f.Close()
		return l, nil
	}

	writer, err := newLock(".writer.lock")
	if err != nil {
		return nil, err
	}
	drain, err := newLock(".drain.lock")
	if err != nil {
		return nil, err
	}
	data, err := newLock(".data.lock")
	if err != nil {
		return nil, err
	}

	slots := &fileSlots{locks: make([]*fileLock, capacity), poll: poll}
	for i := range slots.locks {
		if slots.locks[i], err = newLock(fmt.Sprintf(".slot-%d.lock", i)); err != nil {
			return nil, err
		}
	}

	return &Set{
		Slots:  slots,
		Writer: &fileMutex{lock: writer},
		Drain:  &fileMutex{lock: drain},
		Data:   &fileMutex{lock: data},
		Domain: Process,
	}, nil
}

// fileLock is one lock file.
type fileLock struct {
	path string
	poll time.Duration
}

// tryLock opens the file and attempts a non-blocking exclusive lock.
// On success the returned descriptor holds the lock until unlockFile.
func (l *fileLock) tryLock() (*os.File, bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, false, fmt.Errorf("open lock file %s: %w", l.path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("flock %s: %w", l.path, err)
	}
	return f, true, nil
}

func unlockFile(f *os.File) {
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	_ = f.Close()
}

// pollUntil calls try until it reports success, fails, or ctx is done.
func pollUntil(ctx context.Context, interval time.Duration, try func() (bool, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		ok, err := try()
		if err != nil || ok {
			return err
		}
		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

type fileMutex struct {
	lock *fileLock

	mu   sync.Mutex
	held *os.File
}

func (m *fileMutex) Lock(ctx context.Context) error {
	return pollUntil(ctx, m.lock.poll, func() (bool, error) {
		f, ok, err := m.lock.tryLock()
		if !ok {
			return false, err
		}
		m.mu.Lock()
		m.held = f
		m.mu.Unlock()
		return true, nil
	})
}

func (m *fileMutex) Unlock() {
	m.mu.Lock()
	f := m.held
	m.held = nil
	m.mu.Unlock()
	if f == nil {
		panic("gate: unlock of unlocked file mutex")
	}
	unlockFile(f)
}

type fileSlots struct {
	locks []*fileLock
	poll  time.Duration
	next  atomic.Uint32
}

func (s *fileSlots) Acquire(ctx context.Context) (Permit, error) {
	var permit Permit
	err := pollUntil(ctx, s.poll, func() (bool, error) {
		p, ok, err := s.TryAcquire()
		if ok {
			permit = p
		}
		return ok, err
	})
	if err != nil {
		return nil, err
	}
	return permit, nil
}

// TryAcquire makes one pass over the slots, starting at a rotating offset so
// that concurrent callers do not all contend on slot 0.
func (s *fileSlots) TryAcquire() (Permit, bool, error) {
	n := len(s.locks)
	start := int(s.next.Add(1)) % n
	for i := 0; i < n; i++ {
		f, ok, err := s.locks[(start+i)%n].tryLock()
		if err != nil {
			return nil, false, err
		}
		if ok {
			return filePermit{f: f}, true, nil
		}
	}
	return nil, false, nil
}

func (s *fileSlots) Capacity() int {
	return len(s.locks)
}

type filePermit struct {
	f *os.File
}

func (p filePermit) Release() {
	unlockFile(p.f)
}
