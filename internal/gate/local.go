package gate

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// NewLocal returns in-process primitives. Slots are a weighted semaphore of
// the given capacity taken one unit at a time; each gate is a semaphore of
// weight one. semaphore.Weighted queues waiters in FIFO order, so a reader
// arriving while a writer is draining waits behind the writer.
func NewLocal(capacity int) *Set {
	return &Set{
		Slots:  &localSlots{sem: semaphore.NewWeighted(int64(capacity)), capacity: capacity},
		Writer: newLocalMutex(),
		Drain:  newLocalMutex(),
		Data:   newLocalMutex(),
		Domain: Thread,
	}
}

type localSlots struct {
	sem      *semaphore.Weighted
	capacity int
}

func (s *localSlots) Acquire(ctx context.Context) (Permit, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return localPermit{sem: s.sem}, nil
}

func (s *localSlots) TryAcquire() (Permit, bool, error) {
	if !s.sem.TryAcquire(1) {
		return nil, false, nil
	}
	return localPermit{sem: s.sem}, true, nil
}

func (s *localSlots) Capacity() int {
	return s.capacity
}

type localPermit struct {
	sem *semaphore.Weighted
}

func (p localPermit) Release() {
	p.sem.Release(1)
}

type localMutex struct {
	sem *semaphore.Weighted
}

func newLocalMutex() *localMutex {
	return &localMutex{sem: semaphore.NewWeighted(1)}
}

func (m *localMutex) Lock(ctx context.Context) error {
	return m.sem.Acquire(ctx, 1)
}

func (m *localMutex) Unlock() {
	m.sem.Release(1)
}
