// Package persistence binds the in-memory map to a backing snapshot file.
//
// SnapshotStore wraps a core.Map and brackets every operation with a reload
// of the whole snapshot before acting and, for mutations, a save of the whole
// snapshot after acting. Both steps go through a bounded RetryPolicy.
//
// SnapshotStore is not safe for concurrent use. The engine package serializes
// all access to it; used directly it is the persisted but unsynchronized mode.
package persistence

import (
	"context"
	"log/slog"

	"github.com/sanonone/gatekv/pkg/core"
)

// SnapshotStore is a core.Map kept in sync with a snapshot file.
type SnapshotStore[K comparable, V any] struct {
	m      *core.Map[K, V]
	file   *SnapshotFile[K, V]
	retry  RetryPolicy
	logger *slog.Logger
}

// NewSnapshotStore creates a store backed by the snapshot file at path.
// A nil logger falls back to slog.Default().
func NewSnapshotStore[K comparable, V any](path string, retry RetryPolicy, logger *slog.Logger) *SnapshotStore[K, V] {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotStore[K, V]{
		m:      core.NewMap[K, V](),
		file:   NewSnapshotFile[K, V](path),
		retry:  retry,
		logger: logger,
	}
}

// Path returns the backing file path.
func (s *SnapshotStore[K, V]) Path() string {
	return s.file.Path()
}

// Load replaces the in-memory content with the snapshot on disk.
func (s *SnapshotStore[K, V]) Load(ctx context.Context) error {
	return s.retry.Do(ctx, s.logger, "load", s.file.Path(), func() error {
		entries, err := s.file.Load()
		if err != nil {
			return err
		}
		s.m.Replace(entries)
		return nil
	})
}

// Save writes the in-memory content to disk as one snapshot.
func (s *SnapshotStore[K, V]) Save(ctx context.Context) error {
	entries := s.m.Entries()
	return s.retry.Do(ctx, s.logger, "save", s.file.Path(), func() error {
		return s.file.Save(entries)
	})
}

// Set inserts value under key if the key is absent and persists the result.
// The boolean is false when the key already existed.
func (s *SnapshotStore[K, V]) Set(ctx context.Context, key K, value V) (bool, error) {
	if err := s.Load(ctx); err != nil {
		return false, err
	}
	inserted := s.m.InsertIfAbsent(key, value)
	if err := s.Save(ctx); err != nil {
		return false, err
	}
	return inserted, nil
}

// Remove deletes key if present, persists the result and returns the prior value.
func (s *SnapshotStore[K, V]) Remove(ctx context.Context, key K) (V, bool, error) {
	var zero V
	if err := s.Load(ctx); err != nil {
		return zero, false, err
	}
	value, removed := s.m.RemoveIfPresent(key)
	if err := s.Save(ctx); err != nil {
		return zero, false, err
	}
	return value, removed, nil
}

// Get reloads the snapshot and looks key up. Nothing is persisted.
func (s *SnapshotStore[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	var zero V
	if err := s.Load(ctx); err != nil {
		return zero, false, err
	}
	value, found := s.m.Lookup(key)
	return value, found, nil
}

// Len reports the number of entries as of the last reload.
func (s *SnapshotStore[K, V]) Len() int {
	return s.m.Len()
}
