// Package core provides the in-memory data structure at the bottom of gatekv.
//
// This file implements Map, a plain associative container with
// insert-if-absent, lookup and remove-if-present semantics. Map has no
// concurrency awareness: callers that share it between goroutines must hold
// exclusive access for every call, which the engine package guarantees.
package core

// Map is an unsynchronized key-value container with unique keys and no
// ordering guarantee.
type Map[K comparable, V any] struct {
	data map[K]V
}

// NewMap creates and returns a new, empty Map.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{
		data: make(map[K]V),
	}
}

// NewMapFrom creates a Map that owns a copy of entries.
func NewMapFrom[K comparable, V any](entries map[K]V) *Map[K, V] {
	m := NewMap[K, V]()
	m.Replace(entries)
	return m
}

// InsertIfAbsent stores value under key only if the key is not present yet.
// It reports whether the insertion happened; false means the key already
// existed and the map was left untouched.
func (m *Map[K, V]) InsertIfAbsent(key K, value V) bool {
	if _, exists := m.data[key]; exists {
		return false
	}
	m.data[key] = value
	return true
}

// Lookup returns the value stored under key and whether it was found.
func (m *Map[K, V]) Lookup(key K) (V, bool) {
	value, found := m.data[key]
	return value, found
}

// RemoveIfPresent deletes key and returns its prior value.
// If the key is absent it is a no-op and the boolean is false.
func (m *Map[K, V]) RemoveIfPresent(key K) (V, bool) {
	value, found := m.data[key]
	if !found {
		return value, false
	}
	delete(m.data, key)
	return value, true
}

// Set is InsertIfAbsent under the name of the public operation.
func (m *Map[K, V]) Set(key K, value V) bool {
	return m.InsertIfAbsent(key, value)
}

// Get is Lookup under the name of the public operation.
func (m *Map[K, V]) Get(key K) (V, bool) {
	return m.Lookup(key)
}

// Delete is RemoveIfPresent under the name of the public operation.
func (m *Map[K, V]) Delete(key K) (V, bool) {
	return m.RemoveIfPresent(key)
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	return len(m.data)
}

// Entries returns a copy of the current content, suitable for snapshotting.
func (m *Map[K, V]) Entries() map[K]V {
	cp := make(map[K]V, len(m.data))
	for k, v := range m.data {
		cp[k] = v
	}
	return cp
}

// Replace discards the current content and adopts a copy of entries.
// A nil map leaves the Map empty.
func (m *Map[K, V]) Replace(entries map[K]V) {
	data := make(map[K]V, len(entries))
	for k, v := range entries {
		data[k] = v
	}
	m.data = data
}
