package persistence

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// SnapshotVersion is written into every snapshot so that future layouts can
// be told apart on load.
const SnapshotVersion = 1

// Snapshot represents the complete serializable state of the map.
type Snapshot[K comparable, V any] struct {
	Version int
	Entries map[K]V
}

// SnapshotFile reads and writes whole-map snapshots at a single path.
// Each save replaces the file atomically (write to a temp file, fsync, rename),
// so a reader always observes one complete snapshot.
//
// SnapshotFile holds no locks; callers serialize access.
type SnapshotFile[K comparable, V any] struct {
	path string
}

// NewSnapshotFile returns a SnapshotFile bound to path. The file itself is
// created lazily by the first Save.
func NewSnapshotFile[K comparable, V any](path string) *SnapshotFile[K, V] {
	return &SnapshotFile[K, V]{path: path}
}

// Path returns the file path.
func (f *SnapshotFile[K, V]) Path() string {
	return f.path
}

// Load reads and decodes the snapshot. A missing file is an empty snapshot.
func (f *SnapshotFile[K, V]) Load() (map[K]V, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[K]V), nil
		}
		return nil, fmt.Errorf("read snapshot %s: %w", f.path, err)
	}

	opCode, payload, err := ReadFrame(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("read snapshot frame %s: %w", f.path, err)
	}
	if opCode != OpCodeSnapshot {
		return nil, fmt.Errorf("read snapshot frame %s: %w (0x%02x)", f.path, ErrUnknownOpCode, opCode)
	}

	var snap Snapshot[K, V]
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", f.path, err)
	}
	// gob omits empty maps.
	if snap.Entries == nil {
		snap.Entries = make(map[K]V)
	}
	return snap.Entries, nil
}

// Save encodes entries and atomically replaces the snapshot file.
func (f *SnapshotFile[K, V]) Save(entries map[K]V) error {
	var payload bytes.Buffer
	snap := Snapshot[K, V]{Version: SnapshotVersion, Entries: entries}
	if err := gob.NewEncoder(&payload).Encode(snap); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmpPath := filepath.Join(dir, "."+filepath.Base(f.path)+"."+uuid.NewString()+".tmp")

	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}

	// Any failure below leaves the previous snapshot in place.
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	buf := bufio.NewWriter(tmp)
	if err := NewFrameWriter(buf).WriteFrame(OpCodeSnapshot, payload.Bytes()); err != nil {
		return fmt.Errorf("failed to write snapshot frame: %w", err)
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("failed to replace snapshot file: %w", err)
	}
	committed = true
	return nil
}
