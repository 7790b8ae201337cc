package persistence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestSnapshotStoreScenario(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db.snap")
	s := NewSnapshotStore[int, int](path, fastRetry(), nil)

	inserted, err := s.Set(ctx, 1, 1)
	if err != nil || !inserted {
		t.Fatalf("Set(1, 1) = %v, %v; want true, nil", inserted, err)
	}
	if v, ok, err := s.Get(ctx, 1); err != nil || !ok || v != 1 {
		t.Fatalf("Get(1) = %v, %v, %v; want 1, true, nil", v, ok, err)
	}
	inserted, err = s.Set(ctx, 1, 2)
	if err != nil || inserted {
		t.Fatalf("Set(1, 2) = %v, %v; want false, nil", inserted, err)
	}
	if v, _, _ := s.Get(ctx, 1); v != 1 {
		t.Fatalf("duplicate Set overwrote value: got %v", v)
	}
	if v, ok, err := s.Remove(ctx, 1); err != nil || !ok || v != 1 {
		t.Fatalf("Remove(1) = %v, %v, %v; want 1, true, nil", v, ok, err)
	}
	if _, ok, err := s.Get(ctx, 1); err != nil || ok {
		t.Fatalf("Get(1) after Remove = found %v, err %v; want not found", ok, err)
	}
	if _, ok, err := s.Remove(ctx, 1); err != nil || ok {
		t.Fatalf("Remove of absent key = %v, %v; want false, nil", ok, err)
	}
}

func TestSnapshotStoreSharesStateThroughFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.snap")

	a := NewSnapshotStore[string, string](path, fastRetry(), nil)
	b := NewSnapshotStore[string, string](path, fastRetry(), nil)

	if _, err := a.Set(ctx, "k", "from-a"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := b.Get(ctx, "k")
	if err != nil || !ok || v != "from-a" {
		t.Fatalf("second store did not see first store's write: %q, %v, %v", v, ok, err)
	}
	if _, _, err := b.Remove(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := a.Get(ctx, "k"); ok {
		t.Fatal("first store still sees a key removed through the second")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rt.snap")
	s := NewSnapshotStore[string, []byte](path, fastRetry(), nil)

	ops := []struct {
		del   bool
		key   string
		value string
	}{
		{key: "a", value: "1"},
		{key: "b", value: "2"},
		{key: "c", value: "3"},
		{del: true, key: "b"},
		{key: "d", value: ""},
		{del: true, key: "zz"},
	}
	want := map[string][]byte{}
	for _, op := range ops {
		if op.del {
			if _, _, err := s.Remove(ctx, op.key); err != nil {
				t.Fatal(err)
			}
			delete(want, op.key)
			continue
		}
		if _, err := s.Set(ctx, op.key, []byte(op.value)); err != nil {
			t.Fatal(err)
		}
		want[op.key] = []byte(op.value)
	}

	got, err := NewSnapshotFile[string, []byte](path).Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("reloaded %d entries, want %d", len(got), len(want))
	}
	for k, v := range want {
		// gob decodes an empty []byte as nil.
		if string(got[k]) != string(v) {
			t.Errorf("key %q: got %q, want %q", k, got[k], v)
		}
	}
}

func TestSnapshotFileMissingIsEmpty(t *testing.T) {
	f := NewSnapshotFile[string, int](filepath.Join(t.TempDir(), "nope.snap"))
	got, err := f.Load()
	if err != nil {
		t.Fatalf("Load of missing file: %v", err)
	}
	if len(got) != 0 || got == nil {
		t.Fatalf("expected empty non-nil map, got %#v", got)
	}
}

func TestSnapshotFileSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	f := NewSnapshotFile[string, int](filepath.Join(dir, "clean.snap"))
	for i := 0; i < 3; i++ {
		if err := f.Save(map[string]int{"n": i}); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "clean.snap" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("unexpected directory content: %v", names)
	}
	got, _ := f.Load()
	if !reflect.DeepEqual(got, map[string]int{"n": 2}) {
		t.Fatalf("last save not visible: %v", got)
	}
}

func TestCorruptSnapshotSurfacesPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "corrupt.snap")
	s := NewSnapshotStore[string, string](path, fastRetry(), nil)

	if _, err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatal(err)
	}

	// Flip the last payload byte: the frame header stays valid, the CRC does not.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	_, _, err = s.Get(ctx, "k")
	if !errors.Is(err, ErrPersistenceFailure) {
		t.Fatalf("expected ErrPersistenceFailure, got %v", err)
	}
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected the checksum error to be wrapped, got %v", err)
	}
}

func TestGarbageSnapshotIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.snap")
	if err := os.WriteFile(path, []byte("definitely not a snapshot"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := NewSnapshotFile[string, string](path).Load()
	if !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestUnwritableLocationFailsBounded(t *testing.T) {
	ctx := context.Background()
	// The parent directory does not exist, so every save fails.
	path := filepath.Join(t.TempDir(), "missing-dir", "db.snap")
	s := NewSnapshotStore[string, string](path, fastRetry(), nil)

	start := time.Now()
	_, err := s.Set(ctx, "k", "v")
	if !errors.Is(err, ErrPersistenceFailure) {
		t.Fatalf("expected ErrPersistenceFailure, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("bounded retry took too long: %v", time.Since(start))
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := RetryPolicy{MaxAttempts: 100, InitialInterval: 50 * time.Millisecond, MaxInterval: time.Second, Multiplier: 2}
	calls := 0
	err := policy.Do(ctx, discardLogger(), "save", "x", func() error {
		calls++
		return errors.New("boom")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrPersistenceFailure) {
		t.Fatal("a cancelled retry is not a persistence failure")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one attempt, got %d", calls)
	}
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	calls := 0
	err := fastRetry().Do(context.Background(), discardLogger(), "load", "x", func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		wantErr bool
	}{
		{"default", DefaultRetryPolicy(), false},
		{"zero attempts", RetryPolicy{MaxAttempts: 0, Multiplier: 2}, true},
		{"shrinking", RetryPolicy{MaxAttempts: 3, Multiplier: 0.5}, true},
		{"negative interval", RetryPolicy{MaxAttempts: 3, Multiplier: 2, InitialInterval: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
