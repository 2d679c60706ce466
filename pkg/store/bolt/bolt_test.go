package bolt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"saddlebag/pkg/store"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"), "bags", 1)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func readAll(t *testing.T, s *Store) map[string]string {
	t.Helper()
	seen := make(map[string]string)
	err := s.ReadAll(context.Background(), func(id string, snap []byte) error {
		seen[id] = string(snap)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return seen
}

func TestOpenClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	s, err := Open(path, "bags", 1)
	if err != nil {
		t.Fatal(err)
	}
	if s.Path() != path {
		t.Fatalf("Path() = %q, want %q", s.Path(), path)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file should exist: %v", err)
	}
}

func TestOpenInvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db", "bags", 1)
	if err == nil {
		t.Fatal("opening db in nonexistent dir should fail")
	}
}

func TestOpenEmptyName(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "test.db"), "", 1)
	if err == nil {
		t.Fatal("empty store name should fail")
	}
}

func TestPutAndGet(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "foo", []byte("snap-1")); err != nil {
		t.Fatal(err)
	}
	val, err := s.Get("foo")
	if err != nil {
		t.Fatal(err)
	}
	if string(val) != "snap-1" {
		t.Fatalf("expected snap-1, got %q", val)
	}
}

func TestGetMissing(t *testing.T) {
	s := tempStore(t)
	val, err := s.Get("missing")
	if err != nil {
		t.Fatal(err)
	}
	if val != nil {
		t.Fatalf("expected nil for missing bag, got %q", val)
	}
}

func TestPutOverwrite(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	if err := s.Put(ctx, "foo", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "foo", []byte("v2")); err != nil {
		t.Fatal(err)
	}
	val, _ := s.Get("foo")
	if string(val) != "v2" {
		t.Fatalf("expected v2 after overwrite, got %q", val)
	}
}

func TestPutCanceledContext(t *testing.T) {
	s := tempStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Put(ctx, "foo", []byte("v")); !errors.Is(err, context.Canceled) {
		t.Fatalf("Put with canceled ctx: got %v, want context.Canceled", err)
	}
}

func TestReadAll(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := s.Put(ctx, id, []byte("snap-"+id)); err != nil {
			t.Fatal(err)
		}
	}

	seen := readAll(t, s)
	if len(seen) != 3 {
		t.Fatalf("expected 3 bags, got %d", len(seen))
	}
	for _, id := range []string{"a", "b", "c"} {
		if seen[id] != "snap-"+id {
			t.Fatalf("bag %s: got %q", id, seen[id])
		}
	}
}

func TestReadAllEmpty(t *testing.T) {
	s := tempStore(t)
	if seen := readAll(t, s); len(seen) != 0 {
		t.Fatalf("expected no bags, got %d", len(seen))
	}
}

func TestReadAllStopsOnError(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	_ = s.Put(ctx, "a", []byte("1"))
	_ = s.Put(ctx, "b", []byte("2"))

	stop := errors.New("stop")
	calls := 0
	err := s.ReadAll(ctx, func(string, []byte) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("ReadAll: got %v, want stop", err)
	}
	if calls != 1 {
		t.Fatalf("callback ran %d times, want 1", calls)
	}
}

func TestReadAllReturnsCopy(t *testing.T) {
	s := tempStore(t)
	_ = s.Put(context.Background(), "k", []byte("original"))

	var held []byte
	_ = s.ReadAll(context.Background(), func(_ string, snap []byte) error {
		held = snap
		return nil
	})
	held[0] = 'X'

	val, _ := s.Get("k")
	if string(val) != "original" {
		t.Fatal("mutating a read snapshot should not affect the store")
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, "bags", 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put(context.Background(), "foo", []byte("bar")); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	s2, err := Open(path, "bags", 2)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s2.Close() }()
	if seen := readAll(t, s2); seen["foo"] != "bar" {
		t.Fatalf("expected foo=bar after reopen, got %v", seen)
	}
}

func TestVersionDowngrade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, "bags", 3)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	_, err = Open(path, "bags", 2)
	if !errors.Is(err, store.ErrVersionDowngrade) {
		t.Fatalf("expected ErrVersionDowngrade, got %v", err)
	}
}

func TestSeparateNamesAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s1, err := Open(path, "one", 1)
	if err != nil {
		t.Fatal(err)
	}
	_ = s1.Put(context.Background(), "k", []byte("v1"))
	_ = s1.Close()

	s2, err := Open(path, "two", 1)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s2.Close() }()
	if seen := readAll(t, s2); len(seen) != 0 {
		t.Fatalf("store %q should not see bags of another name: %v", "two", seen)
	}
}

func TestOpener(t *testing.T) {
	open := Opener(filepath.Join(t.TempDir(), "test.db"), "bags", 1)
	st, err := open(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
}
