package storage

import (
	"bytes"
	"errors"
	"testing"
)

// testBackend runs the shared test suite against a Backend implementation,
// exercising both read-only and read-write transactions.
func testBackend(t *testing.T, newBackend func() Backend) {
	t.Helper()

	put := func(t *testing.T, b Backend, key, value []byte) {
		t.Helper()
		tx, err := b.BeginRW()
		if err != nil {
			t.Fatalf("BeginRW() error: %v", err)
		}
		if err := tx.Put(key, value); err != nil {
			t.Fatalf("Put() error: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("Commit() error: %v", err)
		}
	}

	get := func(t *testing.T, b Backend, key []byte) ([]byte, error) {
		t.Helper()
		tx, err := b.BeginRO()
		if err != nil {
			t.Fatalf("BeginRO() error: %v", err)
		}
		defer tx.Discard()
		return tx.Get(key)
	}

	t.Run("PutAndGet", func(t *testing.T) {
		b := newBackend()
		defer b.Close()
		put(t, b, []byte("key1"), []byte("value1"))

		val, err := get(t, b, []byte("key1"))
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if !bytes.Equal(val, []byte("value1")) {
			t.Errorf("Get() = %q, want %q", val, "value1")
		}
	})

	t.Run("GetNonexistent", func(t *testing.T) {
		b := newBackend()
		defer b.Close()
		_, err := get(t, b, []byte("nonexistent"))
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		b := newBackend()
		defer b.Close()
		put(t, b, []byte("ow"), []byte("first"))
		put(t, b, []byte("ow"), []byte("second"))

		val, err := get(t, b, []byte("ow"))
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if !bytes.Equal(val, []byte("second")) {
			t.Errorf("Get() after overwrite = %q, want %q", val, "second")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		b := newBackend()
		defer b.Close()
		put(t, b, []byte("del"), []byte("value"))

		tx, _ := b.BeginRW()
		if err := tx.Delete([]byte("del")); err != nil {
			t.Fatalf("Delete() error: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("Commit() error: %v", err)
		}

		_, err := get(t, b, []byte("del"))
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got: %v", err)
		}
	})

	t.Run("DiscardDoesNotPersist", func(t *testing.T) {
		b := newBackend()
		defer b.Close()

		tx, _ := b.BeginRW()
		tx.Put([]byte("uncommitted"), []byte("x"))
		tx.Discard()

		_, err := get(t, b, []byte("uncommitted"))
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected discarded write to be invisible, got: %v", err)
		}
	})

	t.Run("ROSeesSnapshotNotLaterWrites", func(t *testing.T) {
		b := newBackend()
		defer b.Close()
		put(t, b, []byte("snap"), []byte("v1"))

		ro, err := b.BeginRO()
		if err != nil {
			t.Fatalf("BeginRO() error: %v", err)
		}
		defer ro.Discard()

		put(t, b, []byte("snap"), []byte("v2"))

		val, err := ro.Get([]byte("snap"))
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if !bytes.Equal(val, []byte("v1")) {
			t.Errorf("RO transaction should observe its opening snapshot, got %q", val)
		}
	})

	t.Run("ForEach", func(t *testing.T) {
		b := newBackend()
		defer b.Close()
		put(t, b, []byte("prefix/a"), []byte("1"))
		put(t, b, []byte("prefix/b"), []byte("2"))
		put(t, b, []byte("prefix/c"), []byte("3"))
		put(t, b, []byte("other/x"), []byte("4"))

		tx, _ := b.BeginRO()
		defer tx.Discard()

		var count int
		err := tx.ForEach([]byte("prefix/"), func(key, value []byte) error {
			count++
			return nil
		})
		if err != nil {
			t.Fatalf("ForEach() error: %v", err)
		}
		if count != 3 {
			t.Errorf("ForEach(prefix/) count = %d, want 3", count)
		}
	})

	t.Run("RWCommitAtomic", func(t *testing.T) {
		b := newBackend()
		defer b.Close()

		tx, _ := b.BeginRW()
		tx.Put([]byte("a"), []byte("1"))
		tx.Put([]byte("b"), []byte("2"))
		if err := tx.Commit(); err != nil {
			t.Fatalf("Commit() error: %v", err)
		}

		va, _ := get(t, b, []byte("a"))
		vb, _ := get(t, b, []byte("b"))
		if !bytes.Equal(va, []byte("1")) || !bytes.Equal(vb, []byte("2")) {
			t.Error("both writes in a committed transaction should be visible")
		}
	})
}

func TestMemoryBackend(t *testing.T) {
	testBackend(t, func() Backend { return NewMemory() })
}

func TestBadgerBackend(t *testing.T) {
	testBackend(t, func() Backend {
		dir := t.TempDir()
		b, err := NewBadger(dir, 0)
		if err != nil {
			t.Fatalf("NewBadger() error: %v", err)
		}
		return b
	})
}

func TestBadgerBackend_Persistence(t *testing.T) {
	dir := t.TempDir()

	b1, err := NewBadger(dir, 0)
	if err != nil {
		t.Fatalf("NewBadger() error: %v", err)
	}
	tx, _ := b1.BeginRW()
	tx.Put([]byte("persist"), []byte("data"))
	tx.Commit()
	b1.Close()

	b2, err := NewBadger(dir, 0)
	if err != nil {
		t.Fatalf("NewBadger() reopen error: %v", err)
	}
	defer b2.Close()

	ro, _ := b2.BeginRO()
	defer ro.Discard()
	val, err := ro.Get([]byte("persist"))
	if err != nil {
		t.Fatalf("Get() after reopen error: %v", err)
	}
	if !bytes.Equal(val, []byte("data")) {
		t.Errorf("persisted value = %q, want %q", val, "data")
	}
}
