package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// BadgerBackend implements Backend using Badger.
type BadgerBackend struct {
	db *badger.DB
}

// NewBadger opens (creating if absent) a Badger database at path.
func NewBadger(path string, cacheSizeMB int) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // chainstate logs through internal/log, not badger's own logger
	if cacheSizeMB > 0 {
		opts.BlockCacheSize = int64(cacheSizeMB) << 20
	}

	db, err := badger.Open(opts)
	if err != nil {
		errMsg := err.Error()
		if strings.Contains(errMsg, "Cannot acquire directory lock") ||
			strings.Contains(errMsg, "resource temporarily unavailable") {
			return nil, fmt.Errorf("database at %s is locked by another process (is another chainstated instance running?): %w", path, err)
		}
		return nil, fmt.Errorf("open database at %s: %w", path, err)
	}
	return &BadgerBackend{db: db}, nil
}

func (b *BadgerBackend) BeginRO() (ReadTx, error) {
	return &badgerTx{txn: b.db.NewTransaction(false)}, nil
}

func (b *BadgerBackend) BeginRW() (ReadWriteTx, error) {
	return &badgerTx{txn: b.db.NewTransaction(true), writable: true}, nil
}

func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

// badgerTx wraps a single badger.Txn held open for the lifetime of a
// connect/disconnect step.
type badgerTx struct {
	txn      *badger.Txn
	writable bool
}

func (t *badgerTx) Get(key []byte) ([]byte, error) {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return item.ValueCopy(nil)
}

func (t *badgerTx) Has(key []byte) (bool, error) {
	_, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("badger has: %w", err)
	}
	return true, nil
}

func (t *badgerTx) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		val, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("badger iterate: %w", err)
		}
		if err := fn(key, val); err != nil {
			return err
		}
	}
	return nil
}

func (t *badgerTx) Put(key, value []byte) error {
	if !t.writable {
		return fmt.Errorf("storage: write on read-only transaction")
	}
	if err := t.txn.Set(key, value); err != nil {
		return fmt.Errorf("badger put: %w", err)
	}
	return nil
}

func (t *badgerTx) Delete(key []byte) error {
	if !t.writable {
		return fmt.Errorf("storage: delete on read-only transaction")
	}
	if err := t.txn.Delete(key); err != nil {
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

func (t *badgerTx) Commit() error {
	if err := t.txn.Commit(); err != nil {
		return fmt.Errorf("badger commit: %w", err)
	}
	return nil
}

func (t *badgerTx) Discard() {
	t.txn.Discard()
}
