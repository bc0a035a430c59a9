// Package storage implements the Storage Backend API: a transactional
// typed key-value interface with namespaces for blocks, block-index
// entries, the height index, UTXOs, block-undo records, and token
// auxiliary data.
//
// Unlike a per-call View/Update API, Backend hands out transactions
// that stay open across a whole block connect/disconnect step, so a
// caller can read and write within exactly one rw-transaction per
// accepted block, matching §4.A's "never mutates state outside a
// single rw-transaction per accepted block".
package storage

import "errors"

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// Backend opens transactions against the underlying key-value store.
type Backend interface {
	// BeginRO opens a read-only transaction observing a consistent
	// snapshot of the store.
	BeginRO() (ReadTx, error)

	// BeginRW opens a read-write transaction. Writes are invisible to
	// other transactions until Commit.
	BeginRW() (ReadWriteTx, error)

	Close() error
}

// ReadTx is a read-only view into the store.
type ReadTx interface {
	// Get returns ErrNotFound if key does not exist.
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)

	// ForEach iterates all keys under prefix in key order. The
	// callback receives copies of key and value; returning a non-nil
	// error stops iteration and is propagated to the caller.
	ForEach(prefix []byte, fn func(key, value []byte) error) error

	// Discard releases the transaction's resources without
	// committing. Safe to call after Commit; a no-op in that case.
	Discard()
}

// ReadWriteTx additionally stages writes, applied atomically on Commit.
type ReadWriteTx interface {
	ReadTx

	Put(key, value []byte) error
	Delete(key []byte) error

	// Commit applies all staged writes atomically. On error, no
	// writes are visible to subsequent transactions.
	Commit() error
}
