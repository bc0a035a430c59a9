package utxo

import (
	"errors"
	"fmt"

	"github.com/mintledger/chainstate/pkg/types"
)

// status tags a CachedView entry's relationship to its parent view (§4.B):
// an entry created in this layer that did not exist below it, one that
// overwrites a value that did exist below it, or one that marks a value
// spent.
type status uint8

const (
	statusFresh status = iota
	statusModified
	statusErased
)

type entry struct {
	status status
	utxo   *UTXO // nil when status == statusErased
}

// ErrEraseNonexistent is returned when flushing an Erased entry whose
// outpoint is absent from both the child cache's local overrides and
// everything beneath the parent it is flushed into.
var ErrEraseNonexistent = errors.New("utxo: cannot erase outpoint that does not exist")

// CachedView layers tri-state edits (Fresh/Modified/Erased) over a
// parent View, so a block's tentative spends and creations can be
// built up, inspected, and either discarded or flushed without
// touching the parent until the caller chooses to (§4.B).
type CachedView struct {
	parent  View
	best    types.Hash
	bestSet bool
	entries map[types.Outpoint]entry
}

// NewCachedView creates a cache layered over parent.
func NewCachedView(parent View) *CachedView {
	return &CachedView{parent: parent, entries: make(map[types.Outpoint]entry)}
}

// Get implements View: local overrides take precedence over the parent.
func (c *CachedView) Get(op types.Outpoint) (*UTXO, bool, error) {
	if e, ok := c.entries[op]; ok {
		if e.status == statusErased {
			return nil, false, nil
		}
		return e.utxo, true, nil
	}
	return c.parent.Get(op)
}

// BestBlock implements View.
func (c *CachedView) BestBlock() types.Hash {
	if c.bestSet {
		return c.best
	}
	return c.parent.BestBlock()
}

// SetBestBlock records this layer's tip, overriding the parent's until flushed.
func (c *CachedView) SetBestBlock(h types.Hash) {
	c.best = h
	c.bestSet = true
}

// AddUTXO creates a new UTXO at op. It is an error for op to already
// be live in this view.
func (c *CachedView) AddUTXO(op types.Outpoint, u *UTXO) error {
	if existing, ok, err := c.Get(op); err != nil {
		return err
	} else if ok && existing != nil {
		return fmt.Errorf("utxo: outpoint %s already exists", op)
	}
	c.entries[op] = entry{status: statusFresh, utxo: u}
	return nil
}

// SpendUTXO marks op as spent in this layer.
func (c *CachedView) SpendUTXO(op types.Outpoint) (*UTXO, error) {
	existing, ok, err := c.Get(op)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("utxo: outpoint %s does not exist", op)
	}
	if e, local := c.entries[op]; local && e.status == statusFresh {
		// Spending something created in this very layer annihilates it;
		// no trace should propagate to the parent on flush.
		delete(c.entries, op)
		return existing, nil
	}
	c.entries[op] = entry{status: statusErased}
	return existing, nil
}

// ModifyUTXO overwrites op's value in this layer without changing its
// Fresh/Modified provenance relative to the parent.
func (c *CachedView) ModifyUTXO(op types.Outpoint, u *UTXO) error {
	if e, ok := c.entries[op]; ok && e.status != statusErased {
		c.entries[op] = entry{status: e.status, utxo: u}
		return nil
	}
	if _, ok, err := c.Get(op); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("utxo: outpoint %s does not exist", op)
	}
	c.entries[op] = entry{status: statusModified, utxo: u}
	return nil
}

// Flush merges this cache's entries into parent, an intermediate
// *CachedView layer (FlushToStore writes into the storage-backed
// *Store instead), per the combination rules in §4.B:
//
//   - Fresh in child, absent in parent: becomes a pending create in parent.
//   - Fresh in child, Erased in parent: annihilate (net zero).
//   - Modified in child: always propagates as Modified.
//   - Erased in child, Fresh in parent: annihilate (parent's own create
//     never reached the store, so there is nothing left to erase).
//   - Erased in child, Modified/unchanged in parent: becomes Erased in parent.
//   - Erased in child, absent in parent: error, unless the value still
//     exists beneath parent (then it propagates as a plain Erased).
//
// Flush consumes c; c must not be used afterward.
func (c *CachedView) Flush(parent *CachedView) error {
	for op, e := range c.entries {
		pe, hasParentEntry := parent.entries[op]

		switch e.status {
		case statusFresh:
			if !hasParentEntry {
				parent.entries[op] = entry{status: statusFresh, utxo: e.utxo}
				continue
			}
			if pe.status == statusErased {
				delete(parent.entries, op)
				continue
			}
			return fmt.Errorf("utxo: flush: %s fresh in child collides with existing entry in parent", op)

		case statusModified:
			parent.entries[op] = entry{status: statusModified, utxo: e.utxo}

		case statusErased:
			if hasParentEntry {
				switch pe.status {
				case statusErased:
					return fmt.Errorf("utxo: flush: %s %w", op, ErrEraseNonexistent)
				case statusFresh:
					// Parent's own entry was never persisted; erasing it
					// here annihilates it rather than propagating a
					// dangling Erased the store never heard of.
					delete(parent.entries, op)
				default:
					parent.entries[op] = entry{status: statusErased}
				}
				continue
			}
			if _, found, err := parent.parent.Get(op); err != nil {
				return err
			} else if !found {
				return fmt.Errorf("utxo: flush: %s %w", op, ErrEraseNonexistent)
			}
			parent.entries[op] = entry{status: statusErased}
		}
	}
	if c.bestSet {
		parent.SetBestBlock(c.best)
	}
	return nil
}

// FlushToStore applies this cache's entries directly into a
// storage-backed Store within a single read-write transaction,
// implementing §4.A's "one rw-transaction per accepted block". Consumes c.
func (c *CachedView) FlushToStore(store *Store) error {
	for op, e := range c.entries {
		switch e.status {
		case statusFresh, statusModified:
			if err := store.Put(op, e.utxo); err != nil {
				return err
			}
		case statusErased:
			if has, err := store.Has(op); err != nil {
				return err
			} else if !has {
				return fmt.Errorf("utxo: flush to store: %s %w", op, ErrEraseNonexistent)
			}
			if err := store.Delete(op); err != nil {
				return err
			}
		}
	}
	if c.bestSet {
		if err := store.SetBestBlock(c.best); err != nil {
			return err
		}
	}
	return nil
}

// Consume freezes this cache's edits for handoff to a flush step,
// matching the "consumed cache" shape described in §4.B: once
// consumed, it carries no live parent pointer and exists only to be
// flushed exactly once.
type ConsumedCache struct {
	entries map[types.Outpoint]entry
	best    types.Hash
	bestSet bool
}

// Consume detaches this cache's edits from its parent, returning a
// value that can only be flushed, not further read or mutated.
func (c *CachedView) Consume() *ConsumedCache {
	cc := &ConsumedCache{entries: c.entries, best: c.best, bestSet: c.bestSet}
	c.entries = nil
	return cc
}

// Flush applies a consumed cache's edits into parent, following the
// same combination rules as CachedView.Flush.
func (cc *ConsumedCache) Flush(parent *CachedView) error {
	tmp := &CachedView{entries: cc.entries, best: cc.best, bestSet: cc.bestSet}
	return tmp.Flush(parent)
}
