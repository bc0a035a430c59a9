// Package blockstore persists raw block bodies and the undo snapshots
// needed to disconnect them (§4.G, §4.I). Height/tip/ancestor lookups
// and the optional tx-location index live in internal/blockindex —
// this package only knows how to get a full block in and out of
// storage by its own hash, grounded on teacher internal/chain/store.go's
// block/undo key layout, adapted from its raw storage.DB calls to the
// transaction-scoped storage.ReadTx/ReadWriteTx API the rest of this
// module's storage layer now uses.
package blockstore

import (
	"encoding/json"
	"fmt"

	"github.com/mintledger/chainstate/internal/storage"
	"github.com/mintledger/chainstate/internal/txverifier"
	"github.com/mintledger/chainstate/pkg/block"
	"github.com/mintledger/chainstate/pkg/types"
)

var (
	prefixBlock = []byte("B/") // B/<hash(32)> -> block JSON
	prefixUndo  = []byte("U/") // U/<hash(32)> -> txverifier.Snapshot JSON
)

func blockKey(id types.Hash) []byte {
	k := make([]byte, len(prefixBlock)+types.HashSize)
	copy(k, prefixBlock)
	copy(k[len(prefixBlock):], id[:])
	return k
}

func undoKey(id types.Hash) []byte {
	k := make([]byte, len(prefixUndo)+types.HashSize)
	copy(k, prefixUndo)
	copy(k[len(prefixUndo):], id[:])
	return k
}

// Store persists block bodies and their undo snapshots keyed by block
// id. Unlike internal/blockindex, which tracks the shape of the chain
// (headers, heights, the main-chain pointer), Store only ever answers
// "what were this block's bytes" and "how do I disconnect it".
type Store struct {
	tx storage.ReadTx
}

// NewView builds a read-only Store over tx.
func NewView(tx storage.ReadTx) *Store { return &Store{tx: tx} }

// NewMut builds a read-write Store over tx.
func NewMut(tx storage.ReadWriteTx) *Store { return &Store{tx: tx} }

func (s *Store) rw() (storage.ReadWriteTx, error) {
	rw, ok := s.tx.(storage.ReadWriteTx)
	if !ok {
		return nil, fmt.Errorf("blockstore: store opened read-only")
	}
	return rw, nil
}

// PutBlock stores blk's full body, keyed by its header hash.
func (s *Store) PutBlock(blk *block.Block) error {
	rw, err := s.rw()
	if err != nil {
		return err
	}
	data, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("blockstore: marshal block: %w", err)
	}
	return rw.Put(blockKey(blk.Header.Hash()), data)
}

// GetBlock retrieves a block by id.
func (s *Store) GetBlock(id types.Hash) (*block.Block, error) {
	data, err := s.tx.Get(blockKey(id))
	if err != nil {
		return nil, err
	}
	var blk block.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return nil, fmt.Errorf("blockstore: unmarshal block %s: %w", id, err)
	}
	return &blk, nil
}

// HasBlock reports whether a block body is stored for id.
func (s *Store) HasBlock(id types.Hash) (bool, error) {
	return s.tx.Has(blockKey(id))
}

// PutUndo stores the snapshot needed to disconnect the block id.
func (s *Store) PutUndo(id types.Hash, snap txverifier.Snapshot) error {
	rw, err := s.rw()
	if err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("blockstore: marshal undo %s: %w", id, err)
	}
	return rw.Put(undoKey(id), data)
}

// GetUndo retrieves the disconnect snapshot for block id.
func (s *Store) GetUndo(id types.Hash) (txverifier.Snapshot, error) {
	data, err := s.tx.Get(undoKey(id))
	if err != nil {
		return txverifier.Snapshot{}, err
	}
	var snap txverifier.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return txverifier.Snapshot{}, fmt.Errorf("blockstore: unmarshal undo %s: %w", id, err)
	}
	return snap, nil
}

// DeleteUndo removes the disconnect snapshot for block id, once it can
// no longer be needed (permanently below any plausible reorg depth).
func (s *Store) DeleteUndo(id types.Hash) error {
	rw, err := s.rw()
	if err != nil {
		return err
	}
	return rw.Delete(undoKey(id))
}
