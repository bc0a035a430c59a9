// Package chainstate implements the Block Acceptance Pipeline, reorg
// logic, event bus, and bootstrap import/export (§4.G, §4.H, §4.I) —
// the orchestration layer tying together internal/blockindex,
// internal/blockstore, internal/utxo, internal/txverifier,
// internal/verifystrategy, internal/consensus, and internal/orphans
// into one chain-state engine, grounded on teacher internal/chain's
// Chain/State/ProcessBlock/Reorg shape and generalized to this
// module's net-upgrade consensus schedule and cache-backed storage
// layer.
package chainstate

import (
	"encoding/binary"

	"github.com/mintledger/chainstate/internal/blockindex"
	"github.com/mintledger/chainstate/internal/storage"
	"github.com/mintledger/chainstate/pkg/types"
)

var (
	keySupply  = []byte("e/supply")
	keyCumDiff = []byte("e/cumdiff")
)

// ChainState is the chain's cursor: the tip identity plus the running
// aggregates (supply, cumulative work) that must move atomically with
// it on every connect, disconnect, and reorg.
type ChainState struct {
	Height               uint64
	TipHash              types.Hash
	TipTimestamp         uint64
	Supply               uint64
	CumulativeDifficulty uint64
}

// IsGenesis reports whether no block has been connected yet.
func (s ChainState) IsGenesis() bool {
	return s.Height == 0 && s.TipHash.IsZero()
}

// loadState recovers a ChainState from storage: the tip identity comes
// from the block index's best-block pointer, the aggregates from this
// package's own keyspace.
func loadState(tx storage.ReadTx, idx *blockindex.Index) (ChainState, error) {
	tip := idx.BestBlockID()
	if tip.IsZero() {
		return ChainState{}, nil
	}

	height, ok, err := idx.BlockHeight(tip)
	if err != nil {
		return ChainState{}, err
	}
	if !ok {
		return ChainState{}, nil
	}

	header, ok, err := idx.GetHeader(tip)
	if err != nil {
		return ChainState{}, err
	}
	var ts uint64
	if ok {
		ts = header.Timestamp
	}

	supply, err := readUint64(tx, keySupply)
	if err != nil {
		return ChainState{}, err
	}
	cumDiff, err := readUint64(tx, keyCumDiff)
	if err != nil {
		return ChainState{}, err
	}

	return ChainState{
		Height:               height,
		TipHash:              tip,
		TipTimestamp:         ts,
		Supply:               supply,
		CumulativeDifficulty: cumDiff,
	}, nil
}

func readUint64(tx storage.ReadTx, key []byte) (uint64, error) {
	data, err := tx.Get(key)
	if err == storage.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(data), nil
}

func writeUint64(rw storage.ReadWriteTx, key []byte, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return rw.Put(key, buf[:])
}

func putSupply(rw storage.ReadWriteTx, v uint64) error  { return writeUint64(rw, keySupply, v) }
func putCumDiff(rw storage.ReadWriteTx, v uint64) error { return writeUint64(rw, keyCumDiff, v) }
