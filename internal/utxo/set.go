// Package utxo implements the UTXO View & Cache (§4.B): a layered,
// read-through write-through view of the unspent-output set with
// tri-state cache entries and batch-commit flushing.
package utxo

import "github.com/mintledger/chainstate/pkg/types"

// UTXO is a past transaction output tagged with the height of the
// block that created it and whether it came from a block reward
// (subject to coinbase maturity rather than ordinary spend rules).
type UTXO struct {
	Value         types.Value   `json:"value"`
	Purpose       types.Purpose `json:"purpose"`
	Height        uint64        `json:"height"`
	IsBlockReward bool          `json:"is_block_reward"`
}

// View is a read-through UTXO view: get(outpoint) -> Option<UTXO> plus
// the view's best-block pointer (§4.B).
type View interface {
	// Get returns the UTXO at op and true if it is live in this view,
	// or (nil, false, nil) if it does not exist. A non-nil error
	// indicates a storage failure, not absence.
	Get(op types.Outpoint) (*UTXO, bool, error)

	// BestBlock returns the tip this view is consistent with.
	BestBlock() types.Hash
}
