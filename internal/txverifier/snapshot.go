package txverifier

import (
	"github.com/mintledger/chainstate/internal/utxo"
	"github.com/mintledger/chainstate/pkg/types"
)

// Snapshot is everything needed to reverse a root Verifier's
// accumulated edits directly against a persisted utxo.Store and
// TokenRegistry, once the Verifier instance that produced them is
// gone — the shape a block-acceptance pipeline needs to persist
// alongside a connected block so a later reorg can disconnect it
// without replaying verification.
type Snapshot struct {
	SpentOutpoints   []types.Outpoint
	SpentUTXOs       []utxo.UTXO
	CreatedOutpoints []types.Outpoint
	IssuedTokens     []types.TokenID
}

// Snapshot assembles a Snapshot from every TxUndo a root Verifier has
// accumulated (one per connected transaction plus one for the block
// reward, keyed by transactable hash in v.undo). Order does not
// matter for RevertSnapshot: created outputs are deleted before spent
// ones are restored, and nothing in one transactable's undo can
// collide with another's within the same block.
func (v *Verifier) Snapshot() Snapshot {
	var snap Snapshot
	for _, undo := range v.undo {
		snap.SpentOutpoints = append(snap.SpentOutpoints, undo.SpentOutpoints...)
		snap.SpentUTXOs = append(snap.SpentUTXOs, undo.SpentUTXOs...)
		snap.CreatedOutpoints = append(snap.CreatedOutpoints, undo.CreatedOutpoints...)
		if undo.IssuedToken != nil {
			snap.IssuedTokens = append(snap.IssuedTokens, *undo.IssuedToken)
		}
	}
	return snap
}

// RevertSnapshot reverses a Snapshot directly against persistent
// storage: deletes every output the block created, restores every
// output it spent, and unregisters every token it issued. Mirrors
// applyUndo/revertBlock's shape but operates on the store layer
// instead of a live cache, since the Verifier that produced the
// snapshot need not still exist.
func RevertSnapshot(store *utxo.Store, tokens *TokenRegistry, snap Snapshot) error {
	for i := len(snap.CreatedOutpoints) - 1; i >= 0; i-- {
		if err := store.Delete(snap.CreatedOutpoints[i]); err != nil {
			return err
		}
	}
	for i, op := range snap.SpentOutpoints {
		u := snap.SpentUTXOs[i]
		if err := store.Put(op, &u); err != nil {
			return err
		}
	}
	for _, id := range snap.IssuedTokens {
		if err := tokens.Unregister(id); err != nil {
			return err
		}
	}
	return nil
}
