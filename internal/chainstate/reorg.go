package chainstate

import (
	"fmt"

	"github.com/mintledger/chainstate/internal/blockindex"
	"github.com/mintledger/chainstate/internal/blockstore"
	"github.com/mintledger/chainstate/internal/log"
	"github.com/mintledger/chainstate/internal/txverifier"
	"github.com/mintledger/chainstate/internal/utxo"
	"github.com/mintledger/chainstate/internal/verifystrategy"
	"github.com/mintledger/chainstate/pkg/types"
)

// MaxReorgDepth bounds how many blocks a single reorg may disconnect,
// the same backstop the teacher's collectBranch enforced against a
// pathological or adversarial fork.
const MaxReorgDepth = 1000

// ErrReorgTooDeep is returned when switching to newTip would require
// disconnecting more than MaxReorgDepth blocks.
var ErrReorgTooDeep = fmt.Errorf("chainstate: reorg exceeds max depth of %d blocks", MaxReorgDepth)

// reorgTo switches the active chain from its current tip to newTip,
// already known to be indexed and to carry more cumulative work.
// It walks newTip back to the common ancestor with the current main
// chain, disconnects every old-branch block down to that ancestor,
// then reconnects every new-branch block in height order — each
// disconnect and each connect committed as its own atomic storage
// transaction (§4.A), the same per-block granularity the teacher's
// Reorg used for its replay loop.
func (e *Engine) reorgTo(newTip types.Hash) error {
	forkHeight, newBranch, err := e.findForkPoint(newTip)
	if err != nil {
		return err
	}
	if len(newBranch) > MaxReorgDepth {
		return ErrReorgTooDeep
	}
	if e.state.Height-forkHeight > MaxReorgDepth {
		return ErrReorgTooDeep
	}

	for h := e.state.Height; h > forkHeight; h-- {
		if err := e.disconnectTipBlock(); err != nil {
			return fmt.Errorf("disconnect block at height %d: %w", h, err)
		}
	}

	for _, id := range newBranch {
		if err := e.reconnectBlock(id); err != nil {
			return fmt.Errorf("reconnect block %s: %w", id, err)
		}
	}

	log.Chainstate.Info().
		Str("new_tip", newTip.String()).
		Uint64("fork_height", forkHeight).
		Uint64("new_height", e.state.Height).
		Msg("reorg complete")
	return nil
}

// findForkPoint walks newTip back to the first ancestor that sits on
// the current main chain, returning that ancestor's height and the
// new-branch block ids in ascending (fork+1 ... newTip) order.
func (e *Engine) findForkPoint(newTip types.Hash) (uint64, []types.Hash, error) {
	ro, err := e.backend.BeginRO()
	if err != nil {
		return 0, nil, fmt.Errorf("begin fork-search transaction: %w", err)
	}
	defer ro.Discard()
	idx := blockindex.NewView(ro)

	var branch []types.Hash
	cur := newTip
	for {
		header, ok, err := idx.GetHeader(cur)
		if err != nil {
			return 0, nil, err
		}
		if !ok {
			return 0, nil, fmt.Errorf("%w: %s", blockindex.ErrUnknownBlock, cur)
		}

		onChain, ok, err := idx.BlockIDAtHeight(header.Height)
		if err != nil {
			return 0, nil, err
		}
		if ok && onChain == cur {
			// Found the common ancestor; cur itself is not part of
			// the new branch to reconnect.
			for i, j := 0, len(branch)-1; i < j; i, j = i+1, j-1 {
				branch[i], branch[j] = branch[j], branch[i]
			}
			return header.Height, branch, nil
		}

		branch = append(branch, cur)
		if header.Height == 0 {
			return 0, nil, fmt.Errorf("chainstate: reorg search reached genesis without finding a common ancestor")
		}
		cur = header.PrevHash
		if len(branch) > MaxReorgDepth {
			return 0, nil, ErrReorgTooDeep
		}
	}
}

// disconnectTipBlock reverses the active tip by one block: replays its
// stored undo snapshot against the UTXO/token stores, removes it from
// the height index, and rolls ChainState back to its parent.
func (e *Engine) disconnectTipBlock() error {
	rw, err := e.backend.BeginRW()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rw.Discard()

	idx := blockindex.NewMut(rw)
	bstore := blockstore.NewMut(rw)
	store := utxo.NewStoreMut(rw)
	tokens := txverifier.NewTokenRegistryMut(rw)

	tipID := e.state.TipHash
	header, ok, err := idx.GetHeader(tipID)
	if err != nil {
		return fmt.Errorf("load tip header: %w", err)
	}
	if !ok {
		return fmt.Errorf("chainstate: tip %s has no indexed header", tipID)
	}

	snap, err := bstore.GetUndo(tipID)
	if err != nil {
		return fmt.Errorf("load undo snapshot: %w", err)
	}
	if err := txverifier.RevertSnapshot(store, tokens, snap); err != nil {
		return fmt.Errorf("revert snapshot: %w", err)
	}

	minted, err := getMinted(rw, tipID)
	if err != nil {
		return fmt.Errorf("load minted amount: %w", err)
	}
	if minted > e.state.Supply {
		return fmt.Errorf("chainstate: supply underflow disconnecting %s", tipID)
	}

	if err := idx.RemoveMainChainAt(header.Height); err != nil {
		return fmt.Errorf("remove height index entry: %w", err)
	}
	if err := idx.SetBestBlockID(header.PrevHash); err != nil {
		return fmt.Errorf("roll back best block: %w", err)
	}
	if err := store.SetBestBlock(header.PrevHash); err != nil {
		return fmt.Errorf("roll back utxo best block: %w", err)
	}

	parentHeader, ok, err := idx.GetHeader(header.PrevHash)
	if err != nil {
		return fmt.Errorf("load parent header: %w", err)
	}
	var parentTimestamp uint64
	if ok {
		parentTimestamp = parentHeader.Timestamp
	}

	newSupply := e.state.Supply - minted
	newWork := e.state.CumulativeDifficulty - header.Difficulty

	if err := putSupply(rw, newSupply); err != nil {
		return fmt.Errorf("persist supply: %w", err)
	}
	if err := putCumDiff(rw, newWork); err != nil {
		return fmt.Errorf("persist cumulative difficulty: %w", err)
	}
	if err := bstore.DeleteUndo(tipID); err != nil {
		return fmt.Errorf("delete undo snapshot: %w", err)
	}

	if err := rw.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	e.state = ChainState{
		Height:               header.Height - 1,
		TipHash:              header.PrevHash,
		TipTimestamp:         parentTimestamp,
		Supply:               newSupply,
		CumulativeDifficulty: newWork,
	}
	return nil
}

// reconnectBlock connects an already-indexed, already-structurally-valid
// side-branch block (by id) on top of the current tip, recomputing its
// median-time-past fresh since the active tip has moved since it was
// first recorded.
func (e *Engine) reconnectBlock(id types.Hash) error {
	rw, err := e.backend.BeginRW()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rw.Discard()

	idx := blockindex.NewMut(rw)
	bstore := blockstore.NewMut(rw)
	store := utxo.NewStoreMut(rw)
	tokens := txverifier.NewTokenRegistryMut(rw)

	blk, err := bstore.GetBlock(id)
	if err != nil {
		return fmt.Errorf("load block: %w", err)
	}
	if blk.Header.PrevHash != e.state.TipHash {
		return fmt.Errorf("chainstate: block %s does not extend the rolled-back tip", id)
	}

	medianTimePast, err := e.computeMedianTimePast(idx, blk.Header.PrevHash)
	if err != nil {
		return fmt.Errorf("compute median time past: %w", err)
	}

	subsidy := e.protocol.BlockSubsidyAt(blk.Header.Height)
	result, err := verifystrategy.VerifyBlock(e.policy, store, tokens, e.coinbaseMaturity, blk, medianTimePast, subsidy)
	if err != nil {
		return fmt.Errorf("verify block: %w", err)
	}

	snap := result.Verifier.Snapshot()
	if err := result.Verifier.FlushToStore(store, tokens); err != nil {
		return fmt.Errorf("flush verified block: %w", err)
	}
	if err := bstore.PutUndo(id, snap); err != nil {
		return fmt.Errorf("store undo: %w", err)
	}
	if err := idx.SetMainChainAt(blk.Header.Height, id); err != nil {
		return fmt.Errorf("set main-chain entry: %w", err)
	}
	if err := idx.SetBestBlockID(id); err != nil {
		return fmt.Errorf("set best block: %w", err)
	}

	rewardTotal, err := txverifier.TotalRewardValue(blk.RewardOutputs)
	if err != nil {
		return fmt.Errorf("sum reward outputs: %w", err)
	}
	var minted uint64
	if rewardTotal > result.TotalFees {
		minted = rewardTotal - result.TotalFees
	}
	newSupply := e.state.Supply + minted
	newWork := e.state.CumulativeDifficulty + blk.Header.Difficulty

	if err := putMinted(rw, id, minted); err != nil {
		return fmt.Errorf("persist minted amount: %w", err)
	}
	if err := putSupply(rw, newSupply); err != nil {
		return fmt.Errorf("persist supply: %w", err)
	}
	if err := putCumDiff(rw, newWork); err != nil {
		return fmt.Errorf("persist cumulative difficulty: %w", err)
	}
	if err := putCumulativeWork(rw, id, newWork); err != nil {
		return fmt.Errorf("persist block work: %w", err)
	}

	if err := rw.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	e.state = ChainState{
		Height:               blk.Header.Height,
		TipHash:              id,
		TipTimestamp:         blk.Header.Timestamp,
		Supply:               newSupply,
		CumulativeDifficulty: newWork,
	}
	return nil
}
