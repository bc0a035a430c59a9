package chainstate

import (
	"fmt"
	"time"

	"github.com/mintledger/chainstate/internal/blockindex"
	"github.com/mintledger/chainstate/internal/blockstore"
	"github.com/mintledger/chainstate/internal/log"
	"github.com/mintledger/chainstate/internal/txverifier"
	"github.com/mintledger/chainstate/internal/utxo"
	"github.com/mintledger/chainstate/internal/verifystrategy"
	"github.com/mintledger/chainstate/pkg/block"
	"github.com/mintledger/chainstate/pkg/types"
)

// SubmitBlock runs a candidate block through the acceptance pipeline
// (§4.G): structural validation, parent linkage (buffering the block
// as an orphan if its parent is unknown), consensus-header
// verification, then either connecting it to the active tip, recording
// it as a side branch, or triggering a reorg if its branch now
// outweighs the active chain.
func (e *Engine) SubmitBlock(blk *block.Block, source BlockSource) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submitBlock(blk, source)
}

// submitBlock is SubmitBlock's body, callable re-entrantly (without
// re-acquiring e.mu) so releasing buffered orphans after a successful
// connect can resubmit them in the same critical section.
func (e *Engine) submitBlock(blk *block.Block, source BlockSource) (Outcome, error) {
	if blk == nil || blk.Header == nil {
		return 0, ErrNilBlock
	}

	id := blk.Header.Hash()

	if blk.Header.Height == 0 {
		return e.submitGenesisCandidate(blk, id, source)
	}

	if e.state.IsGenesis() {
		return 0, ErrNotInitialized
	}

	if err := blk.Validate(); err != nil {
		return 0, fmt.Errorf("chainstate: structural validation: %w", err)
	}

	ro, err := e.backend.BeginRO()
	if err != nil {
		return 0, fmt.Errorf("chainstate: open read transaction: %w", err)
	}
	idx := blockindex.NewView(ro)
	bstore := blockstore.NewView(ro)

	known, err := bstore.HasBlock(id)
	if err != nil {
		ro.Discard()
		return 0, fmt.Errorf("chainstate: check known block: %w", err)
	}
	if known {
		ro.Discard()
		return OutcomeDuplicate, nil
	}

	parentHeader, parentKnown, err := idx.GetHeader(blk.Header.PrevHash)
	if err != nil {
		ro.Discard()
		return 0, fmt.Errorf("chainstate: look up parent header: %w", err)
	}
	if !parentKnown {
		ro.Discard()
		if evictedID, evicted := e.orphans.Add(blk); evicted {
			log.Chainstate.Debug().Str("evicted", evictedID.String()).Msg("orphan pool evicted oldest entry")
		}
		return OutcomeOrphaned, nil
	}
	if blk.Header.Height != parentHeader.Height+1 {
		ro.Discard()
		return 0, fmt.Errorf("%w: parent height %d implies %d, got %d",
			ErrBadHeight, parentHeader.Height, parentHeader.Height+1, blk.Header.Height)
	}

	parentStatus, err := idx.GetStatus(blk.Header.PrevHash)
	if err != nil {
		ro.Discard()
		return 0, fmt.Errorf("chainstate: read parent status: %w", err)
	}
	if parentStatus != blockindex.StatusValid {
		ro.Discard()
		e.markFailedAncestor(id)
		return 0, fmt.Errorf("%w: parent %s", ErrAncestorFailed, blk.Header.PrevHash)
	}

	if err := e.checkTimestamp(idx, blk); err != nil {
		ro.Discard()
		return 0, err
	}

	prevDifficulty := parentHeader.Difficulty
	ancestorTimestamp := e.ancestorTimestampFunc(idx)
	if err := e.selector.VerifyHeader(blk.Header, prevDifficulty, ancestorTimestamp); err != nil {
		ro.Discard()
		e.markFailed(id)
		return 0, fmt.Errorf("chainstate: consensus header check: %w", err)
	}

	medianTimePast, err := e.computeMedianTimePast(idx, blk.Header.PrevHash)
	if err != nil {
		ro.Discard()
		return 0, fmt.Errorf("chainstate: compute median time past: %w", err)
	}
	parentWork, err := getCumulativeWork(ro, blk.Header.PrevHash)
	if err != nil {
		ro.Discard()
		return 0, fmt.Errorf("chainstate: read parent cumulative work: %w", err)
	}
	ro.Discard()

	ownWork := parentWork + blk.Header.Difficulty

	outcome, err := e.connectOrRecord(blk, id, medianTimePast, ownWork)
	if err != nil {
		return 0, err
	}

	if outcome == OutcomeConnected || outcome == OutcomeReorged {
		for _, released := range e.orphans.Release(id) {
			if _, err := e.submitBlock(released, source); err != nil {
				log.Chainstate.Warn().Str("block", released.Header.Hash().String()).Err(err).Msg("released orphan rejected")
			}
		}
	}

	return outcome, nil
}

func (e *Engine) submitGenesisCandidate(blk *block.Block, id types.Hash, source BlockSource) (Outcome, error) {
	if source != SourceLocal {
		return 0, ErrInvalidBlockSource
	}
	if !e.state.IsGenesis() {
		if e.state.TipHash == id {
			return OutcomeDuplicate, nil
		}
		return 0, ErrAlreadyInitialized
	}
	return 0, fmt.Errorf("chainstate: submit a genesis block via InitFromGenesis, not SubmitBlock")
}

// checkTimestamp enforces the two timestamp bounds: not too far in the
// future relative to wall-clock time, and strictly greater than the
// median of the parent's last 11 ancestor timestamps (classic
// median-time-past, stricter than the teacher's plain
// "timestamp >= parent timestamp" monotonicity check).
func (e *Engine) checkTimestamp(idx *blockindex.Index, blk *block.Block) error {
	maxTime := uint64(time.Now().Add(maxFutureDrift).Unix())
	if blk.Header.Timestamp > maxTime {
		return fmt.Errorf("%w: timestamp %d exceeds max %d", ErrTimestampTooFarAhead, blk.Header.Timestamp, maxTime)
	}

	mtp, err := e.computeMedianTimePast(idx, blk.Header.PrevHash)
	if err != nil {
		return fmt.Errorf("chainstate: compute median time past: %w", err)
	}
	if blk.Header.Timestamp <= mtp {
		return fmt.Errorf("%w: timestamp %d, median %d", ErrTimestampNotPastMTP, blk.Header.Timestamp, mtp)
	}
	return nil
}

// computeMedianTimePast walks up to medianTimePastWindow ancestors
// starting at (and including) fromID and returns the median of their
// timestamps, the same construction Bitcoin uses to make locktime
// checks resistant to a single miner backdating one block.
func (e *Engine) computeMedianTimePast(idx *blockindex.Index, fromID types.Hash) (uint64, error) {
	var timestamps []uint64
	cur := fromID
	for i := 0; i < medianTimePastWindow; i++ {
		header, ok, err := idx.GetHeader(cur)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		timestamps = append(timestamps, header.Timestamp)
		if header.Height == 0 {
			break
		}
		cur = header.PrevHash
	}
	if len(timestamps) == 0 {
		return 0, nil
	}
	return median(timestamps), nil
}

func median(values []uint64) uint64 {
	sorted := append([]uint64(nil), values...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return sorted[len(sorted)/2]
}

// ancestorTimestampFunc adapts the block index's main-chain height
// lookup to consensus.AncestorTimestamp, used by PoW retargeting.
// Like the teacher's own getBlockTimestamp, this only resolves
// timestamps for blocks on the indexed main chain — a side branch
// being extended far enough to need its own retarget window would
// need its own ancestor walk, which §4.F's schedule never requires
// since only the active tip's branch is ever mined against.
func (e *Engine) ancestorTimestampFunc(idx *blockindex.Index) func(height uint64) (uint64, error) {
	return func(height uint64) (uint64, error) {
		id, ok, err := idx.BlockIDAtHeight(height)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("chainstate: no main-chain block at height %d", height)
		}
		header, ok, err := idx.GetHeader(id)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("chainstate: missing header for indexed block at height %d", height)
		}
		return header.Timestamp, nil
	}
}

// connectOrRecord indexes blk's header and decides its fate: connect
// directly if it extends the active tip, trigger a reorg if recording
// it as a side branch now makes that branch outweigh the active chain,
// or simply record it as a side branch otherwise.
func (e *Engine) connectOrRecord(blk *block.Block, id types.Hash, medianTimePast uint64, ownWork uint64) (Outcome, error) {
	if blk.Header.PrevHash == e.state.TipHash {
		if err := e.connectTip(blk, id, medianTimePast); err != nil {
			e.markFailed(id)
			return 0, err
		}
		return OutcomeConnected, nil
	}

	rw, err := e.backend.BeginRW()
	if err != nil {
		return 0, fmt.Errorf("chainstate: begin index transaction: %w", err)
	}
	idx := blockindex.NewMut(rw)
	bstore := blockstore.NewMut(rw)
	if err := idx.PutHeader(blk.Header); err != nil {
		rw.Discard()
		return 0, fmt.Errorf("chainstate: index side-branch header: %w", err)
	}
	if err := bstore.PutBlock(blk); err != nil {
		rw.Discard()
		return 0, fmt.Errorf("chainstate: store side-branch block: %w", err)
	}
	if err := putCumulativeWork(rw, id, ownWork); err != nil {
		rw.Discard()
		return 0, fmt.Errorf("chainstate: persist side-branch work: %w", err)
	}
	if err := rw.Commit(); err != nil {
		return 0, fmt.Errorf("chainstate: commit side-branch record: %w", err)
	}

	if ownWork <= e.state.CumulativeDifficulty {
		return OutcomeSideBranch, nil
	}

	if err := e.reorgTo(id); err != nil {
		return 0, fmt.Errorf("chainstate: reorg: %w", err)
	}
	return OutcomeReorged, nil
}

// connectTip applies blk directly on top of the active tip, all within
// one atomic storage transaction (§4.A).
func (e *Engine) connectTip(blk *block.Block, id types.Hash, medianTimePast uint64) error {
	rw, err := e.backend.BeginRW()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rw.Discard()

	idx := blockindex.NewMut(rw)
	bstore := blockstore.NewMut(rw)
	store := utxo.NewStoreMut(rw)
	tokens := txverifier.NewTokenRegistryMut(rw)

	if err := idx.PutHeader(blk.Header); err != nil {
		return fmt.Errorf("index header: %w", err)
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

	if err := bstore.PutBlock(blk); err != nil {
		return fmt.Errorf("store block: %w", err)
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

	log.Chainstate.Info().
		Str("block", id.String()).
		Uint64("height", blk.Header.Height).
		Uint64("fees", result.TotalFees).
		Msg("block connected")
	return nil
}

// markFailed records id as StatusFailed and cascades StatusFailedAncestor
// to every orphan descending from it still sitting in the pool.
func (e *Engine) markFailed(id types.Hash) {
	rw, err := e.backend.BeginRW()
	if err != nil {
		log.Chainstate.Error().Err(err).Msg("could not open transaction to mark block failed")
		return
	}
	idx := blockindex.NewMut(rw)
	if err := idx.SetStatus(id, blockindex.StatusFailed); err != nil {
		log.Chainstate.Error().Err(err).Msg("could not record failed status")
		rw.Discard()
		return
	}
	if err := rw.Commit(); err != nil {
		log.Chainstate.Error().Err(err).Msg("could not commit failed status")
		return
	}
	for _, descendant := range e.orphans.RemoveDescendants(id) {
		log.Chainstate.Debug().Str("orphan", descendant.String()).Msg("dropped orphan descending from failed block")
	}
}

// markFailedAncestor records id (an orphan block discovered to descend
// from an already-failed parent) as StatusFailedAncestor.
func (e *Engine) markFailedAncestor(id types.Hash) {
	rw, err := e.backend.BeginRW()
	if err != nil {
		log.Chainstate.Error().Err(err).Msg("could not open transaction to mark failed ancestor")
		return
	}
	idx := blockindex.NewMut(rw)
	if err := idx.SetStatus(id, blockindex.StatusFailedAncestor); err != nil {
		rw.Discard()
		return
	}
	if err := rw.Commit(); err != nil {
		log.Chainstate.Error().Err(err).Msg("could not commit failed-ancestor status")
	}
}
