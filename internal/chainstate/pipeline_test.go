package chainstate

import (
	"errors"
	"testing"

	"github.com/mintledger/chainstate/pkg/block"
	"github.com/mintledger/chainstate/pkg/types"
)

func TestSubmitBlock_NilBlock(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.SubmitBlock(nil, SourcePeer); !errors.Is(err, ErrNilBlock) {
		t.Fatalf("error = %v, want ErrNilBlock", err)
	}
}

func TestSubmitBlock_ConnectsTip(t *testing.T) {
	e := newTestEngine(t)
	state := e.State()
	blk := childBlock(state.TipHash, state.Height, state.TipTimestamp+100)

	outcome, err := e.SubmitBlock(blk, SourcePeer)
	if err != nil {
		t.Fatalf("SubmitBlock() error: %v", err)
	}
	if outcome != OutcomeConnected {
		t.Fatalf("outcome = %v, want OutcomeConnected", outcome)
	}

	newState := e.State()
	if newState.Height != 1 {
		t.Errorf("Height = %d, want 1", newState.Height)
	}
	if newState.TipHash != blk.Header.Hash() {
		t.Errorf("TipHash mismatch")
	}
	if newState.Supply != state.Supply+testSubsidy {
		t.Errorf("Supply = %d, want %d", newState.Supply, state.Supply+testSubsidy)
	}
}

func TestSubmitBlock_Duplicate(t *testing.T) {
	e := newTestEngine(t)
	state := e.State()
	blk := childBlock(state.TipHash, state.Height, state.TipTimestamp+100)

	if _, err := e.SubmitBlock(blk, SourcePeer); err != nil {
		t.Fatalf("first SubmitBlock() error: %v", err)
	}
	outcome, err := e.SubmitBlock(blk, SourcePeer)
	if err != nil {
		t.Fatalf("second SubmitBlock() error: %v", err)
	}
	if outcome != OutcomeDuplicate {
		t.Fatalf("outcome = %v, want OutcomeDuplicate", outcome)
	}
}

func TestSubmitBlock_OrphanWhenParentUnknown(t *testing.T) {
	e := newTestEngine(t)
	orphanParent := types.Hash{0xAB}
	blk := childBlock(orphanParent, 5, 1700001000)

	outcome, err := e.SubmitBlock(blk, SourcePeer)
	if err != nil {
		t.Fatalf("SubmitBlock() error: %v", err)
	}
	if outcome != OutcomeOrphaned {
		t.Fatalf("outcome = %v, want OutcomeOrphaned", outcome)
	}
}

func TestSubmitBlock_OrphanReleasedOnParentConnect(t *testing.T) {
	e := newTestEngine(t)
	state := e.State()

	b1 := childBlock(state.TipHash, state.Height, state.TipTimestamp+100)
	b2 := childBlock(b1.Header.Hash(), b1.Header.Height, b1.Header.Timestamp+100)

	outcome, err := e.SubmitBlock(b2, SourcePeer)
	if err != nil {
		t.Fatalf("submit b2 error: %v", err)
	}
	if outcome != OutcomeOrphaned {
		t.Fatalf("b2 outcome = %v, want OutcomeOrphaned", outcome)
	}

	outcome, err = e.SubmitBlock(b1, SourcePeer)
	if err != nil {
		t.Fatalf("submit b1 error: %v", err)
	}
	if outcome != OutcomeConnected {
		t.Fatalf("b1 outcome = %v, want OutcomeConnected", outcome)
	}

	if got := e.State().Height; got != 2 {
		t.Fatalf("Height after orphan release = %d, want 2 (b2 should have been resubmitted)", got)
	}
	if e.State().TipHash != b2.Header.Hash() {
		t.Fatal("tip should be b2 after orphan release")
	}
}

func TestSubmitBlock_SideBranchThenReorg(t *testing.T) {
	e := newTestEngine(t)
	state := e.State()

	a1 := childBlock(state.TipHash, state.Height, state.TipTimestamp+100)
	if outcome, err := e.SubmitBlock(a1, SourcePeer); err != nil || outcome != OutcomeConnected {
		t.Fatalf("a1: outcome=%v err=%v", outcome, err)
	}
	a2 := childBlock(a1.Header.Hash(), a1.Header.Height, a1.Header.Timestamp+100)
	if outcome, err := e.SubmitBlock(a2, SourcePeer); err != nil || outcome != OutcomeConnected {
		t.Fatalf("a2: outcome=%v err=%v", outcome, err)
	}

	// b1 is a side branch off genesis, same height as a1.
	b1 := childBlock(state.TipHash, state.Height, state.TipTimestamp+50)
	outcome, err := e.SubmitBlock(b1, SourcePeer)
	if err != nil {
		t.Fatalf("b1 error: %v", err)
	}
	if outcome != OutcomeSideBranch {
		t.Fatalf("b1 outcome = %v, want OutcomeSideBranch", outcome)
	}
	if e.State().TipHash != a2.Header.Hash() {
		t.Fatal("tip should still be a2 after a lighter side branch")
	}

	// b2, b3 overtake a1/a2's cumulative work (equal per-block difficulty
	// here, so a longer branch outweighs by block count).
	b2 := childBlock(b1.Header.Hash(), b1.Header.Height, b1.Header.Timestamp+50)
	if outcome, err := e.SubmitBlock(b2, SourcePeer); err != nil || outcome != OutcomeSideBranch {
		t.Fatalf("b2: outcome=%v err=%v", outcome, err)
	}
	b3 := childBlock(b2.Header.Hash(), b2.Header.Height, b2.Header.Timestamp+50)
	outcome, err = e.SubmitBlock(b3, SourcePeer)
	if err != nil {
		t.Fatalf("b3 error: %v", err)
	}
	if outcome != OutcomeReorged {
		t.Fatalf("b3 outcome = %v, want OutcomeReorged", outcome)
	}
	if e.State().TipHash != b3.Header.Hash() {
		t.Fatal("tip should be b3 after reorg")
	}
	if e.State().Height != 3 {
		t.Fatalf("Height after reorg = %d, want 3", e.State().Height)
	}
}

func TestSubmitBlock_GenesisViaSubmitBlockRejected(t *testing.T) {
	e := newTestEngine(t)
	gen, err := BuildGenesisBlock(testGenesisConfig())
	if err != nil {
		t.Fatalf("BuildGenesisBlock() error: %v", err)
	}
	outcome, err := e.SubmitBlock(gen, SourceLocal)
	if err != nil {
		t.Fatalf("resubmitting the active genesis should be a no-op duplicate, got error: %v", err)
	}
	if outcome != OutcomeDuplicate {
		t.Fatalf("outcome = %v, want OutcomeDuplicate", outcome)
	}
}

func TestSubmitBlock_BadHeight(t *testing.T) {
	e := newTestEngine(t)
	state := e.State()
	blk := childBlock(state.TipHash, state.Height, state.TipTimestamp+100)
	blk.Header.Height = 5 // break the parent-height link
	blk.Header.MerkleRoot = block.ComputeMerkleRoot([]types.Hash{block.RewardOutputsHash(blk.RewardOutputs)})

	if _, err := e.SubmitBlock(blk, SourcePeer); !errors.Is(err, ErrBadHeight) {
		t.Fatalf("error = %v, want ErrBadHeight", err)
	}
}

func TestSubmitBlock_TimestampNotPastMTP(t *testing.T) {
	e := newTestEngine(t)
	state := e.State()
	blk := childBlock(state.TipHash, state.Height, state.TipTimestamp) // not strictly greater
	if _, err := e.SubmitBlock(blk, SourcePeer); !errors.Is(err, ErrTimestampNotPastMTP) {
		t.Fatalf("error = %v, want ErrTimestampNotPastMTP", err)
	}
}
