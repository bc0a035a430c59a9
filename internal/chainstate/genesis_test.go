package chainstate

import (
	"testing"

	"github.com/mintledger/chainstate/config"
	"github.com/mintledger/chainstate/pkg/block"
	"github.com/mintledger/chainstate/pkg/types"
)

func TestBuildGenesisBlock_NilConfig(t *testing.T) {
	if _, err := BuildGenesisBlock(nil); err == nil {
		t.Fatal("BuildGenesisBlock(nil) should error")
	}
}

func TestBuildGenesisBlock_ValidatesClean(t *testing.T) {
	gen := &config.Genesis{
		ChainID:   "test",
		Timestamp: 1700000000,
		Alloc: map[string]uint64{
			"1111111111111111111111111111111111111111": 1_000_000,
		},
	}
	blk, err := BuildGenesisBlock(gen)
	if err != nil {
		t.Fatalf("BuildGenesisBlock() error: %v", err)
	}
	if blk.Header.Height != 0 {
		t.Errorf("Height = %d, want 0", blk.Header.Height)
	}
	if !blk.Header.PrevHash.IsZero() {
		t.Errorf("PrevHash = %s, want zero", blk.Header.PrevHash)
	}
	if len(blk.RewardOutputs) != 1 {
		t.Fatalf("RewardOutputs = %d, want 1", len(blk.RewardOutputs))
	}

	wantRoot := block.ComputeMerkleRoot([]types.Hash{block.RewardOutputsHash(blk.RewardOutputs)})
	if blk.Header.MerkleRoot != wantRoot {
		t.Errorf("MerkleRoot = %s, want %s", blk.Header.MerkleRoot, wantRoot)
	}

	if err := blk.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestBuildGenesisBlock_DeterministicOrdering(t *testing.T) {
	gen := &config.Genesis{
		Timestamp: 1700000000,
		Alloc: map[string]uint64{
			"2222222222222222222222222222222222222222": 10,
			"1111111111111111111111111111111111111111": 20,
		},
	}
	a, err := BuildGenesisBlock(gen)
	if err != nil {
		t.Fatalf("BuildGenesisBlock() error: %v", err)
	}
	b2, err := BuildGenesisBlock(gen)
	if err != nil {
		t.Fatalf("BuildGenesisBlock() error: %v", err)
	}
	if a.Header.MerkleRoot != b2.Header.MerkleRoot {
		t.Error("BuildGenesisBlock() is not deterministic across calls")
	}
	if a.RewardOutputs[0].Value.Coin != 20 {
		t.Errorf("first reward output coin = %d, want 20 (sorted by address)", a.RewardOutputs[0].Value.Coin)
	}
}

func TestBuildGenesisBlock_InvalidAddress(t *testing.T) {
	gen := &config.Genesis{
		Timestamp: 1700000000,
		Alloc: map[string]uint64{
			"not-a-real-address": 10,
		},
	}
	if _, err := BuildGenesisBlock(gen); err == nil {
		t.Fatal("BuildGenesisBlock() with an invalid alloc address should error")
	}
}
