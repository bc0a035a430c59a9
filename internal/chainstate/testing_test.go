package chainstate

import (
	"testing"

	"github.com/mintledger/chainstate/config"
	"github.com/mintledger/chainstate/internal/storage"
	"github.com/mintledger/chainstate/pkg/block"
	"github.com/mintledger/chainstate/pkg/tx"
	"github.com/mintledger/chainstate/pkg/types"
)

const testSubsidy = 1000

// testDifficulty is the fixed per-block difficulty used by every test
// block past genesis. Difficulty 1 sets the PoW target to the maximum
// possible hash value, so any header hash satisfies it — this lets
// tests build a chain of distinctly-weighted blocks without actually
// mining one.
const testDifficulty = 1

func testProtocol() *config.ProtocolConfig {
	return &config.ProtocolConfig{
		NetUpgrades: []config.NetUpgrade{
			{Height: 0, Consensus: config.ConsensusIgnore},
			{Height: 1, Consensus: config.ConsensusPoW, PoW: &config.PoWParams{
				InitialDifficulty: testDifficulty,
				TargetBlockTime:   1,
				RetargetInterval:  0,
			}},
		},
		BlockReward: testSubsidy,
	}
}

func testGenesisConfig() *config.Genesis {
	return &config.Genesis{
		ChainID:   "test",
		Timestamp: 1700000000,
		Alloc: map[string]uint64{
			"1111111111111111111111111111111111111111": 500_000,
		},
		Protocol: *testProtocol(),
	}
}

// newTestEngine builds a fresh in-memory Engine already seeded with
// genesis.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	backend := storage.NewMemory()
	e, err := New(backend, Config{Protocol: testProtocol()})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := e.InitFromGenesis(testGenesisConfig()); err != nil {
		t.Fatalf("InitFromGenesis() error: %v", err)
	}
	return e
}

// rewardAddr is a fixed valid address used as every test block's
// reward destination.
var rewardAddr = mustAddr("2222222222222222222222222222222222222222")

func mustAddr(s string) types.Address {
	a, err := types.ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// childBlock builds a structurally valid, reward-only block (no
// transactions) extending a parent identified by hash/height, stamped
// strictly after parentTimestamp.
func childBlock(parentHash types.Hash, parentHeight uint64, timestamp uint64) *block.Block {
	outputs := []tx.Output{
		{Value: types.Value{Coin: testSubsidy}, Purpose: types.Purpose{Kind: types.PurposeTransfer, Destination: rewardAddr}},
	}
	header := &block.Header{
		Version:    block.CurrentVersion,
		PrevHash:   parentHash,
		Timestamp:  timestamp,
		Height:     parentHeight + 1,
		Difficulty: testDifficulty,
	}
	blk := block.NewBlock(header, outputs, nil)
	header.MerkleRoot = block.ComputeMerkleRoot([]types.Hash{block.RewardOutputsHash(outputs)})
	return blk
}
