package chainstate

import (
	"fmt"
	"sort"

	"github.com/mintledger/chainstate/config"
	"github.com/mintledger/chainstate/pkg/block"
	"github.com/mintledger/chainstate/pkg/tx"
	"github.com/mintledger/chainstate/pkg/types"
)

// BuildGenesisBlock builds the height-0 block from a genesis
// configuration: a zero PrevHash, no transactions, and one reward
// output per allocation — adapted from teacher CreateGenesisBlock,
// which minted allocations through a coinbase transaction; this
// module's block shape mints them through RewardOutputs instead,
// the same slot every other block's subsidy occupies.
func BuildGenesisBlock(gen *config.Genesis) (*block.Block, error) {
	if gen == nil {
		return nil, fmt.Errorf("chainstate: genesis config is nil")
	}

	addrs := make([]string, 0, len(gen.Alloc))
	for addr := range gen.Alloc {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	outputs := make([]tx.Output, 0, len(addrs))
	for _, addrStr := range addrs {
		addr, err := types.ParseAddress(addrStr)
		if err != nil {
			return nil, fmt.Errorf("chainstate: invalid alloc address %q: %w", addrStr, err)
		}
		outputs = append(outputs, tx.Output{
			Value:   types.Value{Coin: gen.Alloc[addrStr]},
			Purpose: types.Purpose{Kind: types.PurposeTransfer, Destination: addr},
		})
	}

	header := &block.Header{
		Version:   block.CurrentVersion,
		PrevHash:  types.Hash{},
		Timestamp: gen.Timestamp,
		Height:    0,
	}
	blk := block.NewBlock(header, outputs, nil)
	header.MerkleRoot = block.ComputeMerkleRoot([]types.Hash{block.RewardOutputsHash(outputs)})
	return blk, nil
}
