// Package block defines block types and validation.
package block

import "github.com/mintledger/chainstate/pkg/tx"

// Block is an ordered list of signed transactions plus the
// block-reward output list minted by this block (§3). The reward is
// not itself a transaction: it has no inputs and is not subject to
// signature verification, only to the consensus engine's subsidy rule.
type Block struct {
	Header        *Header           `json:"header"`
	RewardOutputs []tx.Output       `json:"reward_outputs"`
	Transactions  []*tx.Transaction `json:"transactions"`
}

// NewBlock creates a new block with the given header, reward outputs,
// and transactions.
func NewBlock(header *Header, rewardOutputs []tx.Output, txs []*tx.Transaction) *Block {
	return &Block{
		Header:        header,
		RewardOutputs: rewardOutputs,
		Transactions:  txs,
	}
}
