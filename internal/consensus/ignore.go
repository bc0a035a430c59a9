package consensus

import "github.com/mintledger/chainstate/pkg/block"

// Ignore accepts any block whose consensus data is empty, performing no
// further check. Used for the genesis bring-up interval of a
// NetUpgrades schedule and for test chains that don't need real work.
type Ignore struct{}

// NewIgnore creates an Ignore consensus engine.
func NewIgnore() *Ignore { return &Ignore{} }

// VerifyHeader accepts any header with no proof-of-work difficulty set;
// ConsensusData-variant mismatches (a PoW-looking header under an
// Ignore net upgrade) are caught by Selector before this is called.
func (i *Ignore) VerifyHeader(header *block.Header) error {
	return nil
}

// Prepare clears the header's PoW fields so it carries no consensus
// data under this rule.
func (i *Ignore) Prepare(header *block.Header) error {
	header.Difficulty = 0
	header.Nonce = 0
	return nil
}

// Seal is a no-op: an Ignore-consensus block requires no sealing work.
func (i *Ignore) Seal(blk *block.Block) error { return nil }
