package types

import "fmt"

// SourceKind tags what an OutpointSource refers to: a regular
// transaction output, or a block-reward (coinbase) output. Keeping the
// tag on the type, rather than overloading the zero value, avoids bugs
// where a block-reward source is mistaken for a transaction id.
type SourceKind uint8

const (
	SourceTransaction SourceKind = iota
	SourceBlockReward
)

func (k SourceKind) String() string {
	if k == SourceBlockReward {
		return "block-reward"
	}
	return "transaction"
}

// OutpointSource identifies what produced the outputs an Outpoint
// indexes into: either a transaction id or a block id (for the
// block's reward outputs).
type OutpointSource struct {
	Kind SourceKind `json:"kind"`
	ID   Hash        `json:"id"`
}

// TxSource builds an OutpointSource referring to a transaction.
func TxSource(txID Hash) OutpointSource {
	return OutpointSource{Kind: SourceTransaction, ID: txID}
}

// BlockRewardSource builds an OutpointSource referring to a block's
// reward outputs.
func BlockRewardSource(blockID Hash) OutpointSource {
	return OutpointSource{Kind: SourceBlockReward, ID: blockID}
}

// IsBlockReward reports whether this source refers to a block reward.
func (s OutpointSource) IsBlockReward() bool {
	return s.Kind == SourceBlockReward
}

func (s OutpointSource) String() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.ID)
}

// Outpoint references a specific output produced by a transaction or a
// block reward.
type Outpoint struct {
	Source OutpointSource `json:"source"`
	Index  uint32         `json:"index"`
}

// NewOutpoint builds an Outpoint spending a transaction output.
func NewOutpoint(txID Hash, index uint32) Outpoint {
	return Outpoint{Source: TxSource(txID), Index: index}
}

// NewRewardOutpoint builds an Outpoint spending a block-reward output.
func NewRewardOutpoint(blockID Hash, index uint32) Outpoint {
	return Outpoint{Source: BlockRewardSource(blockID), Index: index}
}

// IsZero returns true if the outpoint has a zero source id and index.
func (o Outpoint) IsZero() bool {
	return o.Source.ID.IsZero() && o.Index == 0
}

// String returns "kind:id:index".
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.Source, o.Index)
}
