package chainstate

// BlockSource tags where a submitted block came from (§4.G). Genesis
// is only ever submittable as SourceLocal — a peer claiming to hand us
// a fresh genesis block is never trusted to seed the chain.
type BlockSource int

const (
	// SourcePeer is a block received over the network.
	SourcePeer BlockSource = iota
	// SourceLocal is a block produced by this node (mining/sealing) or
	// fed in directly (bootstrap import, genesis init).
	SourceLocal
)

func (s BlockSource) String() string {
	if s == SourceLocal {
		return "local"
	}
	return "peer"
}

// Outcome reports what SubmitBlock actually did with a block.
type Outcome int

const (
	// OutcomeConnected means the block extended the active chain tip.
	OutcomeConnected Outcome = iota
	// OutcomeReorged means the block caused the active chain to switch
	// to a different branch (this block became, or is an ancestor of,
	// the new tip).
	OutcomeReorged
	// OutcomeSideBranch means the block was indexed but its branch
	// does not yet outweigh the active chain.
	OutcomeSideBranch
	// OutcomeOrphaned means the block's parent is not yet known; it
	// was buffered and will be reconsidered if its parent arrives.
	OutcomeOrphaned
	// OutcomeDuplicate means the block (by id) was already indexed.
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConnected:
		return "connected"
	case OutcomeReorged:
		return "reorged"
	case OutcomeSideBranch:
		return "side_branch"
	case OutcomeOrphaned:
		return "orphaned"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}
