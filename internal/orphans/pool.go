// Package orphans buffers blocks whose parent is not yet known (§4.G).
// It has no teacher analog — klingnet always required blocks to arrive
// with a known parent — so the FIFO-eviction, cascade-removal shape
// here is derived directly from spec.md's own orphan-handling
// description and the open-question resolution fixing the pool's
// capacity and eviction policy.
package orphans

import (
	"github.com/mintledger/chainstate/pkg/block"
	"github.com/mintledger/chainstate/pkg/types"
)

// DefaultCapacity is used when a caller configures MaxOrphans <= 0.
const DefaultCapacity = 100

// Pool buffers blocks whose parent is not (yet) present in the block
// index. Not safe for concurrent use — callers reach it exclusively
// through the single chainstate actor (§5).
type Pool struct {
	capacity int
	byID     map[types.Hash]*block.Block
	byParent map[types.Hash]map[types.Hash]struct{}
	order    []types.Hash // insertion order, oldest first, for FIFO eviction
}

// NewPool creates an orphan pool bounded at capacity blocks. A
// capacity <= 0 falls back to DefaultCapacity.
func NewPool(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool{
		capacity: capacity,
		byID:     make(map[types.Hash]*block.Block),
		byParent: make(map[types.Hash]map[types.Hash]struct{}),
	}
}

// Len returns the number of blocks currently buffered.
func (p *Pool) Len() int { return len(p.byID) }

// Has reports whether id is currently buffered as an orphan.
func (p *Pool) Has(id types.Hash) bool {
	_, ok := p.byID[id]
	return ok
}

// Add buffers blk, keyed by its own id and indexed by its declared
// parent. If the pool is already at capacity, the oldest-inserted
// orphan is evicted first; Add reports that evicted id, if any.
//
// Adding a block that's already buffered is a no-op (idempotent on
// duplicate delivery, a normal occurrence when a block arrives from
// more than one source before its parent resolves).
func (p *Pool) Add(blk *block.Block) (evictedID types.Hash, evicted bool) {
	id := blk.Header.Hash()
	if _, ok := p.byID[id]; ok {
		return types.Hash{}, false
	}

	if len(p.byID) >= p.capacity {
		evictedID = p.order[0]
		p.order = p.order[1:]
		p.remove(evictedID)
		evicted = true
	}

	p.byID[id] = blk
	p.order = append(p.order, id)

	parent := blk.Header.PrevHash
	children, ok := p.byParent[parent]
	if !ok {
		children = make(map[types.Hash]struct{})
		p.byParent[parent] = children
	}
	children[id] = struct{}{}

	return evictedID, evicted
}

// All returns every currently buffered orphan, oldest-inserted first.
// The caller must not mutate the returned blocks; it is a read-only
// snapshot for enumeration (e.g. bootstrap export), not a handle into
// the pool's own storage.
func (p *Pool) All() []*block.Block {
	out := make([]*block.Block, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.byID[id])
	}
	return out
}

// Release removes and returns every orphan directly parented on
// parentID — called once parentID is connected, so these blocks can
// re-enter the acceptance pipeline.
func (p *Pool) Release(parentID types.Hash) []*block.Block {
	children, ok := p.byParent[parentID]
	if !ok {
		return nil
	}

	released := make([]*block.Block, 0, len(children))
	for id := range children {
		released = append(released, p.byID[id])
		p.remove(id)
	}
	delete(p.byParent, parentID)
	return released
}

// RemoveDescendants evicts rootID's entire orphaned descendant chain —
// called when rootID is found invalid, mirroring the FailedAncestor
// propagation described for the block index in §4.G "Status flags":
// an orphan can never be reconsidered once its root is known-bad.
// Returns the ids removed.
func (p *Pool) RemoveDescendants(rootID types.Hash) []types.Hash {
	var removed []types.Hash
	queue := []types.Hash{rootID}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]

		children, ok := p.byParent[parent]
		if !ok {
			continue
		}
		for id := range children {
			removed = append(removed, id)
			queue = append(queue, id)
		}
		delete(p.byParent, parent)
	}
	for _, id := range removed {
		p.remove(id)
	}
	return removed
}

// remove deletes id from byID, order, and its parent's child index.
func (p *Pool) remove(id types.Hash) {
	if blk, ok := p.byID[id]; ok {
		parent := blk.Header.PrevHash
		if children, ok := p.byParent[parent]; ok {
			delete(children, id)
			if len(children) == 0 {
				delete(p.byParent, parent)
			}
		}
	}

	delete(p.byID, id)
	for i, o := range p.order {
		if o == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}
