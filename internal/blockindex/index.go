// Package blockindex implements the Block Index & Locator (§4.C): a
// store of every known block header (main chain or not), a height
// index over the active chain, ancestor walks, and the locator
// exchange used to find a common ancestor with a peer's chain.
package blockindex

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mintledger/chainstate/internal/storage"
	"github.com/mintledger/chainstate/pkg/block"
	"github.com/mintledger/chainstate/pkg/types"
)

// HeaderLimit bounds the number of headers GetHeaders returns in one call.
const HeaderLimit = 2000

// ErrInvalidAncestorHeight is returned by GetAncestor when the
// requested height is above the starting block's own height.
var ErrInvalidAncestorHeight = errors.New("blockindex: target height above block height")

// ErrUnknownBlock is returned when an operation references a header
// that has never been indexed.
var ErrUnknownBlock = errors.New("blockindex: unknown block")

var (
	prefixHeader = []byte("h/") // h/<hash(32)> -> header JSON (every known header)
	prefixHeight = []byte("i/") // i/<height(8)> -> hash(32) (main-chain index only)
	prefixTx     = []byte("x/") // x/<txid(32)> -> height(8)+blockid(32) (optional full tx index)
	prefixStatus = []byte("t/") // t/<hash(32)> -> status byte
	keyBest      = []byte("s/best")
)

// Status flags a block's validation outcome (§4.G "Status flags").
// Once a block fails validation, its descendants are transitively
// FailedAncestor and never reconsidered.
type Status byte

const (
	// StatusValid is the default: unknown blocks have no recorded
	// status, which Index.GetStatus reports as StatusValid (nothing
	// ever invalidated this chain of blocks).
	StatusValid Status = iota
	// StatusFailed marks a block that itself failed validation.
	StatusFailed
	// StatusFailedAncestor marks a block that descends from a
	// StatusFailed block, even if this block itself was never
	// individually checked.
	StatusFailedAncestor
)

func statusKey(id types.Hash) []byte {
	key := make([]byte, len(prefixStatus)+types.HashSize)
	copy(key, prefixStatus)
	copy(key[len(prefixStatus):], id[:])
	return key
}

func headerKey(id types.Hash) []byte {
	key := make([]byte, len(prefixHeader)+types.HashSize)
	copy(key, prefixHeader)
	copy(key[len(prefixHeader):], id[:])
	return key
}

func heightKey(h uint64) []byte {
	key := make([]byte, len(prefixHeight)+8)
	copy(key, prefixHeight)
	binary.BigEndian.PutUint64(key[len(prefixHeight):], h)
	return key
}

func txKey(id types.Hash) []byte {
	key := make([]byte, len(prefixTx)+types.HashSize)
	copy(key, prefixTx)
	copy(key[len(prefixTx):], id[:])
	return key
}

// Index is a storage-backed block index. Like utxo.Store, it wraps a
// single storage transaction and is meant to be used within one
// rw-transaction per accepted block (§4.A).
type Index struct {
	tx storage.ReadTx
}

// NewView wraps a read-only storage transaction.
func NewView(tx storage.ReadTx) *Index {
	return &Index{tx: tx}
}

// NewMut wraps a read-write storage transaction, allowing PutHeader,
// SetMainChainAt, RemoveMainChainAt, and SetBestBlockID.
func NewMut(tx storage.ReadWriteTx) *Index {
	return &Index{tx: tx}
}

func (idx *Index) rw() (storage.ReadWriteTx, error) {
	rw, ok := idx.tx.(storage.ReadWriteTx)
	if !ok {
		return nil, fmt.Errorf("blockindex: index is read-only")
	}
	return rw, nil
}

// PutHeader records a header by its hash, whether or not it ends up
// on the main chain. Structurally-valid, index-recorded blocks land
// here even before they're connected (§4.G).
func (idx *Index) PutHeader(h *block.Header) error {
	rw, err := idx.rw()
	if err != nil {
		return err
	}
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("header marshal: %w", err)
	}
	return rw.Put(headerKey(h.Hash()), data)
}

// GetHeader returns the header for id, if known.
func (idx *Index) GetHeader(id types.Hash) (*block.Header, bool, error) {
	data, err := idx.tx.Get(headerKey(id))
	if err == storage.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("header get: %w", err)
	}
	var h block.Header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, false, fmt.Errorf("header unmarshal: %w", err)
	}
	return &h, true, nil
}

// HasHeader reports whether id is indexed, regardless of main-chain status.
func (idx *Index) HasHeader(id types.Hash) (bool, error) {
	return idx.tx.Has(headerKey(id))
}

// SetMainChainAt records that id is the main-chain block at height h,
// called while connecting a block. The header itself must already
// have been written via PutHeader.
func (idx *Index) SetMainChainAt(h uint64, id types.Hash) error {
	rw, err := idx.rw()
	if err != nil {
		return err
	}
	return rw.Put(heightKey(h), id.Bytes())
}

// RemoveMainChainAt removes the height-index entry at h, called while
// disconnecting a block during a reorg.
func (idx *Index) RemoveMainChainAt(h uint64) error {
	rw, err := idx.rw()
	if err != nil {
		return err
	}
	return rw.Delete(heightKey(h))
}

// BlockIDAtHeight implements get_block_id_at_height: O(1) lookup
// against the height index.
func (idx *Index) BlockIDAtHeight(h uint64) (types.Hash, bool, error) {
	data, err := idx.tx.Get(heightKey(h))
	if err == storage.ErrNotFound {
		return types.Hash{}, false, nil
	}
	if err != nil {
		return types.Hash{}, false, fmt.Errorf("height index get: %w", err)
	}
	if len(data) != types.HashSize {
		return types.Hash{}, false, fmt.Errorf("corrupt height index entry at %d", h)
	}
	var id types.Hash
	copy(id[:], data)
	return id, true, nil
}

// BlockHeight implements get_block_height: the height recorded in id's header.
func (idx *Index) BlockHeight(id types.Hash) (uint64, bool, error) {
	h, ok, err := idx.GetHeader(id)
	if err != nil || !ok {
		return 0, ok, err
	}
	return h.Height, true, nil
}

// SetBestBlockID records the current main-chain tip.
func (idx *Index) SetBestBlockID(id types.Hash) error {
	rw, err := idx.rw()
	if err != nil {
		return err
	}
	return rw.Put(keyBest, id.Bytes())
}

// BestBlockID implements get_best_block_id. Returns the zero hash if
// no tip has ever been set.
func (idx *Index) BestBlockID() types.Hash {
	data, err := idx.tx.Get(keyBest)
	if err != nil || len(data) != types.HashSize {
		return types.Hash{}
	}
	var id types.Hash
	copy(id[:], data)
	return id
}

// GetAncestor implements get_ancestor: walks the parent chain from id
// to targetHeight. Fails with ErrInvalidAncestorHeight when
// targetHeight exceeds id's own height.
func (idx *Index) GetAncestor(id types.Hash, targetHeight uint64) (types.Hash, error) {
	h, ok, err := idx.GetHeader(id)
	if err != nil {
		return types.Hash{}, err
	}
	if !ok {
		return types.Hash{}, ErrUnknownBlock
	}
	if targetHeight > h.Height {
		return types.Hash{}, ErrInvalidAncestorHeight
	}

	cur := id
	curHeader := h
	for curHeader.Height > targetHeight {
		prev := curHeader.PrevHash
		prevHeader, ok, err := idx.GetHeader(prev)
		if err != nil {
			return types.Hash{}, err
		}
		if !ok {
			return types.Hash{}, fmt.Errorf("blockindex: broken ancestor chain at height %d", curHeader.Height)
		}
		cur = prev
		curHeader = prevHeader
	}
	return cur, nil
}

// GetLocator implements get_locator: block ids at heights
// tip, tip-1, tip-2, tip-4, tip-8, ... 1, 0 — exponential doubling
// after the tenth entry — used to find the most recent common
// ancestor with a peer's chain.
func (idx *Index) GetLocator(tip types.Hash) ([]types.Hash, error) {
	tipHeight, ok, err := idx.BlockHeight(tip)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownBlock
	}

	var locator []types.Hash
	step := uint64(1)
	height := tipHeight
	for count := 0; ; count++ {
		id, err := idx.GetAncestor(tip, height)
		if err != nil {
			return nil, err
		}
		locator = append(locator, id)
		if height == 0 {
			break
		}
		// Doubles starting at the 10th entry (count==9); Bitcoin Core's
		// CChain::GetLocator doubles one entry later (vHave.size() > 10).
		// spec.md's own prose and worked example disagree on which, and
		// no original_source exists to arbitrate.
		if count >= 9 {
			step *= 2
		}
		if height < step {
			height = 0
		} else {
			height -= step
		}
	}
	return locator, nil
}

// GetHeaders implements get_headers: finds the first locator entry
// present on the local main chain and returns up to HeaderLimit
// subsequent main-chain headers. If no locator entry is on the main
// chain, returns headers starting at genesis.
func (idx *Index) GetHeaders(locator []types.Hash) ([]*block.Header, error) {
	startHeight := uint64(0)
	found := false
	for _, id := range locator {
		h, ok, err := idx.BlockHeight(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		onChain, _, err := idx.BlockIDAtHeight(h)
		if err != nil {
			return nil, err
		}
		if onChain == id {
			startHeight = h + 1
			found = true
			break
		}
	}
	if !found {
		startHeight = 0
	}

	var headers []*block.Header
	for height := startHeight; len(headers) < HeaderLimit; height++ {
		id, ok, err := idx.BlockIDAtHeight(height)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		h, ok, err := idx.GetHeader(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		headers = append(headers, h)
	}
	return headers, nil
}

// PutTxLocation records where a transaction landed, for nodes that opt
// into the full transaction index (disabled by default — gated by the
// caller, not by Index itself).
func (idx *Index) PutTxLocation(txID types.Hash, height uint64, blockID types.Hash) error {
	rw, err := idx.rw()
	if err != nil {
		return err
	}
	data := make([]byte, 8+types.HashSize)
	binary.BigEndian.PutUint64(data, height)
	copy(data[8:], blockID[:])
	return rw.Put(txKey(txID), data)
}

// GetTxLocation looks up a transaction's recorded height and block id.
func (idx *Index) GetTxLocation(txID types.Hash) (height uint64, blockID types.Hash, ok bool, err error) {
	data, err := idx.tx.Get(txKey(txID))
	if err == storage.ErrNotFound {
		return 0, types.Hash{}, false, nil
	}
	if err != nil {
		return 0, types.Hash{}, false, fmt.Errorf("tx index get: %w", err)
	}
	if len(data) != 8+types.HashSize {
		return 0, types.Hash{}, false, fmt.Errorf("corrupt tx index entry for %s", txID)
	}
	height = binary.BigEndian.Uint64(data[:8])
	copy(blockID[:], data[8:])
	return height, blockID, true, nil
}

// DeleteTxLocation removes a transaction's recorded location, called
// while disconnecting the block that contained it.
func (idx *Index) DeleteTxLocation(txID types.Hash) error {
	rw, err := idx.rw()
	if err != nil {
		return err
	}
	return rw.Delete(txKey(txID))
}

// SetStatus records id's validation status. A block is never written
// back to StatusValid once failed: callers only ever move a block from
// unrecorded/Valid to Failed, or to FailedAncestor.
func (idx *Index) SetStatus(id types.Hash, status Status) error {
	rw, err := idx.rw()
	if err != nil {
		return err
	}
	return rw.Put(statusKey(id), []byte{byte(status)})
}

// GetStatus returns id's recorded validation status, defaulting to
// StatusValid when nothing was ever recorded.
func (idx *Index) GetStatus(id types.Hash) (Status, error) {
	data, err := idx.tx.Get(statusKey(id))
	if err == storage.ErrNotFound {
		return StatusValid, nil
	}
	if err != nil {
		return StatusValid, fmt.Errorf("status get: %w", err)
	}
	if len(data) != 1 {
		return StatusValid, fmt.Errorf("corrupt status entry for %s", id)
	}
	return Status(data[0]), nil
}

// FilterAlreadyExisting implements filter_already_existing_blocks:
// drops the leading run of ids already indexed, returning only the
// new suffix.
func (idx *Index) FilterAlreadyExisting(ids []types.Hash) ([]types.Hash, error) {
	i := 0
	for i < len(ids) {
		known, err := idx.HasHeader(ids[i])
		if err != nil {
			return nil, err
		}
		if !known {
			break
		}
		i++
	}
	return ids[i:], nil
}
