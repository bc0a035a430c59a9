package utxo

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/mintledger/chainstate/internal/storage"
	"github.com/mintledger/chainstate/pkg/types"
)

// Key prefixes for the UTXO store.
var (
	prefixUTXO  = []byte("u/") // u/<sourcekind><sourceid><index> -> UTXO JSON
	prefixAddr  = []byte("a/") // a/<address><sourcekind><sourceid><index> -> empty (index)
	prefixStake = []byte("k/") // k/<pooladdress><sourcekind><sourceid><index> -> empty (stake index)
	keyBestBlock = []byte("m/best")
)

// Store is a storage-backed UTXO View and mutator: the base of the
// view stack (§4.B), reading and writing a single storage transaction.
type Store struct {
	tx storage.ReadTx
}

// NewStoreView wraps a read-only storage transaction as a View.
func NewStoreView(tx storage.ReadTx) *Store {
	return &Store{tx: tx}
}

// NewStoreMut wraps a read-write storage transaction, additionally
// allowing Put/Delete/SetBestBlock.
func NewStoreMut(tx storage.ReadWriteTx) *Store {
	return &Store{tx: tx}
}

func (s *Store) rw() (storage.ReadWriteTx, error) {
	rw, ok := s.tx.(storage.ReadWriteTx)
	if !ok {
		return nil, fmt.Errorf("utxo: store is read-only")
	}
	return rw, nil
}

// outpointKey builds a storage key for an outpoint:
// prefix + sourcekind(1) + sourceid(32) + index(4).
func outpointKey(prefix []byte, op types.Outpoint) []byte {
	key := make([]byte, len(prefix)+1+types.HashSize+4)
	n := copy(key, prefix)
	key[n] = byte(op.Source.Kind)
	n++
	copy(key[n:], op.Source.ID[:])
	n += types.HashSize
	binary.BigEndian.PutUint32(key[n:], op.Index)
	return key
}

func utxoKey(op types.Outpoint) []byte {
	return outpointKey(prefixUTXO, op)
}

func addrKey(addr types.Address, op types.Outpoint) []byte {
	key := make([]byte, len(prefixAddr)+types.AddressSize+1+types.HashSize+4)
	n := copy(key, prefixAddr)
	copy(key[n:], addr[:])
	n += types.AddressSize
	key[n] = byte(op.Source.Kind)
	n++
	copy(key[n:], op.Source.ID[:])
	n += types.HashSize
	binary.BigEndian.PutUint32(key[n:], op.Index)
	return key
}

func stakeKey(pool types.Address, op types.Outpoint) []byte {
	key := make([]byte, len(prefixStake)+types.AddressSize+1+types.HashSize+4)
	n := copy(key, prefixStake)
	copy(key[n:], pool[:])
	n += types.AddressSize
	key[n] = byte(op.Source.Kind)
	n++
	copy(key[n:], op.Source.ID[:])
	n += types.HashSize
	binary.BigEndian.PutUint32(key[n:], op.Index)
	return key
}

// decodeOutpointSuffix parses the "sourcekind(1) + sourceid(32) + index(4)"
// tail common to every secondary-index key.
func decodeOutpointSuffix(tail []byte) (types.Outpoint, bool) {
	if len(tail) < 1+types.HashSize+4 {
		return types.Outpoint{}, false
	}
	var op types.Outpoint
	op.Source.Kind = types.SourceKind(tail[0])
	copy(op.Source.ID[:], tail[1:1+types.HashSize])
	op.Index = binary.BigEndian.Uint32(tail[1+types.HashSize:])
	return op, true
}

// Get implements View.
func (s *Store) Get(op types.Outpoint) (*UTXO, bool, error) {
	data, err := s.tx.Get(utxoKey(op))
	if err == storage.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("utxo get: %w", err)
	}
	var u UTXO
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, false, fmt.Errorf("utxo unmarshal: %w", err)
	}
	return &u, true, nil
}

// BestBlock implements View.
func (s *Store) BestBlock() types.Hash {
	data, err := s.tx.Get(keyBestBlock)
	if err != nil || len(data) != types.HashSize {
		return types.Hash{}
	}
	var h types.Hash
	copy(h[:], data)
	return h
}

// SetBestBlock records the tip this store's transaction is consistent
// with. Requires a read-write transaction.
func (s *Store) SetBestBlock(h types.Hash) error {
	rw, err := s.rw()
	if err != nil {
		return err
	}
	return rw.Put(keyBestBlock, h.Bytes())
}

// Put stores a UTXO and maintains the address and stake secondary indexes.
func (s *Store) Put(op types.Outpoint, u *UTXO) error {
	rw, err := s.rw()
	if err != nil {
		return err
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("utxo marshal: %w", err)
	}
	if err := rw.Put(utxoKey(op), data); err != nil {
		return fmt.Errorf("utxo put: %w", err)
	}
	if u.Purpose.Kind == types.PurposeTransfer || u.Purpose.Kind == types.PurposeStake {
		if err := rw.Put(addrKey(u.Purpose.Destination, op), []byte{}); err != nil {
			return fmt.Errorf("utxo addr index put: %w", err)
		}
	}
	if u.Purpose.Kind == types.PurposeStake {
		if err := rw.Put(stakeKey(u.Purpose.Destination, op), []byte{}); err != nil {
			return fmt.Errorf("utxo stake index put: %w", err)
		}
	}
	return nil
}

// Delete removes a UTXO and its secondary index entries.
func (s *Store) Delete(op types.Outpoint) error {
	rw, err := s.rw()
	if err != nil {
		return err
	}
	u, found, err := s.Get(op)
	if err != nil {
		return err
	}
	if found {
		if u.Purpose.Kind == types.PurposeTransfer || u.Purpose.Kind == types.PurposeStake {
			rw.Delete(addrKey(u.Purpose.Destination, op))
		}
		if u.Purpose.Kind == types.PurposeStake {
			rw.Delete(stakeKey(u.Purpose.Destination, op))
		}
	}
	if err := rw.Delete(utxoKey(op)); err != nil {
		return fmt.Errorf("utxo delete: %w", err)
	}
	return nil
}

// Has reports whether a UTXO exists for the given outpoint.
func (s *Store) Has(op types.Outpoint) (bool, error) {
	return s.tx.Has(utxoKey(op))
}

// ForEach iterates over every live UTXO in the store, in key order.
func (s *Store) ForEach(fn func(types.Outpoint, *UTXO) error) error {
	return s.tx.ForEach(prefixUTXO, func(key, value []byte) error {
		op, ok := decodeOutpointSuffix(key[len(prefixUTXO):])
		if !ok {
			return nil
		}
		var u UTXO
		if err := json.Unmarshal(value, &u); err != nil {
			return fmt.Errorf("utxo unmarshal: %w", err)
		}
		return fn(op, &u)
	})
}

// GetByAddress returns all live UTXOs paid to addr.
func (s *Store) GetByAddress(addr types.Address) ([]*UTXO, error) {
	prefix := make([]byte, len(prefixAddr)+types.AddressSize)
	n := copy(prefix, prefixAddr)
	copy(prefix[n:], addr[:])

	var utxos []*UTXO
	err := s.tx.ForEach(prefix, func(key, _ []byte) error {
		op, ok := decodeOutpointSuffix(key[len(prefix):])
		if !ok {
			return nil
		}
		u, found, err := s.Get(op)
		if err != nil || !found {
			return nil
		}
		utxos = append(utxos, u)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan address index: %w", err)
	}
	return utxos, nil
}

// GetStakes returns all live stake UTXOs locked into the given pool address.
func (s *Store) GetStakes(pool types.Address) ([]*UTXO, error) {
	prefix := make([]byte, len(prefixStake)+types.AddressSize)
	n := copy(prefix, prefixStake)
	copy(prefix[n:], pool[:])

	var utxos []*UTXO
	err := s.tx.ForEach(prefix, func(key, _ []byte) error {
		op, ok := decodeOutpointSuffix(key[len(prefix):])
		if !ok {
			return nil
		}
		u, found, err := s.Get(op)
		if err != nil || !found {
			return nil
		}
		utxos = append(utxos, u)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan stake index: %w", err)
	}
	return utxos, nil
}

// GetAllStakedPools returns the unique pool addresses currently holding stake.
func (s *Store) GetAllStakedPools() ([]types.Address, error) {
	seen := make(map[types.Address]struct{})
	var pools []types.Address

	err := s.tx.ForEach(prefixStake, func(key, _ []byte) error {
		if len(key) < len(prefixStake)+types.AddressSize {
			return nil
		}
		var addr types.Address
		copy(addr[:], key[len(prefixStake):len(prefixStake)+types.AddressSize])
		if _, ok := seen[addr]; !ok {
			seen[addr] = struct{}{}
			pools = append(pools, addr)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan stake index: %w", err)
	}
	return pools, nil
}
