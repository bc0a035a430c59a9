package utxo

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/mintledger/chainstate/pkg/block"
	"github.com/mintledger/chainstate/pkg/crypto"
	"github.com/mintledger/chainstate/pkg/types"
)

// Commitment computes a merkle root over every live UTXO in store,
// letting a node prove or verify the full UTXO set against a single
// hash without transferring it (useful for bootstrap import/export
// verification). Returns the zero hash for an empty set.
func Commitment(store *Store) (types.Hash, error) {
	var hashes []types.Hash

	err := store.ForEach(func(op types.Outpoint, u *UTXO) error {
		hashes = append(hashes, hashUTXO(op, u))
		return nil
	})
	if err != nil {
		return types.Hash{}, fmt.Errorf("utxo commitment: %w", err)
	}

	if len(hashes) == 0 {
		return types.Hash{}, nil
	}

	// Sort for deterministic ordering (storage iteration order is key
	// order, but that's an implementation detail we shouldn't rely on).
	sort.Slice(hashes, func(i, j int) bool {
		return hashLess(hashes[i], hashes[j])
	})

	return block.ComputeMerkleRoot(hashes), nil
}

// hashUTXO produces a deterministic BLAKE3 hash of a UTXO.
// Format: sourcekind(1) | sourceid(32) | index(4) | coin(8) | token_id(32) |
// token_amount(8) | purpose_kind(1) | destination(20) | data | height(8) |
// is_block_reward(1)
func hashUTXO(op types.Outpoint, u *UTXO) types.Hash {
	var buf []byte
	buf = append(buf, byte(op.Source.Kind))
	buf = append(buf, op.Source.ID[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, op.Index)
	buf = binary.LittleEndian.AppendUint64(buf, u.Value.Coin)
	if u.Value.Token != nil {
		buf = append(buf, u.Value.Token.ID[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, u.Value.Token.Amount)
	} else {
		buf = append(buf, make([]byte, types.HashSize+8)...)
	}
	buf = append(buf, byte(u.Purpose.Kind))
	buf = append(buf, u.Purpose.Destination[:]...)
	buf = append(buf, u.Purpose.Data...)
	buf = binary.LittleEndian.AppendUint64(buf, u.Height)
	if u.IsBlockReward {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return crypto.Hash(buf)
}

func hashLess(a, b types.Hash) bool {
	for i := 0; i < types.HashSize; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
