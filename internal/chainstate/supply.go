package chainstate

import (
	"encoding/binary"

	"github.com/mintledger/chainstate/internal/storage"
	"github.com/mintledger/chainstate/pkg/types"
)

// prefixMinted records how many new coins each connected block minted
// (reward total minus the fees it collected), so a later disconnect
// can roll ChainState.Supply back by exactly what this block added
// without re-deriving fees from a verifier that no longer exists.
var prefixMinted = []byte("n/")

func mintedKey(id types.Hash) []byte {
	k := make([]byte, len(prefixMinted)+types.HashSize)
	copy(k, prefixMinted)
	copy(k[len(prefixMinted):], id[:])
	return k
}

func putMinted(rw storage.ReadWriteTx, id types.Hash, amount uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], amount)
	return rw.Put(mintedKey(id), buf[:])
}

func getMinted(tx storage.ReadTx, id types.Hash) (uint64, error) {
	data, err := tx.Get(mintedKey(id))
	if err == storage.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(data), nil
}
