package chainstate

import (
	"encoding/binary"

	"github.com/mintledger/chainstate/internal/storage"
	"github.com/mintledger/chainstate/pkg/types"
)

// prefixWork records each indexed block's own cumulative difficulty
// (its parent's cumulative difficulty plus its own), independent of
// whether it sits on the main chain. Fork choice (§4.G "chain-work >
// current-tip?") compares this value across competing branches, so it
// has to be tracked per block rather than only for the active tip the
// way ChainState.CumulativeDifficulty is.
var prefixWork = []byte("w/")

func workKey(id types.Hash) []byte {
	k := make([]byte, len(prefixWork)+types.HashSize)
	copy(k, prefixWork)
	copy(k[len(prefixWork):], id[:])
	return k
}

func putCumulativeWork(rw storage.ReadWriteTx, id types.Hash, work uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], work)
	return rw.Put(workKey(id), buf[:])
}

func getCumulativeWork(tx storage.ReadTx, id types.Hash) (uint64, error) {
	data, err := tx.Get(workKey(id))
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
