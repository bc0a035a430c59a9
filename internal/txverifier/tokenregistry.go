package txverifier

import (
	"encoding/json"
	"fmt"

	"github.com/mintledger/chainstate/internal/storage"
	"github.com/mintledger/chainstate/pkg/types"
)

var prefixToken = []byte("r/") // r/<tokenid(32)> -> TokenIssuance JSON

func tokenKey(id types.TokenID) []byte {
	key := make([]byte, len(prefixToken)+types.HashSize)
	copy(key, prefixToken)
	copy(key[len(prefixToken):], id[:])
	return key
}

// TokenView reports whether a TokenID has already been issued,
// mirroring the role utxo.View plays for the unspent-output set.
type TokenView interface {
	IsRegistered(id types.TokenID) (bool, error)
}

// TokenRegistry is the storage-backed record of every TokenID ever
// issued. It's kept separate from the UTXO set because a token's
// identity must persist even after every output denominated in it has
// been spent — unlike a UTXO, a token registration is never erased by
// ordinary spending.
type TokenRegistry struct {
	tx storage.ReadTx
}

// NewTokenRegistryView wraps a read-only storage transaction.
func NewTokenRegistryView(tx storage.ReadTx) *TokenRegistry {
	return &TokenRegistry{tx: tx}
}

// NewTokenRegistryMut wraps a read-write storage transaction,
// allowing Register and Unregister.
func NewTokenRegistryMut(tx storage.ReadWriteTx) *TokenRegistry {
	return &TokenRegistry{tx: tx}
}

func (r *TokenRegistry) rw() (storage.ReadWriteTx, error) {
	rw, ok := r.tx.(storage.ReadWriteTx)
	if !ok {
		return nil, fmt.Errorf("txverifier: token registry is read-only")
	}
	return rw, nil
}

// IsRegistered implements TokenView.
func (r *TokenRegistry) IsRegistered(id types.TokenID) (bool, error) {
	return r.tx.Has(tokenKey(id))
}

// Get returns the issuance metadata recorded for id, if any.
func (r *TokenRegistry) Get(id types.TokenID) (types.TokenIssuance, bool, error) {
	data, err := r.tx.Get(tokenKey(id))
	if err == storage.ErrNotFound {
		return types.TokenIssuance{}, false, nil
	}
	if err != nil {
		return types.TokenIssuance{}, false, fmt.Errorf("token registry get: %w", err)
	}
	var iss types.TokenIssuance
	if err := json.Unmarshal(data, &iss); err != nil {
		return types.TokenIssuance{}, false, fmt.Errorf("token registry unmarshal: %w", err)
	}
	return iss, true, nil
}

// Register records id as issued with the given metadata.
func (r *TokenRegistry) Register(id types.TokenID, iss types.TokenIssuance) error {
	rw, err := r.rw()
	if err != nil {
		return err
	}
	data, err := json.Marshal(iss)
	if err != nil {
		return fmt.Errorf("token registry marshal: %w", err)
	}
	return rw.Put(tokenKey(id), data)
}

// Unregister removes id's registration, used when disconnecting the
// transaction that issued it.
func (r *TokenRegistry) Unregister(id types.TokenID) error {
	rw, err := r.rw()
	if err != nil {
		return err
	}
	return rw.Delete(tokenKey(id))
}
