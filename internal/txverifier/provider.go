package txverifier

import (
	"github.com/mintledger/chainstate/internal/utxo"
	"github.com/mintledger/chainstate/pkg/tx"
	"github.com/mintledger/chainstate/pkg/types"
)

// utxoProvider adapts a *utxo.CachedView to pkg/tx.UTXOProvider, so
// Transaction.ValidateWithUTXOs can resolve inputs through the layered
// cache without pkg/tx needing to know the cache exists.
type utxoProvider struct {
	view *utxo.CachedView
}

func (p *utxoProvider) GetUTXO(op types.Outpoint) (types.Value, types.Purpose, error) {
	u, ok, err := p.view.Get(op)
	if err != nil {
		return types.Value{}, types.Purpose{}, err
	}
	if !ok {
		return types.Value{}, types.Purpose{}, tx.ErrInputNotFound
	}
	return u.Value, u.Purpose, nil
}

func (p *utxoProvider) HasUTXO(op types.Outpoint) bool {
	u, ok, err := p.view.Get(op)
	return err == nil && ok && u != nil
}
