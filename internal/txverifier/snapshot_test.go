package txverifier

import (
	"testing"

	"github.com/mintledger/chainstate/internal/utxo"
	"github.com/mintledger/chainstate/pkg/crypto"
	"github.com/mintledger/chainstate/pkg/types"
)

func TestSnapshot_ConnectThenRevert_IsIdentity(t *testing.T) {
	store, tokens, _ := testEnv(t)

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	addr := crypto.AddressFromPubKey(key.PublicKey())

	rewardOp := types.NewRewardOutpoint(types.Hash{0xAA}, 0)
	seed := &utxo.UTXO{
		Value:         types.Value{Coin: 100},
		Purpose:       transferTo(addr),
		Height:        1,
		IsBlockReward: true,
	}
	if err := store.Put(rewardOp, seed); err != nil {
		t.Fatalf("seed reward utxo: %v", err)
	}

	before, err := snapshotAllUTXOs(store)
	if err != nil {
		t.Fatalf("snapshotAllUTXOs() error: %v", err)
	}

	v := New(store, tokens, 0)
	tr := signedTransfer(t, key, rewardOp, 50, addr)
	if _, err := v.ConnectTransaction(100, 100, tr); err != nil {
		t.Fatalf("ConnectTransaction() error: %v", err)
	}
	if err := v.FlushToStore(store, tokens); err != nil {
		t.Fatalf("FlushToStore() error: %v", err)
	}

	snap := v.Snapshot()
	if len(snap.SpentOutpoints) != 1 || len(snap.CreatedOutpoints) != 1 {
		t.Fatalf("Snapshot() = %+v, want 1 spent + 1 created", snap)
	}

	if err := RevertSnapshot(store, tokens, snap); err != nil {
		t.Fatalf("RevertSnapshot() error: %v", err)
	}

	after, err := snapshotAllUTXOs(store)
	if err != nil {
		t.Fatalf("snapshotAllUTXOs() error: %v", err)
	}
	if len(before) != len(after) {
		t.Fatalf("UTXO set size after revert = %d, want %d", len(after), len(before))
	}
	for op, coin := range before {
		got, ok := after[op]
		if !ok {
			t.Fatalf("outpoint %s missing after revert", op)
		}
		if got != coin {
			t.Errorf("outpoint %s coin = %d, want %d", op, got, coin)
		}
	}
}

func snapshotAllUTXOs(store *utxo.Store) (map[types.Outpoint]uint64, error) {
	out := make(map[types.Outpoint]uint64)
	err := store.ForEach(func(op types.Outpoint, u *utxo.UTXO) error {
		out[op] = u.Value.Coin
		return nil
	})
	return out, err
}
