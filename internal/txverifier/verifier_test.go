package txverifier

import (
	"errors"
	"testing"

	"github.com/mintledger/chainstate/internal/storage"
	"github.com/mintledger/chainstate/internal/utxo"
	"github.com/mintledger/chainstate/pkg/crypto"
	"github.com/mintledger/chainstate/pkg/tx"
	"github.com/mintledger/chainstate/pkg/types"
)

const testMaturity = 5

func testEnv(t *testing.T) (*utxo.Store, *TokenRegistry, storage.Backend) {
	t.Helper()
	b := storage.NewMemory()
	rw, err := b.BeginRW()
	if err != nil {
		t.Fatalf("BeginRW() error: %v", err)
	}
	return utxo.NewStoreMut(rw), NewTokenRegistryMut(rw), b
}

func transferTo(addr types.Address) types.Purpose {
	return types.Purpose{Kind: types.PurposeTransfer, Destination: addr}
}

func signedTransfer(t *testing.T, key *crypto.PrivateKey, prevOut types.Outpoint, coin uint64, to types.Address) *tx.Transaction {
	t.Helper()
	b := tx.NewBuilder().AddInput(prevOut).AddOutput(coin, transferTo(to))
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	return b.Build()
}

func TestConnectTransaction_SpendsAndCreates(t *testing.T) {
	store, tokens, _ := testEnv(t)
	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key.PublicKey())

	prevOut := types.NewOutpoint(types.Hash{0x01}, 0)
	store.Put(prevOut, &utxo.UTXO{Value: types.Value{Coin: 5000}, Purpose: transferTo(addr), Height: 1})

	v := New(store, tokens, testMaturity)
	transaction := signedTransfer(t, key, prevOut, 4000, types.Address{0x42})

	fee, err := v.ConnectTransaction(10, 10, transaction)
	if err != nil {
		t.Fatalf("ConnectTransaction() error: %v", err)
	}
	if fee != 1000 {
		t.Errorf("fee = %d, want 1000", fee)
	}

	if _, ok, _ := v.view.Get(prevOut); ok {
		t.Error("spent input should no longer be visible")
	}
	created := types.NewOutpoint(transaction.Hash(), 0)
	got, ok, err := v.view.Get(created)
	if err != nil || !ok {
		t.Fatalf("expected created output, got %v, %v, %v", got, ok, err)
	}
	if got.Value.Coin != 4000 {
		t.Errorf("created output coin = %d, want 4000", got.Value.Coin)
	}
}

func TestConnectTransaction_CoinbaseImmature(t *testing.T) {
	store, tokens, _ := testEnv(t)
	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key.PublicKey())

	blockID := types.Hash{0x02}
	prevOut := types.NewRewardOutpoint(blockID, 0)
	store.Put(prevOut, &utxo.UTXO{Value: types.Value{Coin: 5000}, Purpose: transferTo(addr), Height: 10, IsBlockReward: true})

	v := New(store, tokens, testMaturity)
	transaction := signedTransfer(t, key, prevOut, 4000, types.Address{0x42})

	_, err := v.ConnectTransaction(12, 12, transaction) // only 2 confirmations, need 5
	if !errors.Is(err, ErrBlockRewardImmature) {
		t.Errorf("expected ErrBlockRewardImmature, got: %v", err)
	}
}

func TestConnectTransaction_CoinbaseMatureAfterDepth(t *testing.T) {
	store, tokens, _ := testEnv(t)
	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key.PublicKey())

	blockID := types.Hash{0x02}
	prevOut := types.NewRewardOutpoint(blockID, 0)
	store.Put(prevOut, &utxo.UTXO{Value: types.Value{Coin: 5000}, Purpose: transferTo(addr), Height: 10, IsBlockReward: true})

	v := New(store, tokens, testMaturity)
	transaction := signedTransfer(t, key, prevOut, 4000, types.Address{0x42})

	if _, err := v.ConnectTransaction(15, 15, transaction); err != nil { // exactly 5 confirmations
		t.Fatalf("ConnectTransaction() error: %v", err)
	}
}

func TestConnectTransaction_LockTimeHeight(t *testing.T) {
	store, tokens, _ := testEnv(t)
	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key.PublicKey())

	prevOut := types.NewOutpoint(types.Hash{0x01}, 0)
	store.Put(prevOut, &utxo.UTXO{Value: types.Value{Coin: 5000}, Purpose: transferTo(addr), Height: 1})

	b := tx.NewBuilder().AddInput(prevOut).AddOutput(4000, transferTo(types.Address{0x42})).SetLockTime(100)
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	transaction := b.Build()

	v := New(store, tokens, testMaturity)
	if _, err := v.ConnectTransaction(50, 50, transaction); !errors.Is(err, ErrLockTimeNotReached) {
		t.Errorf("expected ErrLockTimeNotReached at height 50, got: %v", err)
	}

	v2 := New(store, tokens, testMaturity)
	if _, err := v2.ConnectTransaction(100, 100, transaction); err != nil {
		t.Errorf("expected success once height reaches locktime, got: %v", err)
	}
}

func TestConnectTransaction_LockTimeTimestamp(t *testing.T) {
	store, tokens, _ := testEnv(t)
	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key.PublicKey())

	prevOut := types.NewOutpoint(types.Hash{0x01}, 0)
	store.Put(prevOut, &utxo.UTXO{Value: types.Value{Coin: 5000}, Purpose: transferTo(addr), Height: 1})

	lockTime := uint64(lockTimeThreshold + 1000)
	b := tx.NewBuilder().AddInput(prevOut).AddOutput(4000, transferTo(types.Address{0x42})).SetLockTime(lockTime)
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	transaction := b.Build()

	v := New(store, tokens, testMaturity)
	if _, err := v.ConnectTransaction(50, lockTimeThreshold, transaction); !errors.Is(err, ErrLockTimeNotReached) {
		t.Errorf("expected ErrLockTimeNotReached, got: %v", err)
	}

	v2 := New(store, tokens, testMaturity)
	if _, err := v2.ConnectTransaction(50, lockTime, transaction); err != nil {
		t.Errorf("expected success once median-time-past reaches locktime, got: %v", err)
	}
}

func TestDisconnectTransaction_RestoresState(t *testing.T) {
	store, tokens, _ := testEnv(t)
	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key.PublicKey())

	prevOut := types.NewOutpoint(types.Hash{0x01}, 0)
	store.Put(prevOut, &utxo.UTXO{Value: types.Value{Coin: 5000}, Purpose: transferTo(addr), Height: 1})

	v := New(store, tokens, testMaturity)
	transaction := signedTransfer(t, key, prevOut, 4000, types.Address{0x42})

	if _, err := v.ConnectTransaction(10, 10, transaction); err != nil {
		t.Fatalf("ConnectTransaction() error: %v", err)
	}
	if err := v.DisconnectTransaction(transaction); err != nil {
		t.Fatalf("DisconnectTransaction() error: %v", err)
	}

	if _, ok, _ := v.view.Get(prevOut); !ok {
		t.Error("spent input should be restored after disconnect")
	}
	created := types.NewOutpoint(transaction.Hash(), 0)
	if _, ok, _ := v.view.Get(created); ok {
		t.Error("created output should be removed after disconnect")
	}

	// Disconnecting twice has no recorded undo left.
	if err := v.DisconnectTransaction(transaction); !errors.Is(err, ErrNoUndoRecord) {
		t.Errorf("expected ErrNoUndoRecord on second disconnect, got: %v", err)
	}
}

func TestConnectAndDisconnectBlockReward(t *testing.T) {
	store, tokens, _ := testEnv(t)
	blockID := types.Hash{0x03}
	outputs := []tx.Output{
		{Value: types.Value{Coin: 1000}, Purpose: transferTo(types.Address{0x01})},
		{Value: types.Value{Coin: 2000}, Purpose: transferTo(types.Address{0x02})},
	}

	v := New(store, tokens, testMaturity)
	if err := v.ConnectBlockReward(5, blockID, outputs); err != nil {
		t.Fatalf("ConnectBlockReward() error: %v", err)
	}

	for i := range outputs {
		op := types.NewRewardOutpoint(blockID, uint32(i))
		if _, ok, _ := v.view.Get(op); !ok {
			t.Errorf("reward output %d should be created", i)
		}
	}

	if err := v.DisconnectBlockReward(blockID); err != nil {
		t.Fatalf("DisconnectBlockReward() error: %v", err)
	}
	for i := range outputs {
		op := types.NewRewardOutpoint(blockID, uint32(i))
		if _, ok, _ := v.view.Get(op); ok {
			t.Errorf("reward output %d should be gone after disconnect", i)
		}
	}
}

func TestTokenIssuance_RegistersAndPreventsDoubleIssuance(t *testing.T) {
	store, tokens, _ := testEnv(t)
	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key.PublicKey())

	prevOut := types.NewOutpoint(types.Hash{0x01}, 0)
	store.Put(prevOut, &utxo.UTXO{Value: types.Value{Coin: 5000}, Purpose: transferTo(addr), Height: 1})

	tokenID := crypto.TokenIDFromIssuance(prevOut)
	iss := types.TokenIssuance{Ticker: "MINT", Decimals: 2, MetadataURI: "https://example.com", Amount: 10000}

	b := tx.NewBuilder().AddInput(prevOut)
	if err := b.AddTokenIssuanceOutput(iss); err != nil {
		t.Fatalf("AddTokenIssuanceOutput() error: %v", err)
	}
	b.AddTokenOutput(types.TokenData{ID: tokenID, Amount: 10000}, transferTo(types.Address{0x42}))
	b.AddOutput(4000, transferTo(types.Address{0x43}))
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	transaction := b.Build()

	v := New(store, tokens, testMaturity)
	if _, err := v.ConnectTransaction(10, 10, transaction); err != nil {
		t.Fatalf("ConnectTransaction() error: %v", err)
	}

	registered, err := v.IsRegistered(tokenID)
	if err != nil || !registered {
		t.Fatalf("expected token registered, got %v, %v", registered, err)
	}

	// A second, independent attempt to issue the same token id (same
	// first input) must be rejected.
	store2, tokens2, _ := testEnv(t)
	store2.Put(prevOut, &utxo.UTXO{Value: types.Value{Coin: 5000}, Purpose: transferTo(addr), Height: 1})
	if err := tokens2.Register(tokenID, iss); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	v2 := New(store2, tokens2, testMaturity)
	if _, err := v2.ConnectTransaction(10, 10, transaction); !errors.Is(err, ErrTokenAlreadyRegistered) {
		t.Errorf("expected ErrTokenAlreadyRegistered, got: %v", err)
	}
}

func TestTokenIssuance_AmountMismatchRejected(t *testing.T) {
	store, tokens, _ := testEnv(t)
	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key.PublicKey())

	prevOut := types.NewOutpoint(types.Hash{0x01}, 0)
	store.Put(prevOut, &utxo.UTXO{Value: types.Value{Coin: 5000}, Purpose: transferTo(addr), Height: 1})

	tokenID := crypto.TokenIDFromIssuance(prevOut)
	iss := types.TokenIssuance{Ticker: "MINT", Decimals: 2, MetadataURI: "u", Amount: 10000}

	b := tx.NewBuilder().AddInput(prevOut)
	if err := b.AddTokenIssuanceOutput(iss); err != nil {
		t.Fatalf("AddTokenIssuanceOutput() error: %v", err)
	}
	// Mints a different amount than declared.
	b.AddTokenOutput(types.TokenData{ID: tokenID, Amount: 9999}, transferTo(types.Address{0x42}))
	b.AddOutput(4000, transferTo(types.Address{0x43}))
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	transaction := b.Build()

	v := New(store, tokens, testMaturity)
	if _, err := v.ConnectTransaction(10, 10, transaction); !errors.Is(err, ErrTokenIssuanceMismatch) {
		t.Errorf("expected ErrTokenIssuanceMismatch, got: %v", err)
	}
}

func TestTokenConservation_TransferMismatchRejected(t *testing.T) {
	store, tokens, _ := testEnv(t)
	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key.PublicKey())

	tokenID := types.TokenID{0xaa}
	prevOut := types.NewOutpoint(types.Hash{0x01}, 0)
	store.Put(prevOut, &utxo.UTXO{
		Value:   types.Value{Token: &types.TokenData{ID: tokenID, Amount: 1000}},
		Purpose: transferTo(addr),
		Height:  1,
	})

	b := tx.NewBuilder().AddInput(prevOut)
	// Claims more token value out than came in.
	b.AddTokenOutput(types.TokenData{ID: tokenID, Amount: 1500}, transferTo(types.Address{0x42}))
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	transaction := b.Build()

	v := New(store, tokens, testMaturity)
	if _, err := v.ConnectTransaction(10, 10, transaction); !errors.Is(err, ErrTokenValueMismatch) {
		t.Errorf("expected ErrTokenValueMismatch, got: %v", err)
	}
}

func TestCheckBlockReward(t *testing.T) {
	if err := CheckBlockReward(1500, 500, 1000); err != nil {
		t.Errorf("reward exactly at subsidy+fees should pass: %v", err)
	}
	if err := CheckBlockReward(1501, 500, 1000); !errors.Is(err, ErrRewardExceedsFeesPlusSubsidy) {
		t.Errorf("expected ErrRewardExceedsFeesPlusSubsidy, got: %v", err)
	}
}

func TestCheckNoDuplicateInputsInBlock(t *testing.T) {
	shared := types.NewOutpoint(types.Hash{0x01}, 0)
	t1 := &tx.Transaction{Inputs: []tx.Input{{PrevOut: shared}}}
	t2 := &tx.Transaction{Inputs: []tx.Input{{PrevOut: shared}}}

	if err := CheckNoDuplicateInputsInBlock([]*tx.Transaction{t1, t2}); !errors.Is(err, ErrDuplicateInputInBlock) {
		t.Errorf("expected ErrDuplicateInputInBlock, got: %v", err)
	}

	other := types.NewOutpoint(types.Hash{0x02}, 0)
	t3 := &tx.Transaction{Inputs: []tx.Input{{PrevOut: other}}}
	if err := CheckNoDuplicateInputsInBlock([]*tx.Transaction{t1, t3}); err != nil {
		t.Errorf("distinct inputs across transactions should pass: %v", err)
	}
}

func TestDeriveChild_ConsumeFlushInto(t *testing.T) {
	store, tokens, _ := testEnv(t)
	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key.PublicKey())

	prevOut := types.NewOutpoint(types.Hash{0x01}, 0)
	store.Put(prevOut, &utxo.UTXO{Value: types.Value{Coin: 5000}, Purpose: transferTo(addr), Height: 1})

	parent := New(store, tokens, testMaturity)
	child := parent.DeriveChild()

	transaction := signedTransfer(t, key, prevOut, 4000, types.Address{0x42})
	if _, err := child.ConnectTransaction(10, 10, transaction); err != nil {
		t.Fatalf("ConnectTransaction() error: %v", err)
	}

	// Not visible through the parent until flushed.
	if _, ok, _ := parent.view.Get(prevOut); !ok {
		t.Error("parent should still see the unspent input before flush")
	}

	if err := child.Consume().FlushInto(parent); err != nil {
		t.Fatalf("FlushInto() error: %v", err)
	}

	if _, ok, _ := parent.view.Get(prevOut); ok {
		t.Error("parent should see the input as spent after flush")
	}
	created := types.NewOutpoint(transaction.Hash(), 0)
	if _, ok, _ := parent.view.Get(created); !ok {
		t.Error("parent should see the created output after flush")
	}

	if err := parent.FlushToStore(store, tokens); err != nil {
		t.Fatalf("FlushToStore() error: %v", err)
	}
	if ok, _ := store.Has(prevOut); ok {
		t.Error("store should reflect the spend after FlushToStore")
	}
}
