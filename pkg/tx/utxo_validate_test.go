package tx

import (
	"errors"
	"fmt"
	"testing"

	"github.com/mintledger/chainstate/pkg/crypto"
	"github.com/mintledger/chainstate/pkg/types"
)

// mockUTXOProvider is a simple in-memory UTXO provider for testing.
type mockUTXOProvider struct {
	utxos map[types.Outpoint]mockUTXO
}

type mockUTXO struct {
	value   types.Value
	purpose types.Purpose
}

func newMockProvider() *mockUTXOProvider {
	return &mockUTXOProvider{utxos: make(map[types.Outpoint]mockUTXO)}
}

func (m *mockUTXOProvider) add(op types.Outpoint, coin uint64, purpose types.Purpose) {
	m.utxos[op] = mockUTXO{value: types.Value{Coin: coin}, purpose: purpose}
}

func (m *mockUTXOProvider) GetUTXO(op types.Outpoint) (types.Value, types.Purpose, error) {
	u, ok := m.utxos[op]
	if !ok {
		return types.Value{}, types.Purpose{}, fmt.Errorf("not found")
	}
	return u.value, u.purpose, nil
}

func (m *mockUTXOProvider) HasUTXO(op types.Outpoint) bool {
	_, ok := m.utxos[op]
	return ok
}

func transferTo(addr types.Address) types.Purpose {
	return types.Purpose{Kind: types.PurposeTransfer, Destination: addr}
}

func TestValidateWithUTXOs_Valid(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key.PublicKey())

	prevOut := types.NewOutpoint(types.Hash{0x01}, 0)
	provider := newMockProvider()
	provider.add(prevOut, 5000, transferTo(addr))

	b := NewBuilder().
		AddInput(prevOut).
		AddOutput(4000, transferTo(types.Address{0x42}))
	b.Sign(key)
	transaction := b.Build()

	fee, err := transaction.ValidateWithUTXOs(provider)
	if err != nil {
		t.Fatalf("ValidateWithUTXOs: %v", err)
	}
	if fee != 1000 {
		t.Errorf("fee = %d, want 1000", fee)
	}
}

func TestValidateWithUTXOs_ZeroFee(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key.PublicKey())

	prevOut := types.NewOutpoint(types.Hash{0x01}, 0)
	provider := newMockProvider()
	provider.add(prevOut, 3000, transferTo(addr))

	b := NewBuilder().
		AddInput(prevOut).
		AddOutput(3000, transferTo(types.Address{0x42}))
	b.Sign(key)
	transaction := b.Build()

	fee, err := transaction.ValidateWithUTXOs(provider)
	if err != nil {
		t.Fatalf("ValidateWithUTXOs: %v", err)
	}
	if fee != 0 {
		t.Errorf("fee = %d, want 0", fee)
	}
}

func TestValidateWithUTXOs_InputNotFound(t *testing.T) {
	key, _ := crypto.GenerateKey()

	prevOut := types.NewOutpoint(types.Hash{0x01}, 0)
	provider := newMockProvider() // Empty — no UTXOs.

	b := NewBuilder().
		AddInput(prevOut).
		AddOutput(1000, transferTo(types.Address{0x42}))
	b.Sign(key)
	transaction := b.Build()

	_, err := transaction.ValidateWithUTXOs(provider)
	if !errors.Is(err, ErrInputNotFound) {
		t.Errorf("expected ErrInputNotFound, got: %v", err)
	}
}

func TestValidateWithUTXOs_InsufficientFunds(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key.PublicKey())

	prevOut := types.NewOutpoint(types.Hash{0x01}, 0)
	provider := newMockProvider()
	provider.add(prevOut, 1000, transferTo(addr))

	b := NewBuilder().
		AddInput(prevOut).
		AddOutput(2000, transferTo(types.Address{0x42}))
	b.Sign(key)
	transaction := b.Build()

	_, err := transaction.ValidateWithUTXOs(provider)
	if !errors.Is(err, ErrInsufficientFee) {
		t.Errorf("expected ErrInsufficientFee, got: %v", err)
	}
}

func TestValidateWithUTXOs_WitnessMismatch(t *testing.T) {
	key, _ := crypto.GenerateKey()
	wrongAddr := types.Address{0xff}

	prevOut := types.NewOutpoint(types.Hash{0x01}, 0)
	provider := newMockProvider()
	provider.add(prevOut, 5000, transferTo(wrongAddr))

	b := NewBuilder().
		AddInput(prevOut).
		AddOutput(4000, transferTo(types.Address{0x42}))
	b.Sign(key)
	transaction := b.Build()

	_, err := transaction.ValidateWithUTXOs(provider)
	if !errors.Is(err, ErrWitnessMismatch) {
		t.Errorf("expected ErrWitnessMismatch, got: %v", err)
	}
}

func TestValidateWithUTXOs_MultipleInputs(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key.PublicKey())

	prevOut1 := types.NewOutpoint(types.Hash{0x01}, 0)
	prevOut2 := types.NewOutpoint(types.Hash{0x02}, 0)
	provider := newMockProvider()
	provider.add(prevOut1, 3000, transferTo(addr))
	provider.add(prevOut2, 2000, transferTo(addr))

	b := NewBuilder().
		AddInput(prevOut1).
		AddInput(prevOut2).
		AddOutput(4500, transferTo(types.Address{0x42}))
	b.Sign(key)
	transaction := b.Build()

	fee, err := transaction.ValidateWithUTXOs(provider)
	if err != nil {
		t.Fatalf("ValidateWithUTXOs: %v", err)
	}
	if fee != 500 {
		t.Errorf("fee = %d, want 500", fee)
	}
}

func TestValidateWithUTXOs_InvalidSignature(t *testing.T) {
	key1, _ := crypto.GenerateKey()
	key2, _ := crypto.GenerateKey()
	addr2 := crypto.AddressFromPubKey(key2.PublicKey())

	prevOut := types.NewOutpoint(types.Hash{0x01}, 0)
	provider := newMockProvider()
	// UTXO is locked to key2's address...
	provider.add(prevOut, 5000, transferTo(addr2))

	// ...but signed with key1. The witness check catches the mismatch.
	b := NewBuilder().
		AddInput(prevOut).
		AddOutput(4000, transferTo(types.Address{0x42}))
	b.Sign(key1)
	transaction := b.Build()

	_, err := transaction.ValidateWithUTXOs(provider)
	if !errors.Is(err, ErrWitnessMismatch) {
		t.Errorf("expected ErrWitnessMismatch, got: %v", err)
	}
}

func TestValidateWithUTXOs_StructuralFailure(t *testing.T) {
	transaction := &Transaction{
		Version: 1,
		Outputs: []Output{{Value: types.Value{Coin: 1000}}},
	}
	provider := newMockProvider()

	_, err := transaction.ValidateWithUTXOs(provider)
	if !errors.Is(err, ErrNoInputs) {
		t.Errorf("expected ErrNoInputs, got: %v", err)
	}
}

func TestVerifyTransferWitness(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key.PublicKey())

	if err := verifyTransferWitness(key.PublicKey(), addr); err != nil {
		t.Errorf("valid witness should pass: %v", err)
	}

	key2, _ := crypto.GenerateKey()
	err := verifyTransferWitness(key2.PublicKey(), addr)
	if !errors.Is(err, ErrWitnessMismatch) {
		t.Errorf("expected ErrWitnessMismatch for wrong pubkey, got: %v", err)
	}

	err = verifyTransferWitness(nil, addr)
	if !errors.Is(err, ErrMissingPubKey) {
		t.Errorf("expected ErrMissingPubKey, got: %v", err)
	}
}

func TestValidateWithUTXOs_StakeSpend(t *testing.T) {
	key, _ := crypto.GenerateKey()
	pubKey := key.PublicKey()

	prevOut := types.NewOutpoint(types.Hash{0x01}, 0)
	provider := newMockProvider()
	provider.add(prevOut, 5000, types.Purpose{Kind: types.PurposeStake, Data: pubKey})

	b := NewBuilder().
		AddInput(prevOut).
		AddOutput(4000, transferTo(types.Address{0x42}))
	b.Sign(key)
	transaction := b.Build()

	fee, err := transaction.ValidateWithUTXOs(provider)
	if err != nil {
		t.Fatalf("ValidateWithUTXOs: %v", err)
	}
	if fee != 1000 {
		t.Errorf("fee = %d, want 1000", fee)
	}
}

func TestValidateWithUTXOs_StakeSpend_WrongKey(t *testing.T) {
	key1, _ := crypto.GenerateKey()
	key2, _ := crypto.GenerateKey()
	pubKey1 := key1.PublicKey()

	prevOut := types.NewOutpoint(types.Hash{0x01}, 0)
	provider := newMockProvider()
	provider.add(prevOut, 5000, types.Purpose{Kind: types.PurposeStake, Data: pubKey1})

	b := NewBuilder().
		AddInput(prevOut).
		AddOutput(4000, transferTo(types.Address{0x42}))
	b.Sign(key2) // Sign with different key
	transaction := b.Build()

	_, err := transaction.ValidateWithUTXOs(provider)
	if !errors.Is(err, ErrWitnessMismatch) {
		t.Errorf("expected ErrWitnessMismatch, got: %v", err)
	}
}

func TestValidateWithUTXOs_BurnUnspendable(t *testing.T) {
	key, _ := crypto.GenerateKey()

	prevOut := types.NewOutpoint(types.Hash{0x01}, 0)
	provider := newMockProvider()
	provider.add(prevOut, 5000, types.Purpose{Kind: types.PurposeBurn})

	b := NewBuilder().
		AddInput(prevOut).
		AddOutput(4000, transferTo(types.Address{0x42}))
	b.Sign(key)
	transaction := b.Build()

	_, err := transaction.ValidateWithUTXOs(provider)
	if !errors.Is(err, ErrUnspendableOutput) {
		t.Errorf("expected ErrUnspendableOutput, got: %v", err)
	}
}
