package tx

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/mintledger/chainstate/pkg/crypto"
	"github.com/mintledger/chainstate/pkg/types"
)

// UTXO-aware validation errors.
var (
	ErrInputNotFound     = errors.New("input UTXO not found")
	ErrInputSpent        = errors.New("input UTXO already spent")
	ErrInsufficientFee   = errors.New("insufficient fee")
	ErrInputOverflow     = errors.New("input values overflow")
	ErrWitnessMismatch   = errors.New("witness does not match output purpose")
	ErrUnspendableOutput = errors.New("output is unspendable")
)

// UTXOProvider provides read-only access to the UTXO set for
// validation: the value and purpose locking a given outpoint.
type UTXOProvider interface {
	GetUTXO(outpoint types.Outpoint) (value types.Value, purpose types.Purpose, err error)
	HasUTXO(outpoint types.Outpoint) bool
}

// ValidateWithUTXOs performs full validation of a transaction against
// the UTXO set: every input exists and is unspent, every witness
// unlocks its output's purpose, signatures verify, and inputs cover
// outputs. Returns the fee (inputs - outputs), in coin units; token
// conservation is checked separately by the caller since tokens don't
// fund fees.
func (t *Transaction) ValidateWithUTXOs(provider UTXOProvider) (uint64, error) {
	if err := t.ValidateStructure(); err != nil {
		return 0, err
	}

	var totalInput uint64
	for i, in := range t.Inputs {
		if !provider.HasUTXO(in.PrevOut) {
			return 0, fmt.Errorf("input %d (%s): %w", i, in.PrevOut, ErrInputNotFound)
		}

		value, purpose, err := provider.GetUTXO(in.PrevOut)
		if err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}

		if purpose.Kind == types.PurposeBurn {
			return 0, fmt.Errorf("input %d (%s): %w: burn output cannot be spent", i, in.PrevOut, ErrUnspendableOutput)
		}

		if err := verifyWitness(in.PubKey, purpose); err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}

		if totalInput > math.MaxUint64-value.Coin {
			return 0, fmt.Errorf("input %d: %w", i, ErrInputOverflow)
		}
		totalInput += value.Coin
	}

	if err := t.VerifySignatures(); err != nil {
		return 0, err
	}

	totalOutput, ovfErr := t.TotalOutputValue()
	if ovfErr != nil {
		return 0, fmt.Errorf("output overflow: %w", ovfErr)
	}
	if totalInput < totalOutput {
		return 0, fmt.Errorf("%w: inputs=%d outputs=%d", ErrInsufficientFee, totalInput, totalOutput)
	}

	fee := totalInput - totalOutput
	return fee, nil
}

// ValidateStructure checks transaction structure without requiring
// UTXO access. Same as Validate but named for clarity alongside
// ValidateWithUTXOs.
func (t *Transaction) ValidateStructure() error {
	return t.Validate()
}

// verifyWitness checks that the spending pubkey unlocks the purpose
// that locked the output being spent.
func verifyWitness(pubKey []byte, purpose types.Purpose) error {
	switch purpose.Kind {
	case types.PurposeTransfer, types.PurposeIssueToken:
		return verifyTransferWitness(pubKey, purpose.Destination)
	case types.PurposeStake:
		if len(purpose.Data) != 33 {
			return fmt.Errorf("%w: stake pool key length %d, want 33", ErrWitnessMismatch, len(purpose.Data))
		}
		if !bytes.Equal(pubKey, purpose.Data) {
			return fmt.Errorf("%w: pubkey does not match stake pool key", ErrWitnessMismatch)
		}
		return nil
	default:
		return fmt.Errorf("%w: purpose kind %s", ErrUnspendableOutput, purpose.Kind)
	}
}

// verifyTransferWitness checks that a public key hashes to the
// destination address locking a transfer output.
func verifyTransferWitness(pubKey []byte, destination types.Address) error {
	if len(pubKey) == 0 {
		return ErrMissingPubKey
	}
	derived := crypto.AddressFromPubKey(pubKey)
	if derived != destination {
		return fmt.Errorf("%w: expected %s, got %s", ErrWitnessMismatch, destination, derived)
	}
	return nil
}
