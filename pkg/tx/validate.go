package tx

import (
	"errors"
	"fmt"
	"math"

	"github.com/mintledger/chainstate/config"
	"github.com/mintledger/chainstate/pkg/crypto"
	"github.com/mintledger/chainstate/pkg/types"
)

// Validation errors.
var (
	ErrNoInputs           = errors.New("transaction has no inputs")
	ErrNoOutputs          = errors.New("transaction has no outputs")
	ErrDuplicateInput     = errors.New("duplicate input")
	ErrOutputOverflow     = errors.New("output values overflow")
	ErrNegativeOutput     = errors.New("output value is zero")
	ErrInvalidPurpose     = errors.New("invalid purpose")
	ErrMissingPubKey      = errors.New("input missing public key")
	ErrMissingSig         = errors.New("input missing signature")
	ErrInvalidSig         = errors.New("invalid signature")
	ErrTooManyInputs      = errors.New("too many inputs")
	ErrTooManyOutputs     = errors.New("too many outputs")
	ErrPurposeDataTooLarge = errors.New("purpose data too large")
	ErrBadTokenIssuance   = errors.New("invalid token issuance")
)

// Validate checks transaction structure and basic rules. It does NOT
// check UTXO existence or token-issuance bookkeeping — those require
// the UTXO set and token registry respectively.
func (t *Transaction) Validate() error {
	if len(t.Inputs) == 0 {
		return ErrNoInputs
	}
	if len(t.Outputs) == 0 {
		return ErrNoOutputs
	}
	if len(t.Inputs) > config.MaxTxInputs {
		return fmt.Errorf("%w: %d inputs, max %d", ErrTooManyInputs, len(t.Inputs), config.MaxTxInputs)
	}
	if len(t.Outputs) > config.MaxTxOutputs {
		return fmt.Errorf("%w: %d outputs, max %d", ErrTooManyOutputs, len(t.Outputs), config.MaxTxOutputs)
	}

	seen := make(map[types.Outpoint]bool, len(t.Inputs))
	for i, in := range t.Inputs {
		if seen[in.PrevOut] {
			return fmt.Errorf("input %d: %w", i, ErrDuplicateInput)
		}
		seen[in.PrevOut] = true
		if len(in.PubKey) == 0 {
			return fmt.Errorf("input %d: %w", i, ErrMissingPubKey)
		}
		if len(in.Signature) == 0 {
			return fmt.Errorf("input %d: %w", i, ErrMissingSig)
		}
	}

	var totalOutput uint64
	for i, out := range t.Outputs {
		if out.Value.Coin == 0 && !out.Value.IsToken() {
			return fmt.Errorf("output %d: %w", i, ErrNegativeOutput)
		}
		if len(out.Purpose.Data) > config.MaxScriptData {
			return fmt.Errorf("output %d: %w: %d bytes, max %d", i, ErrPurposeDataTooLarge, len(out.Purpose.Data), config.MaxScriptData)
		}
		if out.Purpose.Kind > types.PurposeIssueToken {
			return fmt.Errorf("output %d: %w: %d", i, ErrInvalidPurpose, out.Purpose.Kind)
		}
		if out.Purpose.Kind == types.PurposeIssueToken {
			if err := validateTokenIssuanceData(out.Purpose.Data); err != nil {
				return fmt.Errorf("output %d: %w: %v", i, ErrBadTokenIssuance, err)
			}
		}
		if totalOutput > math.MaxUint64-out.Value.Coin {
			return fmt.Errorf("output %d: %w", i, ErrOutputOverflow)
		}
		totalOutput += out.Value.Coin
	}

	return nil
}

func validateTokenIssuanceData(data []byte) error {
	var iss types.TokenIssuance
	if err := decodeTokenIssuance(data, &iss); err != nil {
		return err
	}
	if iss.Ticker == "" || len(iss.Ticker) > types.MaxTickerLength {
		return fmt.Errorf("ticker length %d out of bounds", len(iss.Ticker))
	}
	if iss.Decimals > types.MaxDecimals {
		return fmt.Errorf("decimals %d exceeds max %d", iss.Decimals, types.MaxDecimals)
	}
	if len(iss.MetadataURI) > types.MaxURILength {
		return fmt.Errorf("metadata uri length %d exceeds max %d", len(iss.MetadataURI), types.MaxURILength)
	}
	if iss.Amount == 0 {
		return fmt.Errorf("issuance amount must be positive")
	}
	return nil
}

// VerifySignatures checks that all input signatures are valid for this
// transaction.
func (t *Transaction) VerifySignatures() error {
	hash := t.Hash()
	for i, in := range t.Inputs {
		if !crypto.VerifySignature(hash[:], in.Signature, in.PubKey) {
			return fmt.Errorf("input %d: %w", i, ErrInvalidSig)
		}
	}
	return nil
}
