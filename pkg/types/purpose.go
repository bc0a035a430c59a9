package types

import (
	"encoding/hex"
	"encoding/json"
)

// PurposeKind tags what a transaction output is for. Every output
// carries exactly one purpose; the transaction verifier dispatches on
// this tag rather than inspecting opaque script bytes.
type PurposeKind uint8

const (
	// PurposeTransfer pays to a destination address; spendable once
	// unlocked by a matching witness.
	PurposeTransfer PurposeKind = iota
	// PurposeBurn is permanently unspendable; used to destroy value
	// (e.g. token burns) without creating a spendable UTXO.
	PurposeBurn
	// PurposeStake locks value into a staking pool; Destination holds
	// the pool's address and Data its 33-byte public key, which the
	// spending witness must present.
	PurposeStake
	// PurposeIssueToken marks the output that establishes a new
	// TokenID; Data carries the issuance metadata (see
	// pkg/types.TokenIssuance), and Destination locks the output the
	// same way as for PurposeTransfer.
	PurposeIssueToken
)

func (k PurposeKind) String() string {
	switch k {
	case PurposeTransfer:
		return "Transfer"
	case PurposeBurn:
		return "Burn"
	case PurposeStake:
		return "Stake"
	case PurposeIssueToken:
		return "IssueToken"
	default:
		return "Unknown"
	}
}

// Purpose describes the locking condition and intent of an output.
type Purpose struct {
	Kind        PurposeKind `json:"kind"`
	Destination Address     `json:"destination"`
	// Data carries purpose-specific payload: a stake pool's public
	// key for PurposeStake, or encoded TokenIssuance for
	// PurposeIssueToken. Empty for Transfer/Burn.
	Data []byte `json:"data"`
}

type purposeJSON struct {
	Kind        PurposeKind `json:"kind"`
	Destination Address     `json:"destination"`
	Data        string      `json:"data"`
}

// MarshalJSON encodes Purpose with hex-encoded Data.
func (p Purpose) MarshalJSON() ([]byte, error) {
	return json.Marshal(purposeJSON{
		Kind:        p.Kind,
		Destination: p.Destination,
		Data:        hex.EncodeToString(p.Data),
	})
}

// UnmarshalJSON decodes Purpose with hex-encoded Data.
func (p *Purpose) UnmarshalJSON(data []byte) error {
	var j purposeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	p.Kind = j.Kind
	p.Destination = j.Destination
	if j.Data != "" {
		b, err := hex.DecodeString(j.Data)
		if err != nil {
			return err
		}
		p.Data = b
	}
	return nil
}
