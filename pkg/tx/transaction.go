// Package tx defines the transaction type and its structural
// validation, independent of any particular UTXO view.
package tx

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/mintledger/chainstate/pkg/crypto"
	"github.com/mintledger/chainstate/pkg/types"
)

// Transaction is an ordered list of inputs and outputs plus a version
// and lock-time (§3).
type Transaction struct {
	Version  uint32   `json:"version"`
	Inputs   []Input  `json:"inputs"`
	Outputs  []Output `json:"outputs"`
	LockTime uint64   `json:"locktime"`
}

// Input references a UTXO being spent: an outpoint plus the witness
// data (signature + public key) unlocking it.
type Input struct {
	PrevOut   types.Outpoint `json:"prevout"`
	Signature []byte         `json:"signature"`
	PubKey    []byte         `json:"pubkey"`
}

type inputJSON struct {
	PrevOut   types.Outpoint `json:"prevout"`
	Signature *string        `json:"signature"`
	PubKey    *string        `json:"pubkey"`
}

// MarshalJSON encodes the input with hex-encoded signature and pubkey.
func (in Input) MarshalJSON() ([]byte, error) {
	j := inputJSON{PrevOut: in.PrevOut}
	if in.Signature != nil {
		s := hex.EncodeToString(in.Signature)
		j.Signature = &s
	}
	if in.PubKey != nil {
		p := hex.EncodeToString(in.PubKey)
		j.PubKey = &p
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes an input with hex-encoded signature and pubkey.
func (in *Input) UnmarshalJSON(data []byte) error {
	var j inputJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	in.PrevOut = j.PrevOut
	if j.Signature != nil {
		b, err := hex.DecodeString(*j.Signature)
		if err != nil {
			return err
		}
		in.Signature = b
	}
	if j.PubKey != nil {
		b, err := hex.DecodeString(*j.PubKey)
		if err != nil {
			return err
		}
		in.PubKey = b
	}
	return nil
}

// Output defines a new UTXO: a Value plus the Purpose that locks it.
type Output struct {
	Value   types.Value   `json:"value"`
	Purpose types.Purpose `json:"purpose"`
}

// Hash computes the transaction id: BLAKE3 over the canonical signing
// bytes. Signatures are excluded so signing the hash doesn't change it.
func (t *Transaction) Hash() types.Hash {
	return crypto.Hash(t.SigningBytes())
}

// SigningBytes returns the canonical byte representation used both for
// hashing and for signing. Layout: version(4) | input_count(4) |
// [prevout_kind(1)+prevout_id(32)+prevout_index(4)]... | output_count(4)
// | [value(8)+token_flag(1)+[token_id(32)+token_amount(8)]+purpose_kind(1)
// +destination(20)+data_len(4)+data]... | locktime(8).
func (t *Transaction) SigningBytes() []byte {
	var buf []byte

	buf = binary.LittleEndian.AppendUint32(buf, t.Version)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.Inputs)))
	for _, in := range t.Inputs {
		buf = append(buf, byte(in.PrevOut.Source.Kind))
		buf = append(buf, in.PrevOut.Source.ID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PrevOut.Index)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.Outputs)))
	buf = append(buf, EncodeOutputs(t.Outputs)...)

	buf = binary.LittleEndian.AppendUint64(buf, t.LockTime)

	return buf
}

// EncodeOutputs returns the canonical byte encoding of a list of
// outputs, without a leading count prefix. Shared by
// Transaction.SigningBytes and by block-reward output commitments,
// so both hash outputs the same way.
func EncodeOutputs(outputs []Output) []byte {
	var buf []byte
	for _, out := range outputs {
		buf = binary.LittleEndian.AppendUint64(buf, out.Value.Coin)
		if out.Value.Token != nil {
			buf = append(buf, 1)
			buf = append(buf, out.Value.Token.ID[:]...)
			buf = binary.LittleEndian.AppendUint64(buf, out.Value.Token.Amount)
		} else {
			buf = append(buf, 0)
		}
		buf = append(buf, byte(out.Purpose.Kind))
		buf = append(buf, out.Purpose.Destination[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(out.Purpose.Data)))
		buf = append(buf, out.Purpose.Data...)
	}
	return buf
}

// TotalOutputValue returns the sum of all coin-denominated output
// values (token amounts are tracked separately).
func (t *Transaction) TotalOutputValue() (uint64, error) {
	var total uint64
	for _, out := range t.Outputs {
		if out.Value.IsToken() {
			continue
		}
		if total > math.MaxUint64-out.Value.Coin {
			return 0, fmt.Errorf("output value overflow")
		}
		total += out.Value.Coin
	}
	return total, nil
}
