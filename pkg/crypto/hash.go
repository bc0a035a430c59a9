// Package crypto provides the concrete Hasher and Signature Verifier
// the chainstate engine consumes through interfaces: BLAKE3 content
// hashing and Schnorr/secp256k1 witness verification.
package crypto

import (
	"github.com/mintledger/chainstate/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// DoubleHash computes Hash(Hash(data)).
func DoubleHash(data []byte) types.Hash {
	first := Hash(data)
	return Hash(first[:])
}

// AddressFromPubKey derives an address from a compressed public key.
// Address = BLAKE3(compressed_pubkey)[:20].
func AddressFromPubKey(pubKey []byte) types.Address {
	h := Hash(pubKey)
	var addr types.Address
	copy(addr[:], h[:types.AddressSize])
	return addr
}

// HashConcat hashes the concatenation of two hashes.
// Used for building merkle trees.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Hash(buf[:])
}

// TokenIDFromIssuance derives a TokenID from the hash of an issuing
// transaction's first input outpoint, so a token's identity never
// depends on the hash of the transaction that mints it (which would
// create a circular dependency: the tx hash would depend on its own
// output, which embeds the token id).
func TokenIDFromIssuance(firstInput types.Outpoint) types.TokenID {
	buf := make([]byte, 0, types.HashSize+5)
	buf = append(buf, firstInput.Source.ID[:]...)
	buf = append(buf, byte(firstInput.Source.Kind))
	buf = append(buf, byte(firstInput.Index), byte(firstInput.Index>>8),
		byte(firstInput.Index>>16), byte(firstInput.Index>>24))
	return types.TokenID(Hash(buf))
}
