// Package crypto provides cryptographic primitives for Supernova.
package crypto

import (
	"crypto/sha256"

	"github.com/Carbon-Twelve-C12/supernova-sub005/pkg/types"
)

// Hash computes a SHA-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return sha256.Sum256(data)
}

// DoubleHash computes SHA-256(SHA-256(data)). Block and transaction
// identifiers are double hashes.
func DoubleHash(data []byte) types.Hash {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// HashConcat double-hashes the concatenation of two hashes.
// Used for building merkle trees.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return DoubleHash(buf[:])
}

// PaymentHash computes the SHA-256 hash binding a Lightning payment
// preimage to its HTLCs.
func PaymentHash(preimage []byte) types.Hash {
	return Hash(preimage)
}

// AddressFromPubKey derives an address from a compressed public key.
// Address = SHA-256(compressed_pubkey)[:20].
func AddressFromPubKey(pubKey []byte) types.Address {
	h := Hash(pubKey)
	var addr types.Address
	copy(addr[:], h[:types.AddressSize])
	return addr
}
