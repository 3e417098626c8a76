// Package ethcrypto provides the Keccak256 primitive this module hashes
// records, stems, and snapshot identities with. The API mirrors
// go-ethereum's crypto.Keccak256/Keccak256Hash surface (see
// ethereum/go-ethereum's crypto_test.go) rather than the generic
// golang.org/x/crypto/sha3 one, since every caller in this codebase already
// thinks in terms of that surface.
package ethcrypto

import (
	"hash"

	"golang.org/x/crypto/sha3"
)

// HashLength is the length in bytes of a Keccak256 digest.
const HashLength = 32

// Hash is a 32-byte Keccak256 digest.
type Hash [HashLength]byte

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte { return h[:] }

// Keccak256 hashes the concatenation of the given byte slices.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		h.Write(b)
	}
	return h.Sum(nil)
}

// Keccak256Hash hashes the concatenation of the given byte slices and
// returns the result as a Hash.
func Keccak256Hash(data ...[]byte) (h Hash) {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	d.Sum(h[:0])
	return h
}

// NewKeccak256 returns a fresh, resettable Keccak256 hash.Hash for callers
// that hash many small inputs back to back (e.g. record ordering during
// database build) and want to avoid re-allocating the sponge state.
func NewKeccak256() hash.Hash {
	return sha3.NewLegacyKeccak256()
}
