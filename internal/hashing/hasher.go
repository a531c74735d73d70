// Package hashing defines the proof-of-work hash function and difficulty
// check as an external collaborator interface. The real CryptoNote
// long-hash algorithm is out of scope here; this package only needs a
// concrete, deterministic 256-bit digest function to give the search
// engine something real to call and to make it testable.
package hashing

import (
	"math/big"

	"golang.org/x/crypto/sha3"
)

// Digest is a 256-bit proof-of-work hash.
type Digest [32]byte

// Hasher computes the proof-of-work digest for a serialized block header.
// Implementations must be safe for concurrent use by multiple worker
// goroutines, since every SearchEngine worker calls it on its own goroutine
// with no synchronization between them.
type Hasher interface {
	LongHash(blockHeaderBytes []byte) Digest
}

// Sha3Hasher is the stand-in long_hash implementation: SHA3-256 over the
// serialized header. It is not the CryptoNote hash function — it exists so
// the rest of the core has a real, concurrency-safe Hasher to exercise.
type Sha3Hasher struct{}

// LongHash implements Hasher.
func (Sha3Hasher) LongHash(blockHeaderBytes []byte) Digest {
	var d Digest
	sum := sha3.Sum256(blockHeaderBytes)
	copy(d[:], sum[:])
	return d
}

// maxUint256Plus1 is 2^256, the modulus the difficulty check compares
// against.
var maxUint256Plus1 = new(big.Int).Lsh(big.NewInt(1), 256)

// MeetsTarget reports whether digest qualifies against difficulty: the
// digest interpreted as a little-endian 256-bit integer, multiplied by
// difficulty, must not overflow 256 bits. A difficulty of 0 always passes
// rather than requiring an impossible digest, so callers never spin
// forever searching for a nonce that can't exist.
func MeetsTarget(digest Digest, difficulty uint64) bool {
	if difficulty == 0 {
		return true
	}

	le := make([]byte, len(digest))
	for i, b := range digest {
		le[len(digest)-1-i] = b
	}

	value := new(big.Int).SetBytes(le)
	product := new(big.Int).Mul(value, new(big.Int).SetUint64(difficulty))

	return product.Cmp(maxUint256Plus1) < 0
}
