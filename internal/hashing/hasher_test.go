package hashing

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMeetsTargetZeroDifficultyAlwaysPasses(t *testing.T) {
	var digest Digest
	for i := range digest {
		digest[i] = 0xff
	}
	require.True(t, MeetsTarget(digest, 0))
}

func TestMeetsTargetMaxDigestFailsDifficultyAboveOne(t *testing.T) {
	var digest Digest
	for i := range digest {
		digest[i] = 0xff
	}
	// (2^256-1) * 1 still fits in 256 bits; any difficulty of 2 or more
	// overflows.
	require.False(t, MeetsTarget(digest, 2))
}

func TestMeetsTargetAgreesWithBigIntReferenceCheck(t *testing.T) {
	digest := Digest{0x01}
	difficulty := uint64(1000)

	le := make([]byte, len(digest))
	for i, b := range digest {
		le[len(digest)-1-i] = b
	}
	value := new(big.Int).SetBytes(le)
	product := new(big.Int).Mul(value, new(big.Int).SetUint64(difficulty))
	want := product.Cmp(maxUint256Plus1) < 0

	require.Equal(t, want, MeetsTarget(digest, difficulty))
}

func TestSha3HasherIsDeterministic(t *testing.T) {
	h := Sha3Hasher{}
	input := []byte("block header bytes")

	require.Equal(t, h.LongHash(input), h.LongHash(input))
}

func TestSha3HasherDiffersOnDifferentInput(t *testing.T) {
	h := Sha3Hasher{}
	require.NotEqual(t, h.LongHash([]byte("a")), h.LongHash([]byte("b")))
}
