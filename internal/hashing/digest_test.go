package hashing

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sha256Empty    = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	keccak256Empty = "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"
)

func TestDigestsOfEmptyInput(t *testing.T) {
	assert.Equal(t, sha256Empty, DigestPublicInput(nil).Hex())
	assert.Equal(t, sha256Empty, DigestPublicInput([]byte{}).Hex())
	assert.Equal(t, keccak256Empty, DigestProof(nil).Hex())
	assert.Equal(t, keccak256Empty, DigestProof([]byte{}).Hex())
}

func TestDigestsAreDeterministic(t *testing.T) {
	inputs := [][]byte{
		[]byte("journal"),
		{0x00},
		make([]byte, 4096),
	}
	for _, in := range inputs {
		assert.Equal(t, DigestPublicInput(in), DigestPublicInput(append([]byte(nil), in...)))
		assert.Equal(t, DigestProof(in), DigestProof(append([]byte(nil), in...)))
	}
}

func TestSingleByteChangeChangesDigest(t *testing.T) {
	base := []byte("the quick brown fox jumps over the lazy dog")
	for i := range base {
		changed := append([]byte(nil), base...)
		changed[i] ^= 0x01

		assert.NotEqual(t, DigestPublicInput(base), DigestPublicInput(changed), "byte %d", i)
		assert.NotEqual(t, DigestProof(base), DigestProof(changed), "byte %d", i)
	}
}

func TestDigestsUseDistinctAlgorithms(t *testing.T) {
	for _, in := range [][]byte{nil, []byte("seal"), {1, 2, 3, 4}, make([]byte, 256)} {
		assert.NotEqual(t, DigestPublicInput(in), DigestProof(in))
	}
}

func TestDigestProofMatchesChainKeccak(t *testing.T) {
	seal := []byte{0xde, 0xad, 0xbe, 0xef}
	expected := crypto.Keccak256(seal)

	got := DigestProof(seal)
	require.True(t, got.Equal(expected))
	assert.Len(t, got.Bytes(), Size)
}
