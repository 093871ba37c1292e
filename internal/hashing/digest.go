// Package hashing computes the two content digests a finalization event reports
// for a proof: SHA-256 over the public inputs (journal) and Keccak-256 over the
// proof bytes (seal). The two are not interchangeable.
package hashing

import (
	"bytes"
	"encoding/hex"

	sha256 "github.com/minio/sha256-simd"
	"golang.org/x/crypto/sha3"
)

// Size of both digests in bytes
const Size = 32

// Digest 32-byte content hash
type Digest [Size]byte

func (d Digest) Bytes() []byte {
	return d[:]
}

// Hex lowercase hex without prefix, the store encoding
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// Equal compares against raw digest bytes
func (d Digest) Equal(raw []byte) bool {
	return bytes.Equal(d[:], raw)
}

// DigestPublicInput SHA-256 of the journal bytes
func DigestPublicInput(journal []byte) Digest {
	return Digest(sha256.Sum256(journal))
}

// DigestProof Keccak-256 (legacy padding, as on chain) of the seal bytes
func DigestProof(seal []byte) Digest {
	var d Digest
	h := sha3.NewLegacyKeccak256()
	h.Write(seal)
	h.Sum(d[:0])
	return d
}
