// Package hashutil computes the content-addressed identifiers used across
// the job model: source_hash, artifact_hash, env_hash. It uses blake2b
// rather than stdlib sha256 to match the teacher's chosen crypto-primitives
// dependency (golang.org/x/crypto) — see DESIGN.md.
package hashutil

import (
	"encoding/hex"
	"io"

	"golang.org/x/crypto/blake2b"
)

// Sum returns the hex-encoded blake2b-256 digest of data.
func Sum(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SumReader streams r through blake2b-256 and returns the hex digest.
func SumReader(r io.Reader) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SumParts hashes multiple byte slices as a single logical unit (e.g.
// parser source + lockfile for an artifact_hash), joined with a 0x00
// separator so concatenation ambiguity ("ab"+"c" vs "a"+"bc") can't collide.
func SumParts(parts ...[]byte) string {
	h, _ := blake2b.New256(nil)
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
