package common

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Digest hashes parts with SHA-256 and returns lowercase hex. Each part is
// length-prefixed so ("ab", "c") and ("a", "bc") never collide.
func Digest(parts ...string) string {
	h := sha256.New()
	var prefix [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(prefix[:], uint64(len(p)))
		_, _ = h.Write(prefix[:])
		_, _ = h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
