package crypto

import (
	"crypto/sha512"
	"encoding/binary"
	"fmt"

	"keymesh/internal/domain"
)

const (
	// Hash iterations for one safety-number half, matching the Signal app's
	// displayable-fingerprint construction.
	safetyNumberIterations = 5200
	safetyNumberChunks     = 6
)

// safetyNumberHalf derives one party's 30-digit half from their user id and
// identity key: iterated SHA-512, then six 5-byte chunks reduced to five
// decimal digits each.
func safetyNumberHalf(userID string, key domain.X25519Public) string {
	digest := append(key.Slice(), []byte(userID)...)
	h := sha512.New()
	for i := 0; i < safetyNumberIterations; i++ {
		h.Write(digest)
		digest = h.Sum(nil)
		h.Reset()
	}

	out := make([]byte, 0, safetyNumberChunks*5)
	for i := 0; i < safetyNumberChunks; i++ {
		chunk := digest[i*5 : (i+1)*5]
		var buf [8]byte
		copy(buf[3:], chunk)
		num := binary.BigEndian.Uint64(buf[:]) % 100000
		out = append(out, fmt.Sprintf("%05d", num)...)
	}
	return string(out)
}

// SafetyNumber derives the human-comparable 60-digit fingerprint both
// parties display. The halves are ordered lexically, so either side computes
// the identical number regardless of who is local.
func SafetyNumber(localUserID string, localKey domain.X25519Public, remoteUserID string, remoteKey domain.X25519Public) string {
	a := safetyNumberHalf(localUserID, localKey)
	b := safetyNumberHalf(remoteUserID, remoteKey)
	if b < a {
		a, b = b, a
	}
	return a + b
}
