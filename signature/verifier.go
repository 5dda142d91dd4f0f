package signature

import (
	"crypto/hmac"
	"encoding/hex"
	"strings"
)

// Verify reports whether sig is the signature of payload under secret.
func (s *Signer) Verify(payload []byte, sig, secret string) bool {
	return Verify(payload, sig, secret)
}

// Verify reports whether sig is the hex HMAC-SHA256 of payload under secret.
// Malformed signatures (wrong length, non-hex) are a mismatch, never an error.
// Comparison is constant-time over the decoded MAC.
func Verify(payload []byte, sig, secret string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(sig))
	if err != nil || len(got) == 0 {
		return false
	}
	return hmac.Equal(sum(payload, secret), got)
}
