// Package signature signs webhook envelopes with HMAC-SHA256 and verifies
// them on the receiving side.
//
// The signature covers the exact serialized envelope bytes sent as the
// request body and is transmitted as lowercase hex in the
// X-Webhook-Signature header.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Header names carried on every webhook delivery.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderTimestamp = "X-Webhook-Timestamp"
)

// Signer computes webhook signatures. The zero value is ready to use.
type Signer struct{}

// NewSigner returns a new Signer.
func NewSigner() *Signer {
	return &Signer{}
}

// Sign returns the hex HMAC-SHA256 of payload keyed by secret.
func (s *Signer) Sign(payload []byte, secret string) string {
	return Sign(payload, secret)
}

// Sign returns the hex HMAC-SHA256 of payload keyed by secret.
func Sign(payload []byte, secret string) string {
	return hex.EncodeToString(sum(payload, secret))
}

func sum(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}
