package signature_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ipflow/relay/signature"
)

func TestSignKnownVector(t *testing.T) {
	payload := []byte(`{"event":"case.created"}`)
	secret := "whsec_testsecret123"

	got := signature.NewSigner().Sign(payload, secret)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if got != expected {
		t.Errorf("Sign() = %q, want %q", got, expected)
	}
	if len(got) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(got))
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	payload := []byte(`{"event":"form.generated","data":{"form":"TM-1"}}`)
	secret := signature.GenerateSecret()

	sig := signature.Sign(payload, secret)
	if !signature.Verify(payload, sig, secret) {
		t.Error("Verify() returned false for valid signature")
	}
	if !signature.Verify(payload, strings.ToUpper(sig), secret) {
		t.Error("Verify() should accept upper-case hex")
	}
}

func TestVerifyRejects(t *testing.T) {
	payload := []byte(`{"original":true}`)
	secret := "whsec_correct"
	sig := signature.Sign(payload, secret)

	tests := []struct {
		name    string
		payload []byte
		sig     string
		secret  string
	}{
		{"tampered payload", []byte(`{"original":false}`), sig, secret},
		{"wrong secret", payload, sig, "whsec_wrong"},
		{"empty signature", payload, "", secret},
		{"not hex", payload, "zz" + sig[2:], secret},
		{"odd length", payload, sig[1:], secret},
		{"truncated", payload, sig[:32], secret},
		{"versioned prefix", payload, "v1=" + sig, secret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if signature.Verify(tt.payload, tt.sig, tt.secret) {
				t.Error("Verify() returned true")
			}
		})
	}
}
