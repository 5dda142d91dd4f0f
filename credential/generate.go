package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// KeyPrefix starts every raw key.
	KeyPrefix = "ip_"

	keyEntropyBytes = 32
	displayLen      = 12
)

// Generated is a new raw key with its hash and display prefix.
type Generated struct {
	Key    string
	Hash   string
	Prefix string
}

// Generate creates a raw key from 32 bytes of crypto/rand output.
func Generate() (Generated, error) {
	b := make([]byte, keyEntropyBytes)
	if _, err := rand.Read(b); err != nil {
		return Generated{}, fmt.Errorf("credential: read random: %w", err)
	}

	key := KeyPrefix + base64.RawURLEncoding.EncodeToString(b)
	return Generated{
		Key:    key,
		Hash:   Hash(key),
		Prefix: key[:displayLen],
	}, nil
}

// Hash returns the lookup hash for a raw key.
func Hash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// wellFormed is a cheap shape check run before any store lookup.
func wellFormed(key string) bool {
	if !strings.HasPrefix(key, KeyPrefix) {
		return false
	}
	body := key[len(KeyPrefix):]
	if len(body) != base64.RawURLEncoding.EncodedLen(keyEntropyBytes) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(body)
	return err == nil
}
