package domain

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// SecretLength is the size of a hashlock preimage.
const SecretLength = 32

// Secret is the preimage of a hashlock. It is revealed exactly once, by withdraw.
type Secret [SecretLength]byte

// ParseSecret parses a 64-character hex string.
func ParseSecret(s string) (Secret, error) {
	var out Secret
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("decode secret: %w", err)
	}
	if len(b) != SecretLength {
		return out, fmt.Errorf("secret must be %d bytes, got %d", SecretLength, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// Hashlock returns SHA-256(secret).
func (s Secret) Hashlock() Hash32 {
	return sha256.Sum256(s[:])
}

// String returns the hex form.
func (s Secret) String() string {
	return hex.EncodeToString(s[:])
}

// MarshalText implements encoding.TextMarshaler.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Secret) UnmarshalText(text []byte) error {
	parsed, err := ParseSecret(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Unlocks reports whether secret is the preimage of h.
func (h Hash32) Unlocks(secret Secret) bool {
	digest := secret.Hashlock()
	return subtle.ConstantTimeCompare(digest[:], h[:]) == 1
}
