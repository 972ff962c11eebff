package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"

	"htlc-escrow/internal/domain"
)

// KeyPair is a party's signing key.
type KeyPair struct {
	Public  domain.Address
	Private ed25519.PrivateKey
}

// GenerateKey creates a random key pair.
func GenerateKey() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate key: %w", err)
	}
	return KeyPair{Public: domain.AddressFromBytes(pub), Private: priv}, nil
}

// KeyPairFromSeed derives a key pair from a 32-byte seed.
func KeyPairFromSeed(seed []byte) (KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return KeyPair{}, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return KeyPair{
		Public:  domain.AddressFromBytes(priv.Public().(ed25519.PublicKey)),
		Private: priv,
	}, nil
}

// ParsePrivateKey parses a base58 64-byte secret key (seed followed by public key).
func ParsePrivateKey(s string) (KeyPair, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return KeyPair{}, fmt.Errorf("decode private key: %w", err)
	}
	if len(b) != ed25519.PrivateKeySize {
		return KeyPair{}, fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(b))
	}
	return KeyPairFromSeed(b[:ed25519.SeedSize])
}

// PrivateString returns the base58 form accepted by ParsePrivateKey.
func (k KeyPair) PrivateString() string {
	return base58.Encode(k.Private)
}

// Sign approves payload.
func (k KeyPair) Sign(payload []byte) domain.Authorization {
	return domain.Authorization{
		Party:     k.Public,
		Signature: ed25519.Sign(k.Private, payload),
	}
}
