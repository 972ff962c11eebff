package domain

import (
	"encoding/hex"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// AddressLength is the decoded size of every ledger address.
const AddressLength = 32

// ErrInvalidAddress is returned when an address is not base58 of 32 bytes.
var ErrInvalidAddress = errors.New("invalid address")

// Address is the base58 text form of a 32-byte ledger key.
// Parties are ed25519 public keys; escrow accounts are derived off-curve addresses.
type Address string

// AddressFromBytes encodes a 32-byte key as an Address.
func AddressFromBytes(b []byte) Address {
	return Address(base58.Encode(b))
}

// Bytes decodes the address.
func (a Address) Bytes() ([]byte, error) {
	if a == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	b, err := base58.Decode(string(a))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(b) != AddressLength {
		return nil, fmt.Errorf("%w: decoded length %d", ErrInvalidAddress, len(b))
	}
	return b, nil
}

// Validate checks the address encoding.
func (a Address) Validate() error {
	_, err := a.Bytes()
	return err
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == ""
}

// IsOnCurve reports whether the address is a valid ed25519 point,
// i.e. a key that someone could hold the private half of.
func (a Address) IsOnCurve() bool {
	b, err := a.Bytes()
	if err != nil {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// String returns the base58 form.
func (a Address) String() string {
	return string(a)
}

// Hash32 is a 32-byte digest rendered as lowercase hex.
type Hash32 [32]byte

// ParseHash32 parses a 64-character hex string.
func ParseHash32(s string) (Hash32, error) {
	var h Hash32
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("decode hash: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("hash must be %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// String returns the hex form.
func (h Hash32) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether every byte is zero.
func (h Hash32) IsZero() bool {
	return h == Hash32{}
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash32) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash32) UnmarshalText(text []byte) error {
	parsed, err := ParseHash32(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
