package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"htlc-escrow/internal/domain"
)

const (
	escrowSeed    = "escrow"
	derivedMarker = "ProgramDerivedAddress"
)

// ErrNoOffCurveAddress is returned when no bump yields an off-curve address.
var ErrNoOffCurveAddress = errors.New("no off-curve escrow address")

// DeriveEscrowAddress derives the escrow account address for escrowID under factory.
// Tries bump 255 down to 1 and returns the first SHA256(seed|id|bump|factory|marker)
// that is not an ed25519 point, so no private key can sign for it.
func DeriveEscrowAddress(escrowID string, factory domain.Address) (domain.Address, uint8, error) {
	id, err := hex.DecodeString(escrowID)
	if err != nil {
		return "", 0, fmt.Errorf("decode escrow id: %w", err)
	}
	factoryBytes, err := factory.Bytes()
	if err != nil {
		return "", 0, fmt.Errorf("factory address: %w", err)
	}

	for bump := byte(255); bump > 0; bump-- {
		data := make([]byte, 0, len(escrowSeed)+len(id)+1+len(factoryBytes)+len(derivedMarker))
		data = append(data, escrowSeed...)
		data = append(data, id...)
		data = append(data, bump)
		data = append(data, factoryBytes...)
		data = append(data, derivedMarker...)

		hash := sha256.Sum256(data)
		addr := domain.AddressFromBytes(hash[:])
		if !addr.IsOnCurve() {
			return addr, bump, nil
		}
	}

	return "", 0, ErrNoOffCurveAddress
}
