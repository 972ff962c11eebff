// Package auth checks that a party approved one exact operation payload.
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"htlc-escrow/internal/domain"
)

// ErrUnauthorized is returned when no valid authorization from the party covers the payload.
var ErrUnauthorized = errors.New("unauthorized")

// Authorizer verifies party approval of a payload.
type Authorizer interface {
	// RequireAuthorized returns nil if auths contain a valid approval of payload by party.
	RequireAuthorized(party domain.Address, payload []byte, auths []domain.Authorization) error
}

// Ed25519Authorizer accepts detached ed25519 signatures made by the party's key.
type Ed25519Authorizer struct{}

// NewEd25519Authorizer creates a signature-checking authorizer.
func NewEd25519Authorizer() *Ed25519Authorizer {
	return &Ed25519Authorizer{}
}

// RequireAuthorized verifies at least one signature by party over payload.
func (a *Ed25519Authorizer) RequireAuthorized(party domain.Address, payload []byte, auths []domain.Authorization) error {
	key, err := publicKey(party)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	for _, auth := range auths {
		if auth.Party != party || len(auth.Signature) != ed25519.SignatureSize {
			continue
		}
		if ed25519.Verify(key, payload, auth.Signature) {
			return nil
		}
	}
	return fmt.Errorf("%w: no valid signature from %s", ErrUnauthorized, party)
}

func publicKey(party domain.Address) (ed25519.PublicKey, error) {
	b, err := party.Bytes()
	if err != nil {
		return nil, err
	}
	// Derived escrow addresses are off-curve and can never sign.
	if !party.IsOnCurve() {
		return nil, fmt.Errorf("%s is not a signing key", party)
	}
	return ed25519.PublicKey(b), nil
}

// AllowList authorizes listed parties without looking at signatures.
// Used in development and tests.
type AllowList struct {
	parties map[domain.Address]struct{}
}

// NewAllowList creates an allow-list authorizer.
func NewAllowList(parties ...domain.Address) *AllowList {
	l := &AllowList{parties: make(map[domain.Address]struct{})}
	for _, p := range parties {
		l.parties[p] = struct{}{}
	}
	return l
}

// RequireAuthorized succeeds for listed parties.
func (l *AllowList) RequireAuthorized(party domain.Address, _ []byte, _ []domain.Authorization) error {
	if _, ok := l.parties[party]; ok {
		return nil
	}
	return fmt.Errorf("%w: %s not in allow list", ErrUnauthorized, party)
}

// AllowAll authorizes every party.
type AllowAll struct{}

// RequireAuthorized always succeeds.
func (AllowAll) RequireAuthorized(domain.Address, []byte, []domain.Authorization) error {
	return nil
}

var (
	_ Authorizer = (*Ed25519Authorizer)(nil)
	_ Authorizer = (*AllowList)(nil)
	_ Authorizer = AllowAll{}
)
