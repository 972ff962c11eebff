package idhash

import (
	"crypto/sha256"
	"encoding/hex"

	"htlc-escrow/internal/domain"
)

// termsDomain separates escrow ids from any other hash of the same bytes.
const termsDomain = "htlc-escrow/terms/v1"

// ComputeEscrowID computes a deterministic escrow_id using SHA256.
// Formula: SHA256(CanonicalTerms(terms))
// Returns hex-encoded hash (64 characters).
func ComputeEscrowID(terms domain.SwapTerms) string {
	hash := sha256.Sum256(CanonicalTerms(terms))
	return hex.EncodeToString(hash[:])
}

// CanonicalTerms serializes terms in a fixed field order.
// Variable-length fields are length-prefixed so adjacent fields cannot run together.
func CanonicalTerms(terms domain.SwapTerms) []byte {
	var e Encoder
	e.Str(termsDomain)
	e.Raw(terms.OrderHash[:])
	e.Raw(terms.Hashlock[:])
	e.Str(string(terms.Direction))
	e.Str(string(terms.Maker))
	e.Str(string(terms.Taker))
	e.Str(string(terms.Token))

	e.Str(string(terms.Amount.Kind))
	e.I64(terms.Amount.Flat)
	if a := terms.Amount.Auction; a != nil {
		e.Flag(true)
		e.U64(a.StartTime)
		e.U64(a.EndTime)
		e.I64(a.StartAmount)
		e.I64(a.EndAmount)
	} else {
		e.Flag(false)
	}

	e.Str(string(terms.SafetyDepositToken))
	e.I64(terms.SafetyDepositAmount)

	tl := terms.Timelocks
	e.U64(tl.Withdrawal)
	e.U64(tl.PublicWithdrawal)
	e.U64(tl.Cancellation)
	e.U64(tl.PublicCancellation)

	mt := terms.MakerTraits
	e.Flag(mt.NoPartialFills)
	e.Flag(mt.AllowMultipleFills)
	e.Flag(mt.PreInteractionCall)
	e.Flag(mt.PostInteractionCall)
	e.Flag(mt.NeedCheckEpochManager)
	e.Flag(mt.HasExtension)
	e.Flag(mt.UsePermit2)
	e.Flag(mt.UnwrapWeth)
	e.Str(string(mt.AllowedSender))
	if mt.Expiration != nil {
		e.Flag(true)
		e.U64(*mt.Expiration)
	} else {
		e.Flag(false)
	}
	e.U64(mt.NonceOrEpoch)
	e.U64(mt.Series)

	return e.Bytes()
}
