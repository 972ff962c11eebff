package escrow

import (
	"htlc-escrow/internal/domain"
	"htlc-escrow/internal/idhash"
)

// Payload tags keep a signature for one operation from being replayed as another.
const (
	orderTag  = "htlc-escrow/order/v1"
	createTag = "htlc-escrow/create/v1"
	cancelTag = "htlc-escrow/cancel/v1"
	rescueTag = "htlc-escrow/rescue/v1"
)

// OrderPayload is what the maker signs: the exact swap terms.
// It does not name a dynamic taker, so any taker may fill it.
func OrderPayload(terms domain.SwapTerms) []byte {
	var e idhash.Encoder
	e.Str(orderTag)
	e.Raw(idhash.CanonicalTerms(terms))
	return e.Bytes()
}

// CreatePayload is what the taker signs to create an escrow.
func CreatePayload(req CreateRequest) []byte {
	var e idhash.Encoder
	e.Str(createTag)
	e.Raw(idhash.CanonicalTerms(req.Terms))
	e.Str(string(req.Taker))

	tt := req.TakerTraits
	e.Flag(tt.IsMakingAmount)
	e.Flag(tt.UnwrapWeth)
	e.Flag(tt.SkipMakerPermit)
	e.Flag(tt.UsePermit2)
	e.Flag(tt.ArgsHasTarget)
	e.U64(uint64(tt.ArgsExtensionLength))
	e.U64(uint64(tt.ArgsInteractionLength))
	e.I64(tt.Threshold)

	if req.SrcCancellationTimestamp != nil {
		e.Flag(true)
		e.U64(*req.SrcCancellationTimestamp)
	} else {
		e.Flag(false)
	}
	return e.Bytes()
}

// CancelPayload is what the caller signs to cancel an escrow.
func CancelPayload(escrowID string, caller domain.Address) []byte {
	var e idhash.Encoder
	e.Str(cancelTag)
	e.Str(escrowID)
	e.Str(string(caller))
	return e.Bytes()
}

// RescuePayload is what the taker signs to rescue funds from an escrow.
func RescuePayload(escrowID string, token domain.Address, amount int64, caller domain.Address) []byte {
	var e idhash.Encoder
	e.Str(rescueTag)
	e.Str(escrowID)
	e.Str(string(token))
	e.I64(amount)
	e.Str(string(caller))
	return e.Bytes()
}
