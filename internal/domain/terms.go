package domain

// Direction says which party's principal is locked in the escrow.
type Direction string

const (
	// DirectionMakerToTaker locks the maker's funds; the taker withdraws them (source chain).
	DirectionMakerToTaker Direction = "MAKER_TO_TAKER"
	// DirectionTakerToMaker locks the taker's funds; the maker withdraws them (destination chain).
	DirectionTakerToMaker Direction = "TAKER_TO_MAKER"
)

// IsValid reports whether d is a known direction.
func (d Direction) IsValid() bool {
	return d == DirectionMakerToTaker || d == DirectionTakerToMaker
}

// AmountKind tags the AmountCalc variant.
type AmountKind string

const (
	AmountFlat   AmountKind = "FLAT"
	AmountLinear AmountKind = "LINEAR"
)

// DutchAuction describes a linear price between two time/amount endpoints.
type DutchAuction struct {
	StartTime   uint64 `json:"start_time"`
	EndTime     uint64 `json:"end_time"`
	StartAmount int64  `json:"start_amount"`
	EndAmount   int64  `json:"end_amount"`
}

// AmountCalc is either a flat amount or a Dutch auction.
type AmountCalc struct {
	Kind    AmountKind    `json:"kind"`
	Flat    int64         `json:"flat,omitempty"`
	Auction *DutchAuction `json:"auction,omitempty"`
}

// FlatAmount returns a constant AmountCalc.
func FlatAmount(amount int64) AmountCalc {
	return AmountCalc{Kind: AmountFlat, Flat: amount}
}

// LinearAmount returns a Dutch auction AmountCalc.
func LinearAmount(auction DutchAuction) AmountCalc {
	return AmountCalc{Kind: AmountLinear, Auction: &auction}
}

// Timelocks holds per-stage offsets in seconds relative to escrow deployment.
type Timelocks struct {
	Withdrawal         uint64 `json:"withdrawal"`
	PublicWithdrawal   uint64 `json:"public_withdrawal"`
	Cancellation       uint64 `json:"cancellation"`
	PublicCancellation uint64 `json:"public_cancellation"`
}

// MakerTraits carries order flags chosen by the maker.
// Only AllowedSender and Expiration are enforced; the rest are part of the escrow identity.
type MakerTraits struct {
	NoPartialFills        bool    `json:"no_partial_fills"`
	AllowMultipleFills    bool    `json:"allow_multiple_fills"`
	PreInteractionCall    bool    `json:"pre_interaction_call"`
	PostInteractionCall   bool    `json:"post_interaction_call"`
	NeedCheckEpochManager bool    `json:"need_check_epoch_manager"`
	HasExtension          bool    `json:"has_extension"`
	UsePermit2            bool    `json:"use_permit2"`
	UnwrapWeth            bool    `json:"unwrap_weth"`
	AllowedSender         Address `json:"allowed_sender,omitempty"`
	Expiration            *uint64 `json:"expiration,omitempty"`
	NonceOrEpoch          uint64  `json:"nonce_or_epoch"`
	Series                uint64  `json:"series"`
}

// IsAllowedSender reports whether sender may fill the order.
func (m MakerTraits) IsAllowedSender(sender Address) bool {
	return m.AllowedSender.IsZero() || m.AllowedSender == sender
}

// IsExpired reports whether the order has expired at now.
func (m MakerTraits) IsExpired(now uint64) bool {
	return m.Expiration != nil && now >= *m.Expiration
}

// AllowPartialFills reports whether the order may be filled in parts.
func (m MakerTraits) AllowPartialFills() bool {
	return !m.NoPartialFills
}

// TakerTraits carries fill options chosen by the taker at creation.
type TakerTraits struct {
	IsMakingAmount        bool   `json:"is_making_amount"`
	UnwrapWeth            bool   `json:"unwrap_weth"`
	SkipMakerPermit       bool   `json:"skip_maker_permit"`
	UsePermit2            bool   `json:"use_permit2"`
	ArgsHasTarget         bool   `json:"args_has_target"`
	ArgsExtensionLength   uint32 `json:"args_extension_length"`
	ArgsInteractionLength uint32 `json:"args_interaction_length"`
	// Threshold is the largest resolved amount the taker accepts. Zero means unbounded.
	Threshold int64 `json:"threshold"`
}

// Exceeds reports whether amount breaks the taker's threshold.
func (t TakerTraits) Exceeds(amount int64) bool {
	return t.Threshold > 0 && amount > t.Threshold
}

// SwapTerms are the immutable parameters of one escrow.
type SwapTerms struct {
	OrderHash           Hash32      `json:"order_hash"`
	Hashlock            Hash32      `json:"hashlock"`
	Direction           Direction   `json:"direction"`
	Maker               Address     `json:"maker"`
	Taker               Address     `json:"taker,omitempty"` // empty: resolved at creation
	Token               Address     `json:"token"`
	Amount              AmountCalc  `json:"amount"`
	SafetyDepositToken  Address     `json:"safety_deposit_token"`
	SafetyDepositAmount int64       `json:"safety_deposit_amount"`
	Timelocks           Timelocks   `json:"timelocks"`
	MakerTraits         MakerTraits `json:"maker_traits"`
}

// Payer returns who funds the principal once taker is resolved.
func (t SwapTerms) Payer(taker Address) Address {
	if t.Direction == DirectionMakerToTaker {
		return t.Maker
	}
	return taker
}

// Payee returns who receives the principal on withdrawal.
func (t SwapTerms) Payee(taker Address) Address {
	if t.Direction == DirectionMakerToTaker {
		return taker
	}
	return t.Maker
}

// Clone returns a deep copy.
func (t SwapTerms) Clone() SwapTerms {
	out := t
	if t.Amount.Auction != nil {
		a := *t.Amount.Auction
		out.Amount.Auction = &a
	}
	if t.MakerTraits.Expiration != nil {
		e := *t.MakerTraits.Expiration
		out.MakerTraits.Expiration = &e
	}
	return out
}
