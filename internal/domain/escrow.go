package domain

// State is the escrow lifecycle state.
type State string

const (
	StateActive    State = "ACTIVE"
	StateWithdrawn State = "WITHDRAWN"
	StateCancelled State = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateWithdrawn || s == StateCancelled
}

// IsValid reports whether s is a known state.
func (s State) IsValid() bool {
	return s == StateActive || s.IsTerminal()
}

// Resolution holds values fixed when the escrow was created.
type Resolution struct {
	Taker     Address `json:"taker"`
	Amount    int64   `json:"amount"`
	CreatedAt uint64  `json:"created_at"` // deployment timestamp of the timelock schedule
	// RescueDelay is the seconds after CreatedAt when the taker may start rescuing funds.
	RescueDelay uint64 `json:"rescue_delay"`
}

// Escrow is one registered escrow instance.
type Escrow struct {
	ID        string     `json:"id"`
	Address   Address    `json:"address"`
	Terms     SwapTerms  `json:"terms"`
	State     State      `json:"state"`
	Resolved  Resolution `json:"resolved"`
	UpdatedAt uint64     `json:"updated_at"`
}

// Payer is the party whose principal was locked.
// Cancellation refunds the principal here.
func (e *Escrow) Payer() Address {
	return e.Terms.Payer(e.Resolved.Taker)
}

// Payee receives the principal on withdrawal.
func (e *Escrow) Payee() Address {
	return e.Terms.Payee(e.Resolved.Taker)
}

// IsTaker reports whether addr is the resolved taker.
func (e *Escrow) IsTaker(addr Address) bool {
	return addr == e.Resolved.Taker
}

// Clone returns a deep copy.
func (e *Escrow) Clone() *Escrow {
	out := *e
	out.Terms = e.Terms.Clone()
	return &out
}
