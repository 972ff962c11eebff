package domain

// EventType names an escrow event topic.
type EventType string

const (
	EventEscrowCreated   EventType = "escrow_created"
	EventWithdrawn       EventType = "withdraw"
	EventEscrowCancelled EventType = "cancel"
	EventFundsRescued    EventType = "funds_rescued"
)

// Event is a published escrow event. Withdrawn events carry the revealed secret.
type Event struct {
	ID        string    `json:"id"`
	EscrowID  string    `json:"escrow_id"`
	Sequence  int       `json:"sequence"`
	Type      EventType `json:"type"`
	Hashlock  Hash32    `json:"hashlock"`
	Caller    Address   `json:"caller"`
	Token     Address   `json:"token"`
	Amount    int64     `json:"amount"`
	Secret    *Secret   `json:"secret,omitempty"`
	Timestamp uint64    `json:"timestamp"`
}
