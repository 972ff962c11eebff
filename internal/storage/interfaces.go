package storage

import (
	"context"

	"htlc-escrow/internal/domain"
)

// EscrowStore provides access to the escrows registry.
type EscrowStore interface {
	// Insert registers a new escrow. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, e *domain.Escrow) error

	// GetByID retrieves an escrow by its ID. Returns ErrNotFound if not exists.
	// Inside a transaction the row stays locked until commit.
	GetByID(ctx context.Context, id string) (*domain.Escrow, error)

	// UpdateState moves an escrow from one state to another.
	// Returns ErrNotFound if not exists, ErrStateConflict if the stored state is not from.
	UpdateState(ctx context.Context, id string, from, to domain.State, at uint64) error

	// GetByHashlock retrieves all escrows locked by hashlock, ordered by creation time ASC.
	GetByHashlock(ctx context.Context, hashlock domain.Hash32) ([]*domain.Escrow, error)

	// GetByState retrieves all escrows in state, ordered by creation time ASC.
	GetByState(ctx context.Context, state domain.State) ([]*domain.Escrow, error)
}

// BalanceStore is the token ledger.
type BalanceStore interface {
	// Balance returns the owner's balance of token. Unknown owners hold 0.
	Balance(ctx context.Context, token, owner domain.Address) (int64, error)

	// Mint credits amount of token to owner.
	Mint(ctx context.Context, token, owner domain.Address, amount int64) error

	// Transfer applies a batch of movements atomically. Every debit is validated
	// before any is applied; returns ErrInsufficientBalance or ErrOverflow and
	// leaves every balance unchanged on failure. Zero-amount transfers are skipped.
	Transfer(ctx context.Context, transfers ...domain.Transfer) error
}

// EventStore provides access to the escrow event log.
type EventStore interface {
	// Append adds a new event. Returns ErrDuplicateKey if event id exists.
	Append(ctx context.Context, e *domain.Event) error

	// GetByEscrowID retrieves all events of an escrow, ordered by sequence ASC.
	GetByEscrowID(ctx context.Context, escrowID string) ([]*domain.Event, error)

	// GetByTimeRange retrieves events within [start, end] (inclusive), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, start, end uint64) ([]*domain.Event, error)
}

// Tx exposes the stores bound to one transaction.
type Tx interface {
	Escrows() EscrowStore
	Balances() BalanceStore
	Events() EventStore
}

// Transactor runs fn so that all its writes commit together or not at all.
// A non-nil error from fn discards every write made through tx.
type Transactor interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Backend is a complete storage backend: stores for reads outside a
// transaction plus the transactor for operations.
type Backend interface {
	Tx
	Transactor
}
