// Package escrow implements the hash-timelock escrow state machine.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"htlc-escrow/internal/auth"
	"htlc-escrow/internal/domain"
	"htlc-escrow/internal/events"
	"htlc-escrow/internal/idhash"
	"htlc-escrow/internal/logger"
	"htlc-escrow/internal/observability"
	"htlc-escrow/internal/pricing"
	"htlc-escrow/internal/storage"
	"htlc-escrow/internal/timelock"
)

// DefaultRescueDelay is seven days.
const DefaultRescueDelay uint64 = 7 * 24 * 60 * 60

// Config holds engine settings.
type Config struct {
	// FactoryAddress seeds derived escrow account addresses.
	FactoryAddress domain.Address
	// RescueDelay is how long after creation the taker may rescue stray funds.
	RescueDelay uint64
	// RequireCancelAuth makes cancel require the caller's signature.
	RequireCancelAuth bool
}

// DefaultConfig returns the default engine settings for factory.
func DefaultConfig(factory domain.Address) Config {
	return Config{
		FactoryAddress:    factory,
		RescueDelay:       DefaultRescueDelay,
		RequireCancelAuth: true,
	}
}

// Engine runs escrow operations against a storage backend.
type Engine struct {
	cfg   Config
	store storage.Backend
	auth  auth.Authorizer
	sink  events.Sink
	clock Clock
	log   logger.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithSink sets where committed events are published.
func WithSink(s events.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.log = l.With("engine") }
}

// NewEngine creates an engine. It fails if the factory address is invalid.
func NewEngine(cfg Config, store storage.Backend, authorizer auth.Authorizer, opts ...Option) (*Engine, error) {
	if err := cfg.FactoryAddress.Validate(); err != nil {
		return nil, fmt.Errorf("factory address: %w", err)
	}
	if store == nil || authorizer == nil {
		return nil, errors.New("store and authorizer are required")
	}

	e := &Engine{
		cfg:   cfg,
		store: store,
		auth:  authorizer,
		sink:  events.Discard{},
		clock: SystemClock{},
		log:   &logger.EmptyLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine settings.
func (e *Engine) Config() Config {
	return e.cfg
}

// finish records metrics and logs the outcome of one operation.
func (e *Engine) finish(op string, start time.Time, escrowID string, err error) {
	code := "OK"
	if err != nil {
		code = string(CodeOf(err))
		if code == "" {
			code = "Internal"
		}
	}
	observability.RecordOperation(op, code, time.Since(start).Seconds())

	switch {
	case err == nil:
	case CodeOf(err) != "":
		e.log.Debug("%s %s rejected: %v", op, escrowID, err)
	default:
		e.log.Error("%s %s failed: %v", op, escrowID, err)
	}
}

// publish hands committed events to the sink, detached from the caller's
// cancellation.
func (e *Engine) publish(ctx context.Context, evs ...*domain.Event) {
	e.sink.Publish(context.WithoutCancel(ctx), evs...)
}

// newEvent builds the next event of escrow, numbered after the stored ones.
func newEvent(ctx context.Context, tx storage.Tx, esc *domain.Escrow, typ domain.EventType, caller, token domain.Address, amount int64, now uint64) (*domain.Event, error) {
	existing, err := tx.Events().GetByEscrowID(ctx, esc.ID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	seq := len(existing)
	return &domain.Event{
		ID:        idhash.ComputeEventID(esc.ID, seq, typ),
		EscrowID:  esc.ID,
		Sequence:  seq,
		Type:      typ,
		Hashlock:  esc.Terms.Hashlock,
		Caller:    caller,
		Token:     token,
		Amount:    amount,
		Timestamp: now,
	}, nil
}

// loadActive reads the escrow inside tx and checks it is Active.
func loadActive(ctx context.Context, tx storage.Tx, id string) (*domain.Escrow, error) {
	esc, err := loadEscrow(ctx, tx.Escrows(), id)
	if err != nil {
		return nil, err
	}
	if esc.State != domain.StateActive {
		return nil, ErrNotActive.with("escrow %s is %s", id, esc.State)
	}
	return esc, nil
}

func loadEscrow(ctx context.Context, store storage.EscrowStore, id string) (*domain.Escrow, error) {
	esc, err := store.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound.with("escrow %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load escrow %s: %w", id, err)
	}
	return esc, nil
}

// transfer applies movements and maps ledger failures to engine codes.
func transfer(ctx context.Context, tx storage.Tx, moves ...domain.Transfer) error {
	err := tx.Balances().Transfer(ctx, moves...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrInsufficientBalance):
		return ErrInsufficientBalance.with("%v", err)
	case errors.Is(err, storage.ErrOverflow):
		return ErrArithmeticOverflow.with("%v", err)
	default:
		return fmt.Errorf("transfer: %w", err)
	}
}

// transition moves an Active escrow to a terminal state.
func transition(ctx context.Context, tx storage.Tx, esc *domain.Escrow, to domain.State, now uint64) error {
	err := tx.Escrows().UpdateState(ctx, esc.ID, domain.StateActive, to, now)
	switch {
	case err == nil:
		esc.State = to
		esc.UpdatedAt = now
		return nil
	case errors.Is(err, storage.ErrStateConflict):
		return ErrNotActive.with("escrow %s changed concurrently", esc.ID)
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound.with("escrow %s", esc.ID)
	default:
		return fmt.Errorf("update state: %w", err)
	}
}

// scheduleError maps timelock failures to engine codes.
func scheduleError(err error) error {
	switch {
	case errors.Is(err, timelock.ErrOverflow):
		return ErrArithmeticOverflow.with("%v", err)
	case errors.Is(err, timelock.ErrInvalidOrder):
		return ErrInvalidTimelocks.with("%v", err)
	default:
		return err
	}
}

// pricingError maps pricer failures to engine codes.
func pricingError(err error) error {
	switch {
	case errors.Is(err, pricing.ErrInvalidAuctionWindow):
		return ErrInvalidAuctionWindow.with("%v", err)
	case errors.Is(err, pricing.ErrInvalidAmount):
		return ErrInvalidAmount.with("%v", err)
	default:
		return err
	}
}

func (e *Engine) authorize(party domain.Address, payload []byte, auths []domain.Authorization) error {
	if err := e.auth.RequireAuthorized(party, payload, auths); err != nil {
		return ErrUnauthorized.with("%v", err)
	}
	return nil
}
