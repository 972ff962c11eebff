package escrow

import (
	"context"
	"fmt"

	"htlc-escrow/internal/domain"
	"htlc-escrow/internal/idhash"
)

// Get returns the escrow with id.
func (e *Engine) Get(ctx context.Context, id string) (*domain.Escrow, error) {
	return loadEscrow(ctx, e.store.Escrows(), id)
}

// Events returns the escrow's events in order.
func (e *Engine) Events(ctx context.Context, id string) ([]*domain.Event, error) {
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	evs, err := e.store.Events().GetByEscrowID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return evs, nil
}

// FindByHashlock returns every escrow locked by hashlock.
func (e *Engine) FindByHashlock(ctx context.Context, hashlock domain.Hash32) ([]*domain.Escrow, error) {
	escrows, err := e.store.Escrows().GetByHashlock(ctx, hashlock)
	if err != nil {
		return nil, fmt.Errorf("find by hashlock: %w", err)
	}
	return escrows, nil
}

// FindByState returns every escrow in state.
func (e *Engine) FindByState(ctx context.Context, state domain.State) ([]*domain.Escrow, error) {
	if !state.IsValid() {
		return nil, ErrInvalidTerms.with("unknown state %q", state)
	}
	escrows, err := e.store.Escrows().GetByState(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("find by state: %w", err)
	}
	return escrows, nil
}

// AddressOf returns the id and escrow account terms would get, without creating anything.
func (e *Engine) AddressOf(terms domain.SwapTerms) (string, domain.Address, error) {
	id := idhash.ComputeEscrowID(terms)
	addr, _, err := idhash.DeriveEscrowAddress(id, e.cfg.FactoryAddress)
	if err != nil {
		return "", "", fmt.Errorf("derive escrow address: %w", err)
	}
	return id, addr, nil
}
