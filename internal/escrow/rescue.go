package escrow

import (
	"context"
	"fmt"
	"time"

	"htlc-escrow/internal/domain"
	"htlc-escrow/internal/storage"
	"htlc-escrow/internal/timelock"
)

// RescueRequest asks to move tokens stranded at an escrow account to its taker.
type RescueRequest struct {
	EscrowID       string
	Token          domain.Address
	Amount         int64
	Caller         domain.Address
	Authorizations []domain.Authorization
}

// RescueFunds transfers amount of token from the escrow account to the taker
// once the rescue delay fixed at creation has passed. It works in any state and
// never changes it. While the escrow is Active the principal and safety deposit
// stay locked; only the balance above them can be rescued.
//
// Checks, in order: NotFound, InvalidAmount, Unauthorized, TooEarly, InsufficientBalance.
func (e *Engine) RescueFunds(ctx context.Context, req RescueRequest) (err error) {
	start := time.Now()
	defer func() { e.finish("rescue", start, req.EscrowID, err) }()

	if err := req.Token.Validate(); err != nil {
		return ErrInvalidTerms.with("token: %v", err)
	}
	now := e.clock.Now()

	var rescued *domain.Event
	err = e.store.InTx(ctx, func(tx storage.Tx) error {
		esc, err := loadEscrow(ctx, tx.Escrows(), req.EscrowID)
		if err != nil {
			return err
		}
		if req.Amount <= 0 {
			return ErrInvalidAmount.with("rescue amount %d", req.Amount)
		}
		if !esc.IsTaker(req.Caller) {
			return ErrUnauthorized.with("only the taker may rescue funds")
		}
		if err := e.authorize(req.Caller, RescuePayload(esc.ID, req.Token, req.Amount, req.Caller), req.Authorizations); err != nil {
			return err
		}

		opens, err := timelock.New(esc.Resolved.CreatedAt, esc.Terms.Timelocks).RescueStart(esc.Resolved.RescueDelay)
		if err != nil {
			return scheduleError(err)
		}
		if now < opens {
			return ErrTooEarly.with("rescue opens at %d, now %d", opens, now)
		}

		if esc.State == domain.StateActive {
			held, err := tx.Balances().Balance(ctx, req.Token, esc.Address)
			if err != nil {
				return fmt.Errorf("load escrow balance: %w", err)
			}
			locked := lockedAmount(esc, req.Token)
			if held < locked || held-locked < req.Amount {
				return ErrInsufficientBalance.with("escrow %s holds %d of %s, %d locked, rescue needs %d",
					esc.ID, held, req.Token, locked, req.Amount)
			}
		}

		if err := transfer(ctx, tx, domain.Transfer{Token: req.Token, From: esc.Address, To: req.Caller, Amount: req.Amount}); err != nil {
			return err
		}

		ev, err := newEvent(ctx, tx, esc, domain.EventFundsRescued, req.Caller, req.Token, req.Amount, now)
		if err != nil {
			return err
		}
		if err := tx.Events().Append(ctx, ev); err != nil {
			return err
		}
		rescued = ev
		return nil
	})
	if err != nil {
		return err
	}

	e.log.Info("rescued %d of %s from escrow %s to %s", req.Amount, req.Token, req.EscrowID, req.Caller)
	e.publish(ctx, rescued)
	return nil
}

// lockedAmount is how much of token an Active escrow holds for its own payouts.
func lockedAmount(esc *domain.Escrow, token domain.Address) int64 {
	var locked int64
	if token == esc.Terms.Token {
		locked += esc.Resolved.Amount
	}
	if token == esc.Terms.SafetyDepositToken {
		locked += esc.Terms.SafetyDepositAmount
	}
	return locked
}
