package escrow

import (
	"context"
	"time"

	"htlc-escrow/internal/domain"
	"htlc-escrow/internal/observability"
	"htlc-escrow/internal/storage"
	"htlc-escrow/internal/timelock"
)

// WithdrawRequest reveals the secret to release an escrow.
type WithdrawRequest struct {
	EscrowID string
	Secret   domain.Secret
	Caller   domain.Address
}

// Withdraw pays the principal to the payee and the safety deposit to the caller,
// marks the escrow Withdrawn and publishes the secret.
//
// Checks run in order and each rejects without side effects:
// NotFound, NotActive, TooEarly, TooLate, InvalidSecret.
func (e *Engine) Withdraw(ctx context.Context, req WithdrawRequest) (esc *domain.Escrow, err error) {
	start := time.Now()
	defer func() { e.finish("withdraw", start, req.EscrowID, err) }()

	if err := req.Caller.Validate(); err != nil {
		return nil, ErrInvalidTerms.with("caller: %v", err)
	}
	now := e.clock.Now()

	var withdrawn *domain.Event
	err = e.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		esc, err = loadActive(ctx, tx, req.EscrowID)
		if err != nil {
			return err
		}

		schedule := timelock.New(esc.Resolved.CreatedAt, esc.Terms.Timelocks)
		stage := timelock.WithdrawalStage(esc.IsTaker(req.Caller))
		open, err := schedule.Reached(stage, now)
		if err != nil {
			return scheduleError(err)
		}
		if !open {
			return ErrTooEarly.with("%s not open at %d", stage, now)
		}
		// A zero cancellation offset means the schedule sets no upper bound.
		if esc.Terms.Timelocks.Cancellation > 0 {
			closed, err := schedule.Reached(timelock.StageCancellation, now)
			if err != nil {
				return scheduleError(err)
			}
			if closed {
				return ErrTooLate.with("withdrawal closed by %s, now %d", timelock.StageCancellation, now)
			}
		}
		if !esc.Terms.Hashlock.Unlocks(req.Secret) {
			return ErrInvalidSecret.with("secret does not match hashlock %s", esc.Terms.Hashlock)
		}

		if err := transfer(ctx, tx,
			domain.Transfer{Token: esc.Terms.Token, From: esc.Address, To: esc.Payee(), Amount: esc.Resolved.Amount},
			domain.Transfer{Token: esc.Terms.SafetyDepositToken, From: esc.Address, To: req.Caller, Amount: esc.Terms.SafetyDepositAmount},
		); err != nil {
			return err
		}
		if err := transition(ctx, tx, esc, domain.StateWithdrawn, now); err != nil {
			return err
		}

		ev, err := newEvent(ctx, tx, esc, domain.EventWithdrawn, req.Caller, esc.Terms.Token, esc.Resolved.Amount, now)
		if err != nil {
			return err
		}
		secret := req.Secret
		ev.Secret = &secret
		if err := tx.Events().Append(ctx, ev); err != nil {
			return err
		}
		withdrawn = ev
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.RecordTransition(string(domain.StateActive), string(domain.StateWithdrawn))
	e.log.Info("withdrew escrow %s: %d of %s to %s, deposit to %s",
		esc.ID, esc.Resolved.Amount, esc.Terms.Token, esc.Payee(), req.Caller)
	e.publish(ctx, withdrawn)
	return esc, nil
}
