package escrow

import (
	"context"
	"time"

	"htlc-escrow/internal/domain"
	"htlc-escrow/internal/observability"
	"htlc-escrow/internal/storage"
	"htlc-escrow/internal/timelock"
)

// CancelRequest asks to refund an escrow after its cancellation stage.
type CancelRequest struct {
	EscrowID       string
	Caller         domain.Address
	Authorizations []domain.Authorization
}

// Cancel returns the principal to the original payer and the safety deposit to
// the caller, and marks the escrow Cancelled.
//
// Checks, in order: NotFound, NotActive, TooEarly, Unauthorized.
func (e *Engine) Cancel(ctx context.Context, req CancelRequest) (esc *domain.Escrow, err error) {
	start := time.Now()
	defer func() { e.finish("cancel", start, req.EscrowID, err) }()

	if err := req.Caller.Validate(); err != nil {
		return nil, ErrInvalidTerms.with("caller: %v", err)
	}
	now := e.clock.Now()

	var cancelled *domain.Event
	err = e.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		esc, err = loadActive(ctx, tx, req.EscrowID)
		if err != nil {
			return err
		}

		schedule := timelock.New(esc.Resolved.CreatedAt, esc.Terms.Timelocks)
		stage := timelock.CancellationStage(esc.IsTaker(req.Caller))
		open, err := schedule.Reached(stage, now)
		if err != nil {
			return scheduleError(err)
		}
		if !open {
			return ErrTooEarly.with("%s not open at %d", stage, now)
		}
		if e.cfg.RequireCancelAuth {
			if err := e.authorize(req.Caller, CancelPayload(esc.ID, req.Caller), req.Authorizations); err != nil {
				return err
			}
		}

		if err := transfer(ctx, tx,
			domain.Transfer{Token: esc.Terms.Token, From: esc.Address, To: esc.Payer(), Amount: esc.Resolved.Amount},
			domain.Transfer{Token: esc.Terms.SafetyDepositToken, From: esc.Address, To: req.Caller, Amount: esc.Terms.SafetyDepositAmount},
		); err != nil {
			return err
		}
		if err := transition(ctx, tx, esc, domain.StateCancelled, now); err != nil {
			return err
		}

		ev, err := newEvent(ctx, tx, esc, domain.EventEscrowCancelled, req.Caller, esc.Terms.Token, esc.Resolved.Amount, now)
		if err != nil {
			return err
		}
		if err := tx.Events().Append(ctx, ev); err != nil {
			return err
		}
		cancelled = ev
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.RecordTransition(string(domain.StateActive), string(domain.StateCancelled))
	e.log.Info("cancelled escrow %s: %d of %s back to %s, deposit to %s",
		esc.ID, esc.Resolved.Amount, esc.Terms.Token, esc.Payer(), req.Caller)
	e.publish(ctx, cancelled)
	return esc, nil
}
