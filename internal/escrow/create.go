package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"htlc-escrow/internal/domain"
	"htlc-escrow/internal/idhash"
	"htlc-escrow/internal/observability"
	"htlc-escrow/internal/pricing"
	"htlc-escrow/internal/storage"
	"htlc-escrow/internal/timelock"
)

// CreateRequest asks to open an escrow for terms, filled by Taker.
type CreateRequest struct {
	Terms       domain.SwapTerms
	Taker       domain.Address
	TakerTraits domain.TakerTraits
	// Authorizations must contain the taker's signature over CreatePayload and,
	// for MakerToTaker, the maker's signature over OrderPayload.
	Authorizations []domain.Authorization
	// SrcCancellationTimestamp, when set, is the cancellation start of the
	// mirrored source escrow; this escrow must become cancellable no later.
	SrcCancellationTimestamp *uint64
}

// Create validates terms, pulls the principal and safety deposit into a new
// escrow account and registers the escrow as Active.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (esc *domain.Escrow, err error) {
	start := time.Now()
	id := idhash.ComputeEscrowID(req.Terms)
	defer func() { e.finish("create", start, id, err) }()

	now := e.clock.Now()
	terms := req.Terms

	if err := validateTerms(terms, req.Taker); err != nil {
		return nil, err
	}

	// Resolve the taker.
	if !terms.Taker.IsZero() && terms.Taker != req.Taker {
		return nil, ErrUnauthorized.with("order is reserved for taker %s", terms.Taker)
	}
	if !terms.MakerTraits.IsAllowedSender(req.Taker) {
		return nil, ErrUnauthorized.with("sender %s not allowed by maker", req.Taker)
	}
	if terms.MakerTraits.IsExpired(now) {
		return nil, ErrOrderExpired.with("order expired at %d", *terms.MakerTraits.Expiration)
	}

	pricer, err := pricing.FromCalc(terms.Amount)
	if err != nil {
		return nil, pricingError(err)
	}
	amount := pricer.Evaluate(now)
	if req.TakerTraits.Exceeds(amount) {
		return nil, ErrThresholdExceeded.with("amount %d above threshold %d", amount, req.TakerTraits.Threshold)
	}

	schedule := timelock.New(now, terms.Timelocks)
	if err := schedule.Validate(); err != nil {
		return nil, scheduleError(err)
	}
	if e.cfg.RescueDelay <= terms.Timelocks.PublicCancellation {
		return nil, ErrInvalidTimelocks.with("rescue delay %d must exceed public cancellation offset %d",
			e.cfg.RescueDelay, terms.Timelocks.PublicCancellation)
	}
	if _, err := schedule.RescueStart(e.cfg.RescueDelay); err != nil {
		return nil, scheduleError(err)
	}
	if src := req.SrcCancellationTimestamp; src != nil {
		cancelStart, err := schedule.StageStart(timelock.StageCancellation)
		if err != nil {
			return nil, scheduleError(err)
		}
		if cancelStart > *src {
			return nil, ErrInvalidCreationTime.with("cancellation at %d is after source cancellation at %d", cancelStart, *src)
		}
	}

	// The taker always funds the safety deposit; the maker signs when it pays.
	if err := e.authorize(req.Taker, CreatePayload(req), req.Authorizations); err != nil {
		return nil, err
	}
	if terms.Direction == domain.DirectionMakerToTaker {
		if err := e.authorize(terms.Maker, OrderPayload(terms), req.Authorizations); err != nil {
			return nil, err
		}
	}

	address, _, err := idhash.DeriveEscrowAddress(id, e.cfg.FactoryAddress)
	if err != nil {
		return nil, fmt.Errorf("derive escrow address: %w", err)
	}

	esc = &domain.Escrow{
		ID:      id,
		Address: address,
		Terms:   terms.Clone(),
		State:   domain.StateActive,
		Resolved: domain.Resolution{
			Taker:       req.Taker,
			Amount:      amount,
			CreatedAt:   now,
			RescueDelay: e.cfg.RescueDelay,
		},
		UpdatedAt: now,
	}

	var created *domain.Event
	err = e.store.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.Escrows().GetByID(ctx, id); err == nil {
			return ErrAlreadyExists.with("escrow %s", id)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("check escrow %s: %w", id, err)
		}

		if err := transfer(ctx, tx,
			domain.Transfer{Token: terms.Token, From: esc.Payer(), To: address, Amount: amount},
			domain.Transfer{Token: terms.SafetyDepositToken, From: req.Taker, To: address, Amount: terms.SafetyDepositAmount},
		); err != nil {
			return err
		}

		if err := tx.Escrows().Insert(ctx, esc); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				return ErrAlreadyExists.with("escrow %s", id)
			}
			return fmt.Errorf("insert escrow: %w", err)
		}

		ev, err := newEvent(ctx, tx, esc, domain.EventEscrowCreated, req.Taker, terms.Token, amount, now)
		if err != nil {
			return err
		}
		if err := tx.Events().Append(ctx, ev); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		created = ev
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.RecordEscrowCreated(string(terms.Direction))
	e.log.Info("created escrow %s at %s: %s %d of %s, taker %s",
		id, address, terms.Direction, amount, terms.Token, req.Taker)
	e.publish(ctx, created)
	return esc, nil
}

func validateTerms(terms domain.SwapTerms, taker domain.Address) error {
	if !terms.Direction.IsValid() {
		return ErrInvalidTerms.with("unknown direction %q", terms.Direction)
	}
	addrs := []struct {
		name string
		addr domain.Address
	}{
		{"maker", terms.Maker},
		{"taker", taker},
		{"token", terms.Token},
		{"safety deposit token", terms.SafetyDepositToken},
	}
	for _, a := range addrs {
		if err := a.addr.Validate(); err != nil {
			return ErrInvalidTerms.with("%s: %v", a.name, err)
		}
	}
	if !terms.Taker.IsZero() {
		if err := terms.Taker.Validate(); err != nil {
			return ErrInvalidTerms.with("fixed taker: %v", err)
		}
	}
	if !terms.MakerTraits.AllowedSender.IsZero() {
		if err := terms.MakerTraits.AllowedSender.Validate(); err != nil {
			return ErrInvalidTerms.with("allowed sender: %v", err)
		}
	}
	if terms.SafetyDepositAmount < 0 {
		return ErrInvalidAmount.with("safety deposit %d", terms.SafetyDepositAmount)
	}
	return nil
}
