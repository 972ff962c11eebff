package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"htlc-escrow/internal/domain"
	"htlc-escrow/internal/observability"
	"htlc-escrow/internal/storage"
)

// BalanceStore implements storage.BalanceStore using PostgreSQL.
type BalanceStore struct {
	q querier
}

// NewBalanceStore creates a new BalanceStore.
func NewBalanceStore(pool *Pool) *BalanceStore {
	return &BalanceStore{q: pool}
}

const creditQuery = `
	INSERT INTO balances (token, owner, amount)
	VALUES ($1, $2, $3)
	ON CONFLICT (token, owner)
	DO UPDATE SET amount = balances.amount + EXCLUDED.amount, updated_at = now()
`

const debitQuery = `
	UPDATE balances SET amount = amount - $3, updated_at = now()
	WHERE token = $1 AND owner = $2 AND amount >= $3
`

// Balance returns the owner's balance of token. Unknown owners hold 0.
func (s *BalanceStore) Balance(ctx context.Context, token, owner domain.Address) (int64, error) {
	var amount int64
	err := s.q.QueryRow(ctx,
		`SELECT amount FROM balances WHERE token = $1 AND owner = $2`,
		string(token), string(owner),
	).Scan(&amount)
	if err != nil {
		if isNotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return amount, nil
}

// Mint credits amount of token to owner.
func (s *BalanceStore) Mint(ctx context.Context, token, owner domain.Address, amount int64) error {
	if amount <= 0 || token == "" || owner == "" {
		return storage.ErrInvalidInput
	}

	if _, err := s.q.Exec(ctx, creditQuery, string(token), string(owner), amount); err != nil {
		if isOverflowError(err) {
			return storage.ErrOverflow
		}
		return fmt.Errorf("mint: %w", err)
	}
	return nil
}

// Transfer applies the batch atomically in its own (sub)transaction.
// A debit that finds too little balance updates no row and aborts the batch.
func (s *BalanceStore) Transfer(ctx context.Context, transfers ...domain.Transfer) error {
	for _, t := range transfers {
		if t.Amount < 0 || t.Token == "" || t.From == "" || t.To == "" {
			return fmt.Errorf("%w: transfer %+v", storage.ErrInvalidInput, t)
		}
	}

	start := time.Now()
	err := pgx.BeginFunc(ctx, s.q, func(tx pgx.Tx) error {
		for _, t := range transfers {
			if t.Amount == 0 {
				continue
			}

			tag, err := tx.Exec(ctx, debitQuery, string(t.Token), string(t.From), t.Amount)
			if err != nil {
				return fmt.Errorf("debit %s: %w", t.From, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: %s cannot pay %d of %s",
					storage.ErrInsufficientBalance, t.From, t.Amount, t.Token)
			}

			if _, err := tx.Exec(ctx, creditQuery, string(t.Token), string(t.To), t.Amount); err != nil {
				if isOverflowError(err) {
					return storage.ErrOverflow
				}
				return fmt.Errorf("credit %s: %w", t.To, err)
			}
		}
		return nil
	})

	var dbErr error
	if isDriverError(err) {
		dbErr = err
	}
	observability.RecordDBQuery("postgres", "transfer", time.Since(start).Seconds(), dbErr)
	return err
}

// Verify interface compliance at compile time.
var _ storage.BalanceStore = (*BalanceStore)(nil)
