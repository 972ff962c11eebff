package memory

import (
	"context"
	"fmt"
	"math"

	"htlc-escrow/internal/domain"
	"htlc-escrow/internal/storage"
)

// BalanceStore is an in-memory implementation of storage.BalanceStore.
type BalanceStore struct {
	db *DB
	tx *memTx
}

// Balance returns the owner's balance of token.
func (s *BalanceStore) Balance(_ context.Context, token, owner domain.Address) (int64, error) {
	defer s.db.lockRead(s.tx)()
	return s.db.balances[balanceKey{token: token, owner: owner}], nil
}

// Mint credits amount of token to owner.
func (s *BalanceStore) Mint(_ context.Context, token, owner domain.Address, amount int64) error {
	if amount <= 0 || token == "" || owner == "" {
		return storage.ErrInvalidInput
	}

	defer s.db.lockWrite(s.tx)()

	key := balanceKey{token: token, owner: owner}
	prev := s.db.balances[key]
	if prev > math.MaxInt64-amount {
		return storage.ErrOverflow
	}
	s.set(key, prev+amount)
	return nil
}

// Transfer applies the batch atomically.
func (s *BalanceStore) Transfer(_ context.Context, transfers ...domain.Transfer) error {
	for _, t := range transfers {
		if t.Amount < 0 || t.Token == "" || t.From == "" || t.To == "" {
			return fmt.Errorf("%w: transfer %+v", storage.ErrInvalidInput, t)
		}
	}

	defer s.db.lockWrite(s.tx)()

	// First pass: run the batch against a scratch copy of the touched balances.
	working := make(map[balanceKey]int64)
	get := func(k balanceKey) int64 {
		if v, ok := working[k]; ok {
			return v
		}
		return s.db.balances[k]
	}
	for _, t := range transfers {
		if t.Amount == 0 {
			continue
		}
		from := balanceKey{token: t.Token, owner: t.From}
		to := balanceKey{token: t.Token, owner: t.To}

		fromBal := get(from)
		if fromBal < t.Amount {
			return fmt.Errorf("%w: %s holds %d of %s, needs %d",
				storage.ErrInsufficientBalance, t.From, fromBal, t.Token, t.Amount)
		}
		working[from] = fromBal - t.Amount

		toBal := get(to)
		if toBal > math.MaxInt64-t.Amount {
			return storage.ErrOverflow
		}
		working[to] = toBal + t.Amount
	}

	// Second pass: nothing left can fail.
	for k, v := range working {
		s.set(k, v)
	}
	return nil
}

func (s *BalanceStore) set(key balanceKey, value int64) {
	prev, existed := s.db.balances[key]
	s.db.balances[key] = value
	if s.tx != nil {
		s.tx.record(func() {
			if existed {
				s.db.balances[key] = prev
			} else {
				delete(s.db.balances, key)
			}
		})
	}
}

// Verify interface compliance at compile time.
var _ storage.BalanceStore = (*BalanceStore)(nil)
