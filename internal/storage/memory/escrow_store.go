package memory

import (
	"context"
	"sort"

	"htlc-escrow/internal/domain"
	"htlc-escrow/internal/storage"
)

// EscrowStore is an in-memory implementation of storage.EscrowStore.
type EscrowStore struct {
	db *DB
	tx *memTx
}

// Insert registers a new escrow. Returns ErrDuplicateKey if id exists.
func (s *EscrowStore) Insert(_ context.Context, e *domain.Escrow) error {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}

	defer s.db.lockWrite(s.tx)()

	if _, exists := s.db.escrows[e.ID]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	s.db.escrows[e.ID] = e.Clone()
	if s.tx != nil {
		id := e.ID
		s.tx.record(func() { delete(s.db.escrows, id) })
	}
	return nil
}

// GetByID retrieves an escrow by its ID. Returns ErrNotFound if not exists.
func (s *EscrowStore) GetByID(_ context.Context, id string) (*domain.Escrow, error) {
	defer s.db.lockRead(s.tx)()

	e, exists := s.db.escrows[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return e.Clone(), nil
}

// UpdateState moves an escrow from one state to another.
func (s *EscrowStore) UpdateState(_ context.Context, id string, from, to domain.State, at uint64) error {
	defer s.db.lockWrite(s.tx)()

	e, exists := s.db.escrows[id]
	if !exists {
		return storage.ErrNotFound
	}
	if e.State != from {
		return storage.ErrStateConflict
	}

	prevState, prevAt := e.State, e.UpdatedAt
	e.State = to
	e.UpdatedAt = at
	if s.tx != nil {
		s.tx.record(func() {
			e.State = prevState
			e.UpdatedAt = prevAt
		})
	}
	return nil
}

// GetByHashlock retrieves all escrows locked by hashlock.
func (s *EscrowStore) GetByHashlock(_ context.Context, hashlock domain.Hash32) ([]*domain.Escrow, error) {
	return s.filter(func(e *domain.Escrow) bool { return e.Terms.Hashlock == hashlock }), nil
}

// GetByState retrieves all escrows in state.
func (s *EscrowStore) GetByState(_ context.Context, state domain.State) ([]*domain.Escrow, error) {
	return s.filter(func(e *domain.Escrow) bool { return e.State == state }), nil
}

func (s *EscrowStore) filter(match func(*domain.Escrow) bool) []*domain.Escrow {
	defer s.db.lockRead(s.tx)()

	var result []*domain.Escrow
	for _, e := range s.db.escrows {
		if match(e) {
			result = append(result, e.Clone())
		}
	}

	// Sort by created_at ASC, id for ties
	sort.Slice(result, func(i, j int) bool {
		if result[i].Resolved.CreatedAt != result[j].Resolved.CreatedAt {
			return result[i].Resolved.CreatedAt < result[j].Resolved.CreatedAt
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// Verify interface compliance at compile time.
var _ storage.EscrowStore = (*EscrowStore)(nil)
