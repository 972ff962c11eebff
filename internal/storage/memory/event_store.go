package memory

import (
	"context"
	"sort"

	"htlc-escrow/internal/domain"
	"htlc-escrow/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	db *DB
	tx *memTx
}

// Append adds a new event. Returns ErrDuplicateKey if event id exists.
func (s *EventStore) Append(_ context.Context, e *domain.Event) error {
	if e == nil || e.ID == "" || e.EscrowID == "" {
		return storage.ErrInvalidInput
	}

	defer s.db.lockWrite(s.tx)()

	if _, exists := s.db.events[e.ID]; exists {
		return storage.ErrDuplicateKey
	}

	s.db.events[e.ID] = copyEvent(e)
	s.db.byEscrow[e.EscrowID] = append(s.db.byEscrow[e.EscrowID], e.ID)
	if s.tx != nil {
		id, escrowID := e.ID, e.EscrowID
		s.tx.record(func() {
			delete(s.db.events, id)
			ids := s.db.byEscrow[escrowID]
			s.db.byEscrow[escrowID] = ids[:len(ids)-1]
			if len(s.db.byEscrow[escrowID]) == 0 {
				delete(s.db.byEscrow, escrowID)
			}
		})
	}
	return nil
}

// GetByEscrowID retrieves all events of an escrow, ordered by sequence ASC.
func (s *EventStore) GetByEscrowID(_ context.Context, escrowID string) ([]*domain.Event, error) {
	defer s.db.lockRead(s.tx)()

	var result []*domain.Event
	for _, id := range s.db.byEscrow[escrowID] {
		result = append(result, copyEvent(s.db.events[id]))
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Sequence < result[j].Sequence
	})
	return result, nil
}

// GetByTimeRange retrieves events within [start, end] (inclusive).
func (s *EventStore) GetByTimeRange(_ context.Context, start, end uint64) ([]*domain.Event, error) {
	defer s.db.lockRead(s.tx)()

	var result []*domain.Event
	for _, e := range s.db.events {
		if e.Timestamp >= start && e.Timestamp <= end {
			result = append(result, copyEvent(e))
		}
	}

	// Sort by timestamp ASC, then escrow and sequence for a stable order
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		if a.EscrowID != b.EscrowID {
			return a.EscrowID < b.EscrowID
		}
		return a.Sequence < b.Sequence
	})
	return result, nil
}

func copyEvent(e *domain.Event) *domain.Event {
	out := *e
	if e.Secret != nil {
		secret := *e.Secret
		out.Secret = &secret
	}
	return &out
}

// Verify interface compliance at compile time.
var _ storage.EventStore = (*EventStore)(nil)
