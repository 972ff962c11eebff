package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"htlc-escrow/internal/domain"
	"htlc-escrow/internal/storage"
)

// EventStore implements storage.EventStore using PostgreSQL.
type EventStore struct {
	q querier
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *Pool) *EventStore {
	return &EventStore{q: pool}
}

const eventColumns = `event_id, escrow_id, sequence, event_type, hashlock,
	caller, token, amount, secret, timestamp`

// Append adds a new event. Returns ErrDuplicateKey if event id exists.
func (s *EventStore) Append(ctx context.Context, e *domain.Event) error {
	if e == nil || e.ID == "" || e.EscrowID == "" {
		return storage.ErrInvalidInput
	}

	var secret *string
	if e.Secret != nil {
		v := e.Secret.String()
		secret = &v
	}

	query := `INSERT INTO escrow_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.q.Exec(ctx, query,
		e.ID, e.EscrowID, e.Sequence, string(e.Type), e.Hashlock.String(),
		string(e.Caller), string(e.Token), e.Amount, secret, bigint(e.Timestamp),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// GetByEscrowID retrieves all events of an escrow, ordered by sequence ASC.
func (s *EventStore) GetByEscrowID(ctx context.Context, escrowID string) ([]*domain.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM escrow_events
		WHERE escrow_id = $1
		ORDER BY sequence ASC
	`
	return s.queryEvents(ctx, query, escrowID)
}

// GetByTimeRange retrieves events within [start, end] (inclusive), ordered by timestamp ASC.
func (s *EventStore) GetByTimeRange(ctx context.Context, start, end uint64) ([]*domain.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM escrow_events
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp ASC, escrow_id ASC, sequence ASC
	`
	return s.queryEvents(ctx, query, bigint(start), bigint(end))
}

func (s *EventStore) queryEvents(ctx context.Context, query string, args ...any) ([]*domain.Event, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var result []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var (
		e                   domain.Event
		eventType, hashlock string
		caller, token       string
		secret              *string
		timestamp           int64
	)

	err := row.Scan(
		&e.ID, &e.EscrowID, &e.Sequence, &eventType, &hashlock,
		&caller, &token, &e.Amount, &secret, &timestamp,
	)
	if err != nil {
		return nil, err
	}

	e.Hashlock, err = domain.ParseHash32(hashlock)
	if err != nil {
		return nil, fmt.Errorf("parse hashlock: %w", err)
	}
	if secret != nil {
		s, err := domain.ParseSecret(*secret)
		if err != nil {
			return nil, fmt.Errorf("parse secret: %w", err)
		}
		e.Secret = &s
	}
	e.Type = domain.EventType(eventType)
	e.Caller = domain.Address(caller)
	e.Token = domain.Address(token)
	e.Timestamp = uint64(timestamp)
	return &e, nil
}

// Verify interface compliance at compile time.
var _ storage.EventStore = (*EventStore)(nil)
