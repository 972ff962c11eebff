package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"htlc-escrow/internal/domain"
	"htlc-escrow/internal/storage"
)

// EventStore implements storage.EventStore on the escrow_events analytics
// table. It is append-only and not transactional; the engine feeds it
// through an events.StoreSink after commit.
type EventStore struct {
	conn *Conn
}

// NewEventStore creates a new EventStore.
func NewEventStore(conn *Conn) *EventStore {
	return &EventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

const eventColumns = `event_id, escrow_id, sequence, event_type, hashlock,
	caller, token, amount, secret, timestamp`

// Append adds a new event. Returns ErrDuplicateKey if event id exists.
// MergeTree does not enforce uniqueness, so the id is checked first.
func (s *EventStore) Append(ctx context.Context, e *domain.Event) error {
	if e == nil || e.ID == "" || e.EscrowID == "" {
		return storage.ErrInvalidInput
	}

	exists, err := s.exists(ctx, e.ID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO escrow_events (`+eventColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	var secret *string
	if e.Secret != nil {
		v := e.Secret.String()
		secret = &v
	}

	err = batch.Append(
		e.ID, e.EscrowID, uint32(e.Sequence), string(e.Type), e.Hashlock.String(),
		string(e.Caller), string(e.Token), e.Amount, secret, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByEscrowID retrieves all events of an escrow, ordered by sequence ASC.
func (s *EventStore) GetByEscrowID(ctx context.Context, escrowID string) ([]*domain.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM escrow_events FINAL
		WHERE escrow_id = ?
		ORDER BY sequence ASC
	`

	rows, err := s.conn.Query(ctx, query, escrowID)
	if err != nil {
		return nil, fmt.Errorf("query by escrow id: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByTimeRange retrieves events within [start, end] (inclusive), ordered by timestamp ASC.
func (s *EventStore) GetByTimeRange(ctx context.Context, start, end uint64) ([]*domain.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM escrow_events FINAL
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, escrow_id ASC, sequence ASC
	`

	rows, err := s.conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *EventStore) exists(ctx context.Context, id string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count(*) FROM escrow_events WHERE event_id = ?`, id).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanEvents(rows driver.Rows) ([]*domain.Event, error) {
	var result []*domain.Event

	for rows.Next() {
		var (
			e                   domain.Event
			sequence            uint32
			eventType, hashlock string
			caller, token       string
			secret              *string
		)

		err := rows.Scan(
			&e.ID, &e.EscrowID, &sequence, &eventType, &hashlock,
			&caller, &token, &e.Amount, &secret, &e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
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
		e.Sequence = int(sequence)
		e.Type = domain.EventType(eventType)
		e.Caller = domain.Address(caller)
		e.Token = domain.Address(token)
		result = append(result, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}
