package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"htlc-escrow/internal/domain"
	"htlc-escrow/internal/storage"
)

// EscrowStore implements storage.EscrowStore using PostgreSQL.
// Terms are kept as one JSONB document next to the indexed columns.
type EscrowStore struct {
	q         querier
	forUpdate bool
}

// NewEscrowStore creates a new EscrowStore.
func NewEscrowStore(pool *Pool) *EscrowStore {
	return &EscrowStore{q: pool}
}

const escrowColumns = `escrow_id, address, terms, state,
	resolved_taker, resolved_amount, resolved_created_at, resolved_rescue_delay, updated_at`

// Insert registers a new escrow. Returns ErrDuplicateKey if id exists.
func (s *EscrowStore) Insert(ctx context.Context, e *domain.Escrow) error {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}

	terms, err := json.Marshal(e.Terms)
	if err != nil {
		return fmt.Errorf("marshal terms: %w", err)
	}

	query := `
		INSERT INTO escrows (
			escrow_id, address, hashlock, direction, terms, state,
			resolved_taker, resolved_amount, resolved_created_at, resolved_rescue_delay, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = s.q.Exec(ctx, query,
		e.ID, string(e.Address), e.Terms.Hashlock.String(), string(e.Terms.Direction),
		string(terms), string(e.State),
		string(e.Resolved.Taker), e.Resolved.Amount, bigint(e.Resolved.CreatedAt), bigint(e.Resolved.RescueDelay), bigint(e.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert escrow: %w", err)
	}
	return nil
}

// GetByID retrieves an escrow by its ID. Returns ErrNotFound if not exists.
func (s *EscrowStore) GetByID(ctx context.Context, id string) (*domain.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows WHERE escrow_id = $1`
	if s.forUpdate {
		query += ` FOR UPDATE`
	}

	e, err := scanEscrow(s.q.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get escrow: %w", err)
	}
	return e, nil
}

// UpdateState moves an escrow from one state to another.
func (s *EscrowStore) UpdateState(ctx context.Context, id string, from, to domain.State, at uint64) error {
	query := `
		UPDATE escrows SET state = $3, updated_at = $4
		WHERE escrow_id = $1 AND state = $2
	`

	tag, err := s.q.Exec(ctx, query, id, string(from), string(to), bigint(at))
	if err != nil {
		return fmt.Errorf("update escrow state: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM escrows WHERE escrow_id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check escrow exists: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrStateConflict
}

// GetByHashlock retrieves all escrows locked by hashlock, ordered by creation time ASC.
func (s *EscrowStore) GetByHashlock(ctx context.Context, hashlock domain.Hash32) ([]*domain.Escrow, error) {
	query := `
		SELECT ` + escrowColumns + `
		FROM escrows
		WHERE hashlock = $1
		ORDER BY resolved_created_at ASC, escrow_id ASC
	`
	return s.queryEscrows(ctx, query, hashlock.String())
}

// GetByState retrieves all escrows in state, ordered by creation time ASC.
func (s *EscrowStore) GetByState(ctx context.Context, state domain.State) ([]*domain.Escrow, error) {
	query := `
		SELECT ` + escrowColumns + `
		FROM escrows
		WHERE state = $1
		ORDER BY resolved_created_at ASC, escrow_id ASC
	`
	return s.queryEscrows(ctx, query, string(state))
}

func (s *EscrowStore) queryEscrows(ctx context.Context, query string, args ...any) ([]*domain.Escrow, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query escrows: %w", err)
	}
	defer rows.Close()

	var result []*domain.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escrow: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// scanEscrow scans a single row into domain.Escrow.
func scanEscrow(row pgx.Row) (*domain.Escrow, error) {
	var (
		e                    domain.Escrow
		address, state       string
		terms                []byte
		taker                string
		createdAt, updatedAt int64
		rescueDelay          int64
	)

	err := row.Scan(
		&e.ID, &address, &terms, &state,
		&taker, &e.Resolved.Amount, &createdAt, &rescueDelay, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(terms, &e.Terms); err != nil {
		return nil, fmt.Errorf("unmarshal terms: %w", err)
	}
	e.Address = domain.Address(address)
	e.State = domain.State(state)
	e.Resolved.Taker = domain.Address(taker)
	e.Resolved.CreatedAt = uint64(createdAt)
	e.Resolved.RescueDelay = uint64(rescueDelay)
	e.UpdatedAt = uint64(updatedAt)
	return &e, nil
}

// Verify interface compliance at compile time.
var _ storage.EscrowStore = (*EscrowStore)(nil)
