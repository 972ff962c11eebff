package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"htlc-escrow/internal/observability"
	"htlc-escrow/internal/storage"
)

// DB is the Postgres storage backend. Every InTx call runs in one pgx
// transaction; escrow rows read through it are locked FOR UPDATE.
type DB struct {
	pool *Pool
}

// NewDB creates a backend on top of pool.
func NewDB(pool *Pool) *DB {
	return &DB{pool: pool}
}

// Escrows returns the escrow store outside any transaction.
func (d *DB) Escrows() storage.EscrowStore { return NewEscrowStore(d.pool) }

// Balances returns the ledger outside any transaction.
func (d *DB) Balances() storage.BalanceStore { return NewBalanceStore(d.pool) }

// Events returns the event log outside any transaction.
func (d *DB) Events() storage.EventStore { return NewEventStore(d.pool) }

// InTx runs fn in a single transaction. fn's error rolls everything back.
func (d *DB) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	start := time.Now()
	err := pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{q: tx})
	})

	var dbErr error
	if isDriverError(err) {
		dbErr = err
	}
	observability.RecordDBQuery("postgres", "tx", time.Since(start).Seconds(), dbErr)
	return err
}

type pgTx struct {
	q querier
}

func (t *pgTx) Escrows() storage.EscrowStore {
	return &EscrowStore{q: t.q, forUpdate: true}
}

func (t *pgTx) Balances() storage.BalanceStore { return &BalanceStore{q: t.q} }

func (t *pgTx) Events() storage.EventStore { return &EventStore{q: t.q} }

// Verify interface compliance at compile time.
var _ storage.Backend = (*DB)(nil)
