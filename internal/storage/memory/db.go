package memory

import (
	"context"
	"sync"

	"htlc-escrow/internal/domain"
	"htlc-escrow/internal/storage"
)

// DB is an in-memory storage backend.
// InTx holds the write lock for the whole call and undoes journaled writes on error.
type DB struct {
	mu sync.RWMutex

	escrows  map[string]*domain.Escrow // keyed by escrow id
	balances map[balanceKey]int64
	events   map[string]*domain.Event // keyed by event id
	byEscrow map[string][]string      // escrow id -> event ids in append order
}

type balanceKey struct {
	token domain.Address
	owner domain.Address
}

// NewDB creates an empty in-memory backend.
func NewDB() *DB {
	return &DB{
		escrows:  make(map[string]*domain.Escrow),
		balances: make(map[balanceKey]int64),
		events:   make(map[string]*domain.Event),
		byEscrow: make(map[string][]string),
	}
}

// Escrows returns the escrow store outside any transaction.
func (db *DB) Escrows() storage.EscrowStore {
	return &EscrowStore{db: db}
}

// Balances returns the balance store outside any transaction.
func (db *DB) Balances() storage.BalanceStore {
	return &BalanceStore{db: db}
}

// Events returns the event store outside any transaction.
func (db *DB) Events() storage.EventStore {
	return &EventStore{db: db}
}

// InTx runs fn with exclusive access. Writes are rolled back if fn errors or panics.
func (db *DB) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	db.mu.Lock()
	tx := &memTx{db: db}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
		db.mu.Unlock()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	committed = true
	return nil
}

// memTx is a view that writes without locking and journals undo steps.
type memTx struct {
	db   *DB
	undo []func()
}

func (t *memTx) Escrows() storage.EscrowStore   { return &EscrowStore{db: t.db, tx: t} }
func (t *memTx) Balances() storage.BalanceStore { return &BalanceStore{db: t.db, tx: t} }
func (t *memTx) Events() storage.EventStore     { return &EventStore{db: t.db, tx: t} }

func (t *memTx) record(undo func()) {
	t.undo = append(t.undo, undo)
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// lockWrite takes the write lock unless the caller already holds it through a tx.
func (db *DB) lockWrite(tx *memTx) func() {
	if tx != nil {
		return func() {}
	}
	db.mu.Lock()
	return db.mu.Unlock
}

func (db *DB) lockRead(tx *memTx) func() {
	if tx != nil {
		return func() {}
	}
	db.mu.RLock()
	return db.mu.RUnlock
}

// Verify interface compliance at compile time.
var _ storage.Backend = (*DB)(nil)
