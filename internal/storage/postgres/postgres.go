package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"htlc-escrow/internal/observability"
)

// Pool is the shared Postgres connection pool.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects to dsn and pings it. Every statement run through the pool
// is timed into the database query metrics.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.ConnConfig.Tracer = queryTracer{}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

type traceStartKey struct{}

type traceStart struct {
	kind string
	at   time.Time
}

// queryTracer records per-statement latency and errors labelled by statement kind.
type queryTracer struct{}

func (queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceStartKey{}, traceStart{kind: statementKind(data.SQL), at: time.Now()})
}

func (queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(traceStartKey{}).(traceStart)
	if !ok {
		return
	}
	observability.RecordDBQuery("postgres", start.kind, time.Since(start.at).Seconds(), data.Err)
}

// statementKind returns the lowercased leading keyword of sql. Anything
// outside a fixed set is "other" to keep metric labels bounded.
func statementKind(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "other"
	}
	switch kw := strings.ToLower(fields[0]); kw {
	case "select", "insert", "update", "delete", "with", "create",
		"begin", "commit", "rollback", "savepoint", "release":
		return kw
	}
	return "other"
}

// querier is the subset shared by *Pool and pgx.Tx, so every store runs
// unchanged inside or outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgreSQL error codes
const (
	pgErrUniqueViolation   = "23505" // unique_violation
	pgErrNumericOutOfRange = "22003" // numeric_value_out_of_range
)

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// isDuplicateKeyError checks if error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	return err != nil && pgErrorCode(err) == pgErrUniqueViolation
}

// isOverflowError checks if error is a BIGINT range violation.
func isOverflowError(err error) bool {
	return err != nil && pgErrorCode(err) == pgErrNumericOutOfRange
}

// isDriverError reports whether err originated in the database rather than
// in caller code running inside a transaction.
func isDriverError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}

// isNotFoundError checks if error indicates no rows found.
func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// bigint maps a unix timestamp onto a BIGINT column, saturating at its max.
func bigint(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
