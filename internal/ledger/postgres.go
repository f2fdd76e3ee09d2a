package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey serialises concurrent Append calls across every process
// sharing the database. The value is arbitrary but must never change.
const advisoryLockKey = int64(1_471_305_020)

const selectColumns = `SELECT idx, ts_ms, operation, data, prev_hash, hash FROM ledger_entries`

// PostgresStore persists the chain to the ledger_entries table.
// The payload is stored as canonical JSON text rather than JSONB so the
// bytes that were hashed are the bytes that come back.
type PostgresStore struct {
	pool *pgxpool.Pool
	opts options
}

// NewPostgres creates a PostgresStore backed by the given connection pool.
// The schema is created by cmd/migrate.
func NewPostgres(pool *pgxpool.Pool, opts ...Option) *PostgresStore {
	return &PostgresStore{pool: pool, opts: applyOptions(opts)}
}

// Append implements Store.
// It takes a transaction-scoped advisory lock, reads the tail, and inserts
// the new entry in the same transaction.
func (s *PostgresStore) Append(ctx context.Context, operation string, data map[string]any) (*Entry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("append", noIndex, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, storageErr("append", noIndex, fmt.Errorf("acquire advisory lock: %w", err))
	}

	var tail *Entry
	var tailIdx int64
	var tailHash string
	err = tx.QueryRow(ctx,
		"SELECT idx, hash FROM ledger_entries ORDER BY idx DESC LIMIT 1",
	).Scan(&tailIdx, &tailHash)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, storageErr("append", noIndex, fmt.Errorf("read ledger tail: %w", err))
	default:
		tail = &Entry{Index: tailIdx, Hash: tailHash}
	}

	entry, canon, err := buildEntry(s.opts, tail, operation, data)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (idx, ts_ms, operation, data, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.Index, entry.Timestamp, entry.Operation,
		string(canon), entry.PreviousHash, entry.Hash,
	); err != nil {
		return nil, storageErr("append", entry.Index, fmt.Errorf("insert ledger entry: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("append", entry.Index, fmt.Errorf("commit ledger tx: %w", err))
	}

	s.opts.logger.Debug("ledger entry appended",
		zap.Int64("idx", entry.Index),
		zap.String("operation", entry.Operation),
	)
	return entry, nil
}

// ReadAll implements Store.
func (s *PostgresStore) ReadAll(ctx context.Context) ([]*Entry, error) {
	return s.query(ctx, "read all", selectColumns+" ORDER BY idx ASC")
}

// ReadRange implements Store.
func (s *PostgresStore) ReadRange(ctx context.Context, from, to int64) ([]*Entry, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	return s.query(ctx, "read range",
		selectColumns+" WHERE idx BETWEEN $1 AND $2 ORDER BY idx ASC", from, to)
}

func (s *PostgresStore) query(ctx context.Context, op, sql string, args ...any) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, storageErr(op, noIndex, fmt.Errorf("query ledger: %w", err))
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storageErr(op, noIndex, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, noIndex, err)
	}
	return entries, nil
}

// Tail implements Store.
func (s *PostgresStore) Tail(ctx context.Context) (*Entry, error) {
	row := s.pool.QueryRow(ctx, selectColumns+" ORDER BY idx DESC LIMIT 1")
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, storageErr("tail", noIndex, err)
	}
	return e, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, index int64) (*Entry, error) {
	row := s.pool.QueryRow(ctx, selectColumns+" WHERE idx = $1", index)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get", index, err)
	}
	return e, nil
}

// Len implements Store.
func (s *PostgresStore) Len(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_entries").Scan(&n); err != nil {
		return 0, storageErr("len", noIndex, fmt.Errorf("count ledger entries: %w", err))
	}
	return n, nil
}

// Hasher implements Store.
func (s *PostgresStore) Hasher() Hasher { return s.opts.hasher }

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e    Entry
		data string
	)
	if err := row.Scan(&e.Index, &e.Timestamp, &e.Operation, &data, &e.PreviousHash, &e.Hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan ledger row: %w", err)
	}
	payload, err := decodeData([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("decode entry %d payload: %w", e.Index, err)
	}
	e.Data = payload
	return &e, nil
}
