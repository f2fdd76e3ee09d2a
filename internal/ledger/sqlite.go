package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"sync"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
	"go.uber.org/zap"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS ledger_entries (
	idx       INTEGER PRIMARY KEY,
	ts_ms     INTEGER NOT NULL,
	operation TEXT    NOT NULL,
	data      TEXT    NOT NULL,
	prev_hash TEXT    NOT NULL,
	hash      TEXT    NOT NULL UNIQUE
);
CREATE TRIGGER IF NOT EXISTS ledger_entries_no_update
	BEFORE UPDATE ON ledger_entries
	BEGIN SELECT RAISE(ABORT, 'ledger_entries is append-only'); END;
CREATE TRIGGER IF NOT EXISTS ledger_entries_no_delete
	BEFORE DELETE ON ledger_entries
	BEGIN SELECT RAISE(ABORT, 'ledger_entries is append-only'); END;`

// SQLiteStore keeps the chain in a single SQLite file. Transactions begin
// IMMEDIATE, so two processes appending to the same file still serialise.
// Triggers reject UPDATE and DELETE on stored rows.
type SQLiteStore struct {
	db   *sql.DB
	opts options
	mu   sync.Mutex // orders appends within this process
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(path string, opts ...Option) (*SQLiteStore, error) {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "FULL")
	q.Set("_busy_timeout", "5000")
	q.Set("_txlock", "immediate")
	db, err := sql.Open("sqlite3", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, storageErr("open", noIndex, fmt.Errorf("open sqlite %s: %w", path, err))
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, storageErr("open", noIndex, fmt.Errorf("create schema: %w", err))
	}
	s := &SQLiteStore{db: db, opts: applyOptions(opts)}
	s.opts.logger.Info("sqlite ledger opened", zap.String("path", path))
	return s, nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, operation string, data map[string]any) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("append", noIndex, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck

	var tail *Entry
	var tailIdx int64
	var tailHash string
	err = tx.QueryRowContext(ctx,
		"SELECT idx, hash FROM ledger_entries ORDER BY idx DESC LIMIT 1",
	).Scan(&tailIdx, &tailHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, storageErr("append", noIndex, fmt.Errorf("read ledger tail: %w", err))
	default:
		tail = &Entry{Index: tailIdx, Hash: tailHash}
	}

	entry, canon, err := buildEntry(s.opts, tail, operation, data)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (idx, ts_ms, operation, data, prev_hash, hash)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Index, entry.Timestamp, entry.Operation,
		string(canon), entry.PreviousHash, entry.Hash,
	); err != nil {
		return nil, storageErr("append", entry.Index, fmt.Errorf("insert ledger entry: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("append", entry.Index, fmt.Errorf("commit ledger tx: %w", err))
	}
	return entry, nil
}

// ReadAll implements Store.
func (s *SQLiteStore) ReadAll(ctx context.Context) ([]*Entry, error) {
	return s.query(ctx, "read all", selectColumns+" ORDER BY idx ASC")
}

// ReadRange implements Store.
func (s *SQLiteStore) ReadRange(ctx context.Context, from, to int64) ([]*Entry, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	return s.query(ctx, "read range",
		selectColumns+" WHERE idx BETWEEN ? AND ? ORDER BY idx ASC", from, to)
}

func (s *SQLiteStore) query(ctx context.Context, op, q string, args ...any) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageErr(op, noIndex, fmt.Errorf("query ledger: %w", err))
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		e, err := scanSQLEntry(rows)
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
func (s *SQLiteStore) Tail(ctx context.Context) (*Entry, error) {
	e, err := scanSQLEntry(s.db.QueryRowContext(ctx, selectColumns+" ORDER BY idx DESC LIMIT 1"))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, storageErr("tail", noIndex, err)
	}
	return e, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, index int64) (*Entry, error) {
	e, err := scanSQLEntry(s.db.QueryRowContext(ctx, selectColumns+" WHERE idx = ?", index))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get", index, err)
	}
	return e, nil
}

// Len implements Store.
func (s *SQLiteStore) Len(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ledger_entries").Scan(&n); err != nil {
		return 0, storageErr("len", noIndex, fmt.Errorf("count ledger entries: %w", err))
	}
	return n, nil
}

// Hasher implements Store.
func (s *SQLiteStore) Hasher() Hasher { return s.opts.hasher }

// Close closes the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLEntry(row sqlScanner) (*Entry, error) {
	var (
		e    Entry
		data string
	)
	if err := row.Scan(&e.Index, &e.Timestamp, &e.Operation, &data, &e.PreviousHash, &e.Hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
