package ledger

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Store is the append-only, hash-chained entry sequence.
// MemoryStore, LevelDBStore, SQLiteStore and PostgresStore implement it.
type Store interface {
	// Append chains a new entry onto the tail and persists it before returning.
	// Index and timestamp are assigned by the store.
	Append(ctx context.Context, operation string, data map[string]any) (*Entry, error)

	// ReadAll returns every entry in ascending index order.
	ReadAll(ctx context.Context) ([]*Entry, error)

	// ReadRange returns entries with from <= index <= to, clamped to the tail.
	ReadRange(ctx context.Context, from, to int64) ([]*Entry, error)

	// Tail returns the highest-index entry, or ErrEmpty.
	Tail(ctx context.Context) (*Entry, error)

	// Get returns the entry at index, or ErrNotFound.
	Get(ctx context.Context, index int64) (*Entry, error)

	// Len returns the number of stored entries.
	Len(ctx context.Context) (int64, error)

	// Hasher returns the digest algorithm entries are chained with.
	Hasher() Hasher

	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	hasher Hasher
	now    func() time.Time
	logger *zap.Logger
}

func defaultOptions() options {
	return options{
		hasher: SHA256,
		now:    time.Now,
		logger: zap.NewNop(),
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithHasher selects the digest algorithm. Defaults to SHA-256.
func WithHasher(h Hasher) Option {
	return func(o *options) {
		if h != nil {
			o.hasher = h
		}
	}
}

// WithClock overrides the timestamp source. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger attaches a logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// buildEntry finalizes the entry that follows tail (nil for an empty ledger).
// It returns the entry plus the canonical data bytes for backends that
// persist the payload as text.
func buildEntry(o options, tail *Entry, operation string, data map[string]any) (*Entry, []byte, error) {
	if strings.TrimSpace(operation) == "" {
		return nil, nil, validationErr("append", noIndex, ErrEmptyOperation)
	}

	index := int64(0)
	prevHash := ZeroHash
	if tail != nil {
		index = tail.Index + 1
		prevHash = tail.Hash
	}

	normalized, canon, err := normalizeData(data)
	if err != nil {
		return nil, nil, validationErr("append", index, err)
	}

	e := &Entry{
		Index:        index,
		Timestamp:    o.now().UnixMilli(),
		Operation:    operation,
		Data:         normalized,
		PreviousHash: prevHash,
	}
	e.Hash = o.hasher.Sum(canonicalBytes(e.Index, e.Timestamp, e.Operation, canon, e.PreviousHash))
	return e, canon, nil
}

// checkRange validates caller-supplied bounds.
func checkRange(from, to int64) error {
	if from < 0 || from > to {
		return validationErr("read range", noIndex, ErrInvalidRange)
	}
	return nil
}

// clampRange limits [from, to] to the stored indices [0, n-1].
// ok is false when nothing in the range exists.
func clampRange(from, to, n int64) (int64, int64, bool) {
	if n == 0 || from >= n {
		return 0, 0, false
	}
	if to >= n {
		to = n - 1
	}
	return from, to, true
}
