package ledger

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// MemoryStore is an in-memory, thread-safe Store.
// It is primarily useful for testing and for single-process deployments
// that do not need the chain to survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
	opts    options
}

// NewMemory creates an empty MemoryStore. The first Append becomes the
// genesis entry.
func NewMemory(opts ...Option) *MemoryStore {
	return &MemoryStore{opts: applyOptions(opts)}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, operation string, data map[string]any) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("append", noIndex, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var tail *Entry
	if n := len(s.entries); n > 0 {
		tail = s.entries[n-1]
	}

	entry, _, err := buildEntry(s.opts, tail, operation, data)
	if err != nil {
		return nil, err
	}
	s.entries = append(s.entries, entry)

	s.opts.logger.Debug("ledger entry appended",
		zap.Int64("idx", entry.Index),
		zap.String("operation", entry.Operation),
	)
	return entry.Clone(), nil
}

// ReadAll implements Store.
func (s *MemoryStore) ReadAll(_ context.Context) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.entries), nil
}

// ReadRange implements Store.
func (s *MemoryStore) ReadRange(_ context.Context, from, to int64) ([]*Entry, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	lo, hi, ok := clampRange(from, to, int64(len(s.entries)))
	if !ok {
		return []*Entry{}, nil
	}
	return cloneAll(s.entries[lo : hi+1]), nil
}

// Tail implements Store.
func (s *MemoryStore) Tail(_ context.Context) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, ErrEmpty
	}
	return s.entries[len(s.entries)-1].Clone(), nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, index int64) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= int64(len(s.entries)) {
		return nil, ErrNotFound
	}
	return s.entries[index].Clone(), nil
}

// Len implements Store.
func (s *MemoryStore) Len(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

// Hasher implements Store.
func (s *MemoryStore) Hasher() Hasher { return s.opts.hasher }

// Close implements Store. It is a no-op.
func (s *MemoryStore) Close() error { return nil }

func cloneAll(entries []*Entry) []*Entry {
	out := make([]*Entry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}
