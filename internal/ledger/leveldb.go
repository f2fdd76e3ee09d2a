package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	ldb_opt "github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"
)

const currentLevelDBVersion = 0x100

var (
	versionKey  = []byte{0x00, 'V', 'E', 'R', 'S', 'I', 'O', 'N'}
	entryPrefix = byte('E')
)

// record is the on-disk form of an Entry. Data holds the canonical JSON
// bytes so the recomputed hash never depends on the CBOR number encoding.
type record struct {
	Index        int64  `cbor:"index"`
	Timestamp    int64  `cbor:"ts"`
	Operation    string `cbor:"op"`
	Data         []byte `cbor:"data"`
	PreviousHash string `cbor:"prev"`
	Hash         string `cbor:"hash"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("ledger: CBOR encoder initialization failed: " + err.Error())
	}
}

// LevelDBStore persists the chain in a LevelDB database on local disk.
// Appends are serialised by a mutex and written with fsync; reads iterate
// over a snapshot and never observe a partial record.
type LevelDBStore struct {
	db   *leveldb.DB
	path string
	opts options

	mu   sync.RWMutex
	tail *Entry // nil while the ledger is empty
}

// OpenLevelDB opens (or creates) the database at path and reloads the chain
// tail so appends continue where the previous process stopped.
func OpenLevelDB(path string, opts ...Option) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, &ldb_opt.Options{
		ErrorIfExist:   false,
		ErrorIfMissing: false,
	})
	if err != nil {
		return nil, storageErr("open", noIndex, fmt.Errorf("open leveldb %q: %w", path, err))
	}

	s := &LevelDBStore{db: db, path: path, opts: applyOptions(opts)}
	ok := false
	defer func() {
		if !ok {
			db.Close()
		}
	}()

	if err := s.checkVersion(); err != nil {
		return nil, err
	}

	tail, err := s.loadTail()
	if err != nil {
		return nil, err
	}
	s.tail = tail

	if tail != nil {
		s.opts.logger.Info("ledger reopened",
			zap.String("path", path),
			zap.Int64("tail_idx", tail.Index),
			zap.String("root", tail.Hash),
		)
	}
	ok = true
	return s, nil
}

func (s *LevelDBStore) checkVersion() error {
	val, err := s.db.Get(versionKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, currentLevelDBVersion)
		if err := s.db.Put(versionKey, buf, &ldb_opt.WriteOptions{Sync: true}); err != nil {
			return storageErr("open", noIndex, fmt.Errorf("write version: %w", err))
		}
		return nil
	}
	if err != nil {
		return storageErr("open", noIndex, fmt.Errorf("read version: %w", err))
	}
	if len(val) != 4 {
		return storageErr("open", noIndex, fmt.Errorf("malformed version key (%d bytes)", len(val)))
	}
	if v := binary.BigEndian.Uint32(val); v > currentLevelDBVersion {
		return storageErr("open", noIndex, fmt.Errorf("database version %#x is newer than supported %#x", v, currentLevelDBVersion))
	}
	return nil
}

func (s *LevelDBStore) loadTail() (*Entry, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte{entryPrefix}), nil)
	defer iter.Release()

	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return nil, storageErr("open", noIndex, fmt.Errorf("seek tail: %w", err))
		}
		return nil, nil
	}
	e, err := decodeRecord(iter.Value())
	if err != nil {
		return nil, storageErr("open", noIndex, err)
	}
	return e, nil
}

// Append implements Store.
func (s *LevelDBStore) Append(ctx context.Context, operation string, data map[string]any) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, canon, err := buildEntry(s.opts, s.tail, operation, data)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, storageErr("append", entry.Index, err)
	}

	val, err := encMode.Marshal(record{
		Index:        entry.Index,
		Timestamp:    entry.Timestamp,
		Operation:    entry.Operation,
		Data:         canon,
		PreviousHash: entry.PreviousHash,
		Hash:         entry.Hash,
	})
	if err != nil {
		return nil, storageErr("append", entry.Index, fmt.Errorf("encode record: %w", err))
	}

	if err := s.db.Put(entryKey(entry.Index), val, &ldb_opt.WriteOptions{Sync: true}); err != nil {
		return nil, storageErr("append", entry.Index, fmt.Errorf("write record: %w", err))
	}
	s.tail = entry

	s.opts.logger.Debug("ledger entry appended",
		zap.Int64("idx", entry.Index),
		zap.String("operation", entry.Operation),
	)
	return entry.Clone(), nil
}

// ReadAll implements Store.
func (s *LevelDBStore) ReadAll(ctx context.Context) ([]*Entry, error) {
	return s.scan(ctx, "read all", util.BytesPrefix([]byte{entryPrefix}))
}

// ReadRange implements Store.
func (s *LevelDBStore) ReadRange(ctx context.Context, from, to int64) ([]*Entry, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	n, _ := s.Len(ctx)
	lo, hi, ok := clampRange(from, to, n)
	if !ok {
		return []*Entry{}, nil
	}
	return s.scan(ctx, "read range", &util.Range{Start: entryKey(lo), Limit: entryKey(hi + 1)})
}

func (s *LevelDBStore) scan(ctx context.Context, op string, rng *util.Range) ([]*Entry, error) {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return nil, storageErr(op, noIndex, fmt.Errorf("snapshot: %w", err))
	}
	defer snap.Release()

	iter := snap.NewIterator(rng, nil)
	defer iter.Release()

	entries := []*Entry{}
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, storageErr(op, noIndex, err)
		}
		e, err := decodeRecord(iter.Value())
		if err != nil {
			return nil, storageErr(op, keyIndex(iter.Key()), err)
		}
		entries = append(entries, e)
	}
	if err := iter.Error(); err != nil {
		return nil, storageErr(op, noIndex, fmt.Errorf("iterate: %w", err))
	}
	return entries, nil
}

// Tail implements Store.
func (s *LevelDBStore) Tail(_ context.Context) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tail == nil {
		return nil, ErrEmpty
	}
	return s.tail.Clone(), nil
}

// Get implements Store.
func (s *LevelDBStore) Get(_ context.Context, index int64) (*Entry, error) {
	if index < 0 {
		return nil, ErrNotFound
	}
	val, err := s.db.Get(entryKey(index), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get", index, err)
	}
	e, err := decodeRecord(val)
	if err != nil {
		return nil, storageErr("get", index, err)
	}
	return e, nil
}

// Len implements Store.
func (s *LevelDBStore) Len(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tail == nil {
		return 0, nil
	}
	return s.tail.Index + 1, nil
}

// Hasher implements Store.
func (s *LevelDBStore) Hasher() Hasher { return s.opts.hasher }

// Close implements Store.
func (s *LevelDBStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func entryKey(index int64) []byte {
	key := make([]byte, 9)
	key[0] = entryPrefix
	binary.BigEndian.PutUint64(key[1:], uint64(index))
	return key
}

func keyIndex(key []byte) int64 {
	if len(key) != 9 {
		return noIndex
	}
	return int64(binary.BigEndian.Uint64(key[1:]))
}

func decodeRecord(val []byte) (*Entry, error) {
	var r record
	if err := cbor.Unmarshal(val, &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	data, err := decodeData(r.Data)
	if err != nil {
		return nil, fmt.Errorf("decode record %d payload: %w", r.Index, err)
	}
	return &Entry{
		Index:        r.Index,
		Timestamp:    r.Timestamp,
		Operation:    r.Operation,
		Data:         data,
		PreviousHash: r.PreviousHash,
		Hash:         r.Hash,
	}, nil
}
