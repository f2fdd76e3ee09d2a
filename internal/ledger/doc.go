// Package ledger implements an append-only, hash-chained audit log.
//
// Every entry records the digest of its predecessor; the genesis entry
// (index 0) records ZeroHash. Any rewrite of a stored entry therefore breaks
// either its own hash or the link from its successor, which the verifier
// package detects.
//
// Implementations of the Store interface:
//   - MemoryStore: in-process, for testing and development.
//   - LevelDBStore: single-node durable storage on local disk.
//   - SQLiteStore: a single database file, safe across local processes.
//   - PostgresStore: shared durable storage, safe across processes.
package ledger
