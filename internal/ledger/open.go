package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Backend names accepted by Config.Backend.
const (
	BackendMemory   = "memory"
	BackendLevelDB  = "leveldb"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config selects and parameterises a Store.
type Config struct {
	Backend     string // memory | leveldb | sqlite | postgres
	Path        string // leveldb directory or sqlite file
	DatabaseURL string // postgres connection string
	Hash        string // sha256 | sha3-256 | blake3
}

// Open builds the store described by cfg. Extra options are applied after
// the configured hasher, so a WithHasher passed here wins.
func Open(ctx context.Context, cfg Config, logger *zap.Logger, opts ...Option) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h, err := HasherByName(cfg.Hash)
	if err != nil {
		return nil, err
	}
	all := append([]Option{WithHasher(h), WithLogger(logger)}, opts...)

	switch strings.ToLower(cfg.Backend) {
	case "", BackendMemory:
		logger.Warn("using in-memory ledger; entries are lost on restart")
		return NewMemory(all...), nil

	case BackendLevelDB:
		if cfg.Path == "" {
			return nil, fmt.Errorf("ledger backend %q requires a path", BackendLevelDB)
		}
		return OpenLevelDB(cfg.Path, all...)

	case BackendSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("ledger backend %q requires a path", BackendSQLite)
		}
		return OpenSQLite(cfg.Path, all...)

	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("ledger backend %q requires a database url", BackendPostgres)
		}
		pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse database url: %w", err)
		}
		pcfg.MaxConns = 10
		pcfg.MinConns = 1
		pcfg.HealthCheckPeriod = 30 * time.Second
		pool, err := pgxpool.NewWithConfig(ctx, pcfg)
		if err != nil {
			return nil, storageErr("open", noIndex, fmt.Errorf("connect to database: %w", err))
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, storageErr("open", noIndex, fmt.Errorf("ping database: %w", err))
		}
		return NewPostgres(pool, all...), nil

	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}
