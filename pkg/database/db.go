package database

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/utils"
	"go.uber.org/zap"
)

const (
	defaultLockTimeout     = 10 * time.Second
	defaultConnMaxLifetime = 30 * time.Minute
)

// Config holds database connection details. DSNs are given without the `postgres://` prefix.
type Config struct {
	PrimaryDSN string
	ReadDSNs   []string // Optional; if empty, use primary for reads. Multiple for balancing.
	MaxConns   int32
	MinConns   int32
	// LockTimeout bounds how long a statement waits for a row lock held by another transaction.
	LockTimeout time.Duration
}

// Querier is satisfied by both *DB and pgx.Tx so repositories can run inside or outside a transaction.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// DB routes writes and transactions to the primary and plain reads across replicas.
type DB struct {
	writer  *pgxpool.Pool
	readers []*pgxpool.Pool
	next    atomic.Uint64
}

// New opens the primary pool and any read pools, pinging each. The returned closer closes them all.
func New(ctx context.Context, logger *zap.Logger, cfg Config) (*DB, func(), error) {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaultLockTimeout
	}
	writer, err := newPool(ctx, logger, "primary", cfg.PrimaryDSN, cfg)
	if err != nil {
		return nil, nil, err
	}

	var readers []*pgxpool.Pool
	for i, dsn := range cfg.ReadDSNs {
		if utils.IsEmpty(dsn) {
			continue
		}
		reader, err := newPool(ctx, logger, fmt.Sprintf("replica_%d", i), dsn, cfg)
		if err != nil {
			writer.Close()
			for _, r := range readers {
				r.Close()
			}
			return nil, nil, err
		}
		readers = append(readers, reader)
	}

	closer := func() {
		for _, r := range readers {
			r.Close()
		}
		writer.Close()
		logger.Info("postgres_pools_closed", zap.Int("replicas", len(readers)))
	}
	return &DB{writer: writer, readers: readers}, closer, nil
}

func newPool(ctx context.Context, logger *zap.Logger, role, dsn string, cfg Config) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig("postgres://" + dsn)
	if err != nil {
		// the parse error can echo the DSN, password included
		return nil, fmt.Errorf("%s database: invalid DSN", role)
	}
	config.MaxConns = cfg.MaxConns
	config.MinConns = cfg.MinConns
	config.MaxConnLifetime = defaultConnMaxLifetime
	// Row locks are held for the whole transaction; a stuck holder must not pin callers forever.
	config.ConnConfig.RuntimeParams["lock_timeout"] = fmt.Sprintf("%dms", cfg.LockTimeout.Milliseconds())
	config.ConnConfig.RuntimeParams["application_name"] = "custodial-ledger"

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s database: %w", role, err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s database ping: %w", role, err)
	}
	logger.Info("postgres_pool_established",
		zap.String("role", role),
		zap.String("host", config.ConnConfig.Host),
		zap.String("database", config.ConnConfig.Database),
		zap.Int32("max_conns", config.MaxConns))
	return pool, nil
}

// WithTransaction runs fn in a read-committed transaction on the primary. It commits when fn
// returns nil and rolls back on error or panic.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, db.writer, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, tx)
	})
}

// Writer returns the primary pool. Reads that must observe the latest commit go here.
func (db *DB) Writer() Querier {
	return db.writer
}

// Ping checks the primary.
func (db *DB) Ping(ctx context.Context) error {
	return db.writer.Ping(ctx)
}

// Query runs on a replica when one is configured.
func (db *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return db.reader().Query(ctx, sql, args...)
}

func (db *DB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return db.reader().QueryRow(ctx, sql, args...)
}

// Exec always runs on the primary.
func (db *DB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return db.writer.Exec(ctx, sql, args...)
}

// reader picks replicas round robin and falls back to the primary.
func (db *DB) reader() *pgxpool.Pool {
	if len(db.readers) == 0 {
		return db.writer
	}
	return db.readers[db.next.Add(1)%uint64(len(db.readers))]
}
