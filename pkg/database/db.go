package database

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const defaultConnLifetime = 30 * time.Minute

// Config holds database connection details. DSNs may omit the postgres:// scheme.
type Config struct {
	PrimaryDSN      string
	ReplicaDSNs     []string // optional read replicas; reads use the primary when empty
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB routes writes to the primary and reads to a random replica.
type DB struct {
	writer  *pgxpool.Pool
	readers []*pgxpool.Pool
}

// New opens and pings every pool. The returned func closes them all.
func New(ctx context.Context, logger *zap.Logger, cfg Config) (*DB, func(), error) {
	writer, err := newPool(ctx, logger, cfg.PrimaryDSN, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database: primary: %w", err)
	}

	var readers []*pgxpool.Pool
	for _, dsn := range cfg.ReplicaDSNs {
		if strings.TrimSpace(dsn) == "" {
			continue
		}
		reader, err := newPool(ctx, logger, dsn, cfg)
		if err != nil {
			writer.Close()
			for _, r := range readers {
				r.Close()
			}
			return nil, nil, fmt.Errorf("database: replica: %w", err)
		}
		readers = append(readers, reader)
	}

	closer := func() {
		for _, r := range readers {
			r.Close()
		}
		writer.Close()
		logger.Info("postgres pools closed", zap.Int("replicas", len(readers)))
	}
	return &DB{writer: writer, readers: readers}, closer, nil
}

// NormalizeDSN prefixes the postgres scheme when missing.
func NormalizeDSN(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return dsn
	}
	return "postgres://" + dsn
}

func newPool(ctx context.Context, logger *zap.Logger, dsn string, cfg Config) (*pgxpool.Pool, error) {
	dsn = NormalizeDSN(dsn)
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	pc.MaxConnLifetime = defaultConnLifetime
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Debug("postgres pool established", zap.String("dsn", maskDSN(dsn)))
	return pool, nil
}

// maskDSN hides credentials before logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	u.User = url.UserPassword("*****", "*****")
	return u.String()
}

// WithTransaction runs fn in a transaction on the primary; commits on nil error, rolls back
// otherwise. A panic rolls back and is re-raised.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	tx, err := db.writer.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()
	return fn(ctx, tx)
}

// Query routes to a reader.
func (db *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return db.reader().Query(ctx, sql, args...)
}

// QueryRow routes to a reader.
func (db *DB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return db.reader().QueryRow(ctx, sql, args...)
}

// QueryRowPrimary reads from the primary, for read-your-writes paths.
func (db *DB) QueryRowPrimary(ctx context.Context, sql string, args ...any) pgx.Row {
	return db.writer.QueryRow(ctx, sql, args...)
}

// Exec routes to the primary.
func (db *DB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return db.writer.Exec(ctx, sql, args...)
}

// Ping checks the primary.
func (db *DB) Ping(ctx context.Context) error {
	return db.writer.Ping(ctx)
}

func (db *DB) reader() *pgxpool.Pool {
	if len(db.readers) == 0 {
		return db.writer
	}
	return db.readers[rand.Intn(len(db.readers))]
}
