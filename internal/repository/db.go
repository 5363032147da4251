package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const sqlitePrefix = "sqlite:"

type Config struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// DB is the ent SQL driver plus the dialect its queries are built for.
type DB struct {
	drv     *entsql.Driver
	dialect string
	pool    *pgxpool.Pool
}

func (db *DB) Dialect() string { return db.dialect }

// SQL exposes the underlying handle for health checks and tooling.
func (db *DB) SQL() *sql.DB { return db.drv.DB() }

func (db *DB) builder() *entsql.DialectBuilder { return entsql.Dialect(db.dialect) }

// Open connects to Postgres through a pgx pool, or to SQLite when the DSN starts with "sqlite:".
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.HasPrefix(cfg.DSN, sqlitePrefix) {
		return OpenSQLite(ctx, strings.TrimPrefix(cfg.DSN, sqlitePrefix), logger)
	}

	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to parse database dsn", "error", err)
		return nil, err
	}
	logger.Info("connecting to database", "host", pc.ConnConfig.Host, "database", pc.ConnConfig.Database)

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "docscan"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", cfg.StatementTimeout.Milliseconds())
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	// Wrap pool as *sql.DB for the ent driver
	sqlDB := stdlib.OpenDBFromPool(pool)
	drv := entsql.OpenDB(dialect.Postgres, sqlDB)

	logger.Info("successfully connected to database")
	return &DB{drv: drv, dialect: dialect.Postgres, pool: pool}, nil
}

// OpenSQLite opens a file (or ":memory:") database. A single connection
// serializes writers, which is what SQLite wants anyway.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	logger.Info("opening sqlite database", "path", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		logger.Error("failed to open sqlite database", "path", path, "error", err)
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		logger.Error("failed to ping sqlite database", "path", path, "error", err)
		return nil, err
	}
	return &DB{drv: entsql.OpenDB(dialect.SQLite, sqlDB), dialect: dialect.SQLite}, nil
}

// Close closes the database connections gracefully
func Close(db *DB, logger *slog.Logger) {
	if db == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("closing database connections")
	if err := db.drv.Close(); err != nil {
		logger.Error("failed to close sql driver", "error", err)
	}
	if db.pool != nil {
		db.pool.Close()
	}
	logger.Info("database connections closed")
}

// HealthCheck pings using database/sql to catch DSN issues early.
func HealthCheck(ctx context.Context, db *DB, timeout time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("pinging database")
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := db.SQL().PingContext(ctx); err != nil {
		logger.Error("database ping failed", "error", err)
		return err
	}
	logger.Debug("database ping successful")
	return nil
}

func (db *DB) withTx(ctx context.Context, fn func(tx dialect.Tx) error) error {
	tx, err := db.drv.Tx(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rerr)
		}
		return err
	}
	return tx.Commit()
}

func exec(ctx context.Context, q dialect.ExecQuerier, query string, args []any) (int64, error) {
	var res sql.Result
	if err := q.Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func queryRows(ctx context.Context, q dialect.ExecQuerier, query string, args []any, scan func(rows *entsql.Rows) error) error {
	rows := &entsql.Rows{}
	if err := q.Query(ctx, query, args, rows); err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
