// Package sqlite implements the repository interfaces on top of SQLite.
//
// modernc.org/sqlite is a pure-Go driver, so the binary builds without CGo
// and tests run against ":memory:" databases with no setup.
//
// Schema changes live in migrations/*.sql and are embedded into the binary;
// goose records which ones have been applied in its goose_db_version table,
// so New can be called against an existing file safely.
//
// Comments and ratings are stored in child tables (strategy_comments,
// strategy_ratings) that cascade with their strategy. Parameters and tags are
// JSON text columns: they are opaque to SQL and always read as a whole.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/url"

	"github.com/pressly/goose/v3"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB owns the sql.DB connection pool. The repositories are views over the
// same pool: Users() for the Identity Store, Strategies() for the Strategy Store.
type DB struct {
	conn       *sql.DB
	users      *UserDB
	strategies *StrategyDB
}

// UserDB implements repository.UserRepository.
type UserDB struct {
	conn *sql.DB
}

// StrategyDB implements repository.StrategyRepository.
type StrategyDB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and applies pending migrations.
//
// dbPath examples:
//   - "data/strategy-hub.db" → file-based, persistent
//   - ":memory:"             → in-memory, gone on Close (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every connection to ":memory:" is its own empty database, so the pool
	// must never hand out a second one.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{
		conn:       conn,
		users:      &UserDB{conn: conn},
		strategies: &StrategyDB{conn: conn},
	}

	if err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// dsn turns a path into a URI whose pragmas the driver applies to every
// pooled connection. foreign_keys is per connection and off by default; the
// child tables rely on ON DELETE CASCADE.
func dsn(dbPath string) string {
	if dbPath == ":memory:" {
		return "file::memory:?_pragma=foreign_keys(1)"
	}
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	return "file:" + dbPath + "?" + q.Encode()
}

func (db *DB) Users() *UserDB { return db.users }

func (db *DB) Strategies() *StrategyDB { return db.strategies }

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable. Used by GET /health.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate applies every embedded migration that has not run yet.
func (db *DB) migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.conn, "migrations"); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error.
func withTx(ctx context.Context, conn *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// boolToInt maps Go bools onto SQLite's 0/1 integers.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
