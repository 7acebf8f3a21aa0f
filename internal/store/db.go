// Package store is the local relational store for mirrored tracker data and
// locally owned records (accounts, leave balances, planning data).
//
// SQLite (modernc.org/sqlite) is the default backend; MySQL is supported for
// shared deployments. All dates are stored as YYYY-MM-DD text and timestamps
// as RFC 3339 UTC text so both dialects compare them lexically.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/JohanCodinha/worksync/internal/logger"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// DateLayout is the storage format for calendar dates.
const DateLayout = "2006-01-02"

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Queries holds every read and write the application performs. It is
// embedded in both DB and Tx so the same calls work inside a transaction.
type Queries struct {
	q      execer
	driver string
}

// DB is an open store.
type DB struct {
	*Queries
	driver string
	conn   *sql.DB
}

// Tx is a store transaction. See DB.WithTx.
type Tx struct {
	*Queries
	tx *sql.Tx
}

// InitDB opens (creating if needed) a SQLite store at path.
func InitDB(path string) (*DB, error) {
	return Open(DriverSQLite, path)
}

// Open connects to the store and creates any missing tables.
func Open(driver, dsn string) (*DB, error) {
	var conn *sql.DB

	switch driver {
	case DriverSQLite:
		c, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		// SQLite allows a single writer; one connection avoids "database is locked"
		// between the scheduler and interactive requests.
		c.SetMaxOpenConns(1)
		c.SetMaxIdleConns(1)
		c.SetConnMaxLifetime(0)
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=ON",
		} {
			if _, err := c.Exec(pragma); err != nil {
				c.Close()
				return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
			}
		}
		conn = c

	case DriverMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		cfg.ParseTime = false
		cfg.MultiStatements = false
		connector, err := mysql.NewConnector(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		conn = sql.OpenDB(connector)
		conn.SetMaxOpenConns(10)
		conn.SetConnMaxLifetime(5 * time.Minute)

	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if err := createSchema(conn, driver); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Debug("store: opened %s database", driver)

	return &DB{
		Queries: &Queries{q: conn, driver: driver},
		driver:  driver,
		conn:    conn,
	}, nil
}

func createSchema(conn *sql.DB, driver string) error {
	stmts := sqliteSchema
	if driver == DriverMySQL {
		stmts = mysqlSchema
	}
	for _, stmt := range stmts {
		if _, err := conn.Exec(stmt.sql); err != nil {
			return fmt.Errorf("failed to create %s table: %w", stmt.table, err)
		}
	}
	return nil
}

// Driver returns the backend name.
func (db *DB) Driver() string {
	return db.driver
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// WithTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	tx := &Tx{Queries: &Queries{q: sqlTx, driver: db.driver}, tx: sqlTx}
	if err := fn(tx); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// insertIgnore returns the dialect's insert-unless-duplicate verb.
func (q *Queries) insertIgnore() string {
	if q.driver == DriverMySQL {
		return "INSERT IGNORE"
	}
	return "INSERT OR IGNORE"
}

// scanner is an interface that both *sql.Row and *sql.Rows implement.
type scanner interface {
	Scan(dest ...interface{}) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatDate(t time.Time) string {
	return t.Format(DateLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
