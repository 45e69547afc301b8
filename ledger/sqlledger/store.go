// Package sqlledger is a SQL-backed voiceGate.Ledger and
// voiceGate.ProfileProvider. It supports SQLite (mattn/go-sqlite3) and
// PostgreSQL (pgx stdlib) and ships its schema as embedded migrations.
//
// Every committed pending transaction produces exactly one row in the
// transactions table; the unique pending_id column makes Commit idempotent.
package sqlledger

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations
var migrationsFS embed.FS

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// ErrUnsupportedDriver is returned for drivers other than sqlite3 and pgx.
var ErrUnsupportedDriver = errors.New("sqlledger: unsupported driver")

// Store is safe for concurrent use.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to dsn with driver, applies pending migrations and returns
// a ready store. Callers must Close it.
func Open(driver, dsn string) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlledger: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlledger: connect database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if err := migrateDB(db, driver, "up"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlledger: migrate: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// Migrate runs the embedded migrations against dsn in direction "up" or
// "down" without keeping a store open.
func Migrate(driver, dsn, direction string) error {
	if direction != "up" && direction != "down" {
		return fmt.Errorf("sqlledger: direction must be up or down, got %q", direction)
	}
	if driver != DriverSQLite && driver != DriverPostgres {
		return fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("sqlledger: open database: %w", err)
	}
	defer db.Close()
	return migrateDB(db, driver, direction)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle for inspection tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("sqlledger: %q: %w", pragma, err)
		}
	}
	return nil
}

func migrateDB(db *sql.DB, driver, direction string) error {
	var (
		target database.Driver
		dir    string
		name   string
		err    error
	)
	switch driver {
	case DriverSQLite:
		target, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
		dir, name = "migrations/sqlite3", "sqlite3"
	case DriverPostgres:
		target, err = migratepostgres.WithInstance(db, &migratepostgres.Config{})
		dir, name = "migrations/postgres", "postgres"
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	if err != nil {
		return fmt.Errorf("migrate driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, name, target)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
