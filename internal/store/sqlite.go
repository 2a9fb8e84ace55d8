package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"

	"github.com/membank/membank/internal/memerr"
)

// DB wraps the SQLite connection. SQLite is the source of truth; the
// vector index is derived and reconstructible from these tables.
type DB struct {
	*sql.DB
	Path string
}

// Open creates or opens the record store at dbPath, configures WAL mode,
// and applies any pending schema migrations (unverified fast path; the
// migrate command runs the verified path with backups).
//
// _txlock=immediate makes every transaction take the write lock up
// front, so a second writer fails fast instead of blocking at commit.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=2000&_foreign_keys=ON&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	wrapped := &DB{DB: db, Path: dbPath}

	if _, err := NewMigrator(wrapped, nil).Migrate(false); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return wrapped, nil
}

// WriteTx runs fn inside an immediate write transaction. Contention with
// another writer surfaces as ErrStoreBusy.
func (db *DB) WriteTx(fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return mapBusy(err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return mapBusy(err)
	}

	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return mapBusy(err)
	}
	return nil
}

// mapBusy translates the driver's contention codes into ErrStoreBusy so
// callers can decide to retry with backoff.
func mapBusy(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", memerr.ErrStoreBusy, err)
	}
	return err
}

// columnExists checks if a column exists in a table. The rows cursor is
// closed before returning, avoiding deadlocks with MaxOpenConns(1).
func columnExists(db queryer, table, column string) (bool, error) {
	rows, err := db.Query(
		fmt.Sprintf("SELECT name FROM pragma_table_info('%s') WHERE name = ?", table),
		column,
	)
	if err != nil {
		return false, err
	}
	found := rows.Next()
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}
	return found, nil
}

func tableExists(db queryer, table string) (bool, error) {
	rows, err := db.Query(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table)
	if err != nil {
		return false, err
	}
	found := rows.Next()
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}
	return found, nil
}

// execer and queryer let store methods run against either the shared
// connection or an open transaction.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

type queryer interface {
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}
