// Package store owns the on-disk local replica: a single-writer SQLite
// database holding the projected entity tables, the event log, sync
// conflicts, and the pull checkpoint.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps a single-writer SQLite connection plus the cross-process file
// lock that serializes writers the way the teacher's internal/db does.
type DB struct {
	conn   *sql.DB
	path   string
	locker *writeLocker
}

// Open initializes (creating parent directories and the schema as needed)
// and returns a DB backed by the SQLite file at path. A sibling lock file
// guards concurrent writers across OS processes, mirroring the teacher's
// single-writer discipline.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create db dir: %w", err)
			}
		}
	}

	conn, err := openConn(path)
	if err != nil {
		return nil, err
	}

	locker, err := newWriteLocker(path, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: init write lock: %w", err)
	}

	db := &DB{conn: conn, path: path, locker: locker}
	if err := db.initialize(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// openConn opens the pure-Go modernc.org/sqlite driver with safe defaults
// for a single-writer, possibly-multi-process replica, exactly as the
// teacher's internal/db.openConn does: a local-first replica is
// single-process, single-writer by design, so SetMaxOpenConns(1) removes an
// entire class of SQLITE_BUSY races instead of papering over them with
// retries.
func openConn(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if path == ":memory:" {
		return conn, nil
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")
	conn.Exec("PRAGMA foreign_keys=ON")

	return conn, nil
}

func (db *DB) initialize() error {
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}
	if err := runMigrations(db.conn); err != nil {
		return fmt.Errorf("store: run migrations: %w", err)
	}
	return nil
}

// Conn exposes the underlying *sql.DB for packages (eventlog, projector,
// reconcile, conflict) that issue their own statements against the shared
// connection.
func (db *DB) Conn() *sql.DB { return db.conn }

// WithWriteLock runs fn while holding the cross-process file lock, the way
// the teacher's withWriteLock serializes multi-process writers sharing one
// SQLite file (e.g. a CLI invocation racing a background sync daemon).
func (db *DB) WithWriteLock(ctx context.Context, timeout time.Duration, fn func() error) error {
	if err := db.locker.acquire(ctx, timeout); err != nil {
		return fmt.Errorf("store: acquire write lock: %w", err)
	}
	defer db.locker.release()
	return fn()
}

// Close checkpoints the WAL into the main database file and releases the
// connection and lock, matching the teacher's shutdown sequence so the
// database file is always consistent without a stray -wal/-shm pair.
func (db *DB) Close() error {
	if db.path != ":memory:" {
		_, _ = db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	err := db.conn.Close()
	db.locker.close()
	return err
}
