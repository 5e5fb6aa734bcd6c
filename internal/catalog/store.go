// Package catalog is the persistent store behind the file catalog: one
// sqlite database per machine, a devices table keyed on filesystem UUID,
// one dynamic per-device file table, and the payload/torrent/link-plan/
// rehome bookkeeping tables described in spec.md §3-5.
//
// All writes are serialized through a single dedicated connection so
// that concurrent scanners and planners never contend for sqlite's
// write lock; reads use a pooled connection set and WAL mode lets them
// proceed concurrently with the writer (grounded on autobrr-qui's
// internal/database/db.go single-writer/many-reader split).
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/slyckmb/hashall/internal/errs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	connectionSetupTimeout = 5 * time.Second
	writeChannelBuffer     = 128
)

type writeReq struct {
	ctx context.Context
	fn  func(*sql.Tx) error
	err chan error
}

// DB is the catalog's sqlite-backed handle.
type DB struct {
	path      string
	conn      *sql.DB   // reader pool
	writeConn *sql.Conn // dedicated writer connection
	writeCh   chan writeReq
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Open creates (if necessary), migrates, and opens the catalog database
// at path, starting its single writer goroutine.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.Wrap(errs.Catalog, path, err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, path, err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
	defer cancel()
	if err := applyPragmas(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{
		path:    path,
		conn:    conn,
		writeCh: make(chan writeReq, writeChannelBuffer),
		stop:    make(chan struct{}),
	}

	if err := db.migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	conn.SetMaxOpenConns(0)
	conn.SetMaxIdleConns(4)

	writeConn, err := conn.Conn(context.Background())
	if err != nil {
		_ = conn.Close()
		return nil, errs.Wrap(errs.Catalog, path, err)
	}
	db.writeConn = writeConn

	db.wg.Add(1)
	go db.writerLoop()

	return db, nil
}

func applyPragmas(ctx context.Context, conn *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			return errs.Wrap(errs.Catalog, p, err)
		}
	}
	return nil
}

// WriteTx serializes fn behind the single writer goroutine, running it
// inside a transaction on the dedicated write connection. Every mutating
// catalog operation goes through this so multiple goroutines (scanner
// workers, link plan execution) never race on sqlite's write lock.
func (db *DB) WriteTx(ctx context.Context, fn func(*sql.Tx) error) error {
	errCh := make(chan error, 1)
	req := writeReq{ctx: ctx, fn: fn, err: errCh}

	select {
	case db.writeCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-db.stop:
		return errs.New(errs.Catalog, db.path, "catalog is closing")
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (db *DB) writerLoop() {
	defer db.wg.Done()
	for {
		select {
		case req := <-db.writeCh:
			req.err <- db.runWrite(req)
		case <-db.stop:
			// Drain remaining queued writes so callers blocked in
			// WriteTx don't hang forever on shutdown.
			for {
				select {
				case req := <-db.writeCh:
					req.err <- db.runWrite(req)
				default:
					return
				}
			}
		}
	}
}

func (db *DB) runWrite(req writeReq) error {
	tx, err := db.writeConn.BeginTx(req.ctx, nil)
	if err != nil {
		return errs.Wrap(errs.Catalog, db.path, err)
	}
	if err := req.fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.Catalog, db.path, err)
	}
	return nil
}

// QueryContext runs a read query against the pooled reader connections.
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row read query against the reader pool.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn.QueryRowContext(ctx, query, args...)
}

// Close stops the writer goroutine and closes both the write connection
// and the reader pool.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		close(db.stop)
		db.wg.Wait()
		if db.writeConn != nil {
			if err := db.writeConn.Close(); err != nil {
				db.closeErr = err
			}
		}
		if err := db.conn.Close(); err != nil && db.closeErr == nil {
			db.closeErr = err
		}
	})
	return db.closeErr
}

func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			filename    TEXT NOT NULL UNIQUE,
			applied_at  INTEGER NOT NULL
		)
	`); err != nil {
		return errs.Wrap(errs.Catalog, db.path, err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return errs.Wrap(errs.Catalog, db.path, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, filename := range files {
		var count int
		if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", filename).Scan(&count); err != nil {
			return errs.Wrap(errs.Catalog, filename, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + filename)
		if err != nil {
			return errs.Wrap(errs.Catalog, filename, err)
		}

		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return errs.Wrap(errs.Catalog, filename, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return errs.Wrap(errs.Catalog, filename, fmt.Errorf("applying migration: %w", err))
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)", filename, time.Now().Unix()); err != nil {
			_ = tx.Rollback()
			return errs.Wrap(errs.Catalog, filename, err)
		}
		if err := tx.Commit(); err != nil {
			return errs.Wrap(errs.Catalog, filename, err)
		}
	}

	return nil
}
