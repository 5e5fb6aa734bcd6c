package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/slyckmb/hashall/internal/errs"
)

const (
	SessionRunning   = "running"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
)

// ScanSession is one run of the scanner against a scan root, audited
// for freshness checks (spec.md §4.3 rescans, §6 rehome coverage gate).
type ScanSession struct {
	ID          int64
	DeviceID    int64
	ScanRootID  int64
	StartedAt   int64
	EndedAt     *int64
	Status      string
	Added       int64
	Updated     int64
	Unchanged   int64
	Deleted     int64
	BytesHashed int64
	Parallelism int
	HashMode    string
}

// StartScanSession inserts a new running session. Any prior session
// left running for the same scan root (e.g. from a crashed process) is
// left untouched rather than force-completed: freshness checks only
// consult completed sessions, so a stale running row never counts as a
// recent scan.
func (db *DB) StartScanSession(ctx context.Context, deviceID, scanRootID int64, parallelism int, hashMode string) (*ScanSession, error) {
	now := time.Now().Unix()
	var id int64
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO scan_sessions (device_id, scan_root_id, started_at, status, parallelism, hash_mode)
			VALUES (?, ?, ?, 'running', ?, ?)`,
			deviceID, scanRootID, now, parallelism, hashMode)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, fmt.Sprintf("scan root %d", scanRootID), err)
	}
	return &ScanSession{ID: id, DeviceID: deviceID, ScanRootID: scanRootID, StartedAt: now, Status: SessionRunning, Parallelism: parallelism, HashMode: hashMode}, nil
}

// CompleteScanSession records final counters and marks a session
// completed or failed.
func (db *DB) CompleteScanSession(ctx context.Context, sessionID int64, status string, added, updated, unchanged, deleted, bytesHashed int64) error {
	now := time.Now().Unix()
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE scan_sessions
			SET status = ?, ended_at = ?, added = ?, updated = ?, unchanged = ?, deleted = ?, bytes_hashed = ?
			WHERE id = ?`,
			status, now, added, updated, unchanged, deleted, bytesHashed, sessionID)
		return err
	})
	if err != nil {
		return errs.Wrap(errs.Catalog, fmt.Sprintf("scan session %d", sessionID), err)
	}
	return nil
}

// LatestCompletedSession returns the most recent completed session for
// a scan root, or nil if none exists.
func (db *DB) LatestCompletedSession(ctx context.Context, scanRootID int64) (*ScanSession, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, device_id, scan_root_id, started_at, ended_at, status, added, updated, unchanged, deleted, bytes_hashed, parallelism, hash_mode
		FROM scan_sessions
		WHERE scan_root_id = ? AND status = 'completed'
		ORDER BY started_at DESC LIMIT 1`, scanRootID)

	var s ScanSession
	var ended sql.NullInt64
	err := row.Scan(&s.ID, &s.DeviceID, &s.ScanRootID, &s.StartedAt, &ended, &s.Status, &s.Added, &s.Updated, &s.Unchanged, &s.Deleted, &s.BytesHashed, &s.Parallelism, &s.HashMode)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, fmt.Sprintf("scan root %d", scanRootID), err)
	}
	if ended.Valid {
		s.EndedAt = &ended.Int64
	}
	return &s, nil
}

// IsFresh reports whether a scan root's latest completed scan finished
// within maxAge of now, the freshness gate the rehome planner consults
// before trusting catalog coverage for a path (spec.md §6).
func (db *DB) IsFresh(ctx context.Context, scanRootID int64, maxAge time.Duration) (bool, error) {
	s, err := db.LatestCompletedSession(ctx, scanRootID)
	if err != nil {
		return false, err
	}
	if s == nil || s.EndedAt == nil {
		return false, nil
	}
	age := time.Since(time.Unix(*s.EndedAt, 0))
	return age <= maxAge, nil
}
