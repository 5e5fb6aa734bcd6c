package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/slyckmb/hashall/internal/errs"
)

// ScanRoot is a directory the catalog has been asked to track on a
// device (spec.md §4.1 "scan roots").
type ScanRoot struct {
	ID            int64
	DeviceID      int64
	RootPath      string
	LastScannedAt *int64
	CreatedAt     int64
}

// EnsureScanRoot registers root under device if not already present,
// returning the existing row otherwise.
func (db *DB) EnsureScanRoot(ctx context.Context, deviceID int64, root string) (*ScanRoot, error) {
	existing, err := db.scanRootByPath(ctx, deviceID, root)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now().Unix()
	var newID int64
	err = db.WriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO scan_roots (device_id, root_path, created_at) VALUES (?, ?, ?)`, deviceID, root, now)
		if err != nil {
			return err
		}
		newID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, root, err)
	}
	return &ScanRoot{ID: newID, DeviceID: deviceID, RootPath: root, CreatedAt: now}, nil
}

func (db *DB) scanRootByPath(ctx context.Context, deviceID int64, root string) (*ScanRoot, error) {
	row := db.QueryRowContext(ctx, `SELECT id, device_id, root_path, last_scanned_at, created_at FROM scan_roots WHERE device_id = ? AND root_path = ?`, deviceID, root)
	var sr ScanRoot
	var lastScanned sql.NullInt64
	if err := row.Scan(&sr.ID, &sr.DeviceID, &sr.RootPath, &lastScanned, &sr.CreatedAt); err != nil {
		return nil, err
	}
	if lastScanned.Valid {
		sr.LastScannedAt = &lastScanned.Int64
	}
	return &sr, nil
}

// TouchScanRoot stamps a scan root's last_scanned_at to now.
func (db *DB) TouchScanRoot(ctx context.Context, rootID int64) error {
	now := time.Now().Unix()
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE scan_roots SET last_scanned_at = ? WHERE id = ?`, now, rootID)
		return err
	})
	if err != nil {
		return errs.Wrap(errs.Catalog, fmt.Sprintf("scan root %d", rootID), err)
	}
	return nil
}

// ListScanRoots returns every scan root registered under a device.
func (db *DB) ListScanRoots(ctx context.Context, deviceID int64) ([]*ScanRoot, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, device_id, root_path, last_scanned_at, created_at FROM scan_roots WHERE device_id = ? ORDER BY root_path`, deviceID)
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, fmt.Sprintf("device %d", deviceID), err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ScanRoot
	for rows.Next() {
		var sr ScanRoot
		var lastScanned sql.NullInt64
		if err := rows.Scan(&sr.ID, &sr.DeviceID, &sr.RootPath, &lastScanned, &sr.CreatedAt); err != nil {
			return nil, errs.Wrap(errs.Catalog, fmt.Sprintf("device %d", deviceID), err)
		}
		if lastScanned.Valid {
			sr.LastScannedAt = &lastScanned.Int64
		}
		out = append(out, &sr)
	}
	return out, rows.Err()
}
