package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/slyckmb/hashall/internal/errs"
	"github.com/slyckmb/hashall/internal/fsprobe"
)

// Device is a catalog-tracked storage device, keyed persistently by
// filesystem UUID and indexed internally by an auto-increment row id
// that is also used to name its dynamic file table (spec.md §3, §4.2).
type Device struct {
	ID                  int64
	FSUUID              string
	CurrentDeviceIdent  string
	Alias               string
	MountPoint          string
	PreferredMountPoint string
	FSType              string
	PoolName            string
	DatasetName         string
	FileCount           int64
	ByteTotal           int64
	FirstScanAt         *int64
	LastScanAt          *int64
	ScanCount           int64
	CreatedAt           int64
	UpdatedAt           int64
}

// FileTableName is the dynamic per-device table holding that device's
// file rows: files_d<id>.
func (d *Device) FileTableName() string {
	return fmt.Sprintf("files_d%d", d.ID)
}

// RegisterDevice looks up a device by filesystem UUID, inserting a new
// row if none exists. If the kernel device identifier has changed since
// the last registration, it is updated and recorded in
// device_ident_history. The device's own row id, not the kernel
// identifier, is what its file table is named after, so kernel-level
// renumbering never requires a table rename for this step alone.
func (db *DB) RegisterDevice(ctx context.Context, id *fsprobe.Identity) (*Device, error) {
	row := db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE fs_uuid = ?`, id.FSUUID)
	existing, err := scanDevice(row)
	if err != nil && err != sql.ErrNoRows {
		return nil, errs.Wrap(errs.Catalog, id.FSUUID, err)
	}
	if existing != nil {
		if existing.CurrentDeviceIdent != id.DeviceIdent {
			if err := db.recordIdentChange(ctx, existing, id.DeviceIdent); err != nil {
				return nil, err
			}
		}
		if existing.MountPoint != id.MountPoint {
			if err := db.updateMountPoint(ctx, existing.ID, id.MountPoint); err != nil {
				return nil, err
			}
			existing.MountPoint = id.MountPoint
		}
		return existing, nil
	}

	now := time.Now().Unix()
	var newID int64
	err = db.WriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO devices (fs_uuid, current_device_ident, mount_point, fs_type, pool_name, dataset_name, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id.FSUUID, id.DeviceIdent, id.MountPoint, id.FSType, nullIfEmpty(id.PoolName), nullIfEmpty(id.DatasetName), now, now)
		if err != nil {
			return err
		}
		newID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, id.FSUUID, err)
	}

	return db.DeviceByID(ctx, newID)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (db *DB) recordIdentChange(ctx context.Context, d *Device, newIdent string) error {
	old := d.CurrentDeviceIdent
	now := time.Now().Unix()
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO device_ident_history (device_id, old_ident, new_ident, changed_at) VALUES (?, ?, ?, ?)`,
			d.ID, old, newIdent, now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE devices SET current_device_ident = ?, updated_at = ? WHERE id = ?`,
			newIdent, now, d.ID)
		return err
	})
	if err != nil {
		return errs.Wrap(errs.Catalog, d.FSUUID, err)
	}
	d.CurrentDeviceIdent = newIdent
	return nil
}

func (db *DB) updateMountPoint(ctx context.Context, deviceID int64, mountPoint string) error {
	now := time.Now().Unix()
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE devices SET mount_point = ?, updated_at = ? WHERE id = ?`, mountPoint, now, deviceID)
		return err
	})
	if err != nil {
		return errs.Wrap(errs.Catalog, fmt.Sprintf("device %d", deviceID), err)
	}
	return nil
}

// SetAlias assigns a human-friendly name to a device.
func (db *DB) SetAlias(ctx context.Context, deviceID int64, alias string) error {
	now := time.Now().Unix()
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE devices SET alias = ?, updated_at = ? WHERE id = ?`, alias, now, deviceID)
		return err
	})
	if err != nil {
		return errs.Wrap(errs.Catalog, fmt.Sprintf("device %d", deviceID), err)
	}
	return nil
}

const deviceColumns = `id, fs_uuid, current_device_ident, alias, mount_point, preferred_mount_point, fs_type, pool_name, dataset_name, file_count, byte_total, first_scan_at, last_scan_at, scan_count, created_at, updated_at`

func scanDevice(row interface {
	Scan(...any) error
}) (*Device, error) {
	var d Device
	var alias, preferredMount, poolName, datasetName sql.NullString
	var firstScan, lastScan sql.NullInt64
	err := row.Scan(&d.ID, &d.FSUUID, &d.CurrentDeviceIdent, &alias, &d.MountPoint, &preferredMount, &d.FSType,
		&poolName, &datasetName, &d.FileCount, &d.ByteTotal, &firstScan, &lastScan, &d.ScanCount, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Alias = alias.String
	d.PreferredMountPoint = preferredMount.String
	d.PoolName = poolName.String
	d.DatasetName = datasetName.String
	if firstScan.Valid {
		d.FirstScanAt = &firstScan.Int64
	}
	if lastScan.Valid {
		d.LastScanAt = &lastScan.Int64
	}
	return &d, nil
}

// DeviceByFSUUID returns the device registered under a filesystem UUID,
// or a Catalog-kind not-found error if none exists.
func (db *DB) DeviceByFSUUID(ctx context.Context, fsUUID string) (*Device, error) {
	row := db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE fs_uuid = ?`, fsUUID)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.Catalog, fsUUID, "device not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, fsUUID, err)
	}
	return d, nil
}

// DeviceByID returns the device with the given row id.
func (db *DB) DeviceByID(ctx context.Context, id int64) (*Device, error) {
	row := db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.Catalog, fmt.Sprintf("device %d", id), "device not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, fmt.Sprintf("device %d", id), err)
	}
	return d, nil
}

// ListDevices returns every registered device ordered by id.
func (db *DB) ListDevices(ctx context.Context) ([]*Device, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY id`)
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, "devices", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Catalog, "devices", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecordScanStats updates the device's aggregate file count, byte
// total, and scan bookkeeping after a completed scan session.
func (db *DB) RecordScanStats(ctx context.Context, deviceID int64, fileCount, byteTotal int64) error {
	now := time.Now().Unix()
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		var firstScanAt sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT first_scan_at FROM devices WHERE id = ?`, deviceID).Scan(&firstScanAt); err != nil {
			return err
		}
		first := now
		if firstScanAt.Valid {
			first = firstScanAt.Int64
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE devices
			SET file_count = ?, byte_total = ?, first_scan_at = ?, last_scan_at = ?, scan_count = scan_count + 1, updated_at = ?
			WHERE id = ?`,
			fileCount, byteTotal, first, now, now, deviceID)
		return err
	})
	if err != nil {
		return errs.Wrap(errs.Catalog, fmt.Sprintf("device %d", deviceID), err)
	}
	return nil
}
