package catalog

import (
	"context"
	"database/sql"
	"time"

	"github.com/slyckmb/hashall/internal/errs"
)

// Payload is one device-local instance of content-addressed data: a
// digest over a canonical manifest of every file's path, size, and
// digest (spec.md §5 payload identity). The same payload_hash may have
// a Payload row on more than one device at once — a warm copy and a
// cold copy of the same torrent data — which is exactly the state the
// rehome planner's REUSE decision looks for.
type Payload struct {
	ID            int64
	PayloadHash   string
	DeviceID      int64
	RootPath      string
	FileCount     int64
	TotalBytes    int64
	NeedsFullHash bool
	BuiltAt       int64
}

// UpsertPayload records or refreshes a payload instance, keyed by
// (device_id, root_path) since a payload_hash alone does not identify
// a single row. A Payload with NeedsFullHash set and an empty
// PayloadHash is stored with payload_hash = NULL (spec.md §4.5 step 3):
// some torrent sharing this root still lacks a full digest on one or
// more files, so no digest can be trusted yet.
func (db *DB) UpsertPayload(ctx context.Context, p *Payload) error {
	now := time.Now().Unix()
	if p.BuiltAt == 0 {
		p.BuiltAt = now
	}
	hash := sql.NullString{String: p.PayloadHash, Valid: p.PayloadHash != ""}
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO payloads (payload_hash, device_id, root_path, file_count, total_bytes, needs_full_hash, built_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(device_id, root_path) DO UPDATE SET
				payload_hash = excluded.payload_hash,
				file_count = excluded.file_count,
				total_bytes = excluded.total_bytes,
				needs_full_hash = excluded.needs_full_hash,
				built_at = excluded.built_at`,
			hash, p.DeviceID, p.RootPath, p.FileCount, p.TotalBytes, p.NeedsFullHash, p.BuiltAt)
		return err
	})
	if err != nil {
		return errs.Wrap(errs.Catalog, p.RootPath, err)
	}
	return nil
}

const payloadColumns = `id, payload_hash, device_id, root_path, file_count, total_bytes, needs_full_hash, built_at`

func scanPayload(row interface{ Scan(...any) error }) (*Payload, error) {
	var p Payload
	var hash sql.NullString
	if err := row.Scan(&p.ID, &hash, &p.DeviceID, &p.RootPath, &p.FileCount, &p.TotalBytes, &p.NeedsFullHash, &p.BuiltAt); err != nil {
		return nil, err
	}
	p.PayloadHash = hash.String
	return &p, nil
}

// PayloadByHash returns one payload instance for a digest — the first
// found, by device id — or nil if the payload exists on no device.
// Callers that need to know about every device holding a payload (the
// rehome planner's REUSE search) should use PayloadsByHash instead.
func (db *DB) PayloadByHash(ctx context.Context, hash string) (*Payload, error) {
	row := db.QueryRowContext(ctx, `SELECT `+payloadColumns+` FROM payloads WHERE payload_hash = ? ORDER BY device_id LIMIT 1`, hash)
	p, err := scanPayload(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, hash, err)
	}
	return p, nil
}

// PayloadsByHash returns every device-local instance of a payload.
func (db *DB) PayloadsByHash(ctx context.Context, hash string) ([]*Payload, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+payloadColumns+` FROM payloads WHERE payload_hash = ? ORDER BY device_id`, hash)
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, hash, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Payload
	for rows.Next() {
		p, err := scanPayload(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Catalog, hash, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PayloadByHashAndDevice returns the payload instance for a digest on a
// specific device, or nil if it has none — the REUSE lookup spec.md
// §4.7 step 5 performs against a rehome plan's target device.
func (db *DB) PayloadByHashAndDevice(ctx context.Context, hash string, deviceID int64) (*Payload, error) {
	row := db.QueryRowContext(ctx, `SELECT `+payloadColumns+` FROM payloads WHERE payload_hash = ? AND device_id = ?`, hash, deviceID)
	p, err := scanPayload(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, hash, err)
	}
	return p, nil
}

// PayloadsOnDevice returns every payload instance recorded on a device.
func (db *DB) PayloadsOnDevice(ctx context.Context, deviceID int64) ([]*Payload, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+payloadColumns+` FROM payloads WHERE device_id = ? ORDER BY root_path`, deviceID)
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, "payloads", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Payload
	for rows.Next() {
		p, err := scanPayload(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Catalog, "payloads", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
