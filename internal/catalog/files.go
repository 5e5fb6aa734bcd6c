package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/slyckmb/hashall/internal/errs"
)

// FileEntry is one row of a device's dynamic file table. Path is
// relative to the device's mount point (spec.md §4.1) so a device
// remounted elsewhere needs no path rewriting.
type FileEntry struct {
	Inode     uint64
	Path      string
	Size      int64
	MTime     int64
	Nlink     uint32
	FastHash  string
	FullHash  string
	Status    string // active | deleted | moved
	FirstSeen int64
	LastSeen  int64
}

const (
	StatusActive  = "active"
	StatusDeleted = "deleted"
	StatusMoved   = "moved"
)

// EnsureFileTable creates the device's dynamic file table if it does
// not already exist. Table names are derived from the device's own
// stable row id (files_d<id>), never from the kernel device
// identifier, which can be renumbered across reboots.
func (db *DB) EnsureFileTable(ctx context.Context, d *Device) error {
	table := d.FileTableName()
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			inode       INTEGER NOT NULL,
			path        TEXT NOT NULL,
			size        INTEGER NOT NULL,
			mtime       INTEGER NOT NULL,
			nlink       INTEGER NOT NULL,
			fast_hash   TEXT,
			full_hash   TEXT,
			status      TEXT NOT NULL DEFAULT 'active',
			first_seen  INTEGER NOT NULL,
			last_seen   INTEGER NOT NULL,
			PRIMARY KEY (inode, path)
		)`, table)
	idxHash := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_full_hash ON %s (full_hash)`, table, table)
	idxStatus := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_status ON %s (status)`, table, table)

	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, idxHash); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, idxStatus)
		return err
	})
	if err != nil {
		return errs.Wrap(errs.Catalog, table, err)
	}
	return nil
}

// RenameFileTable renames a device's file table, used when the
// device's own row id would otherwise need to change (spec.md §4.2
// describes the kernel ident changing; the catalog row id itself is
// stable, so this is only exercised by maintenance/merge tooling).
func (db *DB) RenameFileTable(ctx context.Context, oldName, newName string) error {
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, oldName, newName))
		return err
	})
	if err != nil {
		return errs.Wrap(errs.Catalog, oldName, err)
	}
	return nil
}

// UpsertFile inserts or updates a file row keyed on (inode, path). When
// an existing row's size or mtime differ, its hash fields are
// cleared so scanning knows to recompute them.
func (db *DB) UpsertFile(ctx context.Context, table string, f *FileEntry) error {
	now := time.Now().Unix()
	if f.FirstSeen == 0 {
		f.FirstSeen = now
	}
	f.LastSeen = now

	query := fmt.Sprintf(`
		INSERT INTO %s (inode, path, size, mtime, nlink, fast_hash, full_hash, status, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'active', ?, ?)
		ON CONFLICT(inode, path) DO UPDATE SET
			size = excluded.size,
			mtime = excluded.mtime,
			nlink = excluded.nlink,
			fast_hash = CASE WHEN %s.size = excluded.size AND %s.mtime = excluded.mtime THEN %s.fast_hash ELSE NULL END,
			full_hash = CASE WHEN %s.size = excluded.size AND %s.mtime = excluded.mtime THEN %s.full_hash ELSE NULL END,
			status = 'active',
			last_seen = excluded.last_seen
	`, table, table, table, table, table, table, table)

	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query, f.Inode, f.Path, f.Size, f.MTime, f.Nlink, nullIfEmpty(f.FastHash), nullIfEmpty(f.FullHash), f.FirstSeen, f.LastSeen)
		return err
	})
	if err != nil {
		return errs.Wrap(errs.Catalog, table+":"+f.Path, err)
	}
	return nil
}

// SetHashes stores the fast and/or full hash computed for a row.
func (db *DB) SetHashes(ctx context.Context, table string, inode uint64, path, fastHash, fullHash string) error {
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET fast_hash = ?, full_hash = ? WHERE inode = ? AND path = ?`, table),
			nullIfEmpty(fastHash), nullIfEmpty(fullHash), inode, path)
		return err
	})
	if err != nil {
		return errs.Wrap(errs.Catalog, table+":"+path, err)
	}
	return nil
}

// MarkMissing flags every active row under root whose inode is not in
// seenInodes as deleted, rather than removing it, preserving hash history for moved-
// file detection.
func (db *DB) MarkMissing(ctx context.Context, table, root string, seenInodes map[uint64]bool) (int64, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT inode, path FROM %s WHERE path LIKE ? AND status = 'active'`, table), root+"%")
	if err != nil {
		return 0, errs.Wrap(errs.Catalog, table, err)
	}
	type key struct {
		inode uint64
		path  string
	}
	var toMark []key
	for rows.Next() {
		var k key
		if err := rows.Scan(&k.inode, &k.path); err != nil {
			_ = rows.Close()
			return 0, errs.Wrap(errs.Catalog, table, err)
		}
		if !seenInodes[k.inode] {
			toMark = append(toMark, k)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, errs.Wrap(errs.Catalog, table, err)
	}
	_ = rows.Close()

	if len(toMark) == 0 {
		return 0, nil
	}

	now := time.Now().Unix()
	err = db.WriteTx(ctx, func(tx *sql.Tx) error {
		for _, k := range toMark {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET status = 'deleted', last_seen = ? WHERE inode = ? AND path = ?`, table),
				now, k.inode, k.path); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, errs.Wrap(errs.Catalog, table, err)
	}
	return int64(len(toMark)), nil
}

func scanFileEntry(rows *sql.Rows) (*FileEntry, error) {
	var f FileEntry
	var fastHash, fullHash sql.NullString
	err := rows.Scan(&f.Inode, &f.Path, &f.Size, &f.MTime, &f.Nlink, &fastHash, &fullHash, &f.Status, &f.FirstSeen, &f.LastSeen)
	if err != nil {
		return nil, err
	}
	f.FastHash = fastHash.String
	f.FullHash = fullHash.String
	return &f, nil
}

const fileColumns = `inode, path, size, mtime, nlink, fast_hash, full_hash, status, first_seen, last_seen`

// FileByPath returns the active row at an exact path, or nil if none
// exists, used to join a torrent's file list against catalog hashes
// when building a payload manifest.
func (db *DB) FileByPath(ctx context.Context, table, path string) (*FileEntry, error) {
	row := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE path = ? AND status = 'active'`, fileColumns, table), path)
	var f FileEntry
	var fastHash, fullHash sql.NullString
	err := row.Scan(&f.Inode, &f.Path, &f.Size, &f.MTime, &f.Nlink, &fastHash, &fullHash, &f.Status, &f.FirstSeen, &f.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, table, err)
	}
	f.FastHash = fastHash.String
	f.FullHash = fullHash.String
	return &f, nil
}

// ActiveFilesUnder returns every active row under root, ordered by path.
func (db *DB) ActiveFilesUnder(ctx context.Context, table, root string) ([]*FileEntry, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE path LIKE ? AND status = 'active' ORDER BY path`, fileColumns, table), root+"%")
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, table, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*FileEntry
	for rows.Next() {
		f, err := scanFileEntry(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Catalog, table, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ActiveFilesMissingFullHash returns every active row under root that
// has not yet had a full digest computed, used by the scanner's
// upgrade hash mode (spec.md §4.3 step 6) to fill in digests for rows
// a prior fast-mode scan left without one.
func (db *DB) ActiveFilesMissingFullHash(ctx context.Context, table, root string) ([]*FileEntry, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE path LIKE ? AND status = 'active' AND full_hash IS NULL ORDER BY path`, fileColumns, table), root+"%")
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, table, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*FileEntry
	for rows.Next() {
		f, err := scanFileEntry(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Catalog, table, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FilesByFullHash returns every active row sharing a full content
// digest, used to build hardlink groups within a device.
func (db *DB) FilesByFullHash(ctx context.Context, table, fullHash string) ([]*FileEntry, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE full_hash = ? AND status = 'active' ORDER BY path`, fileColumns, table), fullHash)
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, table, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*FileEntry
	for rows.Next() {
		f, err := scanFileEntry(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Catalog, table, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeletedInodeLookup finds a recently deleted row with the given inode,
// used by move detection: the same inode reappearing at a new path in
// the same scan is a move, not a delete+add.
func (db *DB) DeletedInodeLookup(ctx context.Context, table string, inode uint64) (*FileEntry, error) {
	row := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE inode = ? AND status = 'deleted' ORDER BY last_seen DESC LIMIT 1`, fileColumns, table), inode)
	var f FileEntry
	var fastHash, fullHash sql.NullString
	err := row.Scan(&f.Inode, &f.Path, &f.Size, &f.MTime, &f.Nlink, &fastHash, &fullHash, &f.Status, &f.FirstSeen, &f.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, table, err)
	}
	f.FastHash = fastHash.String
	f.FullHash = fullHash.String
	return &f, nil
}

// ActiveFileByInode returns one active row for an inode, or nil if
// none exists. Used by move detection to find a file's prior path
// before it reappears elsewhere in the same scan.
func (db *DB) ActiveFileByInode(ctx context.Context, table string, inode uint64) (*FileEntry, error) {
	row := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE inode = ? AND status = 'active' LIMIT 1`, fileColumns, table), inode)
	var f FileEntry
	var fastHash, fullHash sql.NullString
	err := row.Scan(&f.Inode, &f.Path, &f.Size, &f.MTime, &f.Nlink, &fastHash, &fullHash, &f.Status, &f.FirstSeen, &f.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, table, err)
	}
	f.FastHash = fastHash.String
	f.FullHash = fullHash.String
	return &f, nil
}

// ActiveFilesByInode returns every active row sharing an inode, used by
// the rehome planner's external-consumer check: a payload file's inode
// may be hardlinked from several paths, any of which might lie outside
// the seeding domain (spec.md §4.7 step 3).
func (db *DB) ActiveFilesByInode(ctx context.Context, table string, inode uint64) ([]*FileEntry, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE inode = ? AND status = 'active' ORDER BY path`, fileColumns, table), inode)
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, table, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*FileEntry
	for rows.Next() {
		f, err := scanFileEntry(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Catalog, table, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// MarkMoved updates a row's path in place, preserving its hash history,
// when move detection identifies the same inode at a new location.
func (db *DB) MarkMoved(ctx context.Context, table string, inode uint64, oldPath, newPath string) error {
	now := time.Now().Unix()
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET path = ?, status = 'active', last_seen = ? WHERE inode = ? AND path = ?`, table),
			newPath, now, inode, oldPath)
		return err
	})
	if err != nil {
		return errs.Wrap(errs.Catalog, table+":"+oldPath, err)
	}
	return nil
}
