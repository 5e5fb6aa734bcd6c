package catalog

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/slyckmb/hashall/internal/errs"
)

// TorrentInstance mirrors one torrent tracked by the external client,
// linked to its payload identity once computed (spec.md §5 sibling
// torrent grouping).
type TorrentInstance struct {
	InfoHash    string
	PayloadHash string
	DeviceID    int64
	SavePath    string
	ContentRoot string
	Category    string
	Tags        []string
	LastSeen    int64
}

func joinTags(tags []string) string { return strings.Join(tags, ",") }

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// UpsertTorrentInstance records or refreshes a torrent's client-side
// placement, independent of whether its payload hash has been computed
// yet.
func (db *DB) UpsertTorrentInstance(ctx context.Context, t *TorrentInstance) error {
	now := time.Now().Unix()
	if t.LastSeen == 0 {
		t.LastSeen = now
	}
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO torrent_instances (infohash, payload_hash, device_id, save_path, content_root, category, tags, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(infohash) DO UPDATE SET
				payload_hash = excluded.payload_hash,
				device_id = excluded.device_id,
				save_path = excluded.save_path,
				content_root = excluded.content_root,
				category = excluded.category,
				tags = excluded.tags,
				last_seen = excluded.last_seen`,
			t.InfoHash, nullIfEmpty(t.PayloadHash), t.DeviceID, t.SavePath, t.ContentRoot, nullIfEmpty(t.Category), joinTags(t.Tags), t.LastSeen)
		return err
	})
	if err != nil {
		return errs.Wrap(errs.Catalog, t.InfoHash, err)
	}
	return nil
}

// SetTorrentPayload links a torrent instance to a computed payload hash.
func (db *DB) SetTorrentPayload(ctx context.Context, infoHash, payloadHash string) error {
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE torrent_instances SET payload_hash = ? WHERE infohash = ?`, payloadHash, infoHash)
		return err
	})
	if err != nil {
		return errs.Wrap(errs.Catalog, infoHash, err)
	}
	return nil
}

const torrentColumns = `infohash, payload_hash, device_id, save_path, content_root, category, tags, last_seen`

func scanTorrent(row interface{ Scan(...any) error }) (*TorrentInstance, error) {
	var t TorrentInstance
	var payloadHash, category sql.NullString
	var deviceID sql.NullInt64
	var tags string
	err := row.Scan(&t.InfoHash, &payloadHash, &deviceID, &t.SavePath, &t.ContentRoot, &category, &tags, &t.LastSeen)
	if err != nil {
		return nil, err
	}
	t.PayloadHash = payloadHash.String
	t.Category = category.String
	t.DeviceID = deviceID.Int64
	t.Tags = splitTags(tags)
	return &t, nil
}

// TorrentByInfoHash returns a torrent instance, or nil if untracked.
func (db *DB) TorrentByInfoHash(ctx context.Context, infoHash string) (*TorrentInstance, error) {
	row := db.QueryRowContext(ctx, `SELECT `+torrentColumns+` FROM torrent_instances WHERE infohash = ?`, infoHash)
	t, err := scanTorrent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, infoHash, err)
	}
	return t, nil
}

// SiblingTorrents returns every torrent instance sharing a payload
// hash, excluding excludeInfoHash — the sibling-grouping query the
// rehome planner and the payload command consult.
func (db *DB) SiblingTorrents(ctx context.Context, payloadHash, excludeInfoHash string) ([]*TorrentInstance, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+torrentColumns+` FROM torrent_instances WHERE payload_hash = ? AND infohash != ? ORDER BY infohash`, payloadHash, excludeInfoHash)
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, payloadHash, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*TorrentInstance
	for rows.Next() {
		t, err := scanTorrent(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Catalog, payloadHash, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TorrentsByTag returns every torrent instance carrying tag, used by
// the rehome planner's tag-selector scope (spec.md §4.7 step 1: "for
// tag selection, group by payload_hash").
func (db *DB) TorrentsByTag(ctx context.Context, tag string) ([]*TorrentInstance, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+torrentColumns+` FROM torrent_instances WHERE ',' || tags || ',' LIKE '%,' || ? || ',%' ORDER BY infohash`, tag)
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, tag, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*TorrentInstance
	for rows.Next() {
		t, err := scanTorrent(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Catalog, tag, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TorrentsUnderPath returns every torrent instance whose content root
// lies under root on a device. The rehome planner's external-consumer
// check does not use it; that check works on file rows by inode.
func (db *DB) TorrentsUnderPath(ctx context.Context, deviceID int64, root string) ([]*TorrentInstance, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+torrentColumns+` FROM torrent_instances WHERE device_id = ? AND content_root LIKE ? ORDER BY infohash`, deviceID, root+"%")
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, root, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*TorrentInstance
	for rows.Next() {
		t, err := scanTorrent(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Catalog, root, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
