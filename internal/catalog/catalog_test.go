package catalog

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/slyckmb/hashall/internal/fsprobe"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func registerTestDevice(t *testing.T, db *DB, fsUUID string) *Device {
	t.Helper()
	d, err := db.RegisterDevice(context.Background(), &fsprobe.Identity{
		FSUUID:      fsUUID,
		DeviceIdent: "8:1",
		MountPoint:  "/warm",
		FSType:      "ext4",
	})
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	if err := db.EnsureFileTable(context.Background(), d); err != nil {
		t.Fatalf("EnsureFileTable: %v", err)
	}
	return d
}

func TestOpenRunsMigrations(t *testing.T) {
	db := openTestDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("query schema_migrations: %v", err)
	}
	if count == 0 {
		t.Fatal("expected at least one applied migration")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	db1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := db1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer func() { _ = db2.Close() }()
}

func TestWriteTxRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	d := registerTestDevice(t, db, "uuid-rollback")

	boom := errFake{}
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE devices SET alias = 'should-not-stick' WHERE id = ?`, d.ID); err != nil {
			return err
		}
		return boom
	})
	if err != boom {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	got, err := db.DeviceByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("DeviceByID: %v", err)
	}
	if got.Alias == "should-not-stick" {
		t.Fatal("WriteTx did not roll back on error")
	}
}

type errFake struct{}

func (errFake) Error() string { return "fake" }
