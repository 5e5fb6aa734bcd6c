package catalog

import (
	"context"
	"testing"

	"github.com/slyckmb/hashall/internal/fsprobe"
)

func TestRegisterDeviceIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := &fsprobe.Identity{FSUUID: "uuid-1", DeviceIdent: "8:1", MountPoint: "/warm", FSType: "ext4"}

	d1, err := db.RegisterDevice(ctx, id)
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	d2, err := db.RegisterDevice(ctx, id)
	if err != nil {
		t.Fatalf("RegisterDevice second call: %v", err)
	}
	if d1.ID != d2.ID {
		t.Fatalf("expected same device id, got %d and %d", d1.ID, d2.ID)
	}
}

func TestRegisterDeviceRecordsIdentChange(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := &fsprobe.Identity{FSUUID: "uuid-2", DeviceIdent: "8:1", MountPoint: "/warm", FSType: "ext4"}

	d1, err := db.RegisterDevice(ctx, id)
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}

	id2 := &fsprobe.Identity{FSUUID: "uuid-2", DeviceIdent: "8:5", MountPoint: "/warm", FSType: "ext4"}
	d2, err := db.RegisterDevice(ctx, id2)
	if err != nil {
		t.Fatalf("RegisterDevice renumbered: %v", err)
	}
	if d1.ID != d2.ID {
		t.Fatal("expected the same catalog row across a kernel ident change")
	}
	if d2.CurrentDeviceIdent != "8:5" {
		t.Fatalf("expected updated ident 8:5, got %s", d2.CurrentDeviceIdent)
	}

	var historyCount int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM device_ident_history WHERE device_id = ?`, d1.ID).Scan(&historyCount); err != nil {
		t.Fatalf("query history: %v", err)
	}
	if historyCount != 1 {
		t.Fatalf("expected 1 history row, got %d", historyCount)
	}
}

func TestDeviceByFSUUIDNotFound(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.DeviceByFSUUID(context.Background(), "nope"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestSetAlias(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	d := registerTestDevice(t, db, "uuid-alias")

	if err := db.SetAlias(ctx, d.ID, "warm-pool"); err != nil {
		t.Fatalf("SetAlias: %v", err)
	}
	got, err := db.DeviceByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("DeviceByID: %v", err)
	}
	if got.Alias != "warm-pool" {
		t.Fatalf("got alias %q", got.Alias)
	}
}

func TestRecordScanStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	d := registerTestDevice(t, db, "uuid-stats")

	if err := db.RecordScanStats(ctx, d.ID, 42, 1024); err != nil {
		t.Fatalf("RecordScanStats: %v", err)
	}
	got, err := db.DeviceByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("DeviceByID: %v", err)
	}
	if got.FileCount != 42 || got.ByteTotal != 1024 || got.ScanCount != 1 || got.FirstScanAt == nil || got.LastScanAt == nil {
		t.Fatalf("unexpected device state: %+v", got)
	}
}

func TestListDevices(t *testing.T) {
	db := openTestDB(t)
	registerTestDevice(t, db, "uuid-a")
	registerTestDevice(t, db, "uuid-b")

	devices, err := db.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
}
