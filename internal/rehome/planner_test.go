package rehome

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/slyckmb/hashall/internal/catalog"
	"github.com/slyckmb/hashall/internal/config"
	"github.com/slyckmb/hashall/internal/fsprobe"
	"github.com/slyckmb/hashall/internal/pathresolve"
)

func openTestDB(t *testing.T) *catalog.DB {
	t.Helper()
	db, err := catalog.Open(filepath.Join(t.TempDir(), "c.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func registerDeviceAt(t *testing.T, db *catalog.DB, fsUUID, mount string) *catalog.Device {
	t.Helper()
	d, err := db.RegisterDevice(context.Background(), &fsprobe.Identity{FSUUID: fsUUID, DeviceIdent: "8:1", MountPoint: mount, FSType: "ext4"})
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	if err := db.EnsureFileTable(context.Background(), d); err != nil {
		t.Fatalf("EnsureFileTable: %v", err)
	}
	return d
}

// markRootFresh records a completed scan session for root so the
// planner's scan-coverage check (spec.md §4.7 step 4) treats it as
// covered.
func markRootFresh(t *testing.T, db *catalog.DB, root string) {
	t.Helper()
	ctx := context.Background()
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	canon, err := pathresolve.Canonicalize(root)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	id, err := fsprobe.Probe(canon)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	device, err := db.RegisterDevice(ctx, id)
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	relRoot, err := pathresolve.ToRelPath(canon, device.PreferredMountPoint, device.MountPoint)
	if err != nil {
		t.Fatalf("ToRelPath: %v", err)
	}
	scanRoot, err := db.EnsureScanRoot(ctx, device.ID, relRoot)
	if err != nil {
		t.Fatalf("EnsureScanRoot: %v", err)
	}
	session, err := db.StartScanSession(ctx, device.ID, scanRoot.ID, 1, "full")
	if err != nil {
		t.Fatalf("StartScanSession: %v", err)
	}
	if err := db.CompleteScanSession(ctx, session.ID, catalog.SessionCompleted, 0, 0, 0, 0, 0); err != nil {
		t.Fatalf("CompleteScanSession: %v", err)
	}
}

func baseConfig(seedingRoot string) *config.Config {
	return &config.Config{
		SeedingDomainRoots:      []string{seedingRoot},
		PoolPayloadRootTemplate: "/pool/{device}/{payload_hash}",
		ScanFreshnessSeconds:    int64(time.Hour.Seconds()),
	}
}

func TestPlanBlocksWhenPayloadHashMissing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	warm := registerDeviceAt(t, db, "uuid-warm-nohash", t.TempDir())

	if err := db.UpsertTorrentInstance(ctx, &catalog.TorrentInstance{
		InfoHash: "aa", DeviceID: warm.ID, SavePath: "/warm/t", ContentRoot: "/warm/t/movie",
	}); err != nil {
		t.Fatal(err)
	}

	p, err := PlanTorrent(ctx, db, baseConfig(t.TempDir()), DirectionDemote, "aa", 999)
	if err != nil {
		t.Fatalf("PlanTorrent: %v", err)
	}
	if p.Decision != DecisionBlock {
		t.Fatalf("expected block, got %+v", p)
	}
}

func TestPlanBlocksOnExternalConsumer(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	warmMount := t.TempDir()
	warm := registerDeviceAt(t, db, "uuid-warm-ext", warmMount)
	cold := registerDeviceAt(t, db, "uuid-cold-ext", t.TempDir())

	table := warm.FileTableName()
	if err := db.UpsertFile(ctx, table, &catalog.FileEntry{Inode: 1, Path: "torrents/movie/a.mkv", Size: 10, MTime: 1, Nlink: 2}); err != nil {
		t.Fatal(err)
	}
	// Same inode hardlinked from outside the seeding domain.
	if err := db.UpsertFile(ctx, table, &catalog.FileEntry{Inode: 1, Path: "library/a.mkv", Size: 10, MTime: 1, Nlink: 2}); err != nil {
		t.Fatal(err)
	}

	if err := db.UpsertPayload(ctx, &catalog.Payload{PayloadHash: "h1", DeviceID: warm.ID, RootPath: filepath.Join(warmMount, "torrents/movie"), FileCount: 1, TotalBytes: 10}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertTorrentInstance(ctx, &catalog.TorrentInstance{
		InfoHash: "aa", DeviceID: warm.ID, SavePath: warmMount, ContentRoot: filepath.Join(warmMount, "torrents/movie"), PayloadHash: "h1",
	}); err != nil {
		t.Fatal(err)
	}

	seedRoot := filepath.Join(warmMount, "torrents")
	markRootFresh(t, db, seedRoot)

	p, err := PlanTorrent(ctx, db, baseConfig(seedRoot), DirectionDemote, "aa", cold.ID)
	if err != nil {
		t.Fatalf("PlanTorrent: %v", err)
	}
	if p.Decision != DecisionBlock {
		t.Fatalf("expected block on external consumer, got %+v", p)
	}
}

func TestPlanReusesExistingTargetPayload(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	warmMount := t.TempDir()
	warm := registerDeviceAt(t, db, "uuid-warm-reuse", warmMount)
	coldMount := t.TempDir()
	cold := registerDeviceAt(t, db, "uuid-cold-reuse", coldMount)

	table := warm.FileTableName()
	if err := db.UpsertFile(ctx, table, &catalog.FileEntry{Inode: 1, Path: "torrents/movie/a.mkv", Size: 10, MTime: 1, Nlink: 1}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertPayload(ctx, &catalog.Payload{PayloadHash: "h1", DeviceID: warm.ID, RootPath: filepath.Join(warmMount, "torrents/movie"), FileCount: 1, TotalBytes: 10}); err != nil {
		t.Fatal(err)
	}
	targetPath := filepath.Join(coldMount, "pool/movie")
	if err := db.UpsertPayload(ctx, &catalog.Payload{PayloadHash: "h1", DeviceID: cold.ID, RootPath: targetPath, FileCount: 1, TotalBytes: 10}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertTorrentInstance(ctx, &catalog.TorrentInstance{
		InfoHash: "aa", DeviceID: warm.ID, SavePath: warmMount, ContentRoot: filepath.Join(warmMount, "torrents/movie"), PayloadHash: "h1",
	}); err != nil {
		t.Fatal(err)
	}

	seedRoot := filepath.Join(warmMount, "torrents")
	markRootFresh(t, db, seedRoot)

	p, err := PlanTorrent(ctx, db, baseConfig(seedRoot), DirectionDemote, "aa", cold.ID)
	if err != nil {
		t.Fatalf("PlanTorrent: %v", err)
	}
	if p.Decision != DecisionReuse {
		t.Fatalf("expected reuse, got %+v", p)
	}
	if p.TargetPath != targetPath {
		t.Fatalf("expected target path %s, got %s", targetPath, p.TargetPath)
	}
}

func TestPlanMovesWhenNoTargetPayload(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	warmMount := t.TempDir()
	warm := registerDeviceAt(t, db, "uuid-warm-move", warmMount)
	cold := registerDeviceAt(t, db, "uuid-cold-move", t.TempDir())

	table := warm.FileTableName()
	if err := db.UpsertFile(ctx, table, &catalog.FileEntry{Inode: 1, Path: "torrents/movie/a.mkv", Size: 10, MTime: 1, Nlink: 1}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertPayload(ctx, &catalog.Payload{PayloadHash: "h2", DeviceID: warm.ID, RootPath: filepath.Join(warmMount, "torrents/movie"), FileCount: 1, TotalBytes: 10}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertTorrentInstance(ctx, &catalog.TorrentInstance{
		InfoHash: "aa", DeviceID: warm.ID, SavePath: warmMount, ContentRoot: filepath.Join(warmMount, "torrents/movie"), PayloadHash: "h2",
	}); err != nil {
		t.Fatal(err)
	}

	seedRoot := filepath.Join(warmMount, "torrents")
	markRootFresh(t, db, seedRoot)

	p, err := PlanTorrent(ctx, db, baseConfig(seedRoot), DirectionDemote, "aa", cold.ID)
	if err != nil {
		t.Fatalf("PlanTorrent: %v", err)
	}
	if p.Decision != DecisionMove {
		t.Fatalf("expected move, got %+v", p)
	}
	want := "/pool/d" + strconv.FormatInt(cold.ID, 10) + "/h2"
	if p.TargetPath != want {
		t.Fatalf("expected target path %s, got %s", want, p.TargetPath)
	}
}

func TestPlanPromoteBlocksWhenTargetMissing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	warmMount := t.TempDir()
	warm := registerDeviceAt(t, db, "uuid-warm-promote", warmMount)
	cold := registerDeviceAt(t, db, "uuid-cold-promote", t.TempDir())

	table := warm.FileTableName()
	if err := db.UpsertFile(ctx, table, &catalog.FileEntry{Inode: 1, Path: "torrents/movie/a.mkv", Size: 10, MTime: 1, Nlink: 1}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertPayload(ctx, &catalog.Payload{PayloadHash: "h3", DeviceID: warm.ID, RootPath: filepath.Join(warmMount, "torrents/movie"), FileCount: 1, TotalBytes: 10}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertTorrentInstance(ctx, &catalog.TorrentInstance{
		InfoHash: "aa", DeviceID: warm.ID, SavePath: warmMount, ContentRoot: filepath.Join(warmMount, "torrents/movie"), PayloadHash: "h3",
	}); err != nil {
		t.Fatal(err)
	}

	seedRoot := filepath.Join(warmMount, "torrents")
	markRootFresh(t, db, seedRoot)

	p, err := PlanTorrent(ctx, db, baseConfig(seedRoot), DirectionPromote, "aa", cold.ID)
	if err != nil {
		t.Fatalf("PlanTorrent: %v", err)
	}
	if p.Decision != DecisionBlock {
		t.Fatalf("promote with no target payload must block rather than blind-copy, got %+v", p)
	}
}

