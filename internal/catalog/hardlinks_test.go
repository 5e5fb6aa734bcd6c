package catalog

import (
	"context"
	"testing"
)

func TestHardlinkGroupsByDigestExcludesSingletons(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	d := registerTestDevice(t, db, "uuid-hl")
	table := d.FileTableName()

	mustUpsert := func(inode uint64, path string, size int64) {
		t.Helper()
		if err := db.UpsertFile(ctx, table, &FileEntry{Inode: inode, Path: path, Size: size, MTime: 1, Nlink: 1}); err != nil {
			t.Fatal(err)
		}
	}
	mustUpsert(1, "a", 10)
	mustUpsert(2, "b", 10)
	mustUpsert(3, "c", 99)

	if err := db.SetHashes(ctx, table, 1, "a", "f", "dup"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetHashes(ctx, table, 2, "b", "f", "dup"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetHashes(ctx, table, 3, "c", "f", "unique"); err != nil {
		t.Fatal(err)
	}

	groups, err := db.HardlinkGroupsByDigest(ctx, table, "")
	if err != nil {
		t.Fatalf("HardlinkGroupsByDigest: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if len(groups[0].Files) != 2 {
		t.Fatalf("expected 2 files in group, got %d", len(groups[0].Files))
	}
}
