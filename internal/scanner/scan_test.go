package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/slyckmb/hashall/internal/catalog"
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

func TestScanAddsNewFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), 10)
	writeFile(t, filepath.Join(root, "sub", "b.txt"), 20)

	db := openTestDB(t)
	res, err := Scan(context.Background(), db, root, Options{Workers: 2, HashMode: HashFull}, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Added != 2 {
		t.Fatalf("expected 2 added files, got %d", res.Added)
	}
	if res.BytesHashed != 30 {
		t.Fatalf("expected 30 bytes hashed, got %d", res.BytesHashed)
	}
}

func TestScanSecondRunWithNoChangesReportsUnchanged(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), 10)

	db := openTestDB(t)
	ctx := context.Background()
	if _, err := Scan(ctx, db, root, Options{Workers: 2, HashMode: HashFull}, nil); err != nil {
		t.Fatalf("first scan: %v", err)
	}

	res, err := Scan(ctx, db, root, Options{Workers: 2, HashMode: HashFull}, nil)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if res.Added != 0 || res.Unchanged != 1 {
		t.Fatalf("expected 0 added, 1 unchanged on rescan, got %+v", res)
	}
}

func TestScanDetectsDeletedFiles(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	writeFile(t, path, 10)

	db := openTestDB(t)
	ctx := context.Background()
	if _, err := Scan(ctx, db, root, Options{Workers: 2, HashMode: HashFull}, nil); err != nil {
		t.Fatalf("first scan: %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	res, err := Scan(ctx, db, root, Options{Workers: 2, HashMode: HashFull}, nil)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if res.Deleted != 1 {
		t.Fatalf("expected 1 deleted file, got %d", res.Deleted)
	}
}

func TestScanDetectsMovedFiles(t *testing.T) {
	root := t.TempDir()
	oldPath := filepath.Join(root, "old.txt")
	newPath := filepath.Join(root, "moved", "new.txt")
	writeFile(t, oldPath, 15)

	db := openTestDB(t)
	ctx := context.Background()
	if _, err := Scan(ctx, db, root, Options{Workers: 2, HashMode: HashFull}, nil); err != nil {
		t.Fatalf("first scan: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		t.Fatal(err)
	}

	res, err := Scan(ctx, db, root, Options{Workers: 2, HashMode: HashFull}, nil)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if res.Deleted != 0 {
		t.Fatalf("expected a move to not be counted as a delete, got %d deleted", res.Deleted)
	}
	if res.Updated == 0 {
		t.Fatalf("expected the move to be reflected as an update, got %+v", res)
	}
}

func TestScanUpdatesChangedFiles(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	writeFile(t, path, 10)

	db := openTestDB(t)
	ctx := context.Background()
	if _, err := Scan(ctx, db, root, Options{Workers: 2, HashMode: HashFull}, nil); err != nil {
		t.Fatalf("first scan: %v", err)
	}

	time.Sleep(1100 * time.Millisecond)
	writeFile(t, path, 50)

	res, err := Scan(ctx, db, root, Options{Workers: 2, HashMode: HashFull}, nil)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if res.Updated != 1 {
		t.Fatalf("expected 1 updated file, got %+v", res)
	}
}

func TestScanUpgradeModeFillsMissingFullDigestsOnly(t *testing.T) {
	root := t.TempDir()
	hashedPath := filepath.Join(root, "hashed.txt")
	staleePath := filepath.Join(root, "stale.txt")
	writeFile(t, hashedPath, 10)
	writeFile(t, staleePath, 20)

	db := openTestDB(t)
	ctx := context.Background()
	if _, err := Scan(ctx, db, root, Options{Workers: 2, HashMode: HashFast}, nil); err != nil {
		t.Fatalf("fast scan: %v", err)
	}

	res, err := Scan(ctx, db, root, Options{Workers: 2, HashMode: HashUpgrade}, nil)
	if err != nil {
		t.Fatalf("upgrade scan: %v", err)
	}
	if res.BytesHashed != 30 {
		t.Fatalf("expected both files' bytes counted toward upgrade hashing, got %d", res.BytesHashed)
	}

	device, err := db.ListDevices(ctx)
	if err != nil || len(device) != 1 {
		t.Fatalf("ListDevices: %v (%d devices)", err, len(device))
	}
	table := device[0].FileTableName()
	for _, path := range []string{"hashed.txt", "stale.txt"} {
		f, err := db.FileByPath(ctx, table, path)
		if err != nil {
			t.Fatalf("FileByPath(%s): %v", path, err)
		}
		if f == nil || f.FullHash == "" {
			t.Fatalf("expected %s to have a full digest after upgrade scan", path)
		}
	}

	// A second upgrade run has nothing left to do.
	res, err = Scan(ctx, db, root, Options{Workers: 2, HashMode: HashUpgrade}, nil)
	if err != nil {
		t.Fatalf("second upgrade scan: %v", err)
	}
	if res.BytesHashed != 0 {
		t.Fatalf("expected no bytes hashed once every row has a full digest, got %d", res.BytesHashed)
	}
}

func TestScanSurfacesPerFileErrorsOnCallerChannel(t *testing.T) {
	root := t.TempDir()
	blocked := filepath.Join(root, "blocked")
	if err := os.MkdirAll(blocked, 0o000); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chmod(blocked, 0o755) }()
	writeFile(t, filepath.Join(root, "ok.txt"), 1)

	db := openTestDB(t)
	errCh := make(chan error, 10)
	_, err := Scan(context.Background(), db, root, Options{Workers: 2, HashMode: HashFast}, errCh)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	close(errCh)

	var got bool
	for range errCh {
		got = true
	}
	if !got {
		t.Fatal("expected the blocked directory's read error to reach the caller's channel")
	}
}
