package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWalkFindsFilesAcrossSubdirectories(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), 10)
	writeFile(t, filepath.Join(root, "sub", "b.txt"), 20)
	writeFile(t, filepath.Join(root, "sub", "deeper", "c.txt"), 30)

	w := newWalker(4, nil)
	files := w.Walk(context.Background(), root)

	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %d", len(files))
	}
	var total int64
	for _, f := range files {
		total += f.Size
		if f.Inode == 0 {
			t.Errorf("expected nonzero inode for %s", f.AbsPath)
		}
	}
	if total != 60 {
		t.Fatalf("expected 60 total bytes, got %d", total)
	}
}

func TestWalkSkipsSymlinksAndNonRegularFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "real.txt"), 5)
	if err := os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Fatal(err)
	}

	w := newWalker(2, nil)
	files := w.Walk(context.Background(), root)

	if len(files) != 1 {
		t.Fatalf("expected 1 regular file, got %d", len(files))
	}
	if files[0].AbsPath != filepath.Join(root, "real.txt") {
		t.Fatalf("unexpected file: %s", files[0].AbsPath)
	}
}

func TestWalkReportsUnreadableDirectoryAsNonFatalError(t *testing.T) {
	root := t.TempDir()
	blocked := filepath.Join(root, "blocked")
	if err := os.MkdirAll(blocked, 0o000); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chmod(blocked, 0o755) }()
	writeFile(t, filepath.Join(root, "ok.txt"), 1)

	errCh := make(chan error, 10)
	w := newWalker(2, errCh)
	files := w.Walk(context.Background(), root)
	close(errCh)

	if len(files) != 1 {
		t.Fatalf("expected the one readable file, got %d", len(files))
	}
	var gotErr bool
	for range errCh {
		gotErr = true
	}
	if !gotErr {
		t.Fatal("expected a permission error on the blocked directory")
	}
}

func TestWalkHonorsContextCancellation(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 20; i++ {
		writeFile(t, filepath.Join(root, "d", string(rune('a'+i)), "f.txt"), 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := newWalker(2, nil)
	files := w.Walk(ctx, root)

	if len(files) == 20 {
		t.Fatal("expected cancellation to short-circuit at least some of the walk")
	}
}
