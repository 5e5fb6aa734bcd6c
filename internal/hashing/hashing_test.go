package hashing

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, content []byte) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "f.bin")
	if err := os.WriteFile(p, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestFullDigestDeterministic(t *testing.T) {
	p := writeTempFile(t, bytes.Repeat([]byte{0x42}, 10000))
	a, err := FullDigest(p)
	if err != nil {
		t.Fatal(err)
	}
	b, err := FullDigest(p)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("FullDigest not deterministic: %q != %q", a, b)
	}
}

func TestFullDigestDiffersOnContent(t *testing.T) {
	p1 := writeTempFile(t, []byte("hello"))
	p2 := writeTempFile(t, []byte("world"))
	a, _ := FullDigest(p1)
	b, _ := FullDigest(p2)
	if a == b {
		t.Fatal("expected different digests for different content")
	}
}

func TestFastSampleSmallFileMatchesSameContent(t *testing.T) {
	p1 := writeTempFile(t, []byte("tiny content"))
	p2 := writeTempFile(t, []byte("tiny content"))
	a, err := FastSample(p1, 12)
	if err != nil {
		t.Fatal(err)
	}
	b, err := FastSample(p2, 12)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("FastSample differs for identical content: %q != %q", a, b)
	}
}

func TestFastSampleLargeFileNoDoubleRead(t *testing.T) {
	size := int64(3 * sampleWindow)
	wins := sampleOffsets(size)
	if len(wins) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(wins))
	}
	// No window may overlap another.
	for i := 0; i < len(wins); i++ {
		for j := i + 1; j < len(wins); j++ {
			a, b := wins[i], wins[j]
			if a.start < b.start+b.size && b.start < a.start+a.size {
				t.Fatalf("windows overlap: %+v and %+v", a, b)
			}
		}
	}
}

func TestSampleOffsetsSizeUnderWindow(t *testing.T) {
	wins := sampleOffsets(100)
	if len(wins) != 1 || wins[0].size != 100 {
		t.Fatalf("got %+v", wins)
	}
}
