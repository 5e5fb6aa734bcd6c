// Package hashing computes the two digests the catalog tracks per file:
// a cheap fast-sample hash used as a pre-filter, and a collision-resistant
// full digest used for actual content-identity comparisons (spec.md §4.3).
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/slyckmb/hashall/internal/errs"
)

const (
	// sampleWindow is the size of each head/middle/tail window sampled
	// by the fast hash (dupedog's verifier uses the same 1MiB probe
	// size for its head/tail progressive-hash stage).
	sampleWindow = 1 << 20
	blockSize    = 64 * 1024
)

// FastSample computes a cheap pre-filter hash over head, middle, and
// tail windows (~1MiB each) plus size. It is never sufficient proof of
// content identity on its own (spec.md §4.3, §9 Open Questions).
func FastSample(path string, size int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errs.Wrap(errs.Hash, path, err)
	}
	defer func() { _ = f.Close() }()

	h := xxhash.New()
	var sizeBuf [8]byte
	putUint64(sizeBuf[:], uint64(size))
	_, _ = h.Write(sizeBuf[:])

	for _, win := range sampleOffsets(size) {
		if err := hashWindow(h, f, win.start, win.size); err != nil {
			return "", errs.Wrap(errs.Hash, path, err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

type window struct{ start, size int64 }

// sampleOffsets returns the head/middle/tail windows to sample, merging
// or shrinking them for files smaller than three full windows so the
// same bytes are never read twice.
func sampleOffsets(size int64) []window {
	if size <= 2*sampleWindow {
		return []window{{0, size}}
	}

	head := window{0, sampleWindow}
	tail := window{size - sampleWindow, sampleWindow}
	if size < 3*sampleWindow {
		return []window{head, tail}
	}

	mid := window{(size - sampleWindow) / 2, sampleWindow}
	return []window{head, mid, tail}
}

func hashWindow(h io.Writer, f *os.File, start, size int64) error {
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return err
	}
	buf := make([]byte, blockSize)
	_, err := io.CopyBuffer(h, io.LimitReader(f, size), buf)
	return err
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

// FullDigest computes the 256-bit collision-resistant content digest
// used for real identity comparisons (hardlink grouping, payload
// manifests, rehome spot-checks).
func FullDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errs.Wrap(errs.Hash, path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", errs.Wrap(errs.Hash, path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
