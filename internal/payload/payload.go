// Package payload computes a torrent's content identity: a digest over
// a canonical manifest of every file's relative path, size, and
// content digest, so two torrents with identical data are recognized
// as siblings regardless of their save path or torrent name
// (spec.md §5).
package payload

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// ManifestEntry is one file contributing to a payload's identity.
type ManifestEntry struct {
	Path   string
	Size   int64
	Digest string
}

// Hash derives the payload identity digest from a set of manifest
// entries: entries are sorted by path, then concatenated as
// "path\tsize\tdigest\n" and hashed with SHA-256. Sorting makes the
// result independent of directory-walk order.
func Hash(entries []ManifestEntry) string {
	sorted := make([]ManifestEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var b strings.Builder
	for _, e := range sorted {
		fmt.Fprintf(&b, "%s\t%d\t%s\n", e.Path, e.Size, e.Digest)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Manifest builds the canonical manifest text itself (not hashed), for
// callers that need to inspect or persist the raw manifest alongside
// its digest.
func Manifest(entries []ManifestEntry) string {
	sorted := make([]ManifestEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var b strings.Builder
	for _, e := range sorted {
		fmt.Fprintf(&b, "%s\t%d\t%s\n", e.Path, e.Size, e.Digest)
	}
	return b.String()
}

// TotalBytes sums the size of every entry in a manifest.
func TotalBytes(entries []ManifestEntry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	return total
}
