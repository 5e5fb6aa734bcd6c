// Package linkplan turns groups of content-identical files on one
// device into a reviewable hardlink plan, and executes that plan
// safely once approved. It generalizes dupedog's screener/deduper
// pair: screener's size-then-inode grouping becomes a catalog digest
// query, and deduper's source selection becomes the canonical-path
// rule below (spec.md §4.6 link planner).
package linkplan

import (
	"context"

	"github.com/slyckmb/hashall/internal/catalog"
)

// Candidate is one hardlink opportunity: duplicate should become a
// hardlink to canonical.
type Candidate struct {
	CanonicalPath  string
	DuplicatePaths []string
	CanonicalInode uint64
	Size           int64
	Digest         string
}

// Plan groups a device's active hardlink groups into candidates,
// selecting a canonical path for each group per spec.md §4.6: lowest
// inode, then shortest path, then lexicographic order.
func Plan(ctx context.Context, db *catalog.DB, table, root string) ([]Candidate, error) {
	groups, err := db.HardlinkGroupsByDigest(ctx, table, root)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, g := range groups {
		canonical := selectCanonical(g.Files)
		var dupes []string
		for _, f := range g.Files {
			if f.Inode == canonical.Inode && f.Path == canonical.Path {
				continue
			}
			// A file already linked to the canonical inode needs no action.
			if f.Inode == canonical.Inode {
				continue
			}
			dupes = append(dupes, f.Path)
		}
		if len(dupes) == 0 {
			continue
		}
		out = append(out, Candidate{
			CanonicalPath:  canonical.Path,
			DuplicatePaths: dupes,
			CanonicalInode: canonical.Inode,
			Size:           g.Size,
			Digest:         g.FullHash,
		})
	}
	return out, nil
}

// selectCanonical picks the file to keep as hardlink source: lowest
// inode, then shortest path, then lexicographic order (spec.md §4.6).
func selectCanonical(files []*catalog.FileEntry) *catalog.FileEntry {
	best := files[0]
	for _, f := range files[1:] {
		if canonicalLess(f, best) {
			best = f
		}
	}
	return best
}

func canonicalLess(a, b *catalog.FileEntry) bool {
	if a.Inode != b.Inode {
		return a.Inode < b.Inode
	}
	if len(a.Path) != len(b.Path) {
		return len(a.Path) < len(b.Path)
	}
	return a.Path < b.Path
}
