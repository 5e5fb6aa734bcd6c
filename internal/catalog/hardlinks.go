package catalog

import "context"

// HardlinkGroup is a set of active rows on one device sharing a full
// content digest and more than one path, the unit the link planner
// operates on (spec.md §4.3, generalizing dupedog's SiblingGroup).
type HardlinkGroup struct {
	FullHash string
	Size     int64
	Files    []*FileEntry
}

// HardlinkGroupsByDigest groups every active row under root sharing a
// full hash into candidate hardlink groups, excluding singletons (rows
// with no content-identical sibling on the same device).
func (db *DB) HardlinkGroupsByDigest(ctx context.Context, table, root string) ([]*HardlinkGroup, error) {
	files, err := db.ActiveFilesUnder(ctx, table, root)
	if err != nil {
		return nil, err
	}

	byHash := make(map[string][]*FileEntry)
	for _, f := range files {
		if f.FullHash == "" {
			continue
		}
		byHash[f.FullHash] = append(byHash[f.FullHash], f)
	}

	var groups []*HardlinkGroup
	for hash, fs := range byHash {
		if len(fs) < 2 {
			continue
		}
		groups = append(groups, &HardlinkGroup{FullHash: hash, Size: fs[0].Size, Files: fs})
	}
	return groups, nil
}
