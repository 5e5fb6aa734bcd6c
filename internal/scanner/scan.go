package scanner

import (
	"context"

	"github.com/slyckmb/hashall/internal/catalog"
	"github.com/slyckmb/hashall/internal/errs"
	"github.com/slyckmb/hashall/internal/fsprobe"
	"github.com/slyckmb/hashall/internal/hashing"
	"github.com/slyckmb/hashall/internal/pathresolve"
)

// HashMode selects how much hashing a scan performs.
type HashMode string

const (
	// HashFast computes only the cheap sample hash; full digests stay
	// empty until a later full or upgrade scan fills them.
	HashFast HashMode = "fast"
	// HashFull computes the full collision-resistant digest for every
	// file, at substantially higher I/O cost.
	HashFull HashMode = "full"
	// HashUpgrade computes full digests only for active rows that still
	// lack one, newly touched or not, without re-hashing rows a prior
	// full scan already covered.
	HashUpgrade HashMode = "upgrade"
)

// Options configures a scan run.
type Options struct {
	Workers      int
	HashMode     HashMode
	ShowProgress bool
}

// Result summarizes one completed scan.
type Result struct {
	SessionID   int64
	DeviceID    int64
	Added       int64
	Updated     int64
	Unchanged   int64
	Deleted     int64
	BytesHashed int64
}

// Scan walks root on the given device, registering the device if
// necessary, and synchronizes every discovered file into the catalog:
// new files are added, changed files re-hashed, missing files marked
// deleted, and files whose inode reappears at a new path are recorded
// as moves rather than delete+add pairs (spec.md §4.1, §4.3).
//
// Per-file errors (a file vanishing mid-stat, a permission denial on
// one directory) are non-fatal and are sent to errCh rather than
// aborting the scan; the caller owns errCh and decides how to surface
// them, same as dupedog's pipeline stages take an error channel from
// their CLI caller instead of printing internally. errCh may be nil,
// in which case per-file errors are discarded.
func Scan(ctx context.Context, db *catalog.DB, root string, opts Options, errCh chan<- error) (*Result, error) {
	id, err := fsprobe.Probe(root)
	if err != nil {
		return nil, err
	}
	device, err := db.RegisterDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureFileTable(ctx, device); err != nil {
		return nil, err
	}

	canonRoot, err := pathresolve.Canonicalize(root)
	if err != nil {
		return nil, err
	}
	relRoot, err := pathresolve.ToRelPath(canonRoot, device.PreferredMountPoint, device.MountPoint)
	if err != nil {
		return nil, err
	}

	scanRoot, err := db.EnsureScanRoot(ctx, device.ID, relRoot)
	if err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 8
	}

	session, err := db.StartScanSession(ctx, device.ID, scanRoot.ID, workers, string(opts.HashMode))
	if err != nil {
		return nil, err
	}

	w := newWalkerWithProgress(workers, errCh, opts.ShowProgress)
	files := w.Walk(ctx, canonRoot)

	table := device.FileTableName()
	res := &Result{SessionID: session.ID, DeviceID: device.ID}
	seenInodes := make(map[uint64]bool, len(files))

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			_ = db.CompleteScanSession(ctx, session.ID, catalog.SessionFailed, res.Added, res.Updated, res.Unchanged, res.Deleted, res.BytesHashed)
			return nil, err
		}

		relPath, err := pathresolve.ToRelPath(f.AbsPath, device.PreferredMountPoint, device.MountPoint)
		if err != nil {
			sendErr(errCh, errs.Wrap(errs.Filesystem, f.AbsPath, err))
			continue
		}
		seenInodes[f.Inode] = true

		existing, err := db.ActiveFileByInode(ctx, table, f.Inode)
		if err != nil {
			sendErr(errCh, err)
			continue
		}
		if existing != nil && existing.Path != relPath {
			if err := db.MarkMoved(ctx, table, f.Inode, existing.Path, relPath); err != nil {
				sendErr(errCh, err)
				continue
			}
			res.Updated++
			continue
		}

		unchanged := existing != nil && existing.Size == f.Size && existing.MTime == f.MTime.Unix() && existing.FullHash != ""
		entry := &catalog.FileEntry{
			Inode: f.Inode,
			Path:  relPath,
			Size:  f.Size,
			MTime: f.MTime.Unix(),
			Nlink: f.Nlink,
		}
		if err := db.UpsertFile(ctx, table, entry); err != nil {
			sendErr(errCh, err)
			continue
		}

		if unchanged {
			res.Unchanged++
			continue
		}
		if existing == nil {
			res.Added++
		} else {
			res.Updated++
		}

		fastHash, err := hashing.FastSample(f.AbsPath, f.Size)
		if err != nil {
			sendErr(errCh, err)
			continue
		}
		fullHash := ""
		if opts.HashMode == HashFull || opts.HashMode == HashUpgrade {
			fullHash, err = hashing.FullDigest(f.AbsPath)
			if err != nil {
				sendErr(errCh, err)
				continue
			}
			res.BytesHashed += f.Size
		}
		if err := db.SetHashes(ctx, table, f.Inode, relPath, fastHash, fullHash); err != nil {
			sendErr(errCh, err)
			continue
		}
	}

	deleted, err := db.MarkMissing(ctx, table, relRoot, seenInodes)
	if err != nil {
		_ = db.CompleteScanSession(ctx, session.ID, catalog.SessionFailed, res.Added, res.Updated, res.Unchanged, res.Deleted, res.BytesHashed)
		return nil, err
	}
	res.Deleted = deleted

	if opts.HashMode == HashUpgrade {
		if err := upgradeHashes(ctx, db, table, relRoot, device, errCh, res); err != nil {
			_ = db.CompleteScanSession(ctx, session.ID, catalog.SessionFailed, res.Added, res.Updated, res.Unchanged, res.Deleted, res.BytesHashed)
			return nil, err
		}
	}

	if err := db.CompleteScanSession(ctx, session.ID, catalog.SessionCompleted, res.Added, res.Updated, res.Unchanged, res.Deleted, res.BytesHashed); err != nil {
		return nil, err
	}
	if err := db.TouchScanRoot(ctx, scanRoot.ID); err != nil {
		return nil, err
	}

	var fileCount, byteTotal int64
	active, err := db.ActiveFilesUnder(ctx, table, "")
	if err == nil {
		fileCount = int64(len(active))
		for _, a := range active {
			byteTotal += a.Size
		}
		_ = db.RecordScanStats(ctx, device.ID, fileCount, byteTotal)
	}

	return res, nil
}

// upgradeHashes computes full digests for every active row under root
// still missing one, including rows this scan left unchanged (spec.md
// §4.3 step 6: "in upgrade mode, compute full digests for active rows
// lacking them"). Per-row errors are non-fatal, matching the scanner's
// usual skip-and-log policy.
func upgradeHashes(ctx context.Context, db *catalog.DB, table, root string, device *catalog.Device, errCh chan<- error, res *Result) error {
	stale, err := db.ActiveFilesMissingFullHash(ctx, table, root)
	if err != nil {
		return err
	}
	for _, f := range stale {
		abs := pathresolve.ToAbsPath(f.Path, device.PreferredMountPoint, device.MountPoint)
		fullHash, err := hashing.FullDigest(abs)
		if err != nil {
			sendErr(errCh, err)
			continue
		}
		if err := db.SetHashes(ctx, table, f.Inode, f.Path, f.FastHash, fullHash); err != nil {
			sendErr(errCh, err)
			continue
		}
		res.BytesHashed += f.Size
	}
	return nil
}

func sendErr(errCh chan<- error, err error) {
	if errCh == nil {
		return
	}
	select {
	case errCh <- err:
	default:
	}
}
