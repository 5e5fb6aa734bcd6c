package rehome

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/slyckmb/hashall/internal/catalog"
	"github.com/slyckmb/hashall/internal/config"
	"github.com/slyckmb/hashall/internal/errs"
	"github.com/slyckmb/hashall/internal/qbt"
)

// Options controls how a plan is applied.
type Options struct {
	// VerifyDigest re-walks the target payload root after relocation
	// and compares file count and total bytes against the plan's
	// recorded figures, a cheap spot-check rather than a full re-hash.
	VerifyDigest bool

	// CleanupSourceViews removes the source-side hardlink-forest views
	// built during relocation once a plan has applied successfully
	// (spec.md §4.8 step 6). It never removes the canonical payload
	// root itself, and it is skipped entirely on any rollback path.
	CleanupSourceViews bool

	// PruneEmptyDirs additionally removes directories left empty by
	// CleanupSourceViews, strictly under cfg.SeedingDomainRoots.
	PruneEmptyDirs bool
}

// Execute applies a rehome plan's decision against the torrent client
// and filesystem, recording the attempt as a catalog.RehomeRun (spec.md
// §4.8, §6). A BLOCK plan is never executed; callers surface its
// Reasons to an operator instead.
func Execute(ctx context.Context, db *catalog.DB, qc *qbt.Client, cfg *config.Config, plan *Plan, opts Options) (err error) {
	if plan.Decision == DecisionBlock {
		return errs.New(errs.Policy, plan.PlanID, "cannot execute a blocked plan")
	}

	run, err := db.StartRehomeRun(ctx, plan.PlanID, plan.Direction, plan.Decision)
	if err != nil {
		return err
	}

	outcome := catalog.RehomeOutcomeOK
	errText := ""
	defer func() {
		if err != nil {
			outcome = catalog.RehomeOutcomeFailed
			errText = err.Error()
		}
		if ferr := db.FinishRehomeRun(ctx, run.ID, outcome, errText); ferr != nil && err == nil {
			err = ferr
		}
	}()

	switch plan.Decision {
	case DecisionReuse:
		err = executeReuse(ctx, db, qc, cfg, plan, opts)
	case DecisionMove:
		err = executeMove(ctx, db, qc, cfg, plan, opts)
	default:
		err = errs.New(errs.Policy, plan.PlanID, fmt.Sprintf("unknown decision %q", plan.Decision))
	}
	return err
}

// executeReuse points every torrent in the plan at a payload that
// already exists on the target device: verify, pause, relocate,
// resume, verify again (spec.md §4.8 REUSE).
func executeReuse(ctx context.Context, db *catalog.DB, qc *qbt.Client, cfg *config.Config, plan *Plan, opts Options) error {
	if err := verifyPayloadRoot(plan.TargetPath, plan.FileCount, plan.TotalBytes); err != nil {
		return err
	}

	original, err := pauseAll(ctx, db, qc, plan.InfoHashes)
	if err != nil {
		return err
	}

	views, err := relocateAll(ctx, qc, plan.InfoHashes, plan.TargetPath)
	if err != nil {
		rollback(ctx, qc, original)
		return err
	}

	if err := resumeAll(ctx, qc, plan.InfoHashes); err != nil {
		return err
	}

	if opts.VerifyDigest {
		if err := verifyPayloadRoot(plan.TargetPath, plan.FileCount, plan.TotalBytes); err != nil {
			return err
		}
	}
	if opts.CleanupSourceViews {
		cleanupViews(views, plan.TargetPath, cfg.SeedingDomainRoots, opts.PruneEmptyDirs)
	}
	return nil
}

// executeMove relocates the payload's data itself: verify, pause, move
// the payload root (rename when possible, verified copy-then-delete
// across device boundaries), relocate, resume, verify (spec.md §4.8
// MOVE).
func executeMove(ctx context.Context, db *catalog.DB, qc *qbt.Client, cfg *config.Config, plan *Plan, opts Options) error {
	if err := verifyPayloadRoot(plan.SourcePath, plan.FileCount, plan.TotalBytes); err != nil {
		return err
	}

	original, err := pauseAll(ctx, db, qc, plan.InfoHashes)
	if err != nil {
		return err
	}

	if err := movePayloadRoot(plan.SourcePath, plan.TargetPath); err != nil {
		rollback(ctx, qc, original)
		return err
	}

	if err := verifyPayloadRoot(plan.TargetPath, plan.FileCount, plan.TotalBytes); err != nil {
		rollback(ctx, qc, original)
		return err
	}

	views, err := relocateAll(ctx, qc, plan.InfoHashes, plan.TargetPath)
	if err != nil {
		rollback(ctx, qc, original)
		return err
	}

	if err := resumeAll(ctx, qc, plan.InfoHashes); err != nil {
		return err
	}

	if opts.VerifyDigest {
		if err := verifyPayloadRoot(plan.TargetPath, plan.FileCount, plan.TotalBytes); err != nil {
			return err
		}
	}
	if opts.CleanupSourceViews {
		cleanupViews(views, plan.TargetPath, cfg.SeedingDomainRoots, opts.PruneEmptyDirs)
	}
	return nil
}

// pauseAll pauses every torrent in scope and records its save path so
// a failed relocation can be rolled back to where it started.
func pauseAll(ctx context.Context, db *catalog.DB, qc *qbt.Client, infoHashes []string) (map[string]string, error) {
	original := make(map[string]string, len(infoHashes))
	for _, h := range infoHashes {
		t, err := db.TorrentByInfoHash(ctx, h)
		if err != nil {
			return original, err
		}
		if t == nil {
			return original, errs.New(errs.Policy, h, "torrent not tracked in catalog")
		}
		original[h] = t.SavePath
		if err := qc.Pause(ctx, h); err != nil {
			return original, err
		}
	}
	return original, nil
}

// relocateAll points each torrent at the payload root, or at a
// hardlink-forest view built to reproduce the torrent's own file
// layout when it doesn't already match the canonical payload's
// (spec.md §4.8 step 3, "using the client's per-file mapping"). It
// returns the view directory used per torrent, for the optional
// cleanup step.
func relocateAll(ctx context.Context, qc *qbt.Client, infoHashes []string, targetPath string) (map[string]string, error) {
	views := make(map[string]string, len(infoHashes))
	for _, h := range infoHashes {
		view, err := torrentView(ctx, qc, h, targetPath)
		if err != nil {
			return views, err
		}
		if err := qc.SetLocation(ctx, h, view); err != nil {
			return views, err
		}
		views[h] = view
	}
	return views, nil
}

func resumeAll(ctx context.Context, qc *qbt.Client, infoHashes []string) error {
	var first error
	for _, h := range infoHashes {
		if err := qc.Resume(ctx, h); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// rollback restores every torrent to its original save path and
// resumes it, swallowing per-torrent errors since this already runs on
// a failure path and the caller has nothing further to roll back to.
func rollback(ctx context.Context, qc *qbt.Client, original map[string]string) {
	for h, path := range original {
		_ = qc.SetLocation(ctx, h, path)
		_ = qc.Resume(ctx, h)
	}
}

// movePayloadRoot renames source to target when both live on the same
// filesystem, falling back to a verified copy-then-delete across
// device boundaries (spec.md §4.8 "move the payload root").
func movePayloadRoot(source, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errs.Wrap(errs.Filesystem, target, err)
	}
	err := os.Rename(source, target)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return errs.Wrap(errs.Filesystem, source, err)
	}

	if err := copyTree(source, target); err != nil {
		return err
	}
	targetStats, err := dirStats(target)
	if err != nil {
		return err
	}
	sourceStats, err := dirStats(source)
	if err != nil {
		return err
	}
	if targetStats != sourceStats {
		return errs.New(errs.Verification, target, "copy did not reproduce source payload")
	}
	if err := os.RemoveAll(source); err != nil {
		return errs.Wrap(errs.Filesystem, source, fmt.Errorf("copy succeeded but removing source failed: %w", err))
	}
	return nil
}

func copyTree(source, target string) error {
	return filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(target, rel)
		if d.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, dest)
	})
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return errs.Wrap(errs.Filesystem, src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.Wrap(errs.Filesystem, dest, err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return errs.Wrap(errs.Filesystem, dest, err)
	}
	return nil
}

type treeStats struct {
	files int64
	bytes int64
}

func dirStats(root string) (treeStats, error) {
	var s treeStats
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			s.files++
			s.bytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return treeStats{}, errs.Wrap(errs.Filesystem, root, err)
	}
	return s, nil
}

// verifyPayloadRoot walks root and compares its file count and total
// byte size against expected figures, the spot-check spec.md §4.8 runs
// before and after relocation (the payload root being used, pre-pause:
// the source root for MOVE, the target root for REUSE; the target root
// post-relocation).
func verifyPayloadRoot(root string, expectedFiles, expectedBytes int64) error {
	stats, err := dirStats(root)
	if err != nil {
		return err
	}
	if stats.files != expectedFiles || stats.bytes != expectedBytes {
		return errs.New(errs.Verification, root, fmt.Sprintf(
			"payload mismatch: found %d files/%d bytes, expected %d/%d",
			stats.files, stats.bytes, expectedFiles, expectedBytes))
	}
	return nil
}
