package linkplan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/slyckmb/hashall/internal/catalog"
	"github.com/slyckmb/hashall/internal/errs"
	"github.com/slyckmb/hashall/internal/hashing"
)

const backupSuffix = ".hashall.bak"

// Execute applies every pending action in a plan, one at a time, in
// the order actions were created. A failure on one action is recorded
// and execution continues with the next: link plans are reviewed
// batches of independent opportunities, not an atomic transaction.
//
// Each action follows backup-rename → hardlink → verify → remove-backup,
// so a process crash mid-action always leaves either the original file
// (as its backup) or a verified hardlink behind, never a missing file
// (spec.md §4.3, §9 "no blind copy" resolution).
func Execute(ctx context.Context, db *catalog.DB, mountPoint string, actions []*catalog.LinkAction, verify bool) error {
	for _, a := range actions {
		if a.Status != catalog.ActionStatusPending {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		bytesSaved, execErr := executeOne(mountPoint, a, verify)
		if execErr != nil {
			if err := db.CompleteLinkAction(ctx, a.ID, catalog.ActionStatusFailed, 0, execErr.Error(), ""); err != nil {
				return err
			}
			continue
		}
		if err := db.CompleteLinkAction(ctx, a.ID, catalog.ActionStatusDone, bytesSaved, "", ""); err != nil {
			return err
		}
	}
	return nil
}

func executeOne(mountPoint string, a *catalog.LinkAction, verify bool) (int64, error) {
	canonical := filepath.Join(mountPoint, a.CanonicalPath)
	duplicate := filepath.Join(mountPoint, a.DuplicatePath)
	backup := duplicate + backupSuffix

	if alreadyLinked(canonical, duplicate) {
		_ = os.Remove(backup)
		return a.Size, nil
	}

	if _, err := os.Stat(backup); err == nil {
		// A prior run crashed after the rename but before the link
		// completed. The original data is safe in backup; resume from there.
		if err := os.Remove(duplicate); err != nil && !os.IsNotExist(err) {
			return 0, errs.Wrap(errs.Filesystem, duplicate, err)
		}
	} else if err := os.Rename(duplicate, backup); err != nil {
		return 0, errs.Wrap(errs.Filesystem, duplicate, err)
	}

	if err := os.Link(canonical, duplicate); err != nil {
		if rerr := os.Rename(backup, duplicate); rerr != nil {
			return 0, errs.Wrap(errs.Filesystem, duplicate, fmt.Errorf("link failed (%w) and rollback failed: %v", err, rerr))
		}
		if errors.Is(err, syscall.EXDEV) {
			return 0, errs.New(errs.Filesystem, duplicate, "cannot hardlink across device boundaries")
		}
		return 0, errs.Wrap(errs.Filesystem, duplicate, err)
	}

	if verify {
		if err := verifyLink(canonical, duplicate, a.Digest); err != nil {
			if rerr := os.Rename(backup, duplicate); rerr != nil {
				return 0, errs.Wrap(errs.Verification, duplicate, fmt.Errorf("verify failed (%w) and rollback failed: %v", err, rerr))
			}
			return 0, err
		}
	}

	if err := os.Remove(backup); err != nil {
		return 0, errs.Wrap(errs.Filesystem, backup, fmt.Errorf("link succeeded but backup cleanup failed: %w", err))
	}

	return a.Size, nil
}

// alreadyLinked reports whether duplicate is already a hardlink to
// canonical, making an action a no-op on re-execution.
func alreadyLinked(canonical, duplicate string) bool {
	cst, err := os.Stat(canonical)
	if err != nil {
		return false
	}
	dst, err := os.Stat(duplicate)
	if err != nil {
		return false
	}
	return os.SameFile(cst, dst)
}

// verifyLink checks that duplicate now shares canonical's inode, then
// re-hashes duplicate and compares it against the digest recorded when
// the action was planned, guarding against the canonical file having
// changed between planning and execution.
func verifyLink(canonical, duplicate, expectedDigest string) error {
	if !alreadyLinked(canonical, duplicate) {
		return errs.New(errs.Verification, duplicate, "hardlink does not share the canonical inode")
	}
	if expectedDigest == "" {
		return nil
	}
	got, err := hashing.FullDigest(duplicate)
	if err != nil {
		return err
	}
	if got != expectedDigest {
		return errs.New(errs.Verification, duplicate, "digest mismatch after hardlink")
	}
	return nil
}
