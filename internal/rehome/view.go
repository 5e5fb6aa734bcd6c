package rehome

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/slyckmb/hashall/internal/errs"
	"github.com/slyckmb/hashall/internal/qbt"
)

// viewsDirName holds the hardlink-forest views the executor builds
// when a torrent's own file layout doesn't already match the canonical
// payload root it's being pointed at (spec.md §4.8 step 3).
const viewsDirName = ".rehome-views"

func viewsRootFor(payloadRoot string) string {
	return filepath.Join(filepath.Dir(payloadRoot), viewsDirName)
}

// filesInformer is the slice of *qbt.Client that torrentView needs,
// narrowed to keep the view-building logic testable without a live
// torrent client connection.
type filesInformer interface {
	FilesInformation(ctx context.Context, infoHash string) ([]qbt.FileEntry, error)
}

// torrentView computes the directory a torrent should be relocated to:
// the canonical payload root itself when the torrent's own per-file
// mapping already matches it name-for-name, otherwise a fresh hardlink
// forest under viewsRoot reproducing the torrent's expected layout
// (spec.md §4.8 step 3, "using the client's per-file mapping").
func torrentView(ctx context.Context, qc filesInformer, infoHash, payloadRoot string) (string, error) {
	torrentFiles, err := qc.FilesInformation(ctx, infoHash)
	if err != nil {
		return "", err
	}
	payloadFiles, err := sortedRelFiles(payloadRoot)
	if err != nil {
		return "", err
	}

	names := make([]string, len(torrentFiles))
	for i, f := range torrentFiles {
		names[i] = f.Name
	}
	sort.Strings(names)

	if identicalLayout(payloadFiles, names) {
		return payloadRoot, nil
	}
	if len(payloadFiles) != len(names) {
		return "", errs.New(errs.Verification, infoHash, fmt.Sprintf(
			"payload has %d files but torrent expects %d, cannot build a hardlink view", len(payloadFiles), len(names)))
	}

	viewRoot := filepath.Join(viewsRootFor(payloadRoot), infoHash)
	if err := os.RemoveAll(viewRoot); err != nil {
		return "", errs.Wrap(errs.Filesystem, viewRoot, err)
	}
	for i, name := range names {
		src := filepath.Join(payloadRoot, payloadFiles[i])
		dest := filepath.Join(viewRoot, name)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return "", errs.Wrap(errs.Filesystem, dest, err)
		}
		if err := os.Link(src, dest); err != nil {
			return "", errs.Wrap(errs.Filesystem, dest, err)
		}
	}

	view, err := dirStats(viewRoot)
	if err != nil {
		return "", err
	}
	payload, err := dirStats(payloadRoot)
	if err != nil {
		return "", err
	}
	if view != payload {
		return "", errs.New(errs.Verification, viewRoot, "hardlink view does not reproduce the payload's file count/bytes")
	}
	return viewRoot, nil
}

func identicalLayout(payloadFiles, torrentNames []string) bool {
	if len(payloadFiles) != len(torrentNames) {
		return false
	}
	for i := range payloadFiles {
		if payloadFiles[i] != torrentNames[i] {
			return false
		}
	}
	return true
}

func sortedRelFiles(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.Filesystem, root, err)
	}
	sort.Strings(out)
	return out, nil
}

// isOwnView reports whether path is one of the hardlink-forest view
// directories the executor itself builds under payloadRoot, as opposed
// to the canonical payload root or some unrelated location — the
// "never the canonical payload root" guard on cleanup (spec.md §4.8
// step 6).
func isOwnView(path, payloadRoot string) bool {
	viewsRoot := viewsRootFor(payloadRoot)
	return path != payloadRoot && (path == viewsRoot || filepath.Dir(path) == viewsRoot)
}

// cleanupViews removes the source-side hardlink-forest views built for
// the given torrents, never the canonical payload root itself, then
// (if prune is set) removes any directories left empty strictly under
// the configured seeding-domain roots.
func cleanupViews(views map[string]string, payloadRoot string, seedingRoots []string, prune bool) {
	for _, v := range views {
		if !isOwnView(v, payloadRoot) {
			continue
		}
		_ = os.RemoveAll(v)
		if prune {
			pruneEmptyDirs(filepath.Dir(v), seedingRoots)
		}
	}
}

// pruneEmptyDirs walks upward from dir, removing each directory while
// it is empty, stopping at (and never removing) any configured
// seeding-domain root or anything outside of one.
func pruneEmptyDirs(dir string, seedingRoots []string) {
	for {
		if !withinAnyRoot(dir, seedingRoots) || isASeedingRoot(dir, seedingRoots) {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func isASeedingRoot(path string, roots []string) bool {
	for _, r := range roots {
		if filepath.Clean(path) == filepath.Clean(r) {
			return true
		}
	}
	return false
}
