// Package pathresolve turns arbitrary input paths into the single
// canonical form the catalog stores, resolving symlinks and bind-mount
// aliases to one representative path (spec.md §4.1).
package pathresolve

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/slyckmb/hashall/internal/errs"
)

// Canonicalize resolves all symlinks in p and returns an absolute path
// with no symlink segments remaining. It fails when the final target
// does not exist, matching spec.md §4.1's "hard error" contract.
func Canonicalize(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", errs.Wrap(errs.PathResolution, p, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", errs.Wrap(errs.PathResolution, p, err)
	}
	return resolved, nil
}

// Mount describes one row of the kernel's mount table.
type Mount struct {
	Source  string // device or bind-mount source path
	Target  string // mount point
	FSType  string
	Options []string
}

// ReadMountTable parses /proc/self/mountinfo, the canonical source for
// bind-mount detection: relying purely on stat device identifiers is
// insufficient when a bind target shares a device with its source
// (spec.md §9).
func ReadMountTable() ([]Mount, error) {
	f, err := os.Open("/proc/self/mountinfo")
	if err != nil {
		return nil, errs.Wrap(errs.Probe, "/proc/self/mountinfo", err)
	}
	defer func() { _ = f.Close() }()

	var mounts []Mount
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		m, ok := parseMountinfoLine(sc.Text())
		if ok {
			mounts = append(mounts, m)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errs.Wrap(errs.Probe, "/proc/self/mountinfo", err)
	}
	return mounts, nil
}

// parseMountinfoLine parses one line of the mountinfo format:
//
//	36 35 98:0 /mnt1 /mnt2 rw,noatime master:1 - ext3 /dev/root rw,errors=continue
//
// Fields up to "-" are mount-id parent-id major:minor root mount-point
// options [optional fields]; after "-" come fs-type, source, super-options.
func parseMountinfoLine(line string) (Mount, bool) {
	fields := strings.Fields(line)
	if len(fields) < 7 {
		return Mount{}, false
	}

	sepIdx := -1
	for i := 6; i < len(fields); i++ {
		if fields[i] == "-" {
			sepIdx = i
			break
		}
	}
	if sepIdx < 0 || sepIdx+2 >= len(fields) {
		return Mount{}, false
	}

	target := unescapeMountinfo(fields[4])
	options := strings.Split(fields[5], ",")
	fsType := fields[sepIdx+1]
	source := unescapeMountinfo(fields[sepIdx+2])

	return Mount{Source: source, Target: target, FSType: fsType, Options: options}, true
}

func unescapeMountinfo(s string) string {
	r := strings.NewReplacer(`\040`, " ", `\011`, "\t", `\012`, "\n", `\134`, `\`)
	return r.Replace(s)
}

// ResolveBindSource maps a bind-mount target back to its source path by
// consulting the mount table, returning the longest-prefix-matching
// bind mount's source-relative equivalent of p. If p is not under any
// bind mount, p is returned unchanged.
func ResolveBindSource(p string, mounts []Mount) (string, error) {
	clean := filepath.Clean(p)

	var best *Mount
	for i := range mounts {
		m := &mounts[i]
		if !isBindMount(m) {
			continue
		}
		if clean == m.Target || strings.HasPrefix(clean, m.Target+string(filepath.Separator)) {
			if best == nil || len(m.Target) > len(best.Target) {
				best = m
			}
		}
	}
	if best == nil {
		return clean, nil
	}

	rel := strings.TrimPrefix(clean, best.Target)
	rel = strings.TrimPrefix(rel, string(filepath.Separator))
	return path.Join(best.Source, filepath.ToSlash(rel)), nil
}

func isBindMount(m *Mount) bool {
	return strings.HasPrefix(m.Source, "/")
}

// ToRelPath strips a device's preferred mount point (falling back to its
// canonical mount point) from an absolute path, producing the
// forward-slash, no-".." relative form the catalog stores (spec.md §9).
func ToRelPath(abs, preferredMount, mountPoint string) (string, error) {
	base := preferredMount
	if base == "" {
		base = mountPoint
	}
	base = filepath.Clean(base)
	abs = filepath.Clean(abs)

	if abs == base {
		return ".", nil
	}
	prefix := base
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if !strings.HasPrefix(abs, prefix) {
		return "", errs.New(errs.PathResolution, abs, fmt.Sprintf("not under mount point %s", base))
	}
	rel := strings.TrimPrefix(abs, prefix)
	return filepath.ToSlash(rel), nil
}

// ToAbsPath is the inverse of ToRelPath: it joins rel onto the device's
// preferred (or canonical) mount point.
func ToAbsPath(rel, preferredMount, mountPoint string) string {
	base := preferredMount
	if base == "" {
		base = mountPoint
	}
	if rel == "." || rel == "" {
		return filepath.Clean(base)
	}
	return filepath.Join(base, filepath.FromSlash(rel))
}
