// Package fsprobe resolves the owning device for a path: its kernel
// device identifier, mount point, filesystem type, and a persistent
// filesystem UUID that survives reboots and device-id renumbering
// (spec.md §4.2).
package fsprobe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/slyckmb/hashall/internal/errs"
	"github.com/slyckmb/hashall/internal/pathresolve"
)

// Identity is everything the catalog needs to know about a device.
type Identity struct {
	FSUUID      string // persistent identity key
	DeviceIdent string // kernel identifier, e.g. "8:1"; may change across reboots
	MountPoint  string
	FSType      string
	PoolName    string // set for ZFS
	DatasetName string // set for ZFS
}

// zpoolGUID runs `zpool get -H -o value guid <pool>`; overridable in tests.
var zpoolGUID = func(pool string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "zpool", "get", "-H", "-o", "value", "guid", pool).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// byUUIDDir lists /dev/disk/by-uuid entries; overridable in tests.
var byUUIDDir = "/dev/disk/by-uuid"

// Probe determines the owning device's identity for path.
func Probe(path string) (*Identity, error) {
	mounts, err := pathresolve.ReadMountTable()
	if err != nil {
		return nil, err
	}

	canon, err := pathresolve.Canonicalize(path)
	if err != nil {
		return nil, err
	}

	m := owningMount(canon, mounts)
	if m == nil {
		return nil, errs.New(errs.Probe, path, "no mount point found covering this path")
	}

	var st unix.Stat_t
	if err := unix.Stat(canon, &st); err != nil {
		return nil, errs.Wrap(errs.Probe, path, err)
	}
	deviceIdent := fmt.Sprintf("%d:%d", unix.Major(uint64(st.Dev)), unix.Minor(uint64(st.Dev))) //nolint:unconvert

	id := &Identity{
		DeviceIdent: deviceIdent,
		MountPoint:  m.Target,
		FSType:      m.FSType,
	}

	switch m.FSType {
	case "zfs":
		pool := m.Source
		if i := strings.IndexByte(pool, '/'); i >= 0 {
			pool = pool[:i]
		}
		id.PoolName = pool
		id.DatasetName = m.Source
		guid, err := zpoolGUID(pool)
		if err == nil && guid != "" {
			id.FSUUID = "zfs:" + guid
			return id, nil
		}
	default:
		if u := lookupBlockUUID(st.Dev); u != "" {
			id.FSUUID = u
			return id, nil
		}
	}

	// Deterministic fallback: stable for the same mount source across
	// reboots, even though it carries no real filesystem-level identity.
	id.FSUUID = fallbackUUID(m.Source)
	return id, nil
}

// fallbackUUID deterministically derives a UUID from a mount source
// string, used when no filesystem-native UUID can be found.
func fallbackUUID(source string) string {
	return "fallback:" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(source)).String()
}

// owningMount returns the mount table entry with the longest Target
// prefix of p (the most specific mount covering the path).
func owningMount(p string, mounts []pathresolve.Mount) *pathresolve.Mount {
	var best *pathresolve.Mount
	for i := range mounts {
		m := &mounts[i]
		if p == m.Target || strings.HasPrefix(p, strings.TrimSuffix(m.Target, "/")+"/") {
			if best == nil || len(m.Target) > len(best.Target) {
				best = m
			}
		}
	}
	return best
}

// lookupBlockUUID reverse-maps a device number to a UUID by scanning
// /dev/disk/by-uuid symlinks, returning "" if none match.
func lookupBlockUUID(dev uint64) string {
	entries, err := os.ReadDir(byUUIDDir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		full := byUUIDDir + "/" + e.Name()
		var st unix.Stat_t
		if unix.Stat(full, &st) != nil {
			continue
		}
		if uint64(st.Rdev) == dev {
			return e.Name()
		}
	}
	return ""
}
