package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/slyckmb/hashall/internal/catalog"
	"github.com/slyckmb/hashall/internal/payload"
	"github.com/slyckmb/hashall/internal/pathresolve"
	"github.com/slyckmb/hashall/internal/qbt"
)

func newPayloadCmd(g *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payload",
		Short: "Compute and inspect torrent payload identity",
	}
	cmd.AddCommand(newPayloadSyncCmd(g))
	cmd.AddCommand(newPayloadShowCmd(g))
	cmd.AddCommand(newPayloadSiblingsCmd(g))
	return cmd
}

func newPayloadSyncCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Compute payload hashes for every torrent known to the client and record them in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runPayloadSync(g)
		},
	}
}

func runPayloadSync(g *globalOpts) error {
	db, cfg, err := openCatalog(g)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := cfg.ValidateClient(); err != nil {
		return err
	}

	ctx := context.Background()
	qc, err := qbt.New(ctx, qbt.Config{URL: cfg.ClientURL, Username: cfg.ClientUsername, Password: cfg.ClientPassword})
	if err != nil {
		return err
	}

	torrents, err := qc.ListTorrents(ctx)
	if err != nil {
		return err
	}

	synced, skipped := 0, 0
	for _, t := range torrents {
		ok, err := syncTorrentPayload(ctx, db, qc, t)
		if err != nil {
			fmt.Printf("skip %s: %v\n", t.InfoHash, err)
			skipped++
			continue
		}
		if ok {
			synced++
		} else {
			skipped++
		}
	}
	fmt.Printf("synced %d payloads, skipped %d\n", synced, skipped)
	return nil
}

// syncTorrentPayload resolves a torrent's save path to a catalog
// device, joins its file list against already-hashed catalog rows, and
// records the resulting payload identity (spec.md §5). When one or
// more of the torrent's files have not finished hashing yet, it
// records the payload as "needs full hash" with payload_hash left
// unset (spec.md §4.5 step 3) rather than silently skipping it, and
// returns false so the caller still counts it as not-yet-synced.
func syncTorrentPayload(ctx context.Context, db *catalog.DB, qc *qbt.Client, t qbt.TorrentInfo) (bool, error) {
	canonSave, err := pathresolve.Canonicalize(t.SavePath)
	if err != nil {
		return false, err
	}
	devices, err := db.ListDevices(ctx)
	if err != nil {
		return false, err
	}
	device := deviceForPath(devices, canonSave)
	if device == nil {
		return false, fmt.Errorf("no catalog device covers %s (scan it first)", canonSave)
	}

	files, err := qc.FilesInformation(ctx, t.InfoHash)
	if err != nil {
		return false, err
	}
	if len(files) == 0 {
		return false, nil
	}

	table := device.FileTableName()
	var entries []payload.ManifestEntry
	needsFullHash := false
	var fileCount, totalBytes int64
	for _, f := range files {
		abs := filepath.Join(t.ContentPath, f.Name)
		rel, err := pathresolve.ToRelPath(abs, device.PreferredMountPoint, device.MountPoint)
		if err != nil {
			return false, err
		}
		row, err := db.FileByPath(ctx, table, rel)
		if err != nil {
			return false, err
		}
		fileCount++
		if row == nil || row.FullHash == "" {
			needsFullHash = true
			totalBytes += f.Size
			continue
		}
		totalBytes += row.Size
		within, err := filepath.Rel(filepath.Clean(t.ContentPath), abs)
		if err != nil {
			return false, err
		}
		entries = append(entries, payload.ManifestEntry{Path: filepath.ToSlash(within), Size: row.Size, Digest: row.FullHash})
	}

	if needsFullHash {
		if err := db.UpsertPayload(ctx, &catalog.Payload{
			DeviceID:      device.ID,
			RootPath:      filepath.Clean(t.ContentPath),
			FileCount:     fileCount,
			TotalBytes:    totalBytes,
			NeedsFullHash: true,
		}); err != nil {
			return false, err
		}
		return false, nil
	}

	hash := payload.Hash(entries)
	if err := db.UpsertPayload(ctx, &catalog.Payload{
		PayloadHash: hash,
		DeviceID:    device.ID,
		RootPath:    filepath.Clean(t.ContentPath),
		FileCount:   int64(len(entries)),
		TotalBytes:  payload.TotalBytes(entries),
	}); err != nil {
		return false, err
	}
	if err := db.SetTorrentPayload(ctx, t.InfoHash, hash); err != nil {
		return false, err
	}
	if err := db.UpsertTorrentInstance(ctx, &catalog.TorrentInstance{
		InfoHash:    t.InfoHash,
		PayloadHash: hash,
		DeviceID:    device.ID,
		SavePath:    t.SavePath,
		ContentRoot: t.ContentPath,
		Category:    t.Category,
		Tags:        t.Tags,
	}); err != nil {
		return false, err
	}
	return true, nil
}

func deviceForPath(devices []*catalog.Device, path string) *catalog.Device {
	var best *catalog.Device
	for _, d := range devices {
		base := d.PreferredMountPoint
		if base == "" {
			base = d.MountPoint
		}
		if path == base || len(path) > len(base) && path[:len(base)+1] == base+"/" {
			if best == nil || len(base) > len(bestBase(best)) {
				best = d
			}
		}
	}
	return best
}

func bestBase(d *catalog.Device) string {
	if d.PreferredMountPoint != "" {
		return d.PreferredMountPoint
	}
	return d.MountPoint
}

func newPayloadShowCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "show <payload-hash>",
		Short: "Show every device-local instance of a payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			db, _, err := openCatalog(g)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			instances, err := db.PayloadsByHash(context.Background(), args[0])
			if err != nil {
				return err
			}
			if len(instances) == 0 {
				fmt.Println("no instances recorded for this payload")
				return nil
			}
			for _, p := range instances {
				fmt.Printf("device %d\t%s\t%d files\t%s\n", p.DeviceID, p.RootPath, p.FileCount, formatBytes(p.TotalBytes))
			}
			return nil
		},
	}
}

func newPayloadSiblingsCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "siblings <infohash>",
		Short: "List every torrent sharing a payload with infohash",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			db, _, err := openCatalog(g)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			ctx := context.Background()
			t, err := db.TorrentByInfoHash(ctx, args[0])
			if err != nil {
				return err
			}
			if t == nil {
				return fmt.Errorf("torrent %s not tracked in catalog", args[0])
			}
			if t.PayloadHash == "" {
				fmt.Println("no payload hash computed for this torrent yet")
				return nil
			}

			siblings, err := db.SiblingTorrents(ctx, t.PayloadHash, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("payload %s: %d sibling(s)\n", t.PayloadHash, len(siblings))
			for _, s := range siblings {
				fmt.Printf("  %s\t%s\n", s.InfoHash, s.ContentRoot)
			}
			return nil
		},
	}
}
