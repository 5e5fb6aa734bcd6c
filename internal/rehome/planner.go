package rehome

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/slyckmb/hashall/internal/catalog"
	"github.com/slyckmb/hashall/internal/config"
	"github.com/slyckmb/hashall/internal/errs"
	"github.com/slyckmb/hashall/internal/fsprobe"
	"github.com/slyckmb/hashall/internal/pathresolve"
)

// PlanTorrent builds a rehome plan for a single torrent's payload,
// scoped to every sibling sharing the same payload_hash (spec.md §4.7
// step 1).
func PlanTorrent(ctx context.Context, db *catalog.DB, cfg *config.Config, direction string, infoHash string, targetDeviceID int64) (*Plan, error) {
	t, err := db.TorrentByInfoHash(ctx, infoHash)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errs.New(errs.Policy, infoHash, "torrent not tracked in catalog")
	}
	return planForPayload(ctx, db, cfg, direction, t.PayloadHash, targetDeviceID)
}

// PlanPayload builds a rehome plan scoped to every torrent sharing a
// payload hash directly.
func PlanPayload(ctx context.Context, db *catalog.DB, cfg *config.Config, direction string, payloadHash string, targetDeviceID int64) (*Plan, error) {
	return planForPayload(ctx, db, cfg, direction, payloadHash, targetDeviceID)
}

// PlanTag builds one plan per distinct payload among every torrent
// carrying tag (spec.md §4.7 step 1: "for tag selection, group by
// payload_hash").
func PlanTag(ctx context.Context, db *catalog.DB, cfg *config.Config, direction string, tag string, targetDeviceID int64) ([]*Plan, error) {
	torrents, err := db.TorrentsByTag(ctx, tag)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var plans []*Plan
	for _, t := range torrents {
		if t.PayloadHash == "" || seen[t.PayloadHash] {
			continue
		}
		seen[t.PayloadHash] = true
		p, err := planForPayload(ctx, db, cfg, direction, t.PayloadHash, targetDeviceID)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, nil
}

func planForPayload(ctx context.Context, db *catalog.DB, cfg *config.Config, direction, payloadHash string, targetDeviceID int64) (*Plan, error) {
	now := time.Now()
	p := &Plan{
		Version:       planDocumentVersion,
		PlanID:        newPlanID(direction, payloadHash, now),
		Direction:     direction,
		PayloadHash:   payloadHash,
		TargetDevice:  targetDeviceID,
		CreatedAtUnix: now.Unix(),
		NoBlindCopy:   direction == DirectionPromote,
	}

	// Step 2: payload hash must be present.
	if strings.TrimSpace(payloadHash) == "" {
		return block(p, "payload hash missing"), nil
	}

	siblings, err := db.SiblingTorrents(ctx, payloadHash, "")
	if err != nil {
		return nil, err
	}
	for _, s := range siblings {
		p.InfoHashes = append(p.InfoHashes, s.InfoHash)
	}
	if len(p.InfoHashes) == 0 {
		return block(p, "no torrents reference this payload"), nil
	}

	source, err := db.PayloadByHash(ctx, payloadHash)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return block(p, "payload hash missing"), nil
	}
	p.SourceDevice = source.DeviceID
	p.SourcePath = source.RootPath
	p.FileCount = source.FileCount
	p.TotalBytes = source.TotalBytes

	sourceDevice, err := db.DeviceByID(ctx, source.DeviceID)
	if err != nil {
		return nil, err
	}

	// Step 3: external-consumer check.
	offenders, err := externalConsumers(ctx, db, cfg, sourceDevice, source.RootPath)
	if err != nil {
		return nil, err
	}
	if len(offenders) > 0 {
		reasons := make([]string, len(offenders))
		for i, path := range offenders {
			reasons[i] = fmt.Sprintf("external consumer at %s", path)
		}
		return blockAll(p, reasons), nil
	}

	// Step 4: scan-coverage check.
	stale, err := staleSeedingRoots(ctx, db, cfg)
	if err != nil {
		return nil, err
	}
	if len(stale) > 0 {
		reasons := make([]string, len(stale))
		for i, root := range stale {
			reasons[i] = fmt.Sprintf("seeding-domain root %s has not been scanned recently enough", root)
		}
		return blockAll(p, reasons), nil
	}

	// Step 5: locate a matching payload on the target device.
	target, err := db.PayloadByHashAndDevice(ctx, payloadHash, targetDeviceID)
	if err != nil {
		return nil, err
	}
	if target != nil {
		p.Decision = DecisionReuse
		p.TargetPath = target.RootPath
		return p, nil
	}

	if direction == DirectionPromote {
		return block(p, "payload not present on target"), nil
	}

	targetDevice, err := db.DeviceByID(ctx, targetDeviceID)
	if err != nil {
		return nil, err
	}
	p.Decision = DecisionMove
	p.TargetPath = resolvePoolTemplate(cfg.PoolPayloadRootTemplate, targetDevice, payloadHash)
	return p, nil
}

func block(p *Plan, reason string) *Plan {
	return blockAll(p, []string{reason})
}

func blockAll(p *Plan, reasons []string) *Plan {
	p.Decision = DecisionBlock
	p.Reasons = reasons
	return p
}

// externalConsumers finds every active file under root on device whose
// inode is also linked from a path outside every configured
// seeding-domain root (spec.md §4.7 step 3).
func externalConsumers(ctx context.Context, db *catalog.DB, cfg *config.Config, device *catalog.Device, root string) ([]string, error) {
	table := device.FileTableName()
	relRoot, err := pathresolve.ToRelPath(root, device.PreferredMountPoint, device.MountPoint)
	if err != nil {
		return nil, err
	}
	files, err := db.ActiveFilesUnder(ctx, table, relRoot)
	if err != nil {
		return nil, err
	}

	var offenders []string
	seen := make(map[string]bool)
	for _, f := range files {
		siblings, err := db.ActiveFilesByInode(ctx, table, f.Inode)
		if err != nil {
			return nil, err
		}
		for _, sib := range siblings {
			abs := pathresolve.ToAbsPath(sib.Path, device.PreferredMountPoint, device.MountPoint)
			if withinAnyRoot(abs, cfg.SeedingDomainRoots) {
				continue
			}
			if !seen[abs] {
				seen[abs] = true
				offenders = append(offenders, abs)
			}
		}
	}
	return offenders, nil
}

func withinAnyRoot(path string, roots []string) bool {
	for _, r := range roots {
		r = strings.TrimSuffix(r, "/")
		if path == r || strings.HasPrefix(path, r+"/") {
			return true
		}
	}
	return false
}

// staleSeedingRoots returns every configured seeding-domain root whose
// latest scan is older than the configured freshness window, or has
// never completed a scan at all (spec.md §4.7 step 4).
func staleSeedingRoots(ctx context.Context, db *catalog.DB, cfg *config.Config) ([]string, error) {
	maxAge := time.Duration(cfg.ScanFreshnessSeconds) * time.Second
	var stale []string
	for _, root := range cfg.SeedingDomainRoots {
		fresh, err := isRootFresh(ctx, db, root, maxAge)
		if err != nil {
			return nil, err
		}
		if !fresh {
			stale = append(stale, root)
		}
	}
	return stale, nil
}

func isRootFresh(ctx context.Context, db *catalog.DB, root string, maxAge time.Duration) (bool, error) {
	canon, err := pathresolve.Canonicalize(root)
	if err != nil {
		return false, err
	}
	id, err := fsprobe.Probe(canon)
	if err != nil {
		return false, err
	}
	device, err := db.RegisterDevice(ctx, id)
	if err != nil {
		return false, err
	}
	relRoot, err := pathresolve.ToRelPath(canon, device.PreferredMountPoint, device.MountPoint)
	if err != nil {
		return false, err
	}
	scanRoot, err := db.EnsureScanRoot(ctx, device.ID, relRoot)
	if err != nil {
		return false, err
	}
	return db.IsFresh(ctx, scanRoot.ID, maxAge)
}

// resolvePoolTemplate substitutes {device} and {payload_hash} into the
// configured pool-payload root template, used to compute a MOVE target
// when no existing payload instance is found (spec.md §4.7 step 5).
func resolvePoolTemplate(template string, device *catalog.Device, payloadHash string) string {
	deviceLabel := device.Alias
	if deviceLabel == "" {
		deviceLabel = fmt.Sprintf("d%d", device.ID)
	}
	out := strings.ReplaceAll(template, "{device}", deviceLabel)
	out = strings.ReplaceAll(out, "{payload_hash}", payloadHash)
	return out
}
