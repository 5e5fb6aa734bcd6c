// Package rehome implements the cross-device rehome planner and
// executor: deciding whether a torrent's payload can be promoted or
// demoted between tiers, and carrying out that decision against the
// torrent client and filesystem (spec.md §4.7, §4.8).
//
// Unlike internal/linkplan, whose plans live entirely in the catalog,
// rehome plans cross the catalog/filesystem/client boundary and are
// authored as standalone, reviewable documents per spec.md §9's
// "external orchestrator as a separate process" note — the catalog
// only records the outcome of applying one, via rehome_runs.
package rehome

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/slyckmb/hashall/internal/errs"
)

const planDocumentVersion = 1

const (
	DirectionPromote = "promote"
	DirectionDemote  = "demote"

	DecisionBlock = "block"
	DecisionReuse = "reuse"
	DecisionMove  = "move"
)

// Plan is the self-describing document produced by the planner and
// consumed by the executor: sufficient to replay without re-querying
// the catalog (spec.md §4.7).
type Plan struct {
	Version       int      `json:"version"`
	PlanID        string   `json:"plan_id"`
	Direction     string   `json:"direction"`
	Decision      string   `json:"decision"`
	Reasons       []string `json:"reasons,omitempty"`
	PayloadHash   string   `json:"payload_hash"`
	SourceDevice  int64    `json:"source_device_id"`
	SourcePath    string   `json:"source_path"`
	TargetDevice  int64    `json:"target_device_id,omitempty"`
	TargetPath    string   `json:"target_path,omitempty"`
	FileCount     int64    `json:"file_count"`
	TotalBytes    int64    `json:"total_bytes"`
	InfoHashes    []string `json:"info_hashes"`
	NoBlindCopy   bool     `json:"no_blind_copy"`
	CreatedAtUnix int64    `json:"created_at_unix"`
}

// newPlanID derives a deterministic, sortable identifier from scope and
// timestamp, matching spec.md §6's "deterministic names derived from
// scope and timestamp" requirement for plan file naming.
func newPlanID(direction, payloadHash string, now time.Time) string {
	short := payloadHash
	if len(short) > 12 {
		short = short[:12]
	}
	return fmt.Sprintf("%s-%s-%s", direction, short, now.UTC().Format("20060102T150405Z"))
}

// FileName is the on-disk name for a plan document.
func (p *Plan) FileName() string {
	return p.PlanID + ".json"
}

// WriteFile serializes the plan as indented JSON under dir.
func (p *Plan) WriteFile(dir string) (string, error) {
	path := filepath.Join(dir, p.FileName())
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", errs.Wrap(errs.Policy, p.PlanID, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errs.Wrap(errs.Filesystem, path, err)
	}
	return path, nil
}

// ReadPlanFile loads and validates a plan document from disk.
func ReadPlanFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.Filesystem, path, err)
	}
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errs.Wrap(errs.Policy, path, err)
	}
	if p.Version != planDocumentVersion {
		return nil, errs.New(errs.Policy, path, fmt.Sprintf("unsupported plan document version %d", p.Version))
	}
	if strings.TrimSpace(p.PlanID) == "" {
		return nil, errs.New(errs.Policy, path, "plan document missing plan_id")
	}
	return &p, nil
}
