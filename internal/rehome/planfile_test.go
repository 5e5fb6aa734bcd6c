package rehome

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestPlanIDIsStableShapeAndFileNameMatches(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	id := newPlanID(DirectionDemote, "abcdef0123456789", now)
	if !strings.HasPrefix(id, "demote-abcdef012345-") {
		t.Fatalf("unexpected plan id %q", id)
	}
	p := &Plan{PlanID: id}
	if p.FileName() != id+".json" {
		t.Fatalf("expected filename to match plan id, got %q", p.FileName())
	}
}

func TestWriteAndReadPlanFileRoundTrips(t *testing.T) {
	dir := t.TempDir()
	p := &Plan{
		Version:       planDocumentVersion,
		PlanID:        "demote-hash-20260730T120000Z",
		Direction:     DirectionDemote,
		Decision:      DecisionMove,
		PayloadHash:   "hash",
		SourceDevice:  1,
		SourcePath:    "/warm/torrents/movie",
		TargetDevice:  2,
		TargetPath:    "/cold/pool/movie",
		FileCount:     3,
		TotalBytes:    4096,
		InfoHashes:    []string{"aa", "bb"},
		CreatedAtUnix: 1,
	}

	path, err := p.WriteFile(dir)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("expected file under %s, got %s", dir, path)
	}

	got, err := ReadPlanFile(path)
	if err != nil {
		t.Fatalf("ReadPlanFile: %v", err)
	}
	if got.PlanID != p.PlanID || got.Decision != p.Decision || got.TargetPath != p.TargetPath {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.InfoHashes) != 2 {
		t.Fatalf("expected 2 info hashes, got %d", len(got.InfoHashes))
	}
}
