package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/slyckmb/hashall/internal/errs"
)

const (
	PlanStatusDraft     = "draft"
	PlanStatusApplying  = "applying"
	PlanStatusApplied   = "applied"
	PlanStatusFailed    = "failed"
	ActionKindHardlink  = "hardlink"
	ActionStatusPending = "pending"
	ActionStatusDone    = "done"
	ActionStatusFailed  = "failed"
	ActionStatusSkipped = "skipped"
)

// LinkPlan is a batch of hardlink actions computed for one device,
// generalizing dupedog's in-memory dedupe run into a persisted,
// resumable unit (spec.md §4.3 "link planner").
type LinkPlan struct {
	ID          int64
	Name        string
	DeviceID    int64
	Status      string
	ActionCount int64
	BytesToSave int64
	BytesSaved  int64
	CreatedAt   int64
	UpdatedAt   int64
}

// LinkAction is one candidate hardlink within a plan: replace
// duplicate_path with a hardlink to canonical_path.
type LinkAction struct {
	ID                 int64
	PlanID             int64
	Kind               string
	Status             string
	CanonicalPath      string
	DuplicatePath      string
	CanonicalInode     uint64
	DuplicateInode     uint64
	Size               int64
	Digest             string
	ExpectedBytesSaved int64
	ActualBytesSaved   int64
	ExecutedAt         *int64
	ErrorText          string
	BackupPath         string
}

// CreateLinkPlan inserts a new draft plan with its actions in one
// transaction so a reader never observes a plan with a partial action
// set.
func (db *DB) CreateLinkPlan(ctx context.Context, name string, deviceID int64, actions []*LinkAction) (*LinkPlan, error) {
	now := time.Now().Unix()
	var bytesToSave int64
	for _, a := range actions {
		bytesToSave += a.ExpectedBytesSaved
	}

	var planID int64
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO link_plans (name, device_id, status, action_count, bytes_to_save, bytes_saved, created_at, updated_at)
			VALUES (?, ?, 'draft', ?, ?, 0, ?, ?)`,
			name, deviceID, len(actions), bytesToSave, now, now)
		if err != nil {
			return err
		}
		planID, err = res.LastInsertId()
		if err != nil {
			return err
		}
		for _, a := range actions {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO link_actions (plan_id, kind, status, canonical_path, duplicate_path, canonical_inode, duplicate_inode, size, digest, expected_bytes_saved, actual_bytes_saved)
				VALUES (?, ?, 'pending', ?, ?, ?, ?, ?, ?, ?, 0)`,
				planID, ActionKindHardlink, a.CanonicalPath, a.DuplicatePath, a.CanonicalInode, a.DuplicateInode, a.Size, nullIfEmpty(a.Digest), a.ExpectedBytesSaved); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, name, err)
	}

	return &LinkPlan{ID: planID, Name: name, DeviceID: deviceID, Status: PlanStatusDraft, ActionCount: int64(len(actions)), BytesToSave: bytesToSave, CreatedAt: now, UpdatedAt: now}, nil
}

// LinkPlanByID returns a plan's header row.
func (db *DB) LinkPlanByID(ctx context.Context, id int64) (*LinkPlan, error) {
	row := db.QueryRowContext(ctx, `SELECT id, name, device_id, status, action_count, bytes_to_save, bytes_saved, created_at, updated_at FROM link_plans WHERE id = ?`, id)
	var p LinkPlan
	err := row.Scan(&p.ID, &p.Name, &p.DeviceID, &p.Status, &p.ActionCount, &p.BytesToSave, &p.BytesSaved, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.Catalog, fmt.Sprintf("link plan %d", id), "plan not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, fmt.Sprintf("link plan %d", id), err)
	}
	return &p, nil
}

// LinkActionsForPlan returns every action belonging to a plan, ordered
// by id (insertion order), so resumed execution can skip already-done
// actions deterministically.
func (db *DB) LinkActionsForPlan(ctx context.Context, planID int64) ([]*LinkAction, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, plan_id, kind, status, canonical_path, duplicate_path, canonical_inode, duplicate_inode, size, digest, expected_bytes_saved, actual_bytes_saved, executed_at, error_text, backup_path
		FROM link_actions WHERE plan_id = ? ORDER BY id`, planID)
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, fmt.Sprintf("link plan %d", planID), err)
	}
	defer func() { _ = rows.Close() }()

	var out []*LinkAction
	for rows.Next() {
		a, err := scanLinkAction(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Catalog, fmt.Sprintf("link plan %d", planID), err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanLinkAction(rows *sql.Rows) (*LinkAction, error) {
	var a LinkAction
	var digest, errorText, backupPath sql.NullString
	var executedAt sql.NullInt64
	err := rows.Scan(&a.ID, &a.PlanID, &a.Kind, &a.Status, &a.CanonicalPath, &a.DuplicatePath, &a.CanonicalInode, &a.DuplicateInode, &a.Size, &digest, &a.ExpectedBytesSaved, &a.ActualBytesSaved, &executedAt, &errorText, &backupPath)
	if err != nil {
		return nil, err
	}
	a.Digest = digest.String
	a.ErrorText = errorText.String
	a.BackupPath = backupPath.String
	if executedAt.Valid {
		a.ExecutedAt = &executedAt.Int64
	}
	return &a, nil
}

// SetPlanStatus transitions a plan's status.
func (db *DB) SetPlanStatus(ctx context.Context, planID int64, status string) error {
	now := time.Now().Unix()
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE link_plans SET status = ?, updated_at = ? WHERE id = ?`, status, now, planID)
		return err
	})
	if err != nil {
		return errs.Wrap(errs.Catalog, fmt.Sprintf("link plan %d", planID), err)
	}
	return nil
}

// CompleteLinkAction records the outcome of executing one action and
// rolls its actual bytes saved into the owning plan.
func (db *DB) CompleteLinkAction(ctx context.Context, actionID int64, status string, actualBytesSaved int64, errText, backupPath string) error {
	now := time.Now().Unix()
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		var planID int64
		if err := tx.QueryRowContext(ctx, `SELECT plan_id FROM link_actions WHERE id = ?`, actionID).Scan(&planID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE link_actions SET status = ?, actual_bytes_saved = ?, executed_at = ?, error_text = ?, backup_path = ?
			WHERE id = ?`,
			status, actualBytesSaved, now, nullIfEmpty(errText), nullIfEmpty(backupPath), actionID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE link_plans SET bytes_saved = bytes_saved + ?, updated_at = ? WHERE id = ?`, actualBytesSaved, now, planID)
		return err
	})
	if err != nil {
		return errs.Wrap(errs.Catalog, fmt.Sprintf("link action %d", actionID), err)
	}
	return nil
}
