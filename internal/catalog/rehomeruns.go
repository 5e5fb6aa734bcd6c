package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/slyckmb/hashall/internal/errs"
)

const (
	RehomeDecisionBlock  = "block"
	RehomeDecisionReuse  = "reuse"
	RehomeDecisionMove   = "move"
	RehomeOutcomeOK      = "ok"
	RehomeOutcomeFailed  = "failed"
	RehomeOutcomeRolled  = "rolled_back"
	RehomeOutcomePending = "pending"
)

// RehomeRun audits one execution of the rehome orchestrator against a
// plan document (spec.md §6). plan_id references the plan document's
// own identifier, not a catalog row, since plans are authored and
// reviewed as standalone JSON files before being applied.
type RehomeRun struct {
	ID        int64
	PlanID    string
	Direction string
	Decision  string
	Outcome   string
	StartedAt int64
	EndedAt   *int64
	ErrorText string
}

// StartRehomeRun records the start of applying a rehome decision.
func (db *DB) StartRehomeRun(ctx context.Context, planID, direction, decision string) (*RehomeRun, error) {
	now := time.Now().Unix()
	var id int64
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO rehome_runs (plan_id, direction, decision, outcome, started_at)
			VALUES (?, ?, ?, 'pending', ?)`,
			planID, direction, decision, now)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, planID, err)
	}
	return &RehomeRun{ID: id, PlanID: planID, Direction: direction, Decision: decision, Outcome: RehomeOutcomePending, StartedAt: now}, nil
}

// FinishRehomeRun records the terminal outcome of a rehome run.
func (db *DB) FinishRehomeRun(ctx context.Context, runID int64, outcome, errText string) error {
	now := time.Now().Unix()
	err := db.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE rehome_runs SET outcome = ?, ended_at = ?, error_text = ? WHERE id = ?`, outcome, now, nullIfEmpty(errText), runID)
		return err
	})
	if err != nil {
		return errs.Wrap(errs.Catalog, fmt.Sprintf("rehome run %d", runID), err)
	}
	return nil
}

// RehomeRunsForPlan returns every run recorded against a plan
// document, newest first.
func (db *DB) RehomeRunsForPlan(ctx context.Context, planID string) ([]*RehomeRun, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, plan_id, direction, decision, outcome, started_at, ended_at, error_text
		FROM rehome_runs WHERE plan_id = ? ORDER BY started_at DESC`, planID)
	if err != nil {
		return nil, errs.Wrap(errs.Catalog, planID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*RehomeRun
	for rows.Next() {
		var r RehomeRun
		var ended sql.NullInt64
		var errText sql.NullString
		if err := rows.Scan(&r.ID, &r.PlanID, &r.Direction, &r.Decision, &r.Outcome, &r.StartedAt, &ended, &errText); err != nil {
			return nil, errs.Wrap(errs.Catalog, planID, err)
		}
		if ended.Valid {
			r.EndedAt = &ended.Int64
		}
		r.ErrorText = errText.String
		out = append(out, &r)
	}
	return out, rows.Err()
}
