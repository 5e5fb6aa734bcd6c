package catalog

import (
	"context"
	"testing"
)

func TestCreateLinkPlanAndExecuteActions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	d := registerTestDevice(t, db, "uuid-plan")

	actions := []*LinkAction{
		{CanonicalPath: "a/1.mkv", DuplicatePath: "b/1.mkv", CanonicalInode: 1, DuplicateInode: 2, Size: 1000, Digest: "d1", ExpectedBytesSaved: 1000},
		{CanonicalPath: "a/2.mkv", DuplicatePath: "b/2.mkv", CanonicalInode: 3, DuplicateInode: 4, Size: 2000, Digest: "d2", ExpectedBytesSaved: 2000},
	}

	plan, err := db.CreateLinkPlan(ctx, "dedupe-warm", d.ID, actions)
	if err != nil {
		t.Fatalf("CreateLinkPlan: %v", err)
	}
	if plan.ActionCount != 2 || plan.BytesToSave != 3000 {
		t.Fatalf("got %+v", plan)
	}

	got, err := db.LinkActionsForPlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("LinkActionsForPlan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(got))
	}

	if err := db.SetPlanStatus(ctx, plan.ID, PlanStatusApplying); err != nil {
		t.Fatalf("SetPlanStatus: %v", err)
	}

	if err := db.CompleteLinkAction(ctx, got[0].ID, ActionStatusDone, 1000, "", ""); err != nil {
		t.Fatalf("CompleteLinkAction: %v", err)
	}
	if err := db.CompleteLinkAction(ctx, got[1].ID, ActionStatusFailed, 0, "link failed: exdev", ""); err != nil {
		t.Fatalf("CompleteLinkAction: %v", err)
	}

	updated, err := db.LinkPlanByID(ctx, plan.ID)
	if err != nil {
		t.Fatalf("LinkPlanByID: %v", err)
	}
	if updated.BytesSaved != 1000 {
		t.Fatalf("expected 1000 bytes saved, got %d", updated.BytesSaved)
	}

	actionsAfter, err := db.LinkActionsForPlan(ctx, plan.ID)
	if err != nil {
		t.Fatal(err)
	}
	if actionsAfter[1].Status != ActionStatusFailed || actionsAfter[1].ErrorText == "" {
		t.Fatalf("expected failed action with error text, got %+v", actionsAfter[1])
	}
}

func TestLinkPlanByIDNotFound(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.LinkPlanByID(context.Background(), 9999); err == nil {
		t.Fatal("expected not-found error")
	}
}
