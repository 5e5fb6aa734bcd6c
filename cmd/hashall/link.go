package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/slyckmb/hashall/internal/catalog"
	"github.com/slyckmb/hashall/internal/linkplan"
)

func newLinkCmd(g *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Plan and apply hardlink consolidation for a device",
	}
	cmd.AddCommand(newLinkPlanCmd(g))
	cmd.AddCommand(newLinkShowCmd(g))
	cmd.AddCommand(newLinkExecuteCmd(g))
	return cmd
}

type linkPlanOptions struct {
	root string
	name string
}

func newLinkPlanCmd(g *globalOpts) *cobra.Command {
	opts := &linkPlanOptions{}
	cmd := &cobra.Command{
		Use:   "plan <device-id>",
		Short: "Compute a hardlink plan for a device's duplicate files and persist it as a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			deviceID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid device id %q: %w", args[0], err)
			}
			return runLinkPlan(g, deviceID, opts)
		},
	}
	cmd.Flags().StringVar(&opts.root, "root", "", "Restrict planning to files under this mount-relative path")
	cmd.Flags().StringVar(&opts.name, "name", "", "Plan name (defaults to \"device-<id>\")")
	return cmd
}

func runLinkPlan(g *globalOpts, deviceID int64, opts *linkPlanOptions) error {
	db, _, err := openCatalog(g)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	device, err := db.DeviceByID(ctx, deviceID)
	if err != nil {
		return err
	}

	candidates, err := linkplan.Plan(ctx, db, device.FileTableName(), opts.root)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		fmt.Println("no hardlink candidates found")
		return nil
	}

	name := opts.name
	if name == "" {
		name = fmt.Sprintf("device-%d", deviceID)
	}

	var actions []*catalog.LinkAction
	for _, c := range candidates {
		for _, dup := range c.DuplicatePaths {
			actions = append(actions, &catalog.LinkAction{
				Kind:               catalog.ActionKindHardlink,
				Status:             catalog.ActionStatusPending,
				CanonicalPath:      c.CanonicalPath,
				DuplicatePath:      dup,
				CanonicalInode:     c.CanonicalInode,
				Size:               c.Size,
				Digest:             c.Digest,
				ExpectedBytesSaved: c.Size,
			})
		}
	}

	plan, err := db.CreateLinkPlan(ctx, name, deviceID, actions)
	if err != nil {
		return err
	}
	fmt.Printf("plan %d created: %d action(s), %s reclaimable\n", plan.ID, plan.ActionCount, formatBytes(plan.BytesToSave))
	return nil
}

func newLinkShowCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "show <plan-id>",
		Short: "Show a plan's actions and their status",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			planID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid plan id %q: %w", args[0], err)
			}

			db, _, err := openCatalog(g)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			ctx := context.Background()
			plan, err := db.LinkPlanByID(ctx, planID)
			if err != nil {
				return err
			}
			fmt.Printf("plan %d (%s) device %d: %s, %d actions, %s to save, %s saved\n",
				plan.ID, plan.Name, plan.DeviceID, plan.Status, plan.ActionCount, formatBytes(plan.BytesToSave), formatBytes(plan.BytesSaved))

			actions, err := db.LinkActionsForPlan(ctx, planID)
			if err != nil {
				return err
			}
			for _, a := range actions {
				fmt.Printf("  [%s] %s -> %s (%s)\n", a.Status, a.DuplicatePath, a.CanonicalPath, formatBytes(a.Size))
			}
			return nil
		},
	}
}

type linkExecuteOptions struct {
	verify bool
}

func newLinkExecuteCmd(g *globalOpts) *cobra.Command {
	opts := &linkExecuteOptions{}
	cmd := &cobra.Command{
		Use:   "execute <plan-id>",
		Short: "Apply a draft plan's hardlink actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			planID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid plan id %q: %w", args[0], err)
			}
			return runLinkExecute(g, planID, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.verify, "verify", true, "Verify each link's digest against the catalog before removing the duplicate")
	return cmd
}

func runLinkExecute(g *globalOpts, planID int64, opts *linkExecuteOptions) error {
	db, _, err := openCatalog(g)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	plan, err := db.LinkPlanByID(ctx, planID)
	if err != nil {
		return err
	}
	if plan.Status == catalog.PlanStatusApplied {
		fmt.Println("plan already applied")
		return nil
	}

	device, err := db.DeviceByID(ctx, plan.DeviceID)
	if err != nil {
		return err
	}
	actions, err := db.LinkActionsForPlan(ctx, planID)
	if err != nil {
		return err
	}

	mountPoint := device.PreferredMountPoint
	if mountPoint == "" {
		mountPoint = device.MountPoint
	}

	if err := db.SetPlanStatus(ctx, planID, catalog.PlanStatusApplying); err != nil {
		return err
	}
	if err := linkplan.Execute(ctx, db, mountPoint, actions, opts.verify); err != nil {
		_ = db.SetPlanStatus(ctx, planID, catalog.PlanStatusFailed)
		return err
	}
	if err := db.SetPlanStatus(ctx, planID, catalog.PlanStatusApplied); err != nil {
		return err
	}
	fmt.Printf("plan %d applied\n", planID)
	return nil
}
