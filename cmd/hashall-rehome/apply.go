package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/slyckmb/hashall/internal/qbt"
	"github.com/slyckmb/hashall/internal/rehome"
)

type applyOptions struct {
	verify             bool
	cleanupSourceViews bool
	pruneEmptyDirs     bool
}

func newApplyCmd(g *globalOpts) *cobra.Command {
	opts := &applyOptions{}
	cmd := &cobra.Command{
		Use:   "apply <plan-file>",
		Short: "Apply a previously written plan document against the torrent client",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runApply(g, args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.verify, "verify", true, "Re-check file count and byte total on the target payload root after relocation")
	cmd.Flags().BoolVar(&opts.cleanupSourceViews, "cleanup-source-views", false, "Remove source-side torrent views built during relocation once the plan applies successfully")
	cmd.Flags().BoolVar(&opts.pruneEmptyDirs, "prune-empty-dirs", false, "With --cleanup-source-views, also remove directories left empty under configured seeding-domain roots")
	return cmd
}

func runApply(g *globalOpts, planPath string, opts *applyOptions) error {
	plan, err := rehome.ReadPlanFile(planPath)
	if err != nil {
		return err
	}
	if plan.Decision == rehome.DecisionBlock {
		fmt.Printf("plan %s is blocked, nothing to apply:\n", plan.PlanID)
		for _, r := range plan.Reasons {
			fmt.Printf("  - %s\n", r)
		}
		return nil
	}

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

	execOpts := rehome.Options{
		VerifyDigest:       opts.verify,
		CleanupSourceViews: opts.cleanupSourceViews,
		PruneEmptyDirs:     opts.pruneEmptyDirs,
	}
	if err := rehome.Execute(ctx, db, qc, cfg, plan, execOpts); err != nil {
		return err
	}
	fmt.Printf("plan %s applied (%s)\n", plan.PlanID, plan.Decision)
	return nil
}
