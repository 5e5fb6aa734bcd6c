package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/slyckmb/hashall/internal/rehome"
)

type planOptions struct {
	direction      string
	targetDeviceID int64
	outDir         string
}

func newPlanCmd(g *globalOpts) *cobra.Command {
	opts := &planOptions{direction: rehome.DirectionDemote, outDir: "."}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute a rehome plan and write it to disk for review",
	}
	cmd.PersistentFlags().StringVar(&opts.direction, "direction", opts.direction, "Rehome direction: promote or demote")
	cmd.PersistentFlags().Int64Var(&opts.targetDeviceID, "target-device", 0, "Catalog device id to rehome onto")
	cmd.PersistentFlags().StringVar(&opts.outDir, "out", opts.outDir, "Directory to write the plan document into")

	cmd.AddCommand(newPlanTorrentCmd(g, opts))
	cmd.AddCommand(newPlanPayloadCmd(g, opts))
	cmd.AddCommand(newPlanTagCmd(g, opts))
	return cmd
}

func newPlanTorrentCmd(g *globalOpts, opts *planOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "torrent <infohash>",
		Short: "Plan a rehome scoped to one torrent's payload and its siblings",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			db, cfg, err := openCatalog(g)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			p, err := rehome.PlanTorrent(context.Background(), db, cfg, opts.direction, args[0], opts.targetDeviceID)
			if err != nil {
				return err
			}
			return writePlan(p, opts.outDir)
		},
	}
}

func newPlanPayloadCmd(g *globalOpts, opts *planOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "payload <payload-hash>",
		Short: "Plan a rehome scoped to every torrent sharing a payload hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			db, cfg, err := openCatalog(g)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			p, err := rehome.PlanPayload(context.Background(), db, cfg, opts.direction, args[0], opts.targetDeviceID)
			if err != nil {
				return err
			}
			return writePlan(p, opts.outDir)
		},
	}
}

func newPlanTagCmd(g *globalOpts, opts *planOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tag <tag>",
		Short: "Plan one rehome per distinct payload among every torrent carrying a tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			db, cfg, err := openCatalog(g)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			plans, err := rehome.PlanTag(context.Background(), db, cfg, opts.direction, args[0], opts.targetDeviceID)
			if err != nil {
				return err
			}
			if len(plans) == 0 {
				fmt.Println("no payloads found for tag " + args[0])
				return nil
			}
			for _, p := range plans {
				if err := writePlan(p, opts.outDir); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func writePlan(p *rehome.Plan, dir string) error {
	path, err := p.WriteFile(dir)
	if err != nil {
		return err
	}
	fmt.Printf("plan %s: %s (%s)\n", p.PlanID, p.Decision, path)
	for _, r := range p.Reasons {
		fmt.Printf("  - %s\n", r)
	}
	return nil
}
