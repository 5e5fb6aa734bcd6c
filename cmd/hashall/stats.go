package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print aggregate catalog statistics across all devices",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runStats(g)
		},
	}
}

func runStats(g *globalOpts) error {
	db, _, err := openCatalog(g)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	devices, err := db.ListDevices(context.Background())
	if err != nil {
		return err
	}

	var totalFiles, totalBytes int64
	for _, d := range devices {
		totalFiles += d.FileCount
		totalBytes += d.ByteTotal
	}

	fmt.Printf("%d devices, %d files, %s tracked\n", len(devices), totalFiles, formatBytes(totalBytes))
	for _, d := range devices {
		label := d.Alias
		if label == "" {
			label = d.FSUUID
		}
		fmt.Printf("  %-20s %8d files  %10s  %s\n", label, d.FileCount, formatBytes(d.ByteTotal), d.MountPoint)
	}
	return nil
}
