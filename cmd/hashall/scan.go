package main

import (
	"context"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/slyckmb/hashall/internal/scanner"
)

type scanOptions struct {
	workers    int
	hashMode   string
	noProgress bool
}

func newScanCmd(g *globalOpts) *cobra.Command {
	opts := &scanOptions{workers: runtime.NumCPU(), hashMode: string(scanner.HashFast)}

	cmd := &cobra.Command{
		Use:   "scan <root>",
		Short: "Scan a directory and synchronize it into the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runScan(g, args[0], opts)
		},
	}

	cmd.Flags().IntVarP(&opts.workers, "workers", "w", opts.workers, "Number of parallel walk workers")
	cmd.Flags().StringVar(&opts.hashMode, "hash-mode", opts.hashMode, "Hash mode: fast, full, or upgrade (full digests for rows still missing one)")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")

	return cmd
}

func runScan(g *globalOpts, root string, opts *scanOptions) error {
	db, _, err := openCatalog(g)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	errCh := make(chan error, 100)
	go drainErrors(errCh)
	defer close(errCh)

	res, err := scanner.Scan(context.Background(), db, root, scanner.Options{
		Workers:      opts.workers,
		HashMode:     scanner.HashMode(opts.hashMode),
		ShowProgress: !opts.noProgress,
	}, errCh)
	if err != nil {
		return fmt.Errorf("scan %s: %w", root, err)
	}

	fmt.Printf("device %d: added %d, updated %d, unchanged %d, deleted %d, hashed %s\n",
		res.DeviceID, res.Added, res.Updated, res.Unchanged, res.Deleted, formatBytes(res.BytesHashed))
	return nil
}
