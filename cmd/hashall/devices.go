package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newDevicesCmd(g *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Inspect and manage catalog-tracked devices",
	}
	cmd.AddCommand(newDevicesListCmd(g))
	cmd.AddCommand(newDevicesShowCmd(g))
	cmd.AddCommand(newDevicesAliasCmd(g))
	return cmd
}

func newDevicesListCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every registered device",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			db, _, err := openCatalog(g)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			devices, err := db.ListDevices(context.Background())
			if err != nil {
				return err
			}
			for _, d := range devices {
				label := d.Alias
				if label == "" {
					label = "(no alias)"
				}
				fmt.Printf("%d\t%s\t%s\t%s\n", d.ID, label, d.FSUUID, d.MountPoint)
			}
			return nil
		},
	}
}

func newDevicesShowCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "show <device-id>",
		Short: "Show one device's full record",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid device id %q: %w", args[0], err)
			}

			db, _, err := openCatalog(g)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			d, err := db.DeviceByID(context.Background(), id)
			if err != nil {
				return err
			}
			fmt.Printf("id:              %d\n", d.ID)
			fmt.Printf("alias:           %s\n", d.Alias)
			fmt.Printf("fs_uuid:         %s\n", d.FSUUID)
			fmt.Printf("device_ident:    %s\n", d.CurrentDeviceIdent)
			fmt.Printf("mount_point:     %s\n", d.MountPoint)
			fmt.Printf("fs_type:         %s\n", d.FSType)
			fmt.Printf("files:           %d\n", d.FileCount)
			fmt.Printf("bytes:           %s\n", formatBytes(d.ByteTotal))
			fmt.Printf("scans:           %d\n", d.ScanCount)
			return nil
		},
	}
}

func newDevicesAliasCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "alias <device-id> <name>",
		Short: "Assign a human-friendly name to a device",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid device id %q: %w", args[0], err)
			}

			db, _, err := openCatalog(g)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			return db.SetAlias(context.Background(), id, args[1])
		},
	}
}
