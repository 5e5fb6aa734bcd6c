package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/slyckmb/hashall/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
)

// globalOpts holds flags bound at the root command, shared by every
// subcommand.
type globalOpts struct {
	catalogPath string
	configFile  string
	logLevel    string
}

func main() {
	os.Exit(run())
}

func run() int {
	g := &globalOpts{logLevel: "info"}

	root := &cobra.Command{
		Use:     "hashall",
		Short:   "Catalog, deduplicate, and rehome torrent payloads across storage tiers",
		Version: version + " (" + commit + ")",
		PersistentPreRun: func(*cobra.Command, []string) {
			logging.Init(g.logLevel)
		},
	}

	root.PersistentFlags().StringVar(&g.catalogPath, "catalog", "", "Path to the catalog database (overrides HASHALL_CATALOG_PATH)")
	root.PersistentFlags().StringVar(&g.configFile, "config", "", "Path to a config file (yaml, toml, or json)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", g.logLevel, "Log level (debug, info, warn, error)")

	root.AddCommand(newScanCmd(g))
	root.AddCommand(newStatsCmd(g))
	root.AddCommand(newDevicesCmd(g))
	root.AddCommand(newPayloadCmd(g))
	root.AddCommand(newLinkCmd(g))

	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}
