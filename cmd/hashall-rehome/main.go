// Command hashall-rehome is the external orchestrator that applies
// rehome plans against a torrent client and filesystem, kept as a
// separate binary from cmd/hashall per spec.md §9: plan authorship and
// plan execution are deliberately decoupled processes so a plan can be
// reviewed (or handed to another tool entirely) before anything moves.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/slyckmb/hashall/internal/logging"
)

type globalOpts struct {
	catalogPath string
	configFile  string
	logLevel    string
}

func main() { os.Exit(run()) }

func run() int {
	g := &globalOpts{logLevel: "info"}
	root := &cobra.Command{
		Use:              "hashall-rehome",
		Short:            "Plan and apply cross-device rehomes of torrent payloads",
		PersistentPreRun: func(*cobra.Command, []string) { logging.Init(g.logLevel) },
	}
	root.PersistentFlags().StringVar(&g.catalogPath, "catalog", "", "Path to the catalog database (overrides HASHALL_CATALOG_PATH)")
	root.PersistentFlags().StringVar(&g.configFile, "config", "", "Path to a config file (yaml, toml, or json)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", g.logLevel, "Log level (debug, info, warn, error)")

	root.AddCommand(newPlanCmd(g))
	root.AddCommand(newApplyCmd(g))

	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}
