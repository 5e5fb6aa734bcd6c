package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/slyckmb/hashall/internal/catalog"
	"github.com/slyckmb/hashall/internal/config"
)

// loadConfig reads configuration from the environment and optional
// config file, letting --catalog on the command line win over both.
func loadConfig(g *globalOpts) (*config.Config, error) {
	cfg, err := config.Load(g.configFile)
	if err != nil {
		return nil, err
	}
	if g.catalogPath != "" {
		cfg.CatalogPath = g.catalogPath
	}
	return cfg, nil
}

// openCatalog loads configuration and opens the catalog database,
// the common entry point every subcommand that touches the catalog uses.
func openCatalog(g *globalOpts) (*catalog.DB, *config.Config, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ValidateCatalog(); err != nil {
		return nil, nil, err
	}
	db, err := catalog.Open(cfg.CatalogPath)
	if err != nil {
		return nil, nil, err
	}
	return db, cfg, nil
}

// drainErrors consumes errors from a channel and writes them to
// stderr as they arrive, the CLI layer's end of the error-channel
// ownership every library call in this module expects of its caller.
func drainErrors(errs <-chan error) {
	for err := range errs {
		fmt.Fprintf(os.Stderr, "\r\033[Kerror: %v\n", err)
	}
}

func formatBytes(n int64) string {
	return humanize.IBytes(uint64(n))
}
