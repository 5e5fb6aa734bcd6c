package main

import (
	"github.com/slyckmb/hashall/internal/catalog"
	"github.com/slyckmb/hashall/internal/config"
)

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
