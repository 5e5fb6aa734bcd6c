// Package config loads hashall's environment-derived configuration:
// the torrent client's HTTP endpoint and credentials, the catalog path,
// and the seeding-domain/pool-payload settings the rehome planner needs.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every externally-configurable setting. Env vars use the
// HASHALL_ prefix (e.g. HASHALL_CLIENT_URL) per spec.md §6.
type Config struct {
	CatalogPath string `mapstructure:"catalog_path"`

	ClientURL      string `mapstructure:"client_url"`
	ClientUsername string `mapstructure:"client_username"`
	ClientPassword string `mapstructure:"client_password"`

	// SeedingDomainRoots are the configured directory prefixes torrent
	// content is expected to live under (glossary: "seeding domain").
	SeedingDomainRoots []string `mapstructure:"seeding_domain_roots"`

	// PoolPayloadRootTemplate generates a MOVE target path when no
	// existing payload is found on the target device. It may reference
	// "{device}" and "{payload_hash}".
	PoolPayloadRootTemplate string `mapstructure:"pool_payload_root_template"`

	// ScanFreshnessSeconds bounds how old a seeding-domain root's last
	// scan may be before the rehome planner's scan-coverage check BLOCKs.
	ScanFreshnessSeconds int64 `mapstructure:"scan_freshness_seconds"`
}

const envPrefix = "HASHALL"

// Load reads configuration from environment variables (HASHALL_*) and,
// if present, a config file at configFile (any format viper supports:
// yaml, toml, json). Explicit environment variables always win over the
// file, matching viper's documented precedence.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("scan_freshness_seconds", int64(24*3600))

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	for _, key := range []string{
		"catalog_path", "client_url", "client_username", "client_password",
		"seeding_domain_roots", "pool_payload_root_template", "scan_freshness_seconds",
	} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// ValidateCatalog checks that the catalog path is set, returning a
// descriptive error naming the env var and flag that supply it.
func (c *Config) ValidateCatalog() error {
	if strings.TrimSpace(c.CatalogPath) == "" {
		return fmt.Errorf("catalog path is required (set HASHALL_CATALOG_PATH or --catalog)")
	}
	return nil
}

// ValidateClient checks the torrent client connection fields.
func (c *Config) ValidateClient() error {
	if strings.TrimSpace(c.ClientURL) == "" {
		return fmt.Errorf("torrent client URL is required (set HASHALL_CLIENT_URL)")
	}
	if strings.TrimSpace(c.ClientUsername) == "" {
		return fmt.Errorf("torrent client username is required (set HASHALL_CLIENT_USERNAME)")
	}
	return nil
}
