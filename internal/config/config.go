// Package config loads the dataset registry that drives the console. The
// registry is a YAML document holding warehouse coordinates plus one entry
// per dataset; a built-in registry ships embedded for zero-config starts.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"wastageops/pkg/domain"
)

//go:embed registry.yaml
var defaultRegistryYAML []byte

// Database names the warehouse catalog and schema substituted into dataset
// table templates.
type Database struct {
	Catalog string `yaml:"catalog"`
	Schema  string `yaml:"schema"`
}

// Config is the parsed registry. Dataset order is the display order.
type Config struct {
	Database     Database               `yaml:"database"`
	GrantDataset string                 `yaml:"grant_dataset"`
	Datasets     []domain.DatasetConfig `yaml:"datasets"`
}

// Load reads the registry at path, or the embedded default when path is
// empty. Table templates may reference {catalog} and {schema}; both are
// resolved before validation.
func Load(path string) (*Config, error) {
	raw := defaultRegistryYAML
	if path != "" {
		var err error
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read registry: %w", err)
		}
	}
	return Parse(raw)
}

// LoadFromEnv loads the registry named by WASTAGEOPS_CONFIG, falling back to
// the embedded default.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv("WASTAGEOPS_CONFIG"))
}

// Parse decodes and validates a registry document.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if len(cfg.Datasets) == 0 {
		return nil, fmt.Errorf("registry: no datasets defined")
	}
	replacer := strings.NewReplacer(
		"{catalog}", cfg.Database.Catalog,
		"{schema}", cfg.Database.Schema,
	)
	seen := make(map[string]struct{}, len(cfg.Datasets))
	for i := range cfg.Datasets {
		ds := &cfg.Datasets[i]
		ds.Table = replacer.Replace(ds.Table)
		if err := ds.Validate(); err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
		if _, dup := seen[ds.Name]; dup {
			return nil, fmt.Errorf("registry: duplicate dataset %s", ds.Name)
		}
		seen[ds.Name] = struct{}{}
	}
	if cfg.GrantDataset == "" {
		return nil, fmt.Errorf("registry: grant_dataset required")
	}
	grant, ok := cfg.Dataset(cfg.GrantDataset)
	if !ok {
		return nil, fmt.Errorf("registry: grant_dataset %s is not defined", cfg.GrantDataset)
	}
	if len(grant.EmailListColumns) == 0 {
		return nil, fmt.Errorf("registry: grant_dataset %s needs an email list column", cfg.GrantDataset)
	}
	return &cfg, nil
}

// Dataset returns the entry with the given name.
func (c *Config) Dataset(name string) (domain.DatasetConfig, bool) {
	for _, ds := range c.Datasets {
		if ds.Name == name {
			return ds, true
		}
	}
	return domain.DatasetConfig{}, false
}

// Names returns dataset names in registry order.
func (c *Config) Names() []string {
	names := make([]string, len(c.Datasets))
	for i, ds := range c.Datasets {
		names[i] = ds.Name
	}
	return slices.Clip(names)
}
